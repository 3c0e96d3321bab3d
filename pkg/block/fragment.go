package block

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Fragment is an opaque message (transaction or certificate) carried in
// blocks. Its id is the hash of its payload.
type Fragment struct {
	Payload []byte
}

// NewFragment wraps payload in a fragment.
func NewFragment(payload []byte) *Fragment {
	return &Fragment{Payload: payload}
}

// ID returns the fragment id.
func (f *Fragment) ID() types.Hash {
	return crypto.Hash(f.Payload)
}

// Size returns the payload size in bytes.
func (f *Fragment) Size() int {
	return len(f.Payload)
}

// MarshalJSON encodes the fragment payload as hex.
func (f *Fragment) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(f.Payload))
}

// UnmarshalJSON decodes a hex payload.
func (f *Fragment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid fragment hex: %w", err)
	}
	f.Payload = b
	return nil
}
