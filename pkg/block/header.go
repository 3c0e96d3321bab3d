package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Header contains block metadata.
type Header struct {
	Version     uint32     `json:"version"`
	PrevHash    types.Hash `json:"prev_hash"`
	ContentRoot types.Hash `json:"content_root"`
	Timestamp   uint64     `json:"timestamp"` // Unix milliseconds.
	Height      uint64     `json:"height"`
	Slot        uint64     `json:"slot"`
	Leader      []byte     `json:"leader,omitempty"` // Compressed public key; empty for genesis.
	Signature   []byte     `json:"signature,omitempty"`
}

// headerJSON is the JSON representation of Header with hex-encoded keys.
type headerJSON struct {
	Version     uint32     `json:"version"`
	PrevHash    types.Hash `json:"prev_hash"`
	ContentRoot types.Hash `json:"content_root"`
	Timestamp   uint64     `json:"timestamp"`
	Height      uint64     `json:"height"`
	Slot        uint64     `json:"slot"`
	Leader      string     `json:"leader,omitempty"`
	Signature   string     `json:"signature,omitempty"`
}

// MarshalJSON encodes the header with hex-encoded leader key and signature.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:     h.Version,
		PrevHash:    h.PrevHash,
		ContentRoot: h.ContentRoot,
		Timestamp:   h.Timestamp,
		Height:      h.Height,
		Slot:        h.Slot,
	}
	if h.Leader != nil {
		j.Leader = hex.EncodeToString(h.Leader)
	}
	if h.Signature != nil {
		j.Signature = hex.EncodeToString(h.Signature)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with hex-encoded leader key and signature.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.PrevHash = j.PrevHash
	h.ContentRoot = j.ContentRoot
	h.Timestamp = j.Timestamp
	h.Height = j.Height
	h.Slot = j.Slot
	h.Leader, h.Signature = nil, nil
	if j.Leader != "" {
		b, err := hex.DecodeString(j.Leader)
		if err != nil {
			return err
		}
		h.Leader = b
	}
	if j.Signature != "" {
		b, err := hex.DecodeString(j.Signature)
		if err != nil {
			return err
		}
		h.Signature = b
	}
	return nil
}

// Hash computes the block header hash.
// Excludes Signature so the hash is stable for signing.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical bytes for hashing/signing.
// Format: version(4) | prev_hash(32) | content_root(32) | timestamp(8) | height(8) | slot(8) | leader_len(1) | leader
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 93+len(h.Leader))
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.ContentRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint64(buf, h.Slot)
	buf = append(buf, byte(len(h.Leader)))
	buf = append(buf, h.Leader...)
	return buf
}

// Sign signs the header hash with signer and records the signer as leader.
func (h *Header) Sign(signer crypto.Signer) error {
	h.Leader = signer.PublicKey()
	hash := h.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return err
	}
	h.Signature = sig
	return nil
}
