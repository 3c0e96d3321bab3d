package config

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Block limits. Every node must agree on them.
const (
	MaxBlockSize      = 2_000_000 // header plus fragment payloads
	MaxBlockFragments = 1024
	MaxFragmentSize   = 64 << 10
)

// ErrInvalidGenesis wraps every genesis validation failure.
var ErrInvalidGenesis = errors.New("invalid genesis")

// Genesis describes block0 and the slot schedule of a chain. Changing any
// field produces a different chain.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	StartTime uint64 `json:"start_time"` // unix seconds of slot 0
	ExtraData string `json:"extra_data,omitempty"`

	SlotDurationMs uint64 `json:"slot_duration_ms"`
	SlotsPerEpoch  uint64 `json:"slots_per_epoch"`

	// Leaders are hex compressed secp256k1 keys allowed to sign blocks.
	Leaders []string `json:"leaders"`
}

func (g *Genesis) SlotDuration() time.Duration {
	return time.Duration(g.SlotDurationMs) * time.Millisecond
}

// Start is the wall-clock time of slot 0.
func (g *Genesis) Start() time.Time { return time.Unix(int64(g.StartTime), 0) }

// LeaderKeys decodes Leaders in order.
func (g *Genesis) LeaderKeys() ([][]byte, error) {
	keys := make([][]byte, len(g.Leaders))
	for i, s := range g.Leaders {
		k, err := hex.DecodeString(s)
		if err == nil {
			err = crypto.ValidatePublicKey(k)
		}
		if err != nil {
			return nil, fmt.Errorf("leaders[%d]: %w", i, err)
		}
		keys[i] = k
	}
	return keys, nil
}

// Validate reports every problem found in g, wrapped in ErrInvalidGenesis.
func (g *Genesis) Validate() error {
	var errs []error
	if g.ChainID == "" {
		errs = append(errs, errors.New("chain_id is empty"))
	}
	if g.SlotDurationMs == 0 {
		errs = append(errs, errors.New("slot_duration_ms is zero"))
	}
	if g.SlotsPerEpoch == 0 {
		errs = append(errs, errors.New("slots_per_epoch is zero"))
	}
	if len(g.Leaders) == 0 {
		errs = append(errs, errors.New("no leaders"))
	}
	seen := make(map[string]bool, len(g.Leaders))
	for _, l := range g.Leaders {
		if seen[l] {
			errs = append(errs, fmt.Errorf("leader %s listed twice", l))
		}
		seen[l] = true
	}
	if _, err := g.LeaderKeys(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidGenesis, errors.Join(errs...))
}

// Hash identifies the chain a genesis describes.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}

// LoadGenesis reads and validates a genesis JSON file. Unknown fields are
// rejected so a typo cannot silently change the chain.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	g := new(Genesis)
	if err := dec.Decode(g); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Save writes g as indented JSON.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Well-known testnet leader. Never use it on mainnet.
const (
	TestnetLeaderPubKey  = "030bef68f8657df88098a0546da1712c88b459788bea1a6bbe964004166a25144f"
	TestnetLeaderPrivKey = "1f0717e6e34acc6721021f4dfed54558ec8452452b6195545d06dd348b220091"
)

// MainnetGenesis is the built-in mainnet genesis.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:        "klingnet-mainnet-1",
		ChainName:      "Klingnet Mainnet",
		StartTime:      1770734103,
		ExtraData:      "Klingnet Genesis",
		SlotDurationMs: 3000,
		SlotsPerEpoch:  4320,
		Leaders:        []string{"03cba4d0ee4c55f5ea620393a6e6e9dafe959bfa6ddff964221126a3e41ad0487d"},
	}
}

// TestnetGenesis is the built-in testnet genesis, led by TestnetLeaderPubKey.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID, g.ChainName = "klingnet-testnet-1", "Klingnet Testnet"
	g.ExtraData = "Klingnet Testnet Genesis"
	g.SlotsPerEpoch = 720
	g.Leaders = []string{TestnetLeaderPubKey}
	return g
}

// GenesisFor returns the built-in genesis of network.
func GenesisFor(network NetworkType) *Genesis {
	if network == Testnet {
		return TestnetGenesis()
	}
	return MainnetGenesis()
}
