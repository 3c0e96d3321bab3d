package chain

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/storage"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// testGenesis returns a genesis with one leader whose slot 0 started an
// hour ago with one-second slots.
func testGenesis(t *testing.T) (*config.Genesis, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &config.Genesis{
		ChainID:        "test-chain-1",
		ChainName:      "Test Chain",
		StartTime:      uint64(time.Now().Add(-time.Hour).Unix()),
		SlotDurationMs: 1000,
		SlotsPerEpoch:  100,
		Leaders:        []string{hex.EncodeToString(key.PublicKey())},
	}, key
}

// testChain creates a blockchain loaded from a fresh genesis block.
func testChain(t *testing.T) (*Blockchain, *Tip, *crypto.PrivateKey) {
	t.Helper()
	gen, key := testGenesis(t)
	bc, tip := loadChain(t, gen, storage.NewMemory())
	return bc, tip, key
}

func loadChain(t *testing.T, gen *config.Genesis, db storage.DB) (*Blockchain, *Tip) {
	t.Helper()
	b0, err := PrepareBlock0(context.Background(), gen, db)
	if err != nil {
		t.Fatalf("PrepareBlock0: %v", err)
	}
	sched, err := NewSchedule(gen)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	bc := New(db, sched, 0, 0)
	tip, err := bc.Load(context.Background(), b0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return bc, tip
}

// buildBlock creates a block on top of parent at slot, signed by key.
func buildBlock(t *testing.T, key *crypto.PrivateKey, parent *Ref, slot uint64, payloads ...string) *block.Block {
	t.Helper()
	frags := make([]*block.Fragment, len(payloads))
	ids := make([]types.Hash, len(payloads))
	for i, p := range payloads {
		frags[i] = block.NewFragment([]byte(p))
		ids[i] = frags[i].ID()
	}
	h := &block.Header{
		Version:     block.CurrentVersion,
		PrevHash:    parent.Hash,
		ContentRoot: block.ComputeContentRoot(ids),
		Timestamp:   uint64(time.Now().UnixMilli()),
		Height:      parent.Height + 1,
		Slot:        slot,
	}
	if err := h.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return block.NewBlock(h, frags)
}

// extend applies n blocks on top of the tip, one slot apart.
func extend(t *testing.T, bc *Blockchain, tip *Tip, key *crypto.PrivateKey, n int) []*block.Block {
	t.Helper()
	var out []*block.Block
	for i := 0; i < n; i++ {
		parent := tip.Get()
		b := buildBlock(t, key, parent, parent.Slot+1)
		if _, err := bc.ApplyBlock(b, tip); err != nil {
			t.Fatalf("ApplyBlock(height %d): %v", parent.Height+1, err)
		}
		out = append(out, b)
	}
	return out
}
