package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGenesis_Validate_MainnetValid(t *testing.T) {
	g := MainnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("mainnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_TestnetValid(t *testing.T) {
	g := TestnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("testnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(g *Genesis)
	}{
		{"no chain id", func(g *Genesis) { g.ChainID = "" }},
		{"zero slot duration", func(g *Genesis) { g.SlotDurationMs = 0 }},
		{"zero epoch", func(g *Genesis) { g.SlotsPerEpoch = 0 }},
		{"no leaders", func(g *Genesis) { g.Leaders = nil }},
		{"bad hex leader", func(g *Genesis) { g.Leaders = []string{"zz"} }},
		{"bad key prefix", func(g *Genesis) { g.Leaders = []string{"05" + "00000000000000000000000000000000000000000000000000000000000000ff"} }},
		{"duplicate leader", func(g *Genesis) { g.Leaders = []string{TestnetLeaderPubKey, TestnetLeaderPubKey} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := TestnetGenesis()
			tt.modify(g)
			if err := g.Validate(); !errors.Is(err, ErrInvalidGenesis) {
				t.Errorf("Validate() = %v, want ErrInvalidGenesis", err)
			}
		})
	}
}

func TestGenesis_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	g := TestnetGenesis()
	if err := g.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("LoadGenesis() error: %v", err)
	}
	h1, _ := g.Hash()
	h2, _ := loaded.Hash()
	if h1 != h2 {
		t.Error("loaded genesis hashes differently")
	}
}

func TestGenesis_HashDiffersPerNetwork(t *testing.T) {
	m, _ := MainnetGenesis().Hash()
	tn, _ := TestnetGenesis().Hash()
	if m == tn {
		t.Error("mainnet and testnet genesis should hash differently")
	}
}

func TestGenesis_SlotDuration(t *testing.T) {
	g := &Genesis{SlotDurationMs: 250}
	if g.SlotDuration() != 250*time.Millisecond {
		t.Errorf("SlotDuration() = %v", g.SlotDuration())
	}
}

func TestGenesis_ValidateReportsAll(t *testing.T) {
	err := (&Genesis{}).Validate()
	if err == nil {
		t.Fatal("empty genesis should fail")
	}
	for _, want := range []string{"chain_id", "slot_duration_ms", "slots_per_epoch", "no leaders"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadGenesis_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := TestnetGenesis().Save(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	data = []byte(strings.Replace(string(data), "{", `{"slot_duraton_ms": 1,`, 1))
	os.WriteFile(path, data, 0o644)
	if _, err := LoadGenesis(path); err == nil {
		t.Error("misspelled field should be rejected")
	}
}
