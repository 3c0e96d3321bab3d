package block

import (
	"testing"

	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

func TestComputeContentRoot(t *testing.T) {
	h1 := crypto.Hash([]byte("f1"))
	h2 := crypto.Hash([]byte("f2"))
	h3 := crypto.Hash([]byte("f3"))

	tests := []struct {
		name string
		ids  []types.Hash
		want types.Hash
	}{
		{"empty", nil, types.Hash{}},
		{"single", []types.Hash{h1}, h1},
		{"pair", []types.Hash{h1, h2}, crypto.HashConcat(h1, h2)},
		{"odd duplicates last", []types.Hash{h1, h2, h3},
			crypto.HashConcat(crypto.HashConcat(h1, h2), crypto.HashConcat(h3, h3))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeContentRoot(tt.ids); got != tt.want {
				t.Errorf("ComputeContentRoot() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputeContentRoot_DoesNotMutateInput(t *testing.T) {
	ids := []types.Hash{crypto.Hash([]byte("a")), crypto.Hash([]byte("b")), crypto.Hash([]byte("c"))}
	orig := append([]types.Hash(nil), ids...)
	ComputeContentRoot(ids)
	for i := range ids {
		if ids[i] != orig[i] {
			t.Fatal("input slice was modified")
		}
	}
}

func TestComputeContentRoot_OrderMatters(t *testing.T) {
	a := crypto.Hash([]byte("a"))
	b := crypto.Hash([]byte("b"))
	if ComputeContentRoot([]types.Hash{a, b}) == ComputeContentRoot([]types.Hash{b, a}) {
		t.Error("root should depend on fragment order")
	}
}
