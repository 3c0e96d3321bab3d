package block

import (
	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// ComputeContentRoot folds fragment ids into a binary merkle root. An odd
// node at any level is paired with itself. No ids give the zero hash and a
// single id is its own root.
func ComputeContentRoot(ids []types.Hash) types.Hash {
	if len(ids) == 0 {
		return types.Hash{}
	}
	level := append([]types.Hash(nil), ids...)
	for n := len(level); n > 1; n = (n + 1) / 2 {
		for i := 0; i < n; i += 2 {
			right := level[i]
			if i+1 < n {
				right = level[i+1]
			}
			level[i/2] = crypto.HashConcat(level[i], right)
		}
	}
	return level[0]
}
