// Package crypto provides the hashing and signing primitives used by blocks,
// fragments and the leadership enclave.
package crypto

import (
	"github.com/Klingon-tech/klingnet-node/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashConcat hashes the concatenation of two hashes.
// Used for building the fragment merkle tree of a block.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// DeriveSeed hashes a domain tag together with data. The leader schedule
// uses it to derive per-slot selection values.
func DeriveSeed(tag string, data ...[]byte) types.Hash {
	h := blake3.New()
	h.Write([]byte(tag))
	for _, d := range data {
		h.Write(d)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
