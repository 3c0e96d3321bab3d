package chain

import (
	"time"

	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Ref is the in-memory summary of a stored block.
type Ref struct {
	Hash     types.Hash
	PrevHash types.Hash
	Height   uint64
	Slot     uint64
	Time     time.Time
	Header   *block.Header
}

// NewRef summarizes a block.
func NewRef(b *block.Block) *Ref {
	return &Ref{
		Hash:     b.Hash(),
		PrevHash: b.Header.PrevHash,
		Height:   b.Header.Height,
		Slot:     b.Header.Slot,
		Time:     time.UnixMilli(int64(b.Header.Timestamp)),
		Header:   b.Header,
	}
}
