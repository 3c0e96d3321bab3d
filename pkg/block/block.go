// Package block defines block and fragment types and their structural validation.
package block

import "github.com/Klingon-tech/klingnet-node/pkg/types"

// Block represents a block in the chain.
type Block struct {
	Header    *Header     `json:"header"`
	Fragments []*Fragment `json:"fragments"`
}

// NewBlock creates a new block with the given header and fragments.
func NewBlock(header *Header, fragments []*Fragment) *Block {
	return &Block{
		Header:    header,
		Fragments: fragments,
	}
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// FragmentIDs returns the ids of the block's fragments in block order.
func (b *Block) FragmentIDs() []types.Hash {
	ids := make([]types.Hash, len(b.Fragments))
	for i, f := range b.Fragments {
		ids[i] = f.ID()
	}
	return ids
}

// IsGenesis reports whether b is a height-0 block.
func (b *Block) IsGenesis() bool {
	return b.Header != nil && b.Header.Height == 0
}
