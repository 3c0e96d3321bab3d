package chain

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// CreateGenesisBlock builds the genesis block from the genesis configuration.
// The genesis block has height 0, slot 0, a zero PrevHash, no leader, and a
// single fragment carrying the genesis document, so its hash commits to
// every protocol rule.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}

	doc, err := json.Marshal(gen)
	if err != nil {
		return nil, fmt.Errorf("encode genesis: %w", err)
	}
	frags := []*block.Fragment{block.NewFragment(doc)}

	header := &block.Header{
		Version:     block.CurrentVersion,
		PrevHash:    types.Hash{}, // Zero for genesis.
		ContentRoot: block.ComputeContentRoot([]types.Hash{frags[0].ID()}),
		Timestamp:   gen.StartTime * 1000,
		Height:      0,
		Slot:        0,
	}
	if header.Timestamp == 0 {
		header.Timestamp = 1
	}

	return block.NewBlock(header, frags), nil
}
