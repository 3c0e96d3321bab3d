// Package client answers read-only chain queries from peers.
package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
)

// MaxPullBlocks caps a single PullBlocks answer.
const MaxPullBlocks = 128

// Task serves client queries from storage and the tip handle. It never
// writes chain state.
type Task struct {
	Blockchain *chain.Blockchain
	Tip        *chain.Tip
	Logger     zerolog.Logger
}

// Run answers queries until ctx ends.
func (t *Task) Run(ctx context.Context, input *mailbox.Queue[intercom.ClientMsg]) error {
	for {
		msg, err := input.Recv(ctx)
		if err != nil {
			return nil
		}
		res := t.Handle(msg)
		if res.Err != nil {
			t.Logger.Debug().Err(res.Err).Int("kind", int(msg.Kind)).Msg("Client query failed")
		}
		if msg.Reply != nil {
			msg.Reply <- res
		}
	}
}

// Handle answers one query.
func (t *Task) Handle(msg intercom.ClientMsg) intercom.ClientResult {
	switch msg.Kind {
	case intercom.GetTip:
		return intercom.ClientResult{Tip: t.Tip.Get().Header}
	case intercom.GetBlock:
		b, err := t.Blockchain.GetBlock(msg.Hash)
		if err != nil {
			return intercom.ClientResult{Err: err}
		}
		return intercom.ClientResult{Blocks: []*block.Block{b}}
	case intercom.PullBlocks:
		max := msg.Max
		if max <= 0 || max > MaxPullBlocks {
			max = MaxPullBlocks
		}
		blocks, err := t.Blockchain.BlocksFrom(msg.From, max)
		return intercom.ClientResult{Blocks: blocks, Err: err}
	default:
		return intercom.ClientResult{Err: fmt.Errorf("unknown client query %d", msg.Kind)}
	}
}
