package chain

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
)

// gcKeepDepth is how many blocks below the tip keep their cached refs on a
// GC pass.
const gcKeepDepth = 1024

// Process is the block-processing task. It is the only writer of the chain
// and the tip.
type Process struct {
	Blockchain *Blockchain
	Tip        *Tip
	Stats      *stats.Counter

	Network   *mailbox.Box[intercom.NetworkMsg]
	Fragments *mailbox.Box[intercom.FragmentMsg]
	Explorer  *mailbox.Box[intercom.ExplorerMsg] // nil when the explorer is disabled.

	GCInterval time.Duration
	Logger     zerolog.Logger
}

// Run consumes candidate blocks until ctx ends. It returns nil on
// cancellation.
func (p *Process) Run(ctx context.Context, input *mailbox.Queue[intercom.BlockMsg]) error {
	interval := p.GCInterval
	if interval <= 0 {
		interval = config.DefaultGCInterval
	}
	gc := time.NewTicker(interval)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-input.C():
			err := p.handle(ctx, msg)
			if msg.Reply != nil {
				msg.Reply <- err
			}
		case <-gc.C:
			tip := p.Tip.Get()
			n := p.Blockchain.GC(tip.Height, gcKeepDepth)
			p.Logger.Debug().
				Int("dropped", n).
				Int("cached", p.Blockchain.CachedRefs()).
				Msg("Block ref cache collected")
		}
	}
}

func (p *Process) handle(ctx context.Context, msg intercom.BlockMsg) error {
	b := msg.Block
	if b == nil || b.Header == nil {
		return errors.New("empty block message")
	}
	p.Stats.BlockReceived()

	res, err := p.Blockchain.ApplyBlock(b, p.Tip)
	if errors.Is(err, ErrBlockKnown) {
		p.Logger.Debug().Str("hash", b.Hash().Short()).Msg("Block already known")
		return err
	}
	if err != nil {
		ev := p.Logger.Warn()
		if errors.Is(err, ErrPrevNotFound) {
			ev = p.Logger.Debug()
		}
		ev.Err(err).
			Str("hash", b.Hash().Short()).
			Uint64("height", b.Header.Height).
			Stringer("source", msg.Source).
			Str("peer", msg.Peer).
			Msg("Block rejected")
		return err
	}
	p.Stats.BlockApplied()

	p.Logger.Info().
		Str("hash", res.Ref.Hash.Short()).
		Uint64("height", res.Ref.Height).
		Uint64("slot", res.Ref.Slot).
		Int("fragments", len(b.Fragments)).
		Bool("tip", res.TipMoved).
		Stringer("source", msg.Source).
		Msg("Block applied")

	if res.TipMoved {
		p.Stats.SetTip(res.Ref.Hash, res.Ref.Height, res.Ref.Time)
	}

	// Blocks from the network are already relayed by gossip.
	if msg.Source == intercom.FromLeadership && p.Network != nil {
		if err := p.Network.Send(ctx, intercom.NetworkMsg{Kind: intercom.PropagateBlock, Block: b}); err != nil {
			return nil
		}
	}

	if len(b.Fragments) > 0 && p.Fragments != nil {
		if err := p.Fragments.Send(ctx, intercom.FragmentMsg{
			Kind:        intercom.RemoveIncluded,
			IDs:         b.FragmentIDs(),
			BlockHash:   res.Ref.Hash,
			BlockHeight: res.Ref.Height,
		}); err != nil {
			return nil
		}
	}

	if p.Explorer != nil {
		_ = p.Explorer.Send(ctx, intercom.ExplorerMsg{Block: b, NewTip: res.TipMoved})
	}
	return nil
}
