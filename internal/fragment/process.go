package fragment

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Process is the fragment task. It owns the pool and the fragment log.
type Process struct {
	pool    *Pool
	logs    *Logs
	leaders int

	network *mailbox.Box[intercom.NetworkMsg]
	stats   *stats.Counter
	logger  zerolog.Logger
}

// NewProcess creates the fragment task. With no local leaders the node never
// builds blocks, so fragments are checked, logged and relayed but not pooled.
func NewProcess(pool *Pool, logs *Logs, leaders int, network *mailbox.Box[intercom.NetworkMsg], st *stats.Counter, logger zerolog.Logger) *Process {
	return &Process{
		pool:    pool,
		logs:    logs,
		leaders: leaders,
		network: network,
		stats:   st,
		logger:  logger,
	}
}

// Pool returns the fragment pool.
func (p *Process) Pool() *Pool { return p.pool }

// Logs returns the fragment log.
func (p *Process) Logs() *Logs { return p.logs }

// Run serves fragment requests until ctx ends.
func (p *Process) Run(ctx context.Context, input *mailbox.Queue[intercom.FragmentMsg]) error {
	for {
		msg, err := input.Recv(ctx)
		if err != nil {
			return nil
		}
		switch msg.Kind {
		case intercom.Incoming:
			accepted := p.incoming(ctx, msg.Fragments, msg.Origin)
			if msg.Accepted != nil {
				msg.Accepted <- accepted
			}
		case intercom.RemoveIncluded:
			removed := p.pool.Remove(msg.IDs)
			for _, id := range msg.IDs {
				p.logs.InBlock(id, msg.BlockHash, msg.BlockHeight)
			}
			p.logger.Debug().
				Int("removed", removed).
				Int("pending", p.pool.Count()).
				Uint64("height", msg.BlockHeight).
				Msg("Fragments included in block")
		case intercom.Select:
			if msg.Selected != nil {
				msg.Selected <- p.pool.Select(msg.Max, 0)
			}
		case intercom.GetLogs:
			if msg.Logs != nil {
				msg.Logs <- p.logs.All()
			}
		}
	}
}

func (p *Process) incoming(ctx context.Context, frags []*block.Fragment, origin intercom.FragmentOrigin) []types.Hash {
	var accepted []types.Hash
	rejected := 0
	for _, f := range frags {
		if f == nil {
			rejected++
			continue
		}
		id := f.ID()
		if !p.logs.Pending(id, origin) {
			// Seen before: already pooled, rejected or included.
			continue
		}

		if p.leaders == 0 {
			if err := p.pool.policy.Check(f); err != nil {
				p.reject(id, origin, err)
				rejected++
				continue
			}
		} else if _, err := p.pool.Add(f); err != nil && !errors.Is(err, ErrAlreadyExists) {
			p.reject(id, origin, err)
			rejected++
			continue
		}
		accepted = append(accepted, id)

		// Network fragments are relayed by gossip already.
		if origin == intercom.OriginRest && p.network != nil {
			if err := p.network.Send(ctx, intercom.NetworkMsg{Kind: intercom.PropagateFragment, Fragment: f}); err != nil {
				break
			}
		}
	}

	p.stats.AddFragmentsReceived(len(frags))
	p.stats.AddFragmentsRejected(rejected)
	if len(accepted) > 0 {
		p.logger.Debug().
			Int("accepted", len(accepted)).
			Int("rejected", rejected).
			Stringer("origin", origin).
			Int("pending", p.pool.Count()).
			Msg("Fragments received")
	}
	return accepted
}

func (p *Process) reject(id types.Hash, origin intercom.FragmentOrigin, err error) {
	p.logs.Rejected(id, origin, err.Error())
	p.logger.Debug().Err(err).Str("fragment", id.Short()).Msg("Fragment rejected")
}
