package leadership

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Module is the leadership task. On every slot owned by a local leader it
// pulls fragments from the pool, builds and signs a block, and hands it to
// block processing.
type Module struct {
	Schedule     *chain.Schedule
	Enclave      *Enclave
	Tip          *chain.Tip
	Logs         *Logs
	Stats        *stats.Counter
	MaxFragments int

	Fragments *mailbox.Box[intercom.FragmentMsg]
	Blocks    *mailbox.Box[intercom.BlockMsg]

	Logger zerolog.Logger

	// now is replaced in tests.
	now func() time.Time
}

func (m *Module) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// Run produces blocks until ctx ends. It returns nil on cancellation and an
// error only if the enclave fails to sign.
func (m *Module) Run(ctx context.Context) error {
	if m.Enclave.Len() == 0 {
		m.Logger.Info().Msg("No leader secrets configured, block production disabled")
		<-ctx.Done()
		return nil
	}
	m.Logger.Info().
		Int("leaders", m.Enclave.Len()).
		Dur("slot_duration", m.Schedule.SlotDuration()).
		Msg("Block production started")

	for {
		slot := m.Schedule.SlotAt(m.clock()) + 1
		wait := m.Schedule.SlotTime(slot).Sub(m.clock())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.Logger.Info().Msg("Block production stopped")
			return nil
		case <-timer.C:
		}

		if err := m.lead(ctx, slot); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// lead produces the block of slot if a local leader owns it.
func (m *Module) lead(ctx context.Context, slot uint64) error {
	leader := m.Schedule.LeaderAt(slot)
	signer, ok := m.Enclave.Signer(leader)
	if !ok {
		return nil
	}
	parent := m.Tip.Get()
	if parent.Slot >= slot {
		return nil
	}
	leaderHex := hex.EncodeToString(leader)
	m.Logs.Scheduled(slot, leaderHex, m.Schedule.SlotTime(slot))

	frags, err := m.selectFragments(ctx)
	if err != nil {
		return err
	}

	ids := make([]types.Hash, len(frags))
	for i, f := range frags {
		ids[i] = f.ID()
	}
	timestamp := uint64(m.clock().UnixMilli())
	if parentTS := uint64(parent.Time.UnixMilli()); timestamp <= parentTS {
		timestamp = parentTS + 1
	}
	header := &block.Header{
		Version:     block.CurrentVersion,
		PrevHash:    parent.Hash,
		ContentRoot: block.ComputeContentRoot(ids),
		Timestamp:   timestamp,
		Height:      parent.Height + 1,
		Slot:        slot,
	}
	if err := header.Sign(signer); err != nil {
		m.Logs.Finish(slot, StatusFailed, func(e *LogEntry) { e.Reason = err.Error() })
		return fmt.Errorf("sign block for slot %d: %w", slot, err)
	}
	blk := block.NewBlock(header, frags)

	reply := mailbox.NewReply[error]()
	if err := m.Blocks.Send(ctx, intercom.BlockMsg{Block: blk, Source: intercom.FromLeadership, Reply: reply}); err != nil {
		return err
	}
	applyErr, err := reply.Wait(ctx)
	if err != nil {
		return err
	}

	hash := blk.Hash()
	if applyErr != nil {
		m.Logs.Finish(slot, StatusRejected, func(e *LogEntry) {
			e.BlockHash = hash
			e.Reason = applyErr.Error()
		})
		m.Logger.Warn().Err(applyErr).Uint64("slot", slot).Msg("Produced block was rejected")
		return nil
	}

	m.Stats.BlockProduced()
	m.Logs.Finish(slot, StatusProduced, func(e *LogEntry) {
		e.BlockHash = hash
		e.Height = header.Height
		e.Fragments = len(frags)
	})
	m.Logger.Info().
		Uint64("slot", slot).
		Uint64("height", header.Height).
		Str("hash", hash.Short()).
		Int("fragments", len(frags)).
		Msg("Block produced")
	return nil
}

func (m *Module) selectFragments(ctx context.Context) ([]*block.Fragment, error) {
	if m.Fragments == nil {
		return nil, nil
	}
	max := m.MaxFragments
	if max <= 0 || max > config.MaxBlockFragments {
		max = config.MaxBlockFragments
	}
	reply := mailbox.NewReply[[]*block.Fragment]()
	if err := m.Fragments.Send(ctx, intercom.FragmentMsg{Kind: intercom.Select, Max: max, Selected: reply}); err != nil {
		return nil, err
	}
	frags, err := reply.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return fitBlock(frags), nil
}

// fitBlock trims frags so the block stays under the consensus size limit.
func fitBlock(frags []*block.Fragment) []*block.Fragment {
	budget := config.MaxBlockSize - 256 // header
	for i, f := range frags {
		budget -= f.Size()
		if budget < 0 {
			return frags[:i]
		}
	}
	return frags
}
