package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
)

// Bootstrap errors.
var (
	ErrEmptyTrustedPeers = errors.New("no trusted peers configured")
	ErrBootstrapFailed   = errors.New("could not bootstrap from any trusted peer")
)

// Bootstrap brings the local chain up to the best tip reported by the
// trusted peers, applying pulled blocks directly. It succeeds as soon as
// one trusted peer has been synced with.
func (n *Node) Bootstrap(ctx context.Context, bc *chain.Blockchain, tip *chain.Tip) error {
	if len(n.config.TrustedPeers) == 0 {
		return ErrEmptyTrustedPeers
	}
	if n.host == nil {
		return ErrNotStarted
	}

	var lastErr error
	for _, info := range n.config.TrustedPeers {
		if err := ctx.Err(); err != nil {
			return err
		}
		applied, err := n.bootstrapFrom(ctx, info, bc, tip)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.Warn().Err(err).Str("peer", shortID(info.ID)).Msg("Bootstrap from trusted peer failed")
			lastErr = err
			continue
		}
		cur := tip.Get()
		n.logger.Info().
			Str("peer", shortID(info.ID)).
			Int("applied", applied).
			Uint64("height", cur.Height).
			Str("tip", cur.Hash.String()).
			Msg("Bootstrap complete")
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBootstrapFailed, lastErr)
}

// bootstrapFrom pulls blocks from one peer until the local tip reaches the
// peer's height. When the pulled blocks do not connect to the local chain,
// the window steps back towards genesis to find the fork point.
func (n *Node) bootstrapFrom(ctx context.Context, info peer.AddrInfo, bc *chain.Blockchain, tip *chain.Tip) (int, error) {
	if err := n.Connect(ctx, info, "trusted"); err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	remote, err := n.RequestTip(ctx, info.ID)
	if err != nil {
		return 0, err
	}

	applied := 0
	from := tip.Get().Height + 1
	for tip.Get().Height < remote.Height {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		blocks, err := n.RequestBlocks(ctx, info.ID, from, MaxSyncBlocks)
		if err != nil {
			return applied, err
		}
		if len(blocks) == 0 {
			return applied, fmt.Errorf("peer returned no blocks from height %d", from)
		}

		disconnected := false
		for _, b := range blocks {
			_, err := bc.ApplyBlock(b, tip)
			switch {
			case err == nil:
				applied++
			case errors.Is(err, chain.ErrBlockKnown):
			case errors.Is(err, chain.ErrPrevNotFound):
				disconnected = true
			default:
				if isMisbehavior(err) {
					n.Bans.Punish(info.ID, OffenseBadBlock, err.Error())
				}
				return applied, fmt.Errorf("apply block %d: %w", b.Header.Height, err)
			}
			if disconnected {
				break
			}
		}

		switch {
		case disconnected && from <= 1:
			return applied, fmt.Errorf("peer chain does not connect to block0")
		case disconnected:
			if from > MaxSyncBlocks {
				from -= MaxSyncBlocks
			} else {
				from = 1
			}
		default:
			from = blocks[len(blocks)-1].Header.Height + 1
		}
	}
	return applied, nil
}

// invalidBlockErrs are rejections that prove the sender relayed an invalid
// block, as opposed to one that cannot be placed yet.
var invalidBlockErrs = []error{
	chain.ErrBadHeight,
	chain.ErrBadSlot,
	chain.ErrWrongLeader,
	chain.ErrGenesisBlock,
	block.ErrNilHeader,
	block.ErrBadContentRoot,
	block.ErrBadVersion,
	block.ErrZeroTimestamp,
	block.ErrTooManyFragments,
	block.ErrBlockTooLarge,
	block.ErrFragmentTooLarge,
	block.ErrEmptyFragment,
	block.ErrDuplicateFragment,
	block.ErrMissingSignature,
	block.ErrBadSignature,
}

func isMisbehavior(err error) bool {
	for _, target := range invalidBlockErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
