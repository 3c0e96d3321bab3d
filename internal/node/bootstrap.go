package node

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/explorer"
	"github.com/Klingon-tech/klingnet-node/internal/network"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Bootstrapper synchronizes the local chain with trusted peers. One call is
// one attempt.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, bc *chain.Blockchain, tip *chain.Tip) error
}

// BootstrapResult is what the bootstrap phase hands to the task graph.
// It is not modified once Run returns.
type BootstrapResult struct {
	Blockchain *chain.Blockchain
	Tip        *chain.Tip
	Block0Hash types.Hash
	Explorer   *explorer.Index // nil when the explorer is disabled.

	Synced   bool // False when the attempt cap was reached first.
	Attempts int  // Network attempts made; zero when skipped.
}

type bootstrapPhase int

const (
	phaseAttempting bootstrapPhase = iota
	phaseWaiting
	phaseDone
	phaseInterrupted
)

func (p bootstrapPhase) String() string {
	switch p {
	case phaseAttempting:
		return "attempting"
	case phaseWaiting:
		return "waiting"
	case phaseDone:
		return "done"
	default:
		return "interrupted"
	}
}

// Orchestrator runs the bootstrap retry loop and the explorer rebuild.
type Orchestrator struct {
	Bootstrapper Bootstrapper
	Peers        int  // Number of configured trusted peers.
	Skip         bool // Allow starting with no trusted peers.
	MaxAttempts  int  // Zero retries until synced or cancelled.
	Backoff      time.Duration

	Blockchain *chain.Blockchain
	Tip        *chain.Tip
	Explorer   *explorer.Index // nil when the explorer is disabled.

	Logger zerolog.Logger
}

// CheckPeers reports the configuration error of having no trusted peers
// without permission to skip.
func (o *Orchestrator) CheckPeers() error {
	if o.Peers == 0 && !o.Skip {
		return network.ErrEmptyTrustedPeers
	}
	return nil
}

// Run bootstraps until one attempt succeeds, the attempt cap is reached or
// ctx ends. Failed attempts are retried after Backoff; the last allowed
// attempt is not followed by a wait. Cancellation during an attempt, a wait
// or the explorer rebuild returns ErrInterrupted.
func (o *Orchestrator) Run(ctx context.Context) (BootstrapResult, error) {
	var res BootstrapResult
	if err := o.CheckPeers(); err != nil {
		return res, err
	}
	backoff := o.Backoff
	if backoff <= 0 {
		backoff = config.DefaultBootstrapWait
	}

	if o.Peers == 0 {
		o.Logger.Info().Msg("No trusted peers, skipping network bootstrap")
		res.Synced = true
	}

	phase := phaseAttempting
	for attempt := 1; !res.Synced && phase == phaseAttempting; attempt++ {
		res.Attempts = attempt
		err := o.Bootstrapper.Bootstrap(ctx, o.Blockchain, o.Tip)
		if err == nil {
			res.Synced = true
			break
		}
		if ctx.Err() != nil {
			phase = phaseInterrupted
			break
		}
		o.Logger.Warn().Err(err).Int("attempt", attempt).Msg("Bootstrap attempt failed")

		if o.MaxAttempts > 0 && attempt >= o.MaxAttempts {
			o.Logger.Warn().
				Int("attempts", attempt).
				Msg("Bootstrap attempts exhausted, starting without a synchronized chain")
			break
		}

		phase = phaseWaiting
		o.Logger.Info().Dur("backoff", backoff).Stringer("phase", phase).Msg("Retrying bootstrap")
		phase = o.wait(ctx, backoff)
	}
	if phase == phaseInterrupted {
		return res, ErrInterrupted
	}

	if o.Explorer != nil {
		o.Logger.Info().Msg("Rebuilding explorer index")
		if err := o.Explorer.Bootstrap(ctx, o.Blockchain, o.Tip); err != nil {
			if ctx.Err() != nil {
				return res, ErrInterrupted
			}
			return res, err
		}
	}

	res.Blockchain = o.Blockchain
	res.Tip = o.Tip
	res.Block0Hash = o.Blockchain.Block0Hash()
	res.Explorer = o.Explorer

	o.Logger.Info().
		Bool("synced", res.Synced).
		Int("attempts", res.Attempts).
		Uint64("height", o.Tip.Get().Height).
		Stringer("phase", phaseDone).
		Msg("Bootstrap finished")
	return res, nil
}

// wait sleeps for d unless ctx ends first.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bootstrapPhase {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return phaseInterrupted
	case <-timer.C:
		return phaseAttempting
	}
}
