// Package watchdog warns when the chain stops advancing.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/chain"
)

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 10 * time.Minute

// Watchdog compares the tip's last advance against an interval. It only
// observes; it never acts on the chain.
type Watchdog struct {
	Tip      *chain.Tip
	Interval time.Duration
	Logger   zerolog.Logger

	now func() time.Time
}

// CheckLastBlockTime runs a watchdog over tip until ctx ends.
func CheckLastBlockTime(ctx context.Context, tip *chain.Tip, interval time.Duration, logger zerolog.Logger) {
	w := &Watchdog{Tip: tip, Interval: interval, Logger: logger}
	w.Run(ctx)
}

// Run checks the tip once per interval until ctx ends.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check logs a warning and returns true if the tip has not moved for a
// full interval.
func (w *Watchdog) Check() bool {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := time.Now
	if w.now != nil {
		now = w.now
	}

	last := w.Tip.LastUpdate()
	idle := now().Sub(last)
	if idle < interval {
		return false
	}

	ev := w.Logger.Warn().Dur("idle", idle.Truncate(time.Second)).Time("last_update", last)
	if ref := w.Tip.Get(); ref != nil {
		ev = ev.Uint64("height", ref.Height).Str("tip", ref.Hash.String())
	}
	ev.Msg("No new block applied, the chain may be stalled")
	return true
}
