package node

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
)

// WatchSignals cancels token on the first interrupt and on the first
// terminate signal. A watcher stops listening once it fired, so a repeated
// signal gets the default behaviour. Watchers end with ctx.
func WatchSignals(ctx context.Context, token *shutdown.Token, logger zerolog.Logger) {
	for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
		go watchSignal(ctx, token, sig, logger)
	}
}

func watchSignal(ctx context.Context, token *shutdown.Token, sig os.Signal, logger zerolog.Logger) {
	if sig == nil {
		logger.Warn().Msg("Signal not supported on this platform, watcher disabled")
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	defer signal.Stop(ch)
	watch(ctx, token, ch, logger)
}

func watch(ctx context.Context, token *shutdown.Token, ch <-chan os.Signal, logger zerolog.Logger) {
	select {
	case <-ctx.Done():
	case s := <-ch:
		logger.Info().Str("signal", s.String()).Msg("Shutdown signal received")
		token.Cancel()
	}
}
