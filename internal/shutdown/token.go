// Package shutdown provides the node-wide cooperative cancellation token.
//
// One Token is created at process start and handed to every task and to the
// bootstrap orchestrator. Cancellation is advisory: a task observes it by
// selecting on Done() next to its own blocking waits.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is a cloneable, idempotent stop flag. The zero value is not usable;
// create tokens with NewToken. Copies of a *Token share the same state.
type Token struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewToken returns a fresh, uncancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token cancelled and wakes every waiter. Repeated calls are no-ops.
// It reports whether this call performed the cancellation.
func (t *Token) Cancel() bool {
	fired := false
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
		fired = true
	})
	return fired
}

// Done returns a channel that is closed once the token is cancelled.
// Any number of goroutines may wait on it.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load()
}

// Context returns a context that is cancelled together with the token.
// The returned release func frees the watcher goroutine early.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
