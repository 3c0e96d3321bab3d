// Package lifecycle holds the node's lifecycle status context: the startup
// state plus the handles that later phases and the status API read.
//
// Every field may be unset while the node starts; readers get (value, ok)
// and must report a missing value as not yet available.
package lifecycle

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/diagnostic"
	"github.com/Klingon-tech/klingnet-node/internal/explorer"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/leadership"
	klog "github.com/Klingon-tech/klingnet-node/internal/log"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
)

// Full is the bundle attached once every task is spawned: the producer end
// of each mailbox plus the shared read-side handles.
type Full struct {
	Blocks    *mailbox.Box[intercom.BlockMsg]
	Fragments *mailbox.Box[intercom.FragmentMsg]
	Network   *mailbox.Box[intercom.NetworkMsg]
	Client    *mailbox.Box[intercom.ClientMsg]

	Stats          *stats.Counter
	LeadershipLogs *leadership.Logs
	Explorer       *explorer.Index // nil when the explorer is disabled
	Leaders        int             // Number of local leader keys.
}

// Context is the lifecycle status context. The zero value is not usable;
// create one with New.
type Context struct {
	mu sync.RWMutex

	state      State
	diagnostic *diagnostic.Diagnostic
	blockchain *chain.Blockchain
	tip        *chain.Tip
	stopper    context.CancelFunc
	full       *Full

	logger zerolog.Logger
}

// New returns a context in the PreparingStorage state.
func New() *Context {
	return &Context{state: PreparingStorage, logger: klog.WithComponent("lifecycle")}
}

// State returns the current startup phase.
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState moves to s. Moving backwards or staying put is ignored and
// reported as false.
func (c *Context) SetState(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s <= c.state {
		if s < c.state {
			c.logger.Warn().Stringer("current", c.state).Stringer("requested", s).Msg("Ignoring lifecycle state regression")
		}
		return false
	}
	c.logger.Info().Stringer("from", c.state).Stringer("to", s).Msg("Lifecycle state changed")
	c.state = s
	return true
}

// SetDiagnostic records the host snapshot. Only the first call has effect.
func (c *Context) SetDiagnostic(d diagnostic.Diagnostic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.diagnostic != nil {
		return false
	}
	c.diagnostic = &d
	return true
}

// Diagnostic returns the snapshot, false before SetDiagnostic.
func (c *Context) Diagnostic() (diagnostic.Diagnostic, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.diagnostic == nil {
		return diagnostic.Diagnostic{}, false
	}
	return *c.diagnostic, true
}

// SetBlockchain attaches the chain state handle.
func (c *Context) SetBlockchain(bc *chain.Blockchain) {
	c.mu.Lock()
	c.blockchain = bc
	c.mu.Unlock()
}

// SetTip attaches the chain tip handle.
func (c *Context) SetTip(tip *chain.Tip) {
	c.mu.Lock()
	c.tip = tip
	c.mu.Unlock()
}

// ClearChain drops both chain handles.
func (c *Context) ClearChain() {
	c.mu.Lock()
	c.blockchain = nil
	c.tip = nil
	c.mu.Unlock()
}

// Blockchain returns the chain state handle, false while unset.
func (c *Context) Blockchain() (*chain.Blockchain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockchain, c.blockchain != nil
}

// Tip returns the chain tip handle, false while unset.
func (c *Context) Tip() (*chain.Tip, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip, c.tip != nil
}

// SetBootstrapStopper installs the function that interrupts the running
// bootstrap phase.
func (c *Context) SetBootstrapStopper(stop context.CancelFunc) {
	c.mu.Lock()
	c.stopper = stop
	c.mu.Unlock()
}

// RemoveBootstrapStopper marks the bootstrap phase as no longer interruptible.
func (c *Context) RemoveBootstrapStopper() {
	c.mu.Lock()
	c.stopper = nil
	c.mu.Unlock()
}

// StopBootstrap interrupts the bootstrap phase if one is running and
// reports whether it did.
func (c *Context) StopBootstrap() bool {
	c.mu.RLock()
	stop := c.stopper
	c.mu.RUnlock()
	if stop == nil {
		return false
	}
	stop()
	return true
}

// SetFull attaches the task bundle. Only the first call has effect.
func (c *Context) SetFull(f *Full) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full != nil || f == nil {
		return false
	}
	c.full = f
	return true
}

// Full returns the task bundle, false until the task graph is running.
func (c *Context) Full() (*Full, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.full, c.full != nil
}
