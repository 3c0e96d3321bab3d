package chain

import (
	"sync"
	"time"
)

// Tip is the shared handle to the head of the best chain.
// Readers never block block processing for longer than a pointer copy.
type Tip struct {
	mu         sync.RWMutex
	ref        *Ref
	lastUpdate time.Time
}

// NewTip creates a tip pointing at ref.
func NewTip(ref *Ref) *Tip {
	return &Tip{ref: ref, lastUpdate: time.Now()}
}

// Get returns the current head.
func (t *Tip) Get() *Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ref
}

// Update moves the head to ref.
func (t *Tip) Update(ref *Ref) {
	t.mu.Lock()
	t.ref = ref
	t.lastUpdate = time.Now()
	t.mu.Unlock()
}

// LastUpdate returns when the head last moved.
func (t *Tip) LastUpdate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdate
}
