// Package fragment manages pending fragments waiting for block inclusion.
package fragment

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Pool errors.
var (
	ErrAlreadyExists = errors.New("fragment already in pool")
	ErrPoolFull      = errors.New("fragment pool is full")
	ErrValidation    = errors.New("fragment failed validation")
)

// DefaultMaxEntries bounds the pool when no limit is configured.
const DefaultMaxEntries = 10_000

// Pool holds fragments in arrival order. Selection hands out the oldest
// entries first.
type Pool struct {
	mu      sync.RWMutex
	entries map[types.Hash]*list.Element
	order   *list.List // of *block.Fragment, oldest at front
	maxSize int
	policy  *Policy
}

// NewPool creates a pool holding at most maxSize fragments.
func NewPool(maxSize int, policy *Policy) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Pool{
		entries: make(map[types.Hash]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		policy:  policy,
	}
}

// Add validates f and appends it to the pool.
func (p *Pool) Add(f *block.Fragment) (types.Hash, error) {
	if err := p.policy.Check(f); err != nil {
		return types.Hash{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	id := f.ID()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[id]; exists {
		return id, ErrAlreadyExists
	}
	if len(p.entries) >= p.maxSize {
		return id, fmt.Errorf("%w: %d entries", ErrPoolFull, p.maxSize)
	}
	p.entries[id] = p.order.PushBack(f)
	return id, nil
}

// Has reports whether a fragment is pending.
func (p *Pool) Has(id types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[id]
	return ok
}

// Get returns a pending fragment by id.
func (p *Pool) Get(id types.Hash) *block.Fragment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if el, ok := p.entries[id]; ok {
		return el.Value.(*block.Fragment)
	}
	return nil
}

// Remove drops the given fragments and returns how many were pending.
func (p *Pool) Remove(ids []types.Hash) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range ids {
		if el, ok := p.entries[id]; ok {
			p.order.Remove(el)
			delete(p.entries, id)
			n++
		}
	}
	return n
}

// Select returns up to max of the oldest pending fragments whose combined
// payload fits in maxBytes. Selected fragments stay in the pool until the
// block that includes them is applied.
func (p *Pool) Select(max, maxBytes int) []*block.Fragment {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var (
		out  []*block.Fragment
		size int
	)
	for el := p.order.Front(); el != nil && len(out) < max; el = el.Next() {
		f := el.Value.(*block.Fragment)
		if maxBytes > 0 && size+f.Size() > maxBytes {
			continue
		}
		out = append(out, f)
		size += f.Size()
	}
	return out
}

// Count returns the number of pending fragments.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// IDs returns the ids of all pending fragments, oldest first.
func (p *Pool) IDs() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]types.Hash, 0, len(p.entries))
	for el := p.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*block.Fragment).ID())
	}
	return ids
}
