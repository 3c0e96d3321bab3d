package fragment

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// DefaultLogEntries bounds the log when no limit is configured.
const DefaultLogEntries = 10_000

// Logs remembers the fate of recently seen fragments. The least recently
// updated entry is dropped once the log is full.
type Logs struct {
	mu    sync.Mutex
	cache *lru.Cache[types.Hash, intercom.FragmentLog]
}

// NewLogs creates a log holding at most capacity entries.
func NewLogs(capacity int) *Logs {
	if capacity <= 0 {
		capacity = DefaultLogEntries
	}
	cache, _ := lru.New[types.Hash, intercom.FragmentLog](capacity)
	return &Logs{cache: cache}
}

// Pending records a newly received fragment. It returns false if the
// fragment is already logged.
func (l *Logs) Pending(id types.Hash, origin intercom.FragmentOrigin) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cache.Contains(id) {
		return false
	}
	now := time.Now()
	l.cache.Add(id, intercom.FragmentLog{
		ID:          id,
		Origin:      origin.String(),
		ReceivedAt:  now,
		LastUpdated: now,
		Status:      intercom.StatusPending,
	})
	return true
}

// Rejected marks a fragment as rejected with reason.
func (l *Logs) Rejected(id types.Hash, origin intercom.FragmentOrigin, reason string) {
	l.update(id, origin, func(e *intercom.FragmentLog) {
		e.Status = intercom.StatusRejected
		e.Reason = reason
	})
}

// InBlock marks a fragment as included in a block.
func (l *Logs) InBlock(id, blockHash types.Hash, height uint64) {
	l.update(id, intercom.OriginNetwork, func(e *intercom.FragmentLog) {
		e.Status = intercom.StatusInABlock
		e.BlockHash = blockHash
		e.BlockHeight = height
		e.Reason = ""
	})
}

func (l *Logs) update(id types.Hash, origin intercom.FragmentOrigin, fn func(*intercom.FragmentLog)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	e, ok := l.cache.Get(id)
	if !ok {
		e = intercom.FragmentLog{ID: id, Origin: origin.String(), ReceivedAt: now}
	}
	fn(&e)
	e.LastUpdated = now
	l.cache.Add(id, e)
}

// Get returns the log entry of a fragment.
func (l *Logs) Get(id types.Hash) (intercom.FragmentLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Peek(id)
}

// All returns every entry, oldest receipt first.
func (l *Logs) All() []intercom.FragmentLog {
	l.mu.Lock()
	out := l.cache.Values()
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// Len returns the number of logged fragments.
func (l *Logs) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}
