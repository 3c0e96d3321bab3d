package leadership

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Status is the outcome of a scheduled slot.
type Status int

const (
	StatusPending Status = iota
	StatusProduced
	StatusRejected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProduced:
		return "produced"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LogEntry records one locally scheduled slot.
type LogEntry struct {
	Slot        uint64     `json:"slot"`
	Leader      string     `json:"leader"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	FinishedAt  time.Time  `json:"finished_at,omitempty"`
	Status      Status     `json:"status"`
	BlockHash   types.Hash `json:"block_hash"`
	Height      uint64     `json:"height,omitempty"`
	Fragments   int        `json:"fragments"`
	Reason      string     `json:"reason,omitempty"`
}

// DefaultLogsCapacity bounds the log when no capacity is configured.
const DefaultLogsCapacity = 1024

// Logs keeps the most recent leadership events.
type Logs struct {
	mu    sync.Mutex
	cache *lru.Cache[uint64, LogEntry]
}

// NewLogs creates a log holding at most capacity slots.
func NewLogs(capacity int) *Logs {
	if capacity <= 0 {
		capacity = DefaultLogsCapacity
	}
	cache, _ := lru.New[uint64, LogEntry](capacity)
	return &Logs{cache: cache}
}

// Scheduled records that a local leader owns slot.
func (l *Logs) Scheduled(slot uint64, leader string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(slot, LogEntry{Slot: slot, Leader: leader, ScheduledAt: at, Status: StatusPending})
}

// Finish records the outcome of slot.
func (l *Logs) Finish(slot uint64, status Status, fn func(*LogEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.cache.Get(slot)
	if !ok {
		e = LogEntry{Slot: slot}
	}
	e.Status = status
	e.FinishedAt = time.Now()
	if fn != nil {
		fn(&e)
	}
	l.cache.Add(slot, e)
}

// All returns every entry ordered by slot.
func (l *Logs) All() []LogEntry {
	l.mu.Lock()
	out := l.cache.Values()
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Len returns the number of logged slots.
func (l *Logs) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}
