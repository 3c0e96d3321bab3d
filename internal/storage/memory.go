package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// MemoryDB is a DB held in a map. ForEach visits keys in byte order like
// BadgerDB does.
type MemoryDB struct {
	mu sync.RWMutex
	kv map[string][]byte
}

func NewMemory() *MemoryDB {
	return &MemoryDB{kv: make(map[string][]byte)}
}

func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	v, ok := m.kv[string(key)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	m.kv[string(key)] = bytes.Clone(value)
	m.mu.Unlock()
	return nil
}

func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.kv, string(key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	_, ok := m.kv[string(key)]
	m.mu.RUnlock()
	return ok, nil
}

// ForEach works on a snapshot, so fn may write to the store.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.kv {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	vals := make(map[string][]byte, len(keys))
	for _, k := range keys {
		vals[k] = bytes.Clone(m.kv[k])
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), vals[k]); err != nil {
			return err
		}
	}
	return nil
}

// NewBatch returns a batch applied under one lock on Commit.
func (m *MemoryDB) NewBatch() Batch { return &memoryBatch{db: m} }

func (m *MemoryDB) Close() error { return nil }

// memoryBatch keeps the last write per key; a nil value is a delete.
type memoryBatch struct {
	db      *MemoryDB
	order   []string
	pending map[string][]byte
}

func (b *memoryBatch) set(key []byte, value []byte) {
	if b.pending == nil {
		b.pending = make(map[string][]byte)
	}
	k := string(key)
	if _, seen := b.pending[k]; !seen {
		b.order = append(b.order, k)
	}
	b.pending[k] = value
}

func (b *memoryBatch) Put(key, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	b.set(key, v)
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	b.set(key, nil)
	return nil
}

func (b *memoryBatch) Commit() error {
	b.db.mu.Lock()
	for _, k := range b.order {
		if v := b.pending[k]; v == nil {
			delete(b.db.kv, k)
		} else {
			b.db.kv[k] = v
		}
	}
	b.db.mu.Unlock()
	b.order, b.pending = nil, nil
	return nil
}
