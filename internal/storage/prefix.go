package storage

import "bytes"

// PrefixDB is a namespace inside another DB: every key is stored under a
// fixed prefix and handed back to callers without it. The network peer
// store and the explorer index each own one over the node database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB returns the namespace prefix of inner.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: bytes.Clone(prefix)}
}

// Prefix returns the namespace prefix.
func (p *PrefixDB) Prefix() []byte { return bytes.Clone(p.prefix) }

func (p *PrefixDB) key(k []byte) []byte {
	return append(bytes.Clone(p.prefix), k...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }

func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.key(key), value) }

func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.key(key)) }

func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.key(key)) }

// ForEach iterates the namespace keys starting with prefix. fn sees keys
// without the namespace prefix.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.inner.ForEach(p.key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// DeleteAll empties the namespace. Keys are collected before any delete so
// the inner store is never written while it is being iterated.
func (p *PrefixDB) DeleteAll() error {
	var keys [][]byte
	if err := p.ForEach(nil, func(key, _ []byte) error {
		keys = append(keys, bytes.Clone(key))
		return nil
	}); err != nil {
		return err
	}
	batch := p.NewBatch()
	for _, k := range keys {
		if err := batch.Delete(k); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// Close does nothing; the inner DB is closed by its owner.
func (p *PrefixDB) Close() error { return nil }

// NewBatch returns a batch over the namespace. It is atomic when the inner
// DB is a Batcher and applied write by write otherwise.
func (p *PrefixDB) NewBatch() Batch {
	return &prefixBatch{ns: p, inner: NewBatch(p.inner)}
}

type prefixBatch struct {
	ns    *PrefixDB
	inner Batch
}

func (b *prefixBatch) Put(key, value []byte) error { return b.inner.Put(b.ns.key(key), value) }

func (b *prefixBatch) Delete(key []byte) error { return b.inner.Delete(b.ns.key(key)) }

func (b *prefixBatch) Commit() error { return b.inner.Commit() }

// directBatch records writes and replays them against db on Commit.
type directBatch struct {
	db      DB
	pending []func() error
}

func (b *directBatch) Put(key, value []byte) error {
	k, v := bytes.Clone(key), bytes.Clone(value)
	b.pending = append(b.pending, func() error { return b.db.Put(k, v) })
	return nil
}

func (b *directBatch) Delete(key []byte) error {
	k := bytes.Clone(key)
	b.pending = append(b.pending, func() error { return b.db.Delete(k) })
	return nil
}

func (b *directBatch) Commit() error {
	for _, op := range b.pending {
		if err := op(); err != nil {
			return err
		}
	}
	b.pending = nil
	return nil
}
