package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-node/internal/storage"
)

// Namespace is the key prefix of network records in the node database.
const Namespace = "n/"

const (
	peerRetention  = 24 * time.Hour
	peerFlushEvery = 5 * time.Minute
	peerRecordCap  = 500
)

// BanRecord is a ban as kept in the database.
type BanRecord struct {
	Peer    string    `json:"peer"`
	Reason  string    `json:"reason"`
	Score   int       `json:"score"`
	Since   time.Time `json:"since"`
	Expires time.Time `json:"expires"` // zero never expires
}

// Active reports whether the ban still holds at now.
func (r *BanRecord) Active(now time.Time) bool {
	return r.Expires.IsZero() || now.Before(r.Expires)
}

// PeerRecord is a peer address book entry used to reconnect after a restart.
type PeerRecord struct {
	Peer     string    `json:"peer"`
	Addrs    []string  `json:"addrs"`
	Source   string    `json:"source"`
	LastSeen time.Time `json:"last_seen"`
}

// records keeps JSON values of one type in their own sub-namespace.
type records[T any] struct {
	ns *storage.PrefixDB
}

func newRecords[T any](db storage.DB, sub string) *records[T] {
	return &records[T]{ns: storage.NewPrefixDB(db, []byte(sub))}
}

func (r *records[T]) get(id string) (*T, error) {
	data, err := r.ns.Get([]byte(id))
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s%s: %w", r.ns.Prefix(), id, err)
	}
	return v, nil
}

func (r *records[T]) put(id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.ns.Put([]byte(id), data)
}

func (r *records[T]) has(id string) (bool, error) { return r.ns.Has([]byte(id)) }

func (r *records[T]) delete(id string) error { return r.ns.Delete([]byte(id)) }

// all returns every record that decodes, keyed by id.
func (r *records[T]) all() (map[string]*T, error) {
	out := make(map[string]*T)
	err := r.ns.ForEach(nil, func(key, value []byte) error {
		v := new(T)
		if json.Unmarshal(value, v) == nil {
			out[string(key)] = v
		}
		return nil
	})
	return out, err
}

func (r *records[T]) count() (int, error) {
	n := 0
	err := r.ns.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// prune removes the records drop selects along with any that fail to
// decode, and returns how many went.
func (r *records[T]) prune(drop func(*T) bool) (int, error) {
	var doomed [][]byte
	err := r.ns.ForEach(nil, func(key, value []byte) error {
		v := new(T)
		if json.Unmarshal(value, v) != nil || drop(v) {
			doomed = append(doomed, bytes.Clone(key))
		}
		return nil
	})
	if err != nil || len(doomed) == 0 {
		return 0, err
	}
	batch := r.ns.NewBatch()
	for _, k := range doomed {
		if err := batch.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// peerBook persists the peers worth redialling after a restart.
type peerBook struct {
	*records[PeerRecord]
}

func newPeerBook(db storage.DB) *peerBook {
	return &peerBook{newRecords[PeerRecord](db, "peer/")}
}

// remember stores rec unless the book is full and rec is a new peer.
func (b *peerBook) remember(rec PeerRecord) error {
	known, err := b.has(rec.Peer)
	if err != nil {
		return err
	}
	if !known {
		n, err := b.count()
		if err != nil {
			return err
		}
		if n >= peerRecordCap {
			return nil
		}
	}
	return b.put(rec.Peer, &rec)
}

// forgetStale drops peers not seen since now minus peerRetention.
func (b *peerBook) forgetStale(now time.Time) (int, error) {
	cutoff := now.Add(-peerRetention)
	return b.prune(func(rec *PeerRecord) bool { return rec.LastSeen.Before(cutoff) })
}
