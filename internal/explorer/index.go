// Package explorer maintains a queryable index of the best chain.
package explorer

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/storage"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Namespace is the key prefix of the index inside the node database.
var Namespace = []byte("x/")

var (
	prefixSummary  = []byte("b/") // b/<hash> -> Summary JSON
	prefixHeight   = []byte("h/") // h/<height> -> hash
	prefixFragment = []byte("f/") // f/<fragment id> -> block hash
	prefixLeader   = []byte("l/") // l/<leader pubkey> -> produced block count
)

// ErrNotIndexed is returned for blocks or fragments the index does not hold.
var ErrNotIndexed = errors.New("not indexed")

// Summary is the indexed view of one block.
type Summary struct {
	Hash      types.Hash `json:"hash"`
	PrevHash  types.Hash `json:"prev_hash"`
	Height    uint64     `json:"height"`
	Slot      uint64     `json:"slot"`
	Leader    string     `json:"leader,omitempty"`
	Time      time.Time  `json:"time"`
	Fragments int        `json:"fragments"`
}

func summarize(b *block.Block) Summary {
	return Summary{
		Hash:      b.Hash(),
		PrevHash:  b.Header.PrevHash,
		Height:    b.Header.Height,
		Slot:      b.Header.Slot,
		Leader:    hex.EncodeToString(b.Header.Leader),
		Time:      time.UnixMilli(int64(b.Header.Timestamp)),
		Fragments: len(b.Fragments),
	}
}

// Index is the explorer handle shared with the status API.
type Index struct {
	mu  sync.RWMutex
	db  *storage.PrefixDB
	tip *Summary
}

// NewIndex creates an index in the explorer namespace of db.
func NewIndex(db storage.DB) *Index {
	return &Index{db: storage.NewPrefixDB(db, Namespace)}
}

// Bootstrap drops any previous index and replays the best chain from
// genesis up to the tip. It stops with ctx.Err() if ctx ends first.
func (ix *Index) Bootstrap(ctx context.Context, bc *chain.Blockchain, tip *chain.Tip) error {
	if err := ix.db.DeleteAll(); err != nil {
		return fmt.Errorf("clear explorer index: %w", err)
	}
	ix.mu.Lock()
	ix.tip = nil
	ix.mu.Unlock()

	head := tip.Get().Height
	for h := uint64(0); h <= head; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := bc.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("replay height %d: %w", h, err)
		}
		if err := ix.Apply(b, true); err != nil {
			return fmt.Errorf("index height %d: %w", h, err)
		}
	}
	return nil
}

// Apply indexes b. When newTip is set, b becomes the indexed head and the
// height index is rewritten back to the fork point.
func (ix *Index) Apply(b *block.Block, newTip bool) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	s := summarize(b)
	batch := ix.db.NewBatch()
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := batch.Put(key(prefixSummary, s.Hash[:]), data); err != nil {
		return err
	}
	for _, id := range b.FragmentIDs() {
		if err := batch.Put(key(prefixFragment, id[:]), s.Hash[:]); err != nil {
			return err
		}
	}
	if len(b.Header.Leader) > 0 {
		lk := key(prefixLeader, b.Header.Leader)
		var count uint64
		if v, err := ix.db.Get(lk); err == nil && len(v) == 8 {
			count = binary.BigEndian.Uint64(v)
		}
		if err := batch.Put(lk, binary.BigEndian.AppendUint64(nil, count+1)); err != nil {
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	if !newTip {
		return nil
	}
	if err := ix.reindex(s); err != nil {
		return err
	}
	ix.tip = &s
	return nil
}

// reindex points the height index at s and its ancestors until it meets
// the previously indexed branch.
func (ix *Index) reindex(s Summary) error {
	cur := s
	for {
		if err := ix.db.Put(heightKey(cur.Height), cur.Hash[:]); err != nil {
			return err
		}
		if cur.Height == 0 {
			return nil
		}
		if v, err := ix.db.Get(heightKey(cur.Height - 1)); err == nil && len(v) == types.HashSize && types.Hash(v) == cur.PrevHash {
			return nil
		}
		parent, err := ix.summary(cur.PrevHash)
		if err != nil {
			return fmt.Errorf("reindex height %d: %w", cur.Height-1, err)
		}
		cur = *parent
	}
}

func (ix *Index) summary(hash types.Hash) (*Summary, error) {
	data, err := ix.db.Get(key(prefixSummary, hash[:]))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("block %s: %w", hash, ErrNotIndexed)
	}
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Block returns the summary of an indexed block.
func (ix *Index) Block(hash types.Hash) (*Summary, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.summary(hash)
}

// BlockAtHeight returns the indexed best-chain block at height.
func (ix *Index) BlockAtHeight(height uint64) (*Summary, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, err := ix.db.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("height %d: %w", height, ErrNotIndexed)
	}
	if err != nil {
		return nil, err
	}
	if len(v) != types.HashSize {
		return nil, fmt.Errorf("corrupt height entry %d", height)
	}
	return ix.summary(types.Hash(v))
}

// FragmentBlock returns the block that includes fragment id.
func (ix *Index) FragmentBlock(id types.Hash) (types.Hash, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, err := ix.db.Get(key(prefixFragment, id[:]))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, fmt.Errorf("fragment %s: %w", id, ErrNotIndexed)
	}
	if err != nil {
		return types.Hash{}, err
	}
	if len(v) != types.HashSize {
		return types.Hash{}, fmt.Errorf("corrupt fragment entry %s", id)
	}
	return types.Hash(v), nil
}

// LeaderBlocks returns how many indexed blocks each leader produced.
func (ix *Index) LeaderBlocks() (map[string]uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]uint64)
	err := ix.db.ForEach(prefixLeader, func(k, v []byte) error {
		if len(v) != 8 {
			return nil
		}
		out[hex.EncodeToString(k[len(prefixLeader):])] = binary.BigEndian.Uint64(v)
		return nil
	})
	return out, err
}

// Tip returns the indexed head.
func (ix *Index) Tip() (Summary, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.tip == nil {
		return Summary{}, false
	}
	return *ix.tip, true
}

func key(prefix, suffix []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(suffix))
	k = append(k, prefix...)
	return append(k, suffix...)
}

func heightKey(h uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixHeight...), h)
}
