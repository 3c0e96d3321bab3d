package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/storage"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// DefaultCacheCapacity bounds the number of block refs kept in memory.
const DefaultCacheCapacity = 102_400

// Block processing errors.
var (
	ErrBlockKnown     = errors.New("block already known")
	ErrPrevNotFound   = errors.New("previous block not found")
	ErrBadHeight      = errors.New("block height does not follow parent")
	ErrBadSlot        = errors.New("block slot does not advance past parent")
	ErrFutureSlot     = errors.New("block slot is in the future")
	ErrWrongLeader    = errors.New("block not produced by the scheduled leader")
	ErrGenesisBlock   = errors.New("genesis block cannot be applied")
	ErrBlock0Mismatch = errors.New("stored genesis block does not match configuration")
	ErrNotBlock0      = errors.New("block is not a genesis block")
	ErrBlockNotFound  = errors.New("block not found")
)

// ApplyResult reports what applying a block changed.
type ApplyResult struct {
	Ref      *Ref
	TipMoved bool
}

// Blockchain is the block store plus the in-memory ref cache and the
// validation rules that decide which blocks join the tree.
type Blockchain struct {
	mu       sync.Mutex
	store    *BlockStore
	refs     *expirable.LRU[types.Hash, *Ref]
	schedule *Schedule
	block0   types.Hash

	// now is replaced in tests.
	now func() time.Time
}

// New creates a blockchain over db. ttl bounds how long an unused ref stays
// cached; capacity bounds the cache size.
func New(db storage.DB, schedule *Schedule, capacity int, ttl time.Duration) *Blockchain {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = config.DefaultBlockCacheTTL
	}
	return &Blockchain{
		store:    NewBlockStore(db),
		refs:     expirable.NewLRU[types.Hash, *Ref](capacity, nil, ttl),
		schedule: schedule,
		now:      time.Now,
	}
}

// Store returns the underlying block store.
func (bc *Blockchain) Store() *BlockStore { return bc.store }

// Schedule returns the slot schedule.
func (bc *Blockchain) Schedule() *Schedule { return bc.schedule }

// Block0Hash returns the genesis block hash once Load has run.
func (bc *Blockchain) Block0Hash() types.Hash {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.block0
}

// PrepareBlock0 builds the genesis block from gen and checks it against any
// genesis block already in db.
func PrepareBlock0(ctx context.Context, gen *config.Genesis, db storage.DB) (*block.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	b0, err := CreateGenesisBlock(gen)
	if err != nil {
		return nil, err
	}

	stored, err := NewBlockStore(db).HashAtHeight(0)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return b0, nil
	case err != nil:
		return nil, fmt.Errorf("read stored genesis: %w", err)
	}
	if stored != b0.Hash() {
		return nil, fmt.Errorf("%w: stored %s, configured %s", ErrBlock0Mismatch, stored, b0.Hash())
	}
	return b0, nil
}

// Load initializes the chain from block0. A fresh store gets block0 written
// and becomes its own tip; an existing store resumes from its stored tip.
func (bc *Blockchain) Load(ctx context.Context, block0 *block.Block) (*Tip, error) {
	if block0 == nil || !block0.IsGenesis() {
		return nil, ErrNotBlock0
	}
	if err := block0.Validate(); err != nil {
		return nil, fmt.Errorf("genesis block: %w", err)
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	hash0 := block0.Hash()
	tipHash, _, ok, err := bc.store.GetTip()
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := bc.store.PutBlock(block0); err != nil {
			return nil, fmt.Errorf("store genesis: %w", err)
		}
		if err := bc.store.SetTip(hash0, 0); err != nil {
			return nil, err
		}
		tipHash = hash0
	} else {
		stored, err := bc.store.HashAtHeight(0)
		if err != nil {
			return nil, fmt.Errorf("read stored genesis: %w", err)
		}
		if stored != hash0 {
			return nil, ErrBlock0Mismatch
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tipBlock, err := bc.store.GetBlock(tipHash)
	if err != nil {
		return nil, fmt.Errorf("load tip %s: %w", tipHash, err)
	}
	ref := NewRef(tipBlock)
	bc.refs.Add(ref.Hash, ref)
	bc.block0 = hash0
	return NewTip(ref), nil
}

// Ref returns the summary of a stored block.
func (bc *Blockchain) Ref(hash types.Hash) (*Ref, error) {
	if ref, ok := bc.refs.Get(hash); ok {
		return ref, nil
	}
	b, err := bc.store.GetBlock(hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	ref := NewRef(b)
	bc.refs.Add(hash, ref)
	return ref, nil
}

// GetBlock returns a stored block by hash.
func (bc *Blockchain) GetBlock(hash types.Hash) (*block.Block, error) {
	b, err := bc.store.GetBlock(hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return b, err
}

// GetBlockByHeight returns the best-chain block at height.
func (bc *Blockchain) GetBlockByHeight(height uint64) (*block.Block, error) {
	b, err := bc.store.GetBlockByHeight(height)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	return b, err
}

// HasBlock reports whether a block is stored.
func (bc *Blockchain) HasBlock(hash types.Hash) bool {
	if _, ok := bc.refs.Peek(hash); ok {
		return true
	}
	ok, err := bc.store.HasBlock(hash)
	return err == nil && ok
}

// BlocksFrom returns up to max consecutive best-chain blocks starting at
// height from. It stops early at the end of the chain.
func (bc *Blockchain) BlocksFrom(from uint64, max int) ([]*block.Block, error) {
	var out []*block.Block
	for h := from; len(out) < max; h++ {
		b, err := bc.store.GetBlockByHeight(h)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ApplyBlock validates b against its parent and the leader schedule, stores
// it, and moves the tip when b extends a longer chain. Equal-height forks
// keep the current tip.
func (bc *Blockchain) ApplyBlock(b *block.Block, tip *Tip) (*ApplyResult, error) {
	if b == nil || b.Header == nil {
		return nil, block.ErrNilHeader
	}
	if b.IsGenesis() {
		return nil, ErrGenesisBlock
	}
	hash := b.Hash()
	if bc.HasBlock(hash) {
		return nil, ErrBlockKnown
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	parent, err := bc.Ref(b.Header.PrevHash)
	if errors.Is(err, ErrBlockNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPrevNotFound, b.Header.PrevHash)
	}
	if err != nil {
		return nil, err
	}
	if b.Header.Height != parent.Height+1 {
		return nil, fmt.Errorf("%w: got %d, parent %d", ErrBadHeight, b.Header.Height, parent.Height)
	}
	if b.Header.Slot <= parent.Slot {
		return nil, fmt.Errorf("%w: slot %d, parent slot %d", ErrBadSlot, b.Header.Slot, parent.Slot)
	}
	if current := bc.schedule.SlotAt(bc.now()); b.Header.Slot > current+1 {
		return nil, fmt.Errorf("%w: slot %d, current %d", ErrFutureSlot, b.Header.Slot, current)
	}
	if want := bc.schedule.LeaderAt(b.Header.Slot); !bytes.Equal(want, b.Header.Leader) {
		return nil, fmt.Errorf("%w: slot %d", ErrWrongLeader, b.Header.Slot)
	}

	if err := bc.store.StoreBlock(b); err != nil {
		return nil, err
	}
	ref := NewRef(b)
	bc.refs.Add(hash, ref)

	res := &ApplyResult{Ref: ref}
	if current := tip.Get(); current == nil || ref.Height > current.Height {
		if err := bc.switchTo(b); err != nil {
			return nil, err
		}
		tip.Update(ref)
		res.TipMoved = true
	}
	return res, nil
}

// switchTo makes b the head of the best chain, re-indexing heights back to
// the fork point when b is on a different branch. Caller holds bc.mu.
func (bc *Blockchain) switchTo(b *block.Block) error {
	cur := b
	for {
		if err := bc.store.IndexBlock(cur); err != nil {
			return err
		}
		if cur.Header.Height == 0 {
			break
		}
		parentHeight := cur.Header.Height - 1
		indexed, err := bc.store.HashAtHeight(parentHeight)
		if err == nil && indexed == cur.Header.PrevHash {
			break
		}
		parent, err := bc.store.GetBlock(cur.Header.PrevHash)
		if err != nil {
			return fmt.Errorf("reindex height %d: %w", parentHeight, err)
		}
		cur = parent
	}
	return bc.store.SetTip(b.Hash(), b.Header.Height)
}

// GC drops cached refs deeper than keep blocks below tipHeight and returns
// how many were dropped. Expired refs are dropped by the cache itself.
func (bc *Blockchain) GC(tipHeight, keep uint64) int {
	if tipHeight <= keep {
		return 0
	}
	floor := tipHeight - keep
	dropped := 0
	for _, h := range bc.refs.Keys() {
		ref, ok := bc.refs.Peek(h)
		if ok && ref.Height < floor {
			bc.refs.Remove(h)
			dropped++
		}
	}
	return dropped
}

// CachedRefs returns the number of refs held in memory.
func (bc *Blockchain) CachedRefs() int { return bc.refs.Len() }
