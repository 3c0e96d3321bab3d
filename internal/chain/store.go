package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-node/internal/storage"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Block store layout:
//
//	b/<hash>        block JSON, every stored block
//	h/<height>      hash of the best-chain block at height
//	f/<fragment id> height and hash of the best-chain block holding it
//	s/tip           tip hash and height
const (
	nsBlock    = "b/"
	nsHeight   = "h/"
	nsFragment = "f/"
)

var keyTip = []byte("s/tip")

// location is a (height, hash) pair as stored in the indexes.
const locationSize = 8 + types.HashSize

func encodeLocation(height uint64, hash types.Hash) []byte {
	return append(binary.BigEndian.AppendUint64(make([]byte, 0, locationSize), height), hash[:]...)
}

func decodeLocation(v []byte) (uint64, types.Hash, error) {
	if len(v) != locationSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt location: %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), types.Hash(v[8:]), nil
}

func hashKey(ns string, h types.Hash) []byte { return append([]byte(ns), h[:]...) }

func heightKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(nsHeight), height)
}

// BlockStore keeps blocks, the best-chain indexes and the tip in a DB.
type BlockStore struct {
	db storage.DB
}

func NewBlockStore(db storage.DB) *BlockStore { return &BlockStore{db: db} }

// StoreBlock saves blk by hash without touching the best-chain indexes.
func (bs *BlockStore) StoreBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return err
	}
	return bs.db.Put(hashKey(nsBlock, blk.Hash()), data)
}

// IndexBlock makes blk the best-chain block at its height and points its
// fragments at it.
func (bs *BlockStore) IndexBlock(blk *block.Block) error {
	hash, height := blk.Hash(), blk.Header.Height
	batch := storage.NewBatch(bs.db)
	if err := batch.Put(heightKey(height), hash[:]); err != nil {
		return err
	}
	loc := encodeLocation(height, hash)
	for _, f := range blk.Fragments {
		if err := batch.Put(hashKey(nsFragment, f.ID()), loc); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// PutBlock stores and indexes blk.
func (bs *BlockStore) PutBlock(blk *block.Block) error {
	if err := bs.StoreBlock(blk); err != nil {
		return err
	}
	return bs.IndexBlock(blk)
}

func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(hashKey(nsBlock, hash))
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash.Short(), err)
	}
	blk := new(block.Block)
	if err := json.Unmarshal(data, blk); err != nil {
		return nil, fmt.Errorf("block %s: %w", hash.Short(), err)
	}
	return blk, nil
}

func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(hashKey(nsBlock, hash))
}

// HashAtHeight returns the hash of the best-chain block at height.
func (bs *BlockStore) HashAtHeight(height uint64) (types.Hash, error) {
	v, err := bs.db.Get(heightKey(height))
	if err != nil {
		return types.Hash{}, fmt.Errorf("height %d: %w", height, err)
	}
	if len(v) != types.HashSize {
		return types.Hash{}, fmt.Errorf("height %d: corrupt index entry", height)
	}
	return types.Hash(v), nil
}

func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	hash, err := bs.HashAtHeight(height)
	if err != nil {
		return nil, err
	}
	return bs.GetBlock(hash)
}

// GetFragmentLocation returns where fragment id sits on the best chain.
func (bs *BlockStore) GetFragmentLocation(id types.Hash) (uint64, types.Hash, error) {
	v, err := bs.db.Get(hashKey(nsFragment, id))
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("fragment %s: %w", id.Short(), err)
	}
	return decodeLocation(v)
}

func (bs *BlockStore) SetTip(hash types.Hash, height uint64) error {
	return bs.db.Put(keyTip, encodeLocation(height, hash))
}

// GetTip returns the stored tip. ok is false on a fresh store.
func (bs *BlockStore) GetTip() (hash types.Hash, height uint64, ok bool, err error) {
	v, err := bs.db.Get(keyTip)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, 0, false, nil
	}
	if err != nil {
		return types.Hash{}, 0, false, err
	}
	height, hash, err = decodeLocation(v)
	if err != nil {
		return types.Hash{}, 0, false, fmt.Errorf("tip: %w", err)
	}
	return hash, height, true, nil
}

// Check walks the best chain from block0 to the tip, verifying that every
// block decodes and links to its parent. It returns the height reached.
func (bs *BlockStore) Check() (uint64, error) {
	tip, height, ok, err := bs.GetTip()
	if err != nil || !ok {
		return 0, err
	}
	var prev types.Hash
	for h := uint64(0); h <= height; h++ {
		blk, err := bs.GetBlockByHeight(h)
		if err != nil {
			return h, err
		}
		if blk.Header.PrevHash != prev {
			return h, fmt.Errorf("height %d: parent link broken", h)
		}
		prev = blk.Hash()
	}
	if prev != tip {
		return height, fmt.Errorf("tip %s is not the best chain head %s", tip.Short(), prev.Short())
	}
	return height, nil
}
