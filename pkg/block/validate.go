package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrBadContentRoot      = errors.New("content root mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrTooManyFragments    = errors.New("too many fragments in block")
	ErrBlockTooLarge       = errors.New("block too large")
	ErrFragmentTooLarge    = errors.New("fragment too large")
	ErrEmptyFragment       = errors.New("fragment has empty payload")
	ErrDuplicateFragment   = errors.New("duplicate fragment in block")
	ErrMissingSignature    = errors.New("block is not signed")
	ErrBadSignature        = errors.New("invalid block signature")
	ErrUnexpectedSignature = errors.New("genesis block must not be signed")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// ValidateFragment checks a single fragment's structure.
func ValidateFragment(f *Fragment) error {
	if f == nil || len(f.Payload) == 0 {
		return ErrEmptyFragment
	}
	if len(f.Payload) > config.MaxFragmentSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrFragmentTooLarge, len(f.Payload), config.MaxFragmentSize)
	}
	return nil
}

// Validate checks block structure, internal consistency and the leader
// signature. It does NOT check the leader schedule or chain linkage.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if len(b.Fragments) > config.MaxBlockFragments {
		return fmt.Errorf("%w: %d fragments, max %d", ErrTooManyFragments, len(b.Fragments), config.MaxBlockFragments)
	}

	blockSize := len(b.Header.SigningBytes())
	seen := make(map[types.Hash]int, len(b.Fragments))
	for i, f := range b.Fragments {
		if err := ValidateFragment(f); err != nil {
			return fmt.Errorf("fragment %d: %w", i, err)
		}
		id := f.ID()
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("%w: fragment %d repeats fragment %d", ErrDuplicateFragment, i, prev)
		}
		seen[id] = i
		blockSize += f.Size()
	}
	if blockSize > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, blockSize, config.MaxBlockSize)
	}

	expectedRoot := ComputeContentRoot(b.FragmentIDs())
	if b.Header.ContentRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadContentRoot, b.Header.ContentRoot, expectedRoot)
	}

	if b.IsGenesis() {
		if len(b.Header.Signature) != 0 || len(b.Header.Leader) != 0 {
			return ErrUnexpectedSignature
		}
		return nil
	}

	if len(b.Header.Signature) == 0 || len(b.Header.Leader) == 0 {
		return ErrMissingSignature
	}
	hash := b.Header.Hash()
	if !crypto.VerifySignature(hash[:], b.Header.Signature, b.Header.Leader) {
		return ErrBadSignature
	}
	return nil
}
