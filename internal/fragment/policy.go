package fragment

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
)

// Policy defines fragment acceptance rules.
type Policy struct {
	MaxFragmentSize int // Maximum payload size in bytes.
}

// DefaultPolicy returns a policy with the consensus size limit.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxFragmentSize: config.MaxFragmentSize,
	}
}

// Check validates a fragment against policy rules.
// Policy rules can be stricter than consensus and vary per node.
func (p *Policy) Check(f *block.Fragment) error {
	if err := block.ValidateFragment(f); err != nil {
		return err
	}
	if p.MaxFragmentSize > 0 && f.Size() > p.MaxFragmentSize {
		return fmt.Errorf("fragment too large: %d bytes, max %d", f.Size(), p.MaxFragmentSize)
	}
	return nil
}
