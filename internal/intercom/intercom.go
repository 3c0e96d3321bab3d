// Package intercom defines the messages exchanged between node tasks over
// mailboxes. Every task package imports intercom instead of each other.
package intercom

import (
	"time"

	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// Mailbox capacities of the consumer tasks.
const (
	BlockQueueLen    = 32
	FragmentQueueLen = 1024
	NetworkQueueLen  = 32
	ExplorerQueueLen = 32
	ClientQueueLen   = 32
)

// BlockSource tells block processing where a candidate block came from.
type BlockSource int

const (
	FromNetwork BlockSource = iota
	FromLeadership
)

func (s BlockSource) String() string {
	if s == FromLeadership {
		return "leadership"
	}
	return "network"
}

// BlockMsg carries a candidate block to the block-processing task.
type BlockMsg struct {
	Block  *block.Block
	Source BlockSource
	Peer   string // Sending peer for network blocks.

	// Reply, when set, receives the processing outcome.
	Reply mailbox.Reply[error]
}

// NetworkMsgKind selects the network request.
type NetworkMsgKind int

const (
	PropagateBlock NetworkMsgKind = iota
	PropagateFragment
	GetPeers
)

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}

// NetworkMsg is a request for the network task.
type NetworkMsg struct {
	Kind     NetworkMsgKind
	Block    *block.Block
	Fragment *block.Fragment
	Peers    mailbox.Reply[[]PeerInfo]
}

// FragmentOrigin tells the fragment task where fragments came from.
type FragmentOrigin int

const (
	OriginNetwork FragmentOrigin = iota
	OriginRest
)

func (o FragmentOrigin) String() string {
	if o == OriginRest {
		return "rest"
	}
	return "network"
}

// FragmentStatus is the lifecycle state of a logged fragment.
type FragmentStatus int

const (
	StatusPending FragmentStatus = iota
	StatusRejected
	StatusInABlock
)

func (s FragmentStatus) String() string {
	switch s {
	case StatusRejected:
		return "rejected"
	case StatusInABlock:
		return "in_a_block"
	default:
		return "pending"
	}
}

// MarshalText encodes the status by name.
func (s FragmentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FragmentLog records what happened to one fragment.
type FragmentLog struct {
	ID          types.Hash     `json:"fragment_id"`
	Origin      string         `json:"received_from"`
	ReceivedAt  time.Time      `json:"received_at"`
	LastUpdated time.Time      `json:"last_updated_at"`
	Status      FragmentStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	BlockHash   types.Hash     `json:"block_hash"`
	BlockHeight uint64         `json:"block_height,omitempty"`
}

// FragmentMsgKind selects the fragment request.
type FragmentMsgKind int

const (
	// Incoming offers new fragments to the pool.
	Incoming FragmentMsgKind = iota
	// RemoveIncluded drops fragments that an applied block contains.
	RemoveIncluded
	// Select hands pool entries to a leader building a block.
	Select
	// GetLogs returns the fragment status log.
	GetLogs
)

// FragmentMsg is a request for the fragment task.
type FragmentMsg struct {
	Kind      FragmentMsgKind
	Fragments []*block.Fragment
	Origin    FragmentOrigin

	// RemoveIncluded
	IDs         []types.Hash
	BlockHash   types.Hash
	BlockHeight uint64

	// Select
	Max      int
	Selected mailbox.Reply[[]*block.Fragment]

	// GetLogs
	Logs mailbox.Reply[[]FragmentLog]

	// Incoming: optional per-fragment acceptance result.
	Accepted mailbox.Reply[[]types.Hash]
}

// ClientMsgKind selects the client query.
type ClientMsgKind int

const (
	GetTip ClientMsgKind = iota
	GetBlock
	PullBlocks
)

// ClientResult answers a client query.
type ClientResult struct {
	Tip    *block.Header
	Blocks []*block.Block
	Err    error
}

// ClientMsg is a read-only chain query answered by the client task.
type ClientMsg struct {
	Kind ClientMsgKind
	Hash types.Hash // GetBlock
	From uint64     // PullBlocks: first height
	Max  int        // PullBlocks: block count limit

	Reply mailbox.Reply[ClientResult]
}

// ExplorerMsg notifies the chain index of an applied block.
type ExplorerMsg struct {
	Block  *block.Block
	NewTip bool
}
