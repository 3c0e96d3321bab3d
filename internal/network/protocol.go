package network

import (
	"encoding/json"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/Klingon-tech/klingnet-node/pkg/block"
)

// Gossip topics.
const (
	TopicBlocks    = "/klingnet/block/1.0.0"
	TopicFragments = "/klingnet/fragment/1.0.0"
)

// Stream protocols. Each request opens a fresh stream.
const (
	HandshakeProtocol protocol.ID = "/klingnet/handshake/1.0.0" // block0 and version check
	TipProtocol       protocol.ID = "/klingnet/tip/1.0.0"       // empty request, TipResponse
	SyncProtocol      protocol.ID = "/klingnet/sync/1.0.0"      // SyncRequest, SyncResponse
)

// ProtocolVersion is announced in handshakes; peers below
// MinProtocolVersion are refused.
const (
	ProtocolVersion    uint32 = 1
	MinProtocolVersion uint32 = 1
)

// BroadcastBlock gossips b to the network.
func (n *Node) BroadcastBlock(b *block.Block) error { return n.publish(n.topicBlock, b) }

// BroadcastFragment gossips f to the network.
func (n *Node) BroadcastFragment(f *block.Fragment) error { return n.publish(n.topicFragment, f) }

func (n *Node) publish(t *pubsub.Topic, v any) error {
	if t == nil {
		return ErrNotStarted
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Publish(n.ctx, data)
}
