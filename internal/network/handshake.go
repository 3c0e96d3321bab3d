package network

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

const (
	handshakeTimeout  = 10 * time.Second
	maxHandshakeBytes = 4 << 10
)

// HandshakeMessage is what each side of a new connection announces.
type HandshakeMessage struct {
	ProtocolVersion uint32     `json:"protocol_version"`
	Block0          types.Hash `json:"block0"`
	NetworkID       string     `json:"network_id"`
	BestHeight      uint64     `json:"best_height"`
}

func (n *Node) handshakeEnabled() bool { return !n.config.Block0.IsZero() }

func (n *Node) buildHandshakeMessage() HandshakeMessage {
	msg := HandshakeMessage{
		ProtocolVersion: ProtocolVersion,
		Block0:          n.config.Block0,
		NetworkID:       n.config.NetworkID,
	}
	if n.heightFn != nil {
		msg.BestHeight = n.heightFn()
	}
	return msg
}

// exchange sends our message on s and reads the peer's. Both sides write
// first; the messages are small enough to sit in the stream buffers.
func (n *Node) exchange(s network.Stream) (HandshakeMessage, error) {
	var theirs HandshakeMessage
	_ = s.SetDeadline(time.Now().Add(handshakeTimeout))
	ours := n.buildHandshakeMessage()
	if err := json.NewEncoder(s).Encode(&ours); err != nil {
		return theirs, fmt.Errorf("send: %w", err)
	}
	if err := json.NewDecoder(io.LimitReader(s, maxHandshakeBytes)).Decode(&theirs); err != nil {
		return theirs, fmt.Errorf("receive: %w", err)
	}
	return theirs, nil
}

// registerHandshakeHandler answers handshakes opened by dialing peers.
func (n *Node) registerHandshakeHandler() {
	n.host.SetStreamHandler(HandshakeProtocol, func(s network.Stream) {
		defer s.Close()
		n.settle(s.Conn().RemotePeer(), s)
	})
}

// doHandshake opens the handshake towards a peer we dialed. Peers without
// the protocol are tolerated.
func (n *Node) doHandshake(id peer.ID) {
	s, err := n.host.NewStream(n.ctx, id, HandshakeProtocol)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(id)).Msg("Peer has no handshake protocol")
		return
	}
	defer s.Close()
	n.settle(id, s)
}

func (n *Node) settle(id peer.ID, s network.Stream) {
	theirs, err := n.exchange(s)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake incomplete")
		return
	}
	n.checkHandshake(id, theirs)
}

// checkHandshake bans and drops a peer on another chain or protocol.
func (n *Node) checkHandshake(id peer.ID, msg HandshakeMessage) {
	reason := n.validateHandshake(msg)
	if reason == "" {
		return
	}
	n.logger.Warn().Str("peer", shortID(id)).Str("reason", reason).Msg("Handshake rejected")
	if !n.Bans.Punish(id, OffenseWrongChain, reason) {
		n.DisconnectPeer(id)
	}
}

// validateHandshake returns why msg is unacceptable, or "".
func (n *Node) validateHandshake(msg HandshakeMessage) string {
	switch {
	case msg.Block0 != n.config.Block0:
		return fmt.Sprintf("block0 %s, ours %s", msg.Block0.Short(), n.config.Block0.Short())
	case msg.ProtocolVersion < MinProtocolVersion:
		return fmt.Sprintf("protocol version %d below %d", msg.ProtocolVersion, MinProtocolVersion)
	}
	return ""
}
