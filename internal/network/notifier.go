package network

import (
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
)

// connNotifier mirrors libp2p connections into the peer table. The dialer
// side opens the handshake; the stream handler answers it.
type connNotifier struct{ node *Node }

func (c *connNotifier) Connected(_ network.Network, conn network.Conn) {
	n, id := c.node, conn.RemotePeer()
	if id == n.host.ID() {
		return
	}
	n.peers.seen(id, "")
	if conn.Stat().Direction == network.DirOutbound && n.handshakeEnabled() {
		go n.doHandshake(id)
	}
}

func (c *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	if id := conn.RemotePeer(); len(net.ConnsToPeer(id)) == 0 {
		c.node.peers.drop(id)
	}
}

func (*connNotifier) Listen(network.Network, ma.Multiaddr)      {}
func (*connNotifier) ListenClose(network.Network, ma.Multiaddr) {}
