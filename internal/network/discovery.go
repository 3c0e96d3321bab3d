package network

import (
	"context"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

const (
	// rendezvousFallback scopes discovery when no network id is set.
	rendezvousFallback = "klingnet-node"

	dhtLookupEvery   = 30 * time.Second
	dhtLookupTimeout = 20 * time.Second

	// Trusted peers are redialled this often while no peer is connected.
	trustedRedialEvery = 10 * time.Second
)

// rendezvous is the DHT and mDNS namespace of this node's network.
func (n *Node) rendezvous() string {
	if n.config.NetworkID == "" {
		return rendezvousFallback
	}
	return "klingnet/" + n.config.NetworkID
}

// discovered dials a peer found by discovery unless it is us or the node
// is full.
func (n *Node) discovered(info peer.AddrInfo, source string) {
	if info.ID == n.host.ID() || len(info.Addrs) == 0 || n.full() {
		return
	}
	if err := n.Connect(n.ctx, info, source); err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(info.ID)).Str("source", source).Msg("Discovered peer unreachable")
	}
}

// mdnsNotifee feeds mDNS results to the node.
type mdnsNotifee struct{ node *Node }

func (m mdnsNotifee) HandlePeerFound(info peer.AddrInfo) { m.node.discovered(info, "mdns") }

func (n *Node) startMDNS() {
	if err := mdns.NewMdnsService(n.host, n.rendezvous(), mdnsNotifee{n}).Start(); err != nil {
		n.logger.Warn().Err(err).Msg("mDNS discovery unavailable")
	}
}

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kad, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return err
	}
	n.dht = kad
	return kad.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

// runDHTDiscovery advertises the rendezvous and periodically dials the
// peers found under it.
func (n *Node) runDHTDiscovery() {
	if n.dht == nil {
		return
	}
	rd := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, rd, n.rendezvous())

	tick := time.NewTicker(dhtLookupEvery)
	defer tick.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-tick.C:
			n.lookupDHT(rd)
		}
	}
}

func (n *Node) lookupDHT(rd *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, dhtLookupTimeout)
	defer cancel()
	found, err := rd.FindPeers(ctx, n.rendezvous())
	if err != nil {
		n.logger.Debug().Err(err).Msg("DHT lookup failed")
		return
	}
	for info := range found {
		if n.full() {
			return
		}
		n.discovered(info, "dht")
	}
}

// dialTrusted dials every trusted peer and returns how many answered.
func (n *Node) dialTrusted() int {
	ok := 0
	for _, info := range n.config.TrustedPeers {
		if err := n.Connect(n.ctx, info, "trusted"); err != nil {
			n.logger.Warn().Err(err).Str("peer", shortID(info.ID)).Msg("Trusted peer unreachable")
			continue
		}
		ok++
	}
	return ok
}

// keepTrustedPeers redials the trusted peers whenever the node is alone.
func (n *Node) keepTrustedPeers() {
	if len(n.config.TrustedPeers) == 0 {
		return
	}
	tick := time.NewTicker(trustedRedialEvery)
	defer tick.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-tick.C:
			if n.peers.len() > 0 {
				continue
			}
			if ok := n.dialTrusted(); ok > 0 {
				n.logger.Info().Int("connected", ok).Msg("Reconnected to trusted peers")
			}
		}
	}
}
