// Package network implements the node's peer-to-peer layer on libp2p:
// block and fragment gossip, the handshake, tip and sync stream protocols,
// peer discovery, and the bootstrap against trusted peers.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	klog "github.com/Klingon-tech/klingnet-node/internal/log"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
	"github.com/Klingon-tech/klingnet-node/internal/storage"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// dialTimeout bounds a single outbound connection attempt.
const dialTimeout = 5 * time.Second

// ErrNotStarted is returned by operations that need a running host.
var ErrNotStarted = errors.New("network node not started")

// Config holds network node configuration.
type Config struct {
	ListenAddr   string
	Port         int
	TrustedPeers []peer.AddrInfo
	MaxPeers     int
	NoDiscover   bool
	DHTServer    bool
	NetworkID    string     // chain id, scopes discovery
	KeyPath      string     // identity key file, "" for an ephemeral identity
	DB           storage.DB // peer book and bans, nil to keep nothing
	Block0       types.Hash // zero disables the handshake
}

// Node is a libp2p host with the node's gossip topics and stream protocols.
type Node struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT

	topicBlock    *pubsub.Topic
	topicFragment *pubsub.Topic
	subBlock      *pubsub.Subscription
	subFragment   *pubsub.Subscription

	peers *peerTable
	book  *peerBook // nil without Config.DB
	Bans  *Bans

	heightFn func() uint64
	logger   zerolog.Logger
}

// New creates a network node. No socket is opened before Start.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  newPeerTable(),
		logger: klog.WithComponent("network"),
	}
	if cfg.DB != nil {
		n.book = newPeerBook(cfg.DB)
	}
	n.Bans = NewBans(cfg.DB, n.banned)
	return n
}

// ConfigFrom derives the network configuration from the node configuration.
// db is narrowed to Namespace.
func ConfigFrom(cfg *config.Config, gen *config.Genesis, block0 types.Hash, db storage.DB) (Config, error) {
	trusted, err := config.TrustedPeerAddrs(cfg.P2P.TrustedPeers)
	if err != nil {
		return Config{}, err
	}
	nc := Config{
		ListenAddr:   cfg.P2P.ListenAddr,
		Port:         cfg.P2P.Port,
		TrustedPeers: trusted,
		MaxPeers:     cfg.P2P.MaxPeers,
		NoDiscover:   cfg.P2P.NoDiscover,
		DHTServer:    cfg.P2P.DHTServer,
		NetworkID:    gen.ChainID,
		Block0:       block0,
	}
	if !cfg.Storage.InMemory {
		nc.KeyPath = cfg.NodeKeyPath()
	}
	if db != nil {
		nc.DB = storage.NewPrefixDB(db, []byte(Namespace))
	}
	return nc, nil
}

// SetStats attaches the counter that tracks the peer count.
func (n *Node) SetStats(c *stats.Counter) { n.peers.stats = c }

// SetHeightFn sets the source of the best height announced in handshakes.
func (n *Node) SetHeightFn(fn func() uint64) { n.heightFn = fn }

// TrustedPeers returns the configured trusted peers.
func (n *Node) TrustedPeers() []peer.AddrInfo { return n.config.TrustedPeers }

// Start opens the host, joins the gossip topics and begins discovery.
// Gossip is consumed once a Task runs over the node.
func (n *Node) Start() (err error) {
	if restored, err := n.Bans.Restore(); err != nil {
		n.logger.Warn().Err(err).Msg("Could not restore peer bans")
	} else if restored > 0 {
		n.logger.Info().Int("bans", restored).Msg("Peer bans restored")
	}

	opts, err := n.hostOptions()
	if err != nil {
		return err
	}
	if n.host, err = libp2p.New(opts...); err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	defer func() {
		if err != nil {
			n.closeDHT()
			n.host.Close()
			n.host = nil
		}
	}()
	n.host.Network().Notify(&connNotifier{node: n})

	// The DHT comes up before GossipSub so it can feed it peers.
	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			return fmt.Errorf("init dht: %w", err)
		}
	}
	n.pubsub, err = pubsub.NewGossipSub(n.ctx, n.host, pubsub.WithMaxMessageSize(config.MaxBlockSize+64<<10))
	if err != nil {
		return fmt.Errorf("create pubsub: %w", err)
	}
	if err := n.joinTopics(); err != nil {
		return err
	}
	if n.handshakeEnabled() {
		n.registerHandshakeHandler()
	}

	go n.redialBook()
	go n.keepTrustedPeers()
	if !n.config.NoDiscover {
		n.startMDNS()
		go n.runDHTDiscovery()
	}
	go n.maintain()

	n.logger.Info().Str("id", n.host.ID().String()).Strs("addrs", n.Addrs()).Msg("Network node started")
	return nil
}

func (n *Node) hostOptions() ([]libp2p.Option, error) {
	listen := n.config.ListenAddr
	if listen == "" {
		listen = "0.0.0.0"
	}
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", listen, n.config.Port)),
		libp2p.ConnectionGater(gate{n.Bans}),
	}
	if n.config.KeyPath != "" {
		key, err := loadOrCreateIdentity(n.config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(key))
	}
	return opts, nil
}

func (n *Node) joinTopics() (err error) {
	if n.topicBlock, err = n.pubsub.Join(TopicBlocks); err != nil {
		return fmt.Errorf("join %s: %w", TopicBlocks, err)
	}
	if n.topicFragment, err = n.pubsub.Join(TopicFragments); err != nil {
		return fmt.Errorf("join %s: %w", TopicFragments, err)
	}
	if n.subBlock, err = n.topicBlock.Subscribe(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicBlocks, err)
	}
	if n.subFragment, err = n.topicFragment.Subscribe(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicFragments, err)
	}
	return nil
}

// Stop saves the peer book and closes the host. Calling it again, or
// before Start, does nothing.
func (n *Node) Stop() error {
	var err error
	n.once.Do(func() {
		n.flushBook()
		n.cancel()
		for _, sub := range []*pubsub.Subscription{n.subBlock, n.subFragment} {
			if sub != nil {
				sub.Cancel()
			}
		}
		n.closeDHT()
		if n.host != nil {
			err = n.host.Close()
		}
	})
	return err
}

// ID returns the peer ID of this node, empty before Start.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the dialable multiaddrs of this node including its peer ID.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	out := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		out = append(out, a.String()+"/p2p/"+n.host.ID().String())
	}
	return out
}

// Connect dials a peer and records how it was found.
func (n *Node) Connect(ctx context.Context, info peer.AddrInfo, source string) error {
	if n.host == nil {
		return ErrNotStarted
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, info); err != nil {
		return err
	}
	n.peers.seen(info.ID, source)
	return nil
}

// DisconnectPeer closes every connection to id.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return ErrNotStarted
	}
	n.peers.drop(id)
	return n.host.Network().ClosePeer(id)
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int { return n.peers.len() }

// Peers returns the connected peers.
func (n *Node) Peers() []Peer { return n.peers.list() }

// PeerInfos describes connected peers with the addresses known for them.
func (n *Node) PeerInfos() []intercom.PeerInfo {
	list := n.peers.list()
	out := make([]intercom.PeerInfo, len(list))
	for i, p := range list {
		out[i] = intercom.PeerInfo{ID: p.ID.String()}
		if n.host == nil {
			continue
		}
		for _, a := range n.host.Peerstore().Addrs(p.ID) {
			out[i].Addrs = append(out[i].Addrs, a.String())
		}
	}
	return out
}

// full reports whether MaxPeers is reached.
func (n *Node) full() bool {
	return n.config.MaxPeers > 0 && n.peers.len() >= n.config.MaxPeers
}

// banned runs when Bans bans a peer.
func (n *Node) banned(id peer.ID, rec *BanRecord) {
	n.logger.Warn().
		Str("peer", shortID(id)).
		Str("reason", rec.Reason).
		Int("score", rec.Score).
		Time("until", rec.Expires).
		Msg("Peer banned")
	go n.DisconnectPeer(id)
}
