package network

import (
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-node/internal/stats"
)

// Peer is a connected peer as seen by this node.
type Peer struct {
	ID     peer.ID
	Since  time.Time
	Source string // how we learned of it: trusted, dht, mdns, gossip, book
}

// peerTable tracks connected peers and mirrors their count into stats.
type peerTable struct {
	mu    sync.RWMutex
	byID  map[peer.ID]*Peer
	stats *stats.Counter
}

func newPeerTable() *peerTable {
	return &peerTable{byID: make(map[peer.ID]*Peer)}
}

// seen records id as connected. The first non-empty source sticks.
func (t *peerTable) seen(id peer.ID, source string) {
	t.mu.Lock()
	p, known := t.byID[id]
	if !known {
		p = &Peer{ID: id, Since: time.Now()}
		t.byID[id] = p
	}
	if p.Source == "" {
		p.Source = source
	}
	n := len(t.byID)
	t.mu.Unlock()
	if !known {
		t.stats.SetPeers(n)
	}
}

func (t *peerTable) drop(id peer.ID) {
	t.mu.Lock()
	_, known := t.byID[id]
	delete(t.byID, id)
	n := len(t.byID)
	t.mu.Unlock()
	if known {
		t.stats.SetPeers(n)
	}
}

func (t *peerTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// list returns copies of the connected peers, longest connected first.
func (t *peerTable) list() []Peer {
	t.mu.RLock()
	out := make([]Peer, 0, len(t.byID))
	for _, p := range t.byID {
		out = append(out, *p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// shortID trims a peer ID for log fields.
func shortID(id peer.ID) string {
	if s := id.String(); len(s) > 16 {
		return s[:16]
	}
	return id.String()
}
