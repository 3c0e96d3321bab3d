package network

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/klingnet-node/internal/storage"
)

// Offense is the score a kind of misbehaviour adds to a peer.
type Offense int

const (
	OffenseBadFragment Offense = 20  // undecodable fragment on gossip
	OffenseBadBlock    Offense = 50  // block rejected as invalid
	OffenseWrongChain  Offense = 100 // handshake against another block0
)

const (
	// BanThreshold is the score at which a peer is banned.
	BanThreshold = 100
	// BanDuration is how long a ban lasts.
	BanDuration = 24 * time.Hour

	// A score is forgotten after scoreWindow without new offenses.
	scoreWindow   = time.Hour
	scoreCapacity = 4096
)

// Bans scores peer misbehaviour and keeps the list of banned peers.
type Bans struct {
	mu     sync.Mutex
	scores *expirable.LRU[peer.ID, int]
	active map[peer.ID]*BanRecord
	store  *records[BanRecord] // nil keeps bans in memory only
	onBan  func(peer.ID, *BanRecord)
	now    func() time.Time
}

// NewBans returns an empty ban list persisted to db when db is not nil.
// onBan, when set, runs outside the lock each time a peer gets banned.
func NewBans(db storage.DB, onBan func(peer.ID, *BanRecord)) *Bans {
	b := &Bans{
		scores: expirable.NewLRU[peer.ID, int](scoreCapacity, nil, scoreWindow),
		active: make(map[peer.ID]*BanRecord),
		onBan:  onBan,
		now:    time.Now,
	}
	if db != nil {
		b.store = newRecords[BanRecord](db, "ban/")
	}
	return b
}

// Restore loads the persisted bans that are still active and deletes the
// rest. It returns the number of bans loaded.
func (b *Bans) Restore() (int, error) {
	if b.store == nil {
		return 0, nil
	}
	now := b.now()
	if _, err := b.store.prune(func(r *BanRecord) bool { return !r.Active(now) }); err != nil {
		return 0, err
	}
	recs, err := b.store.all()
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, rec := range recs {
		if id, err := peer.Decode(key); err == nil {
			b.active[id] = rec
		}
	}
	return len(b.active), nil
}

// Punish adds o to the score of id and bans the peer once the score
// reaches BanThreshold. It reports whether this call banned the peer.
func (b *Bans) Punish(id peer.ID, o Offense, reason string) bool {
	b.mu.Lock()
	if b.bannedLocked(id) {
		b.mu.Unlock()
		return false
	}
	score, _ := b.scores.Get(id)
	score += int(o)
	if score < BanThreshold {
		b.scores.Add(id, score)
		b.mu.Unlock()
		return false
	}
	b.scores.Remove(id)
	now := b.now()
	rec := &BanRecord{
		Peer:    id.String(),
		Reason:  reason,
		Score:   score,
		Since:   now,
		Expires: now.Add(BanDuration),
	}
	b.active[id] = rec
	b.mu.Unlock()

	if b.store != nil {
		_ = b.store.put(rec.Peer, rec)
	}
	if b.onBan != nil {
		b.onBan(id, rec)
	}
	return true
}

// Score returns the pending score of a peer that is not banned.
func (b *Bans) Score(id peer.ID) int {
	score, _ := b.scores.Peek(id)
	return score
}

// Banned reports whether id is currently banned.
func (b *Bans) Banned(id peer.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bannedLocked(id)
}

func (b *Bans) bannedLocked(id peer.ID) bool {
	rec, ok := b.active[id]
	return ok && rec.Active(b.now())
}

// Lift removes the ban and the score of id.
func (b *Bans) Lift(id peer.ID) error {
	b.mu.Lock()
	delete(b.active, id)
	b.mu.Unlock()
	b.scores.Remove(id)
	if b.store == nil {
		return nil
	}
	return b.store.delete(id.String())
}

// List returns the active bans, oldest first.
func (b *Bans) List() []BanRecord {
	b.mu.Lock()
	now := b.now()
	out := make([]BanRecord, 0, len(b.active))
	for _, rec := range b.active {
		if rec.Active(now) {
			out = append(out, *rec)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// sweep forgets expired bans in memory and in the store.
func (b *Bans) sweep() {
	b.mu.Lock()
	now := b.now()
	for id, rec := range b.active {
		if !rec.Active(now) {
			delete(b.active, id)
		}
	}
	b.mu.Unlock()
	if b.store != nil {
		_, _ = b.store.prune(func(r *BanRecord) bool { return !r.Active(now) })
	}
}

// gate is the libp2p connection gater refusing banned peers. Inbound
// connections are checked once the remote identity is known.
type gate struct{ bans *Bans }

func (g gate) InterceptPeerDial(id peer.ID) bool { return !g.bans.Banned(id) }

func (g gate) InterceptAddrDial(peer.ID, ma.Multiaddr) bool { return true }

func (g gate) InterceptAccept(network.ConnMultiaddrs) bool { return true }

func (g gate) InterceptSecured(_ network.Direction, id peer.ID, _ network.ConnMultiaddrs) bool {
	return !g.bans.Banned(id)
}

func (g gate) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) { return true, 0 }
