package network

import (
	"crypto/rand"
	"testing"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-node/internal/storage"
)

func randomPeer(t *testing.T) peer.ID {
	t.Helper()
	key, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBans_Punish(t *testing.T) {
	tests := []struct {
		name     string
		offenses []Offense
		banned   bool
		score    int
	}{
		{"one bad block", []Offense{OffenseBadBlock}, false, 50},
		{"two bad fragments", []Offense{OffenseBadFragment, OffenseBadFragment}, false, 40},
		{"two bad blocks", []Offense{OffenseBadBlock, OffenseBadBlock}, true, 0},
		{"wrong chain", []Offense{OffenseWrongChain}, true, 0},
		{"mixed below threshold", []Offense{OffenseBadBlock, OffenseBadFragment, OffenseBadFragment}, false, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBans(nil, nil)
			id := peer.ID("p")
			for _, o := range tt.offenses {
				b.Punish(id, o, tt.name)
			}
			if got := b.Banned(id); got != tt.banned {
				t.Errorf("Banned() = %v, want %v", got, tt.banned)
			}
			if got := b.Score(id); got != tt.score {
				t.Errorf("Score() = %d, want %d", got, tt.score)
			}
		})
	}
}

func TestBans_OnBanOnce(t *testing.T) {
	var calls []string
	b := NewBans(nil, func(id peer.ID, rec *BanRecord) { calls = append(calls, rec.Reason) })
	id := peer.ID("p")

	if !b.Punish(id, OffenseWrongChain, "block0 mismatch") {
		t.Fatal("first wrong-chain offense should ban")
	}
	if b.Punish(id, OffenseWrongChain, "again") {
		t.Error("an already banned peer is not banned twice")
	}
	if len(calls) != 1 || calls[0] != "block0 mismatch" {
		t.Errorf("onBan calls = %v", calls)
	}
}

func TestBans_Expiry(t *testing.T) {
	now := time.Now()
	b := NewBans(nil, nil)
	b.now = func() time.Time { return now }
	id := peer.ID("p")
	b.Punish(id, OffenseWrongChain, "x")

	now = now.Add(BanDuration + time.Second)
	if b.Banned(id) {
		t.Error("ban should lapse after BanDuration")
	}
	if len(b.List()) != 0 {
		t.Error("lapsed ban listed")
	}
	b.sweep()
	if len(b.active) != 0 {
		t.Error("sweep should forget lapsed bans")
	}
}

func TestBans_Lift(t *testing.T) {
	b := NewBans(storage.NewMemory(), nil)
	id := randomPeer(t)
	b.Punish(id, OffenseWrongChain, "x")
	if len(b.List()) != 1 {
		t.Fatalf("List() = %v", b.List())
	}
	if err := b.Lift(id); err != nil {
		t.Fatal(err)
	}
	if b.Banned(id) {
		t.Error("peer still banned after Lift")
	}
	if _, err := b.store.get(id.String()); err == nil {
		t.Error("lifted ban still stored")
	}
}

func TestBans_Restore(t *testing.T) {
	db := storage.NewPrefixDB(storage.NewMemory(), []byte(Namespace))
	kept, lapsed := randomPeer(t), randomPeer(t)

	first := NewBans(db, nil)
	first.Punish(kept, OffenseWrongChain, "block0 mismatch")
	first.store.put(lapsed.String(), &BanRecord{
		Peer:    lapsed.String(),
		Since:   time.Now().Add(-48 * time.Hour),
		Expires: time.Now().Add(-24 * time.Hour),
	})

	second := NewBans(db, nil)
	n, err := second.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || !second.Banned(kept) || second.Banned(lapsed) {
		t.Errorf("restored %d, kept=%v lapsed=%v", n, second.Banned(kept), second.Banned(lapsed))
	}
	if _, err := second.store.get(lapsed.String()); err == nil {
		t.Error("lapsed ban should be deleted on restore")
	}
}

func TestGate(t *testing.T) {
	b := NewBans(nil, nil)
	g := gate{b}
	id := peer.ID("gated")

	if !g.InterceptPeerDial(id) || !g.InterceptSecured(network.DirInbound, id, nil) {
		t.Fatal("unbanned peer should pass")
	}
	b.Punish(id, OffenseWrongChain, "x")
	if g.InterceptPeerDial(id) {
		t.Error("dial to banned peer allowed")
	}
	if g.InterceptSecured(network.DirInbound, id, nil) {
		t.Error("banned peer allowed once secured")
	}
	if !g.InterceptAccept(nil) {
		t.Error("accept runs before the identity is known")
	}
}
