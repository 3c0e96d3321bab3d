package network

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

func TestBootstrap_NoTrustedPeers(t *testing.T) {
	gen, _ := testGenesis(t)
	bc, tip := loadChain(t, gen)
	n := New(Config{})
	if err := n.Bootstrap(context.Background(), bc, tip); !errors.Is(err, ErrEmptyTrustedPeers) {
		t.Fatalf("Bootstrap() = %v, want ErrEmptyTrustedPeers", err)
	}
}

func TestBootstrap_CatchesUp(t *testing.T) {
	gen, key := testGenesis(t)
	bcA, tipA := loadChain(t, gen)
	extend(t, bcA, tipA, key, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startTestNode(t, Config{Block0: bcA.Block0Hash()})
	startTask(t, ctx, a, bcA, tipA)

	bcB, tipB := loadChain(t, gen)
	b := startTestNode(t, Config{Block0: bcB.Block0Hash(), TrustedPeers: []peer.AddrInfo{addrInfo(a)}})

	bootCtx, bootCancel := context.WithTimeout(ctx, 10*time.Second)
	defer bootCancel()
	if err := b.Bootstrap(bootCtx, bcB, tipB); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if got, want := tipB.Get(), tipA.Get(); got.Hash != want.Hash || got.Height != 5 {
		t.Errorf("tip after bootstrap = %d/%s, want 5/%s", got.Height, got.Hash, want.Hash)
	}
}

func TestBootstrap_SwitchesToLongerFork(t *testing.T) {
	gen, key := testGenesis(t)
	bcA, tipA := loadChain(t, gen)
	extend(t, bcA, tipA, key, 4)

	// B shares block0 but built its own two blocks at other slots.
	bcB, tipB := loadChain(t, gen)
	for i := 0; i < 2; i++ {
		parent := tipB.Get()
		if _, err := bcB.ApplyBlock(buildBlock(t, key, parent, parent.Slot+10), tipB); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := startTestNode(t, Config{})
	startTask(t, ctx, a, bcA, tipA)
	b := startTestNode(t, Config{TrustedPeers: []peer.AddrInfo{addrInfo(a)}})

	bootCtx, bootCancel := context.WithTimeout(ctx, 10*time.Second)
	defer bootCancel()
	if err := b.Bootstrap(bootCtx, bcB, tipB); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if tipB.Get().Hash != tipA.Get().Hash {
		t.Errorf("tip height %d, want the longer fork at %d", tipB.Get().Height, tipA.Get().Height)
	}
}

func TestBootstrap_UnreachablePeer(t *testing.T) {
	gen, _ := testGenesis(t)
	bc, tip := loadChain(t, gen)

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/1")
	if err != nil {
		t.Fatal(err)
	}
	n := startTestNode(t, Config{TrustedPeers: []peer.AddrInfo{{ID: id, Addrs: []ma.Multiaddr{addr}}}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Bootstrap(ctx, bc, tip); !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("Bootstrap() = %v, want ErrBootstrapFailed", err)
	}
	if tip.Get().Height != 0 {
		t.Error("tip moved without a peer")
	}
}

func TestBootstrap_NotStarted(t *testing.T) {
	gen, _ := testGenesis(t)
	bc, tip := loadChain(t, gen)
	n := New(Config{TrustedPeers: []peer.AddrInfo{{ID: peer.ID("x")}}})
	if err := n.Bootstrap(context.Background(), bc, tip); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Bootstrap() = %v, want ErrNotStarted", err)
	}
}

func TestIsMisbehavior(t *testing.T) {
	if isMisbehavior(nil) {
		t.Error("nil is not misbehavior")
	}
	if isMisbehavior(errors.New("disk full")) {
		t.Error("local errors must not penalise peers")
	}
}
