package network

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/client"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/storage"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

func testGenesis(t *testing.T) (*config.Genesis, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &config.Genesis{
		ChainID:        "network-test",
		StartTime:      uint64(time.Now().Add(-time.Hour).Unix()),
		SlotDurationMs: 1000,
		SlotsPerEpoch:  100,
		Leaders:        []string{hex.EncodeToString(key.PublicKey())},
	}, key
}

func loadChain(t *testing.T, gen *config.Genesis) (*chain.Blockchain, *chain.Tip) {
	t.Helper()
	db := storage.NewMemory()
	b0, err := chain.PrepareBlock0(context.Background(), gen, db)
	if err != nil {
		t.Fatalf("PrepareBlock0: %v", err)
	}
	sched, err := chain.NewSchedule(gen)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	bc := chain.New(db, sched, 0, 0)
	tip, err := bc.Load(context.Background(), b0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return bc, tip
}

func buildBlock(t *testing.T, key *crypto.PrivateKey, parent *chain.Ref, slot uint64, payloads ...string) *block.Block {
	t.Helper()
	frags := make([]*block.Fragment, len(payloads))
	ids := make([]types.Hash, len(payloads))
	for i, p := range payloads {
		frags[i] = block.NewFragment([]byte(p))
		ids[i] = frags[i].ID()
	}
	h := &block.Header{
		Version:     block.CurrentVersion,
		PrevHash:    parent.Hash,
		ContentRoot: block.ComputeContentRoot(ids),
		Timestamp:   uint64(time.Now().UnixMilli()),
		Height:      parent.Height + 1,
		Slot:        slot,
	}
	if err := h.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return block.NewBlock(h, frags)
}

func extend(t *testing.T, bc *chain.Blockchain, tip *chain.Tip, key *crypto.PrivateKey, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		parent := tip.Get()
		if _, err := bc.ApplyBlock(buildBlock(t, key, parent, parent.Slot+1), tip); err != nil {
			t.Fatalf("ApplyBlock: %v", err)
		}
	}
}

func startTestNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1"
	cfg.NoDiscover = true
	n := New(cfg)
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

func addrInfo(n *Node) peer.AddrInfo {
	return peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
}

func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.host.Connect(ctx, addrInfo(b)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// Give GossipSub time to establish the mesh.
	time.Sleep(300 * time.Millisecond)
}

// harness is a network task with its mailboxes, serving peers from bc.
type harness struct {
	blocks    *mailbox.Queue[intercom.BlockMsg]
	fragments *mailbox.Queue[intercom.FragmentMsg]
	network   *mailbox.Box[intercom.NetworkMsg]
}

func startTask(t *testing.T, ctx context.Context, n *Node, bc *chain.Blockchain, tip *chain.Tip) *harness {
	t.Helper()
	blkBox, blkQ := mailbox.New[intercom.BlockMsg](intercom.BlockQueueLen)
	fragBox, fragQ := mailbox.New[intercom.FragmentMsg](intercom.FragmentQueueLen)
	cliBox, cliQ := mailbox.New[intercom.ClientMsg](intercom.ClientQueueLen)
	netBox, netQ := mailbox.New[intercom.NetworkMsg](intercom.NetworkQueueLen)

	if bc != nil {
		cli := &client.Task{Blockchain: bc, Tip: tip, Logger: zerolog.Nop()}
		go cli.Run(ctx, cliQ)
	}
	task := &Task{Node: n, Blocks: blkBox, Fragments: fragBox, Client: cliBox, Logger: zerolog.Nop()}
	go task.Run(ctx, netQ)
	// Let the stream handlers register.
	time.Sleep(50 * time.Millisecond)
	return &harness{blocks: blkQ, fragments: fragQ, network: netBox}
}
