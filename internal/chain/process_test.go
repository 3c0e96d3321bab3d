package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
)

type processHarness struct {
	proc      *Process
	blocks    *mailbox.Box[intercom.BlockMsg]
	network   *mailbox.Queue[intercom.NetworkMsg]
	fragments *mailbox.Queue[intercom.FragmentMsg]
	explorer  *mailbox.Queue[intercom.ExplorerMsg]
	cancel    context.CancelFunc
	done      chan error
}

func startProcess(t *testing.T, bc *Blockchain, tip *Tip) *processHarness {
	t.Helper()
	netBox, netQ := mailbox.New[intercom.NetworkMsg](8)
	fragBox, fragQ := mailbox.New[intercom.FragmentMsg](8)
	expBox, expQ := mailbox.New[intercom.ExplorerMsg](8)
	blkBox, blkQ := mailbox.New[intercom.BlockMsg](8)

	h := &processHarness{
		proc: &Process{
			Blockchain: bc,
			Tip:        tip,
			Stats:      stats.New(nil),
			Network:    netBox,
			Fragments:  fragBox,
			Explorer:   expBox,
			GCInterval: 10 * time.Millisecond,
			Logger:     zerolog.Nop(),
		},
		blocks:    blkBox,
		network:   netQ,
		fragments: fragQ,
		explorer:  expQ,
		done:      make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.proc.Run(ctx, blkQ) }()
	t.Cleanup(cancel)
	return h
}

func (h *processHarness) submit(t *testing.T, msg intercom.BlockMsg) error {
	t.Helper()
	msg.Reply = mailbox.NewReply[error]()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.blocks.Send(ctx, msg); err != nil {
		t.Fatalf("send block: %v", err)
	}
	err, werr := msg.Reply.Wait(ctx)
	if werr != nil {
		t.Fatalf("wait reply: %v", werr)
	}
	return err
}

func TestProcess_LeaderBlock(t *testing.T) {
	bc, tip, key := testChain(t)
	h := startProcess(t, bc, tip)

	b := buildBlock(t, key, tip.Get(), 1, "frag")
	if err := h.submit(t, intercom.BlockMsg{Block: b, Source: intercom.FromLeadership}); err != nil {
		t.Fatalf("process: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	nm, err := h.network.Recv(ctx)
	if err != nil || nm.Kind != intercom.PropagateBlock || nm.Block.Hash() != b.Hash() {
		t.Fatalf("network msg = %+v, %v", nm, err)
	}
	fm, err := h.fragments.Recv(ctx)
	if err != nil || fm.Kind != intercom.RemoveIncluded || len(fm.IDs) != 1 || fm.BlockHeight != 1 {
		t.Fatalf("fragment msg = %+v, %v", fm, err)
	}
	em, err := h.explorer.Recv(ctx)
	if err != nil || !em.NewTip {
		t.Fatalf("explorer msg = %+v, %v", em, err)
	}

	snap := h.proc.Stats.Snapshot()
	if snap.BlocksApplied != 1 || snap.TipHeight != 1 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestProcess_NetworkBlockNotRepropagated(t *testing.T) {
	bc, tip, key := testChain(t)
	h := startProcess(t, bc, tip)

	b := buildBlock(t, key, tip.Get(), 1)
	if err := h.submit(t, intercom.BlockMsg{Block: b, Source: intercom.FromNetwork, Peer: "peer-1"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.network.Len() != 0 {
		t.Error("network blocks must not be sent back to the network task")
	}
	if h.fragments.Len() != 0 {
		t.Error("empty block should not ask the pool to remove anything")
	}
}

func TestProcess_RejectsAndKeepsRunning(t *testing.T) {
	bc, tip, key := testChain(t)
	h := startProcess(t, bc, tip)

	bad := buildBlock(t, key, tip.Get(), 0)
	if err := h.submit(t, intercom.BlockMsg{Block: bad}); !errors.Is(err, ErrBadSlot) {
		t.Fatalf("bad block = %v, want ErrBadSlot", err)
	}
	good := buildBlock(t, key, tip.Get(), 1)
	if err := h.submit(t, intercom.BlockMsg{Block: good}); err != nil {
		t.Fatalf("good block after rejection: %v", err)
	}
	if err := h.submit(t, intercom.BlockMsg{Block: good}); !errors.Is(err, ErrBlockKnown) {
		t.Errorf("duplicate = %v, want ErrBlockKnown", err)
	}
}

func TestProcess_StopsOnCancel(t *testing.T) {
	bc, tip, _ := testChain(t)
	h := startProcess(t, bc, tip)

	time.Sleep(30 * time.Millisecond) // let a few GC ticks run
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
