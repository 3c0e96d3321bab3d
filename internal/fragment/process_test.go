package fragment

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

type harness struct {
	proc    *Process
	in      *mailbox.Box[intercom.FragmentMsg]
	network *mailbox.Queue[intercom.NetworkMsg]
}

func startProcess(t *testing.T, leaders int) *harness {
	t.Helper()
	netBox, netQ := mailbox.New[intercom.NetworkMsg](16)
	inBox, inQ := mailbox.New[intercom.FragmentMsg](16)
	proc := NewProcess(NewPool(100, nil), NewLogs(100), leaders, netBox, stats.New(nil), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go proc.Run(ctx, inQ)
	return &harness{proc: proc, in: inBox, network: netQ}
}

func (h *harness) offer(t *testing.T, origin intercom.FragmentOrigin, frags ...*block.Fragment) []types.Hash {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply := mailbox.NewReply[[]types.Hash]()
	if err := h.in.Send(ctx, intercom.FragmentMsg{Kind: intercom.Incoming, Fragments: frags, Origin: origin, Accepted: reply}); err != nil {
		t.Fatal(err)
	}
	ids, err := reply.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return ids
}

func (h *harness) selectFragments(t *testing.T, max int) []*block.Fragment {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply := mailbox.NewReply[[]*block.Fragment]()
	if err := h.in.Send(ctx, intercom.FragmentMsg{Kind: intercom.Select, Max: max, Selected: reply}); err != nil {
		t.Fatal(err)
	}
	frags, err := reply.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return frags
}

func TestProcess_IncomingFromRest(t *testing.T) {
	h := startProcess(t, 1)

	ids := h.offer(t, intercom.OriginRest, frag("a"), block.NewFragment(nil), frag("b"))
	if len(ids) != 2 {
		t.Fatalf("accepted %d fragments, want 2", len(ids))
	}
	if h.network.Len() != 2 {
		t.Errorf("rest fragments propagated = %d, want 2", h.network.Len())
	}
	snap := h.proc.stats.Snapshot()
	if snap.FragmentsReceived != 3 || snap.FragmentsRejected != 1 {
		t.Errorf("stats = %+v", snap)
	}
	if got := h.selectFragments(t, 10); len(got) != 2 {
		t.Errorf("Select returned %d fragments", len(got))
	}
}

func TestProcess_NetworkFragmentsNotRelayed(t *testing.T) {
	h := startProcess(t, 1)
	h.offer(t, intercom.OriginNetwork, frag("n"))
	if h.network.Len() != 0 {
		t.Error("network fragments must not be sent back to the network task")
	}
}

func TestProcess_NoLeadersDoesNotPool(t *testing.T) {
	h := startProcess(t, 0)
	ids := h.offer(t, intercom.OriginRest, frag("x"))
	if len(ids) != 1 {
		t.Fatalf("accepted %d, want 1", len(ids))
	}
	if h.proc.Pool().Count() != 0 {
		t.Error("a node without leaders should not pool fragments")
	}
}

func TestProcess_RemoveIncluded(t *testing.T) {
	h := startProcess(t, 1)
	ids := h.offer(t, intercom.OriginNetwork, frag("a"), frag("b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.in.Send(ctx, intercom.FragmentMsg{
		Kind:        intercom.RemoveIncluded,
		IDs:         ids[:1],
		BlockHash:   types.Hash{7},
		BlockHeight: 3,
	}); err != nil {
		t.Fatal(err)
	}

	logs := mailbox.NewReply[[]intercom.FragmentLog]()
	if err := h.in.Send(ctx, intercom.FragmentMsg{Kind: intercom.GetLogs, Logs: logs}); err != nil {
		t.Fatal(err)
	}
	entries, err := logs.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	status := map[types.Hash]intercom.FragmentStatus{}
	for _, e := range entries {
		status[e.ID] = e.Status
	}
	if status[ids[0]] != intercom.StatusInABlock || status[ids[1]] != intercom.StatusPending {
		t.Errorf("statuses = %v", status)
	}
	if h.proc.Pool().Has(ids[0]) || !h.proc.Pool().Has(ids[1]) {
		t.Error("only the included fragment should leave the pool")
	}
}
