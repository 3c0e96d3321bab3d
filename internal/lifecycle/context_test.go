package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/diagnostic"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{PreparingStorage, "PreparingStorage"},
		{PreparingBlock0, "PreparingBlock0"},
		{Bootstrapping, "Bootstrapping"},
		{StartingWorkers, "StartingWorkers"},
		{Running, "Running"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		text, _ := tt.s.MarshalText()
		if string(text) != tt.want {
			t.Errorf("MarshalText() = %q, want %q", text, tt.want)
		}
	}
}

func TestContext_SetState_ForwardOnly(t *testing.T) {
	c := New()
	if c.State() != PreparingStorage {
		t.Fatalf("initial state = %v", c.State())
	}
	if !c.SetState(Bootstrapping) {
		t.Fatal("forward move refused")
	}
	if c.SetState(PreparingBlock0) {
		t.Error("regression accepted")
	}
	if c.SetState(Bootstrapping) {
		t.Error("same state reported as change")
	}
	if c.State() != Bootstrapping {
		t.Errorf("state = %v, want Bootstrapping", c.State())
	}
	if !c.SetState(Running) {
		t.Error("forward move refused")
	}
}

func TestContext_StateMonotonicUnderConcurrentReads(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan State, 4)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := PreparingStorage
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := c.State()
				if s < last {
					errs <- s
					return
				}
				last = s
			}
		}()
	}

	for _, s := range []State{PreparingBlock0, Bootstrapping, PreparingBlock0, StartingWorkers, Bootstrapping, Running} {
		c.SetState(s)
	}
	close(stop)
	wg.Wait()
	close(errs)
	for s := range errs {
		t.Errorf("reader observed regression to %v", s)
	}
	if c.State() != Running {
		t.Errorf("final state = %v", c.State())
	}
}

func TestContext_Diagnostic_WriteOnce(t *testing.T) {
	c := New()
	if _, ok := c.Diagnostic(); ok {
		t.Fatal("diagnostic present before set")
	}
	first := diagnostic.Diagnostic{OS: "first"}
	if !c.SetDiagnostic(first) {
		t.Fatal("first SetDiagnostic refused")
	}
	if c.SetDiagnostic(diagnostic.Diagnostic{OS: "second"}) {
		t.Error("second SetDiagnostic accepted")
	}
	got, ok := c.Diagnostic()
	if !ok || got.OS != "first" {
		t.Errorf("Diagnostic() = %+v, %v", got, ok)
	}
}

func TestContext_ChainHandles(t *testing.T) {
	c := New()
	if _, ok := c.Blockchain(); ok {
		t.Error("blockchain present before set")
	}
	if _, ok := c.Tip(); ok {
		t.Error("tip present before set")
	}

	tip := chain.NewTip(&chain.Ref{Height: 3})
	bc := &chain.Blockchain{}
	c.SetBlockchain(bc)
	c.SetTip(tip)

	if got, ok := c.Blockchain(); !ok || got != bc {
		t.Error("Blockchain() did not return the set value")
	}
	if got, ok := c.Tip(); !ok || got.Get().Height != 3 {
		t.Error("Tip() did not return the set value")
	}

	c.ClearChain()
	if _, ok := c.Blockchain(); ok {
		t.Error("blockchain present after ClearChain")
	}
	if _, ok := c.Tip(); ok {
		t.Error("tip present after ClearChain")
	}
}

func TestContext_BootstrapStopper(t *testing.T) {
	c := New()
	if c.StopBootstrap() {
		t.Error("StopBootstrap without a stopper reported true")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.SetBootstrapStopper(cancel)
	if !c.StopBootstrap() {
		t.Error("StopBootstrap with a stopper reported false")
	}
	if ctx.Err() == nil {
		t.Error("stopper not called")
	}

	c.RemoveBootstrapStopper()
	if c.StopBootstrap() {
		t.Error("StopBootstrap after removal reported true")
	}
}

func TestContext_Full_WriteOnce(t *testing.T) {
	c := New()
	if _, ok := c.Full(); ok {
		t.Fatal("full bundle present before set")
	}
	if c.SetFull(nil) {
		t.Error("nil bundle accepted")
	}

	blocks, _ := mailbox.New[intercom.BlockMsg](1)
	first := &Full{Blocks: blocks, Leaders: 1}
	if !c.SetFull(first) {
		t.Fatal("first SetFull refused")
	}
	if c.SetFull(&Full{Leaders: 2}) {
		t.Error("second SetFull accepted")
	}
	got, ok := c.Full()
	if !ok || got != first {
		t.Error("Full() did not return the first bundle")
	}
}
