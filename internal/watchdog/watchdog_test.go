package watchdog

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
)

func testTip() *chain.Tip {
	b := block.NewBlock(&block.Header{Version: block.CurrentVersion, Timestamp: 1}, nil)
	return chain.NewTip(chain.NewRef(b))
}

func TestWatchdog_Check(t *testing.T) {
	tip := testTip()
	var buf bytes.Buffer
	w := &Watchdog{Tip: tip, Interval: time.Minute, Logger: zerolog.New(&buf)}

	tests := []struct {
		name  string
		after time.Duration
		stale bool
	}{
		{"fresh", 10 * time.Second, false},
		{"just under", time.Minute - time.Second, false},
		{"at interval", time.Minute, true},
		{"long idle", time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			at := tip.LastUpdate().Add(tt.after)
			w.now = func() time.Time { return at }
			if got := w.Check(); got != tt.stale {
				t.Errorf("Check() = %v, want %v", got, tt.stale)
			}
			if logged := strings.Contains(buf.String(), "stalled"); logged != tt.stale {
				t.Errorf("warning logged = %v, want %v", logged, tt.stale)
			}
		})
	}
}

func TestWatchdog_TipUpdateResets(t *testing.T) {
	tip := testTip()
	w := &Watchdog{Tip: tip, Interval: 50 * time.Millisecond, Logger: zerolog.Nop()}

	time.Sleep(60 * time.Millisecond)
	if !w.Check() {
		t.Fatal("idle tip should be stale")
	}
	tip.Update(tip.Get())
	if w.Check() {
		t.Error("a tip update should reset the watchdog")
	}
}

func TestCheckLastBlockTime_Warns(t *testing.T) {
	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		CheckLastBlockTime(ctx, testTip(), 20*time.Millisecond, zerolog.New(&buf))
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !strings.Contains(buf.String(), "stalled") {
		select {
		case <-deadline:
			t.Fatal("watchdog never warned")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop on cancel")
	}
}
