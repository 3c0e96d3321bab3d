package mailbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMailbox_CapacityThenSuspend(t *testing.T) {
	const capacity = 4
	box, queue := New[int](capacity)

	ctx := context.Background()
	for i := 0; i < capacity; i++ {
		done := make(chan error, 1)
		go func(v int) { done <- box.Send(ctx, v) }(i)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Send(%d): %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("Send(%d) suspended below capacity", i)
		}
	}

	sent := make(chan error, 1)
	go func() { sent <- box.Send(ctx, 99) }()

	select {
	case <-sent:
		t.Fatal("send beyond capacity should suspend")
	case <-time.After(50 * time.Millisecond):
	}

	if v, err := queue.Recv(ctx); err != nil || v != 0 {
		t.Fatalf("Recv() = %d, %v; want 0, nil", v, err)
	}

	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("suspended Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("suspended send not released after Recv")
	}
	if box.Len() != capacity {
		t.Errorf("Len() = %d, want %d", box.Len(), capacity)
	}
}

func TestMailbox_FIFO(t *testing.T) {
	box, queue := New[int](8)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if err := box.Send(ctx, i); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 8; i++ {
		v, err := queue.Recv(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v != i {
			t.Errorf("Recv() = %d, want %d", v, i)
		}
	}
}

func TestMailbox_SendCancelled(t *testing.T) {
	box, _ := New[string](1)
	if err := box.TrySend("a"); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if err := box.TrySend("b"); !errors.Is(err, ErrFull) {
		t.Errorf("TrySend on full = %v, want ErrFull", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := box.Send(ctx, "c"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send on full with deadline = %v, want DeadlineExceeded", err)
	}
	if box.Len() != 1 {
		t.Errorf("cancelled send must not enqueue, Len() = %d", box.Len())
	}
}

func TestMailbox_ManyProducers(t *testing.T) {
	box, queue := New[int](2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if err := box.Send(ctx, i); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	got := 0
	for got < 100 {
		if _, err := queue.Recv(ctx); err != nil {
			t.Fatal(err)
		}
		got++
	}
	wg.Wait()
	if queue.Len() != 0 {
		t.Errorf("queue should be drained, Len() = %d", queue.Len())
	}
}

func TestMailbox_MinimumCapacity(t *testing.T) {
	box, _ := New[int](0)
	if box.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", box.Cap())
	}
}

func TestReply_Wait(t *testing.T) {
	r := NewReply[int]()
	r <- 7
	v, err := r.Wait(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("Wait() = %d, %v", v, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewReply[int]().Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v", err)
	}
}
