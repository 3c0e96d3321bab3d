// Package mailbox implements the bounded FIFO queues that connect node tasks.
//
// A mailbox has a fixed capacity. Producers hold a *Box and consumers a
// *Queue. Sending into a full mailbox suspends the producer until the
// consumer makes room or the producer's context ends; messages are never
// dropped by the mailbox itself.
package mailbox

import (
	"context"
	"errors"
)

// ErrFull is returned by TrySend when the mailbox has no free slot.
var ErrFull = errors.New("mailbox full")

// Box is the producer handle of a mailbox. It is safe to share between
// goroutines; every holder sends into the same queue.
type Box[T any] struct {
	ch chan T
}

// Queue is the consumer handle of a mailbox. A queue has exactly one
// consuming task.
type Queue[T any] struct {
	ch chan T
}

// New allocates a mailbox of the given capacity and returns its producer
// and consumer ends. A capacity below 1 is raised to 1.
func New[T any](capacity int) (*Box[T], *Queue[T]) {
	if capacity < 1 {
		capacity = 1
	}
	ch := make(chan T, capacity)
	return &Box[T]{ch: ch}, &Queue[T]{ch: ch}
}

// Send enqueues msg, suspending while the mailbox is full.
// It returns ctx.Err() if ctx ends first; the message is then not enqueued.
func (b *Box[T]) Send(ctx context.Context, msg T) error {
	select {
	case b.ch <- msg:
		return nil
	default:
	}
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues msg only if a slot is free.
func (b *Box[T]) TrySend(msg T) error {
	select {
	case b.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Len returns the number of queued messages.
func (b *Box[T]) Len() int { return len(b.ch) }

// Cap returns the mailbox capacity.
func (b *Box[T]) Cap() int { return cap(b.ch) }

// Recv dequeues the oldest message, suspending while the mailbox is empty.
func (q *Queue[T]) Recv(ctx context.Context) (T, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// C exposes the receive side for use in select statements.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Len returns the number of queued messages.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Reply is a one-shot response slot carried inside request messages.
type Reply[T any] chan T

// NewReply allocates a reply slot that never blocks the responder.
func NewReply[T any]() Reply[T] {
	return make(Reply[T], 1)
}

// Wait blocks until a value is delivered or ctx ends.
func (r Reply[T]) Wait(ctx context.Context) (T, error) {
	select {
	case v := <-r:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
