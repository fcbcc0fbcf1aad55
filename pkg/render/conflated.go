package render

import (
	"context"
	"sync"
	"time"
)

// Conflated is a capacity-1 queue where a new value replaces any value not
// yet received. Offer never blocks.
type Conflated[T any] struct {
	mu sync.Mutex
	ch chan T
}

func NewConflated[T any]() *Conflated[T] {
	return &Conflated[T]{ch: make(chan T, 1)}
}

// Offer stores v, dropping a pending value if there is one.
func (q *Conflated[T]) Offer(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.ch:
	default:
	}
	q.ch <- v
}

// Receive blocks for the next value.
func (q *Conflated[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive returns the pending value, if any.
func (q *Conflated[T]) TryReceive() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// ReceiveWithin waits at most d for a value. It reports false on timeout or
// when ctx is done.
func (q *Conflated[T]) ReceiveWithin(ctx context.Context, d time.Duration) (T, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-t.C:
	case <-ctx.Done():
	}
	var zero T
	return zero, false
}
