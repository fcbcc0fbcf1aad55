package render

import "context"

// Limiter bounds the number of decoder calls in flight across sessions.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter allows n concurrent calls; n < 1 is treated as 1.
func NewLimiter(n int) *Limiter {
	return &Limiter{slots: make(chan struct{}, max(n, 1))}
}

// Acquire blocks for a slot or until ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() { <-l.slots }

// InUse reports the number of held slots.
func (l *Limiter) InUse() int { return len(l.slots) }
