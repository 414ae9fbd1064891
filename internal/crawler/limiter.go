package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds the number of simultaneous fetches and optionally spaces
// their start times. Pacing is global, not per host.
type Limiter struct {
	sem      *semaphore.Weighted
	pacer    *rate.Limiter
	size     int
	inFlight atomic.Int64
}

// NewLimiter creates a limiter with size permits. A delay of 0 disables pacing.
func NewLimiter(size int, delay time.Duration) *Limiter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	return &Limiter{
		sem:   semaphore.NewWeighted(int64(size)),
		pacer: rate.NewLimiter(limit, 1),
		size:  size,
	}
}

// Acquire blocks until a permit is available or ctx is done.
// On success the returned release func must be called; calling it more
// than once is harmless.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return func() {}, err
	}

	if err := l.pacer.Wait(ctx); err != nil {
		l.sem.Release(1)
		return func() {}, err
	}

	l.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.inFlight.Add(-1)
			l.sem.Release(1)
		})
	}, nil
}

// InFlight returns the number of permits currently held
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Size returns the permit pool capacity
func (l *Limiter) Size() int {
	return l.size
}
