package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter enforces two independent constraints on outgoing requests:
//
//  1. at most maxConcurrent requests are in flight at once, and
//  2. at least delay elapses between consecutive dispatches.
//
// Acquire suspends the caller until both hold, stamps the dispatch time,
// and hands back a release function that must run on every exit path.
//
// Note: limits are per Limiter instance. Two tasks crawling the same
// upstream each own their own Limiter and therefore do not share a request
// budget; callers that need a shared budget must share the instance.
type Limiter struct {
	// pace spaces dispatches at least delay apart.
	pace *rate.Limiter

	// slots bounds in-flight requests.
	slots *semaphore.Weighted
}

// New creates a Limiter with the given minimum delay between dispatches and
// concurrency ceiling. A delay of 0 disables pacing; maxConcurrent values
// below 1 are treated as 1.
func New(delay time.Duration, maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	pacing := rate.Inf
	if delay > 0 {
		pacing = rate.Every(delay)
	}

	return &Limiter{
		// Burst of 1 so each dispatch waits the full interval after the
		// previous one.
		pace:  rate.NewLimiter(pacing, 1),
		slots: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Acquire blocks until a concurrency slot is free and the pacing interval
// has elapsed, or ctx is cancelled. On success it returns a release
// function; releasing more than once is a no-op so the function is safe to
// defer alongside explicit release on error paths.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if err := l.pace.Wait(ctx); err != nil {
		l.slots.Release(1)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { l.slots.Release(1) })
	}
	return release, nil
}
