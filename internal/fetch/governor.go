package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Governor bounds how many fetches run at once and enforces a minimum
// spacing between admissions. The bound and the politeness clock are
// process-wide: they protect the origin server from aggregate load
// across every active job, not just one.
type Governor struct {
	sem     *semaphore.Weighted
	spacing time.Duration

	mu        sync.Mutex
	nextAdmit time.Time
}

// NewGovernor creates a gate admitting at most limit concurrent fetches
// with at least spacing between consecutive admissions. A spacing of
// zero disables the politeness delay.
func NewGovernor(limit int64, spacing time.Duration) *Governor {
	if limit < 1 {
		limit = 1
	}
	return &Governor{
		sem:     semaphore.NewWeighted(limit),
		spacing: spacing,
	}
}

// Acquire blocks until a slot is free and the politeness window has
// passed, or ctx is cancelled. Callers must Release exactly once after
// a successful Acquire.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if g.spacing <= 0 {
		return nil
	}

	g.mu.Lock()
	now := time.Now()
	admitAt := now
	if g.nextAdmit.After(now) {
		admitAt = g.nextAdmit
	}
	g.nextAdmit = admitAt.Add(g.spacing)
	g.mu.Unlock()

	if wait := time.Until(admitAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			g.sem.Release(1)
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Release frees a slot acquired with Acquire.
func (g *Governor) Release() {
	g.sem.Release(1)
}
