// Package scheduler runs the background reaper that reclaims expired
// jobs and their backing files.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/papervault/paperfetch/internal/archive"
	"github.com/papervault/paperfetch/internal/metrics"
	"github.com/papervault/paperfetch/internal/store"
)

// Reaper deletes jobs whose updated_at exceeds the time-to-live: the
// record from every tier, any staged files, and the assembled archive.
// Deletion is best-effort and idempotent.
type Reaper struct {
	store       *store.Tiered
	assembler   *archive.Assembler
	stagingRoot string
	ttl         time.Duration

	cron *cron.Cron
}

// New creates a reaper sweeping on the given interval.
func New(st *store.Tiered, assembler *archive.Assembler, stagingRoot string, ttl, interval time.Duration) *Reaper {
	r := &Reaper{
		store:       st,
		assembler:   assembler,
		stagingRoot: stagingRoot,
		ttl:         ttl,
		cron:        cron.New(),
	}
	r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		r.Sweep(context.Background())
	})
	return r
}

// Start begins the periodic sweep.
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts the periodic sweep, waiting for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep deletes every expired job and returns how many were reaped.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-r.ttl)
	reaped := 0
	for _, id := range r.store.Keys(ctx) {
		job, err := r.store.GetJob(ctx, id)
		if err != nil {
			continue // already deleted by a concurrent sweep
		}
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		r.store.DeleteJob(ctx, id)
		if err := os.RemoveAll(filepath.Join(r.stagingRoot, id)); err != nil {
			slog.Warn("reaper staging cleanup failed", "job_id", id, "error", err)
		}
		if job.ArchiveRef != "" {
			if err := r.assembler.Remove(job.ArchiveRef); err != nil {
				slog.Warn("reaper archive cleanup failed", "job_id", id, "error", err)
			}
		}
		metrics.JobsReaped.Inc()
		reaped++
		slog.Info("job reaped", "job_id", id, "status", string(job.Status), "age", time.Since(job.UpdatedAt).Round(time.Second))
	}
	return reaped
}
