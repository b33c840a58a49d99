package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/papervault/paperfetch/internal/core"
)

// casAttempts bounds revision-conflict retries before falling back to
// an unconditional last-writer-wins put.
const casAttempts = 4

// Tiered composes the three tiers. All job mutation flows through
// UpdateJob so concurrent completions never overwrite each other's
// counters: within the process a per-job lock serializes updates, and
// against the durable tier every update is revision-conditional.
type Tiered struct {
	fast     Tier
	durable  CASTier // nil when the durable tier is not configured
	fallback Tier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTiered builds the store. durable may be nil; the store then
// degrades silently to the fallback tier for every write.
func NewTiered(fast Tier, durable CASTier, fallback Tier) *Tiered {
	return &Tiered{
		fast:     fast,
		durable:  durable,
		fallback: fallback,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Tiered) jobLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateJob persists a new job record through every reachable tier.
func (s *Tiered) CreateJob(ctx context.Context, job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	l := s.jobLock(job.ID)
	l.Lock()
	defer l.Unlock()
	s.writeThrough(ctx, job.ID, data)
	return nil
}

// writeThrough writes fast-first, then durable (verified), then the
// fallback tier when the durable tier is absent or the round-trip
// failed. Durable-tier failure is absorbed, never surfaced.
func (s *Tiered) writeThrough(ctx context.Context, id string, data []byte) {
	if err := s.fast.Put(ctx, id, data); err != nil {
		slog.Warn("fast tier write failed", "job_id", id, "error", err)
	}
	if s.durable != nil {
		if err := s.durable.Put(ctx, id, data); err == nil {
			return
		} else {
			slog.Warn("durable tier write failed, degrading to fallback", "job_id", id, "error", err)
		}
	}
	if err := s.fallback.Put(ctx, id, data); err != nil {
		slog.Warn("fallback tier write failed", "job_id", id, "error", err)
	}
}

// GetJob returns the freshest available record, checking fast, durable,
// then fallback, stopping at the first hit. Lower-tier hits are
// promoted into the fast tier as a cache fill.
func (s *Tiered) GetJob(ctx context.Context, id string) (*core.Job, error) {
	if data, err := s.fast.Get(ctx, id); err == nil {
		return decodeJob(id, data)
	}
	if s.durable != nil {
		if data, err := s.durable.Get(ctx, id); err == nil {
			s.fast.Put(ctx, id, data)
			return decodeJob(id, data)
		} else if !errors.Is(err, ErrNotFound) {
			slog.Warn("durable tier read failed", "job_id", id, "error", err)
		}
	}
	if data, err := s.fallback.Get(ctx, id); err == nil {
		s.fast.Put(ctx, id, data)
		return decodeJob(id, data)
	} else if !errors.Is(err, ErrNotFound) {
		slog.Warn("fallback tier read failed", "job_id", id, "error", err)
	}
	return nil, ErrNotFound
}

// UpdateJob applies mutate through the store's read-modify-write path
// and returns the record as written. The mutate function expresses
// deltas against the freshest record, so two concurrent updates to the
// same job never silently lose a counter increment. Returning
// ErrSkipUpdate from mutate abandons the write.
func (s *Tiered) UpdateJob(ctx context.Context, id string, mutate func(*core.Job) error) (*core.Job, error) {
	l := s.jobLock(id)
	l.Lock()
	defer l.Unlock()

	if s.durable != nil {
		job, err, durableOK := s.casUpdate(ctx, id, mutate)
		if durableOK {
			return job, err
		}
		slog.Warn("durable tier unavailable during update, degrading to fallback", "job_id", id)
	}
	return s.localUpdate(ctx, id, mutate)
}

// casUpdate performs the update against the durable tier with
// revision-conditional writes. The third return value is false when the
// durable tier is unreachable and the caller should degrade.
func (s *Tiered) casUpdate(ctx context.Context, id string, mutate func(*core.Job) error) (*core.Job, error, bool) {
	for i := 0; i < casAttempts; i++ {
		data, rev, err := s.durable.GetRevision(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// The durable tier may lag a degraded write: seed it from
			// the local tiers.
			job, lerr := s.localGet(ctx, id)
			if lerr != nil {
				return nil, ErrNotFound, true
			}
			job, out, merr := applyMutate(job, mutate)
			if merr != nil || out == nil {
				return job, merr, true
			}
			cerr := s.durable.Create(ctx, id, out)
			if cerr == nil {
				s.fast.Put(ctx, id, out)
				return job, nil, true
			}
			if errors.Is(cerr, ErrConflict) {
				continue // created concurrently, retry against it
			}
			return nil, nil, false
		}
		if err != nil {
			return nil, nil, false
		}

		job, derr := decodeJob(id, data)
		if derr != nil {
			return nil, derr, true
		}
		job, out, merr := applyMutate(job, mutate)
		if merr != nil || out == nil {
			return job, merr, true
		}
		uerr := s.durable.UpdateRevision(ctx, id, out, rev)
		if uerr == nil {
			s.fast.Put(ctx, id, out)
			return job, nil, true
		}
		if errors.Is(uerr, ErrConflict) {
			continue
		}
		return nil, nil, false
	}

	// Conflict retries exhausted (only possible cross-process): last
	// writer wins on the full record.
	data, _, err := s.durable.GetRevision(ctx, id)
	if err != nil {
		return nil, nil, false
	}
	job, derr := decodeJob(id, data)
	if derr != nil {
		return nil, derr, true
	}
	job, out, merr := applyMutate(job, mutate)
	if merr != nil || out == nil {
		return job, merr, true
	}
	if err := s.durable.Put(ctx, id, out); err != nil {
		return nil, nil, false
	}
	s.fast.Put(ctx, id, out)
	return job, nil, true
}

// localUpdate mutates against the local tiers only, for when the
// durable tier is absent or unreachable. The update is not lost: the
// record stays readable from the fallback tier with the same counters.
func (s *Tiered) localUpdate(ctx context.Context, id string, mutate func(*core.Job) error) (*core.Job, error) {
	job, err := s.localGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job, out, merr := applyMutate(job, mutate)
	if merr != nil || out == nil {
		return job, merr
	}
	if err := s.fast.Put(ctx, id, out); err != nil {
		slog.Warn("fast tier write failed", "job_id", id, "error", err)
	}
	if err := s.fallback.Put(ctx, id, out); err != nil {
		slog.Warn("fallback tier write failed", "job_id", id, "error", err)
	}
	return job, nil
}

// localGet reads fast then fallback.
func (s *Tiered) localGet(ctx context.Context, id string) (*core.Job, error) {
	if data, err := s.fast.Get(ctx, id); err == nil {
		return decodeJob(id, data)
	}
	if data, err := s.fallback.Get(ctx, id); err == nil {
		return decodeJob(id, data)
	}
	return nil, ErrNotFound
}

// applyMutate runs mutate and re-encodes. A nil byte slice with nil
// error means the update was skipped.
func applyMutate(job *core.Job, mutate func(*core.Job) error) (*core.Job, []byte, error) {
	if err := mutate(job); err != nil {
		if errors.Is(err, ErrSkipUpdate) {
			return job, nil, nil
		}
		return nil, nil, err
	}
	out, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return job, out, nil
}

// DeleteJob removes the record from every tier. Best-effort and
// idempotent: deleting an already-deleted job is a no-op.
func (s *Tiered) DeleteJob(ctx context.Context, id string) {
	l := s.jobLock(id)
	l.Lock()
	defer l.Unlock()

	if err := s.fast.Delete(ctx, id); err != nil {
		slog.Warn("fast tier delete failed", "job_id", id, "error", err)
	}
	if s.durable != nil {
		if err := s.durable.Delete(ctx, id); err != nil {
			slog.Warn("durable tier delete failed", "job_id", id, "error", err)
		}
	}
	if err := s.fallback.Delete(ctx, id); err != nil {
		slog.Warn("fallback tier delete failed", "job_id", id, "error", err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// Keys returns the union of ids known to any tier.
func (s *Tiered) Keys(ctx context.Context) []string {
	seen := make(map[string]struct{})
	add := func(keys []string, err error, tier string) {
		if err != nil {
			slog.Warn("tier key scan failed", "tier", tier, "error", err)
			return
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	keys, err := s.fast.Keys(ctx)
	add(keys, err, "fast")
	if s.durable != nil {
		keys, err = s.durable.Keys(ctx)
		add(keys, err, "durable")
	}
	keys, err = s.fallback.Keys(ctx)
	add(keys, err, "fallback")

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

func decodeJob(id string, data []byte) (*core.Job, error) {
	var job core.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}
