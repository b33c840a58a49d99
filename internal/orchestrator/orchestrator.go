// Package orchestrator owns the job lifecycle: it expands a request
// into a file list via the catalog collaborator, drives fetches through
// the governor, records progress in the tiered store, and triggers
// archive assembly on completion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/papervault/paperfetch/internal/archive"
	"github.com/papervault/paperfetch/internal/catalog"
	"github.com/papervault/paperfetch/internal/core"
	"github.com/papervault/paperfetch/internal/fetch"
	"github.com/papervault/paperfetch/internal/metrics"
	"github.com/papervault/paperfetch/internal/store"
)

// Orchestrator is the sole writer of job and file-task state.
type Orchestrator struct {
	store       *store.Tiered
	enum        catalog.Enumerator
	fetcher     *fetch.Fetcher
	governor    *fetch.Governor
	assembler   *archive.Assembler
	stagingRoot string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires the orchestrator's collaborators together.
func New(st *store.Tiered, enum catalog.Enumerator, fetcher *fetch.Fetcher, governor *fetch.Governor, assembler *archive.Assembler, stagingRoot string) *Orchestrator {
	return &Orchestrator{
		store:       st,
		enum:        enum,
		fetcher:     fetcher,
		governor:    governor,
		assembler:   assembler,
		stagingRoot: stagingRoot,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// CreateJob validates the selection, persists a pending job, and kicks
// off enumeration and fetching in the background. It returns the job id
// without blocking on any network I/O; callers poll GetJob for
// progress.
func (o *Orchestrator) CreateJob(ctx context.Context, groups []core.GroupSelection) (string, error) {
	if verr := core.ValidateSelection(groups); verr != nil {
		return "", verr
	}
	job := core.NewJob(core.NewUUIDv7(), groups)
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	metrics.JobsCreated.Inc()
	slog.Info("job created", "job_id", job.ID, "groups", len(groups))
	go o.run(runCtx, job.ID, groups)
	return job.ID, nil
}

// GetJob returns a read-only snapshot of the job's progress.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*core.Job, error) {
	job, err := o.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewNotFoundError("job", id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CancelJob marks the job cancelled and signals outstanding fetches to
// abandon. Idempotent: cancelling a terminal job is a no-op. In-flight
// fetches may still finish, but their results are discarded.
func (o *Orchestrator) CancelJob(ctx context.Context, id string) (*core.Job, error) {
	job, err := o.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	o.mu.Lock()
	cancel := o.cancels[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	job, err = o.store.UpdateJob(ctx, id, func(j *core.Job) error {
		if j.Status.IsTerminal() {
			return store.ErrSkipUpdate
		}
		j.Status = core.StatusCancelled
		j.Message = "job cancelled"
		j.Touch()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.JobsCancelled.Inc()
	slog.Info("job cancelled", "job_id", id)
	go o.cleanupStaging(id)
	return job, nil
}

// OpenArchive streams a completed job's archive. Missing jobs report
// not_found; jobs in any other state report not_ready. If the archive
// file was lost to a restart it is re-assembled from staging; assembly
// is deterministic, so the client sees identical bytes.
func (o *Orchestrator) OpenArchive(ctx context.Context, id string) (*os.File, *core.Job, error) {
	job, err := o.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != core.StatusCompleted {
		return nil, nil, core.NewNotReadyError(id, job.Status)
	}

	f, err := o.assembler.Open(job.ArchiveRef)
	if os.IsNotExist(err) {
		if _, aerr := o.assembler.Assemble(job); aerr != nil {
			return nil, nil, core.NewInternalError("archive unavailable: " + aerr.Error())
		}
		f, err = o.assembler.Open(job.ArchiveRef)
	}
	if err != nil {
		return nil, nil, core.NewInternalError("open archive: " + err.Error())
	}
	return f, job, nil
}

// Stop abandons all in-flight work without changing job state. Jobs
// interrupted this way stay readable and are eventually reaped.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.cancels {
		cancel()
	}
}

type enumeratedTask struct {
	key  string
	task core.FileTask
}

// run executes the job lifecycle after Create returns.
func (o *Orchestrator) run(ctx context.Context, jobID string, groups []core.GroupSelection) {
	defer o.dropCancel(jobID)

	tasks, warnings := o.enumerate(ctx, groups)

	job, err := o.store.UpdateJob(context.Background(), jobID, func(j *core.Job) error {
		if !j.Status.CanTransition(core.StatusFetching) {
			return store.ErrSkipUpdate
		}
		for _, e := range tasks {
			t := e.task
			j.Files[e.key] = &t
		}
		j.TotalCount = len(tasks)
		j.Warnings = warnings
		if len(tasks) == 0 {
			return nil // failure recorded below
		}
		j.Status = core.StatusFetching
		j.Message = fmt.Sprintf("found %d files, starting downloads", len(tasks))
		j.Touch()
		return nil
	})
	if err != nil {
		slog.Error("enumeration bookkeeping failed", "job_id", jobID, "error", err)
		return
	}
	if job.Status != core.StatusFetching {
		if job.Status == core.StatusPending {
			o.fail(jobID, core.FailEnumerationEmpty, "no files could be enumerated")
		}
		return // cancelled during enumeration
	}

	o.drive(ctx, jobID, tasks)
	o.finalize(jobID)
}

// enumerate asks the collaborator for each subgroup's files. A failing
// subgroup is omitted with a warning, not a fatal error; the job
// proceeds with whatever was enumerated successfully. Target paths are
// disambiguated in stable group, subgroup, file-index order so archive
// entries never collide.
func (o *Orchestrator) enumerate(ctx context.Context, groups []core.GroupSelection) ([]enumeratedTask, []string) {
	var tasks []enumeratedTask
	var warnings []string
	used := make(map[string]bool)
	seen := make(map[string]bool)

	for _, g := range groups {
		for _, sub := range g.SubgroupIDs {
			// A (group, subgroup) pair selected twice contributes once.
			pair := g.GroupID + ":" + sub
			if seen[pair] {
				continue
			}
			seen[pair] = true
			files, err := o.enum.EnumerateFiles(ctx, g.GroupID, sub)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("enumeration failed for %s/%s: %v", g.GroupID, sub, err))
				slog.Warn("subgroup enumeration failed", "group", g.GroupID, "subgroup", sub, "error", err)
				continue
			}
			for i, rf := range files {
				target := uniqueTarget(used, path.Join(
					sanitizeName(rf.GroupName),
					sanitizeName(rf.SubgroupName),
					sanitizeName(rf.FileName),
				))
				used[target] = true
				tasks = append(tasks, enumeratedTask{
					key: fmt.Sprintf("%s:%s:%d", g.GroupID, sub, i),
					task: core.FileTask{
						SourceURL:  rf.SourceURL,
						TargetPath: target,
						Status:     core.FilePending,
					},
				})
			}
		}
	}
	return tasks, warnings
}

// drive submits every task to the governor and waits for all admitted
// fetches to resolve. Once the job context is cancelled no further
// tasks are admitted.
func (o *Orchestrator) drive(ctx context.Context, jobID string, tasks []enumeratedTask) {
	var wg sync.WaitGroup
	for _, e := range tasks {
		if err := o.governor.Acquire(ctx); err != nil {
			break // cancelled while waiting for admission
		}
		wg.Add(1)
		go func(e enumeratedTask) {
			defer wg.Done()
			defer o.governor.Release()
			o.fetchOne(ctx, jobID, e)
		}(e)
	}
	wg.Wait()
}

// fetchOne downloads a single file and applies the result to the job
// record as one atomic update. Results arriving after cancellation are
// discarded.
func (o *Orchestrator) fetchOne(ctx context.Context, jobID string, e enumeratedTask) {
	job, err := o.store.UpdateJob(context.Background(), jobID, func(j *core.Job) error {
		t, ok := j.Files[e.key]
		if j.Status != core.StatusFetching || !ok || t.Status != core.FilePending {
			return store.ErrSkipUpdate
		}
		t.Status = core.FileDownloading
		j.Touch()
		return nil
	})
	if err != nil {
		slog.Error("marking file downloading failed", "job_id", jobID, "file", e.key, "error", err)
		return
	}
	if t := job.Files[e.key]; t == nil || t.Status != core.FileDownloading {
		return // job cancelled or task already resolved
	}

	metrics.FetchInFlight.Inc()
	dest := filepath.Join(o.stagingRoot, jobID, filepath.FromSlash(e.task.TargetPath))
	res, ferr := o.fetcher.Fetch(ctx, e.task.SourceURL, dest)
	metrics.FetchInFlight.Dec()

	_, err = o.store.UpdateJob(context.Background(), jobID, func(j *core.Job) error {
		if j.Status != core.StatusFetching {
			return store.ErrSkipUpdate // cancelled mid-flight: discard
		}
		if ferr != nil {
			kind := core.FetchErrNetwork
			var fe *fetch.Error
			if errors.As(ferr, &fe) {
				kind = fe.Kind
			}
			j.ApplyFileResult(e.key, core.FileFailed, kind, res.Attempts, 0)
			metrics.FilesFailed.WithLabelValues(string(kind)).Inc()
		} else {
			j.ApplyFileResult(e.key, core.FileDone, "", res.Attempts, res.Bytes)
			metrics.FilesFetched.Inc()
		}
		j.Message = fmt.Sprintf("resolved %d/%d files", j.ResolvedCount(), j.TotalCount)
		return nil
	})
	if err != nil {
		slog.Error("recording fetch result failed", "job_id", jobID, "file", e.key, "error", err)
	}
	if ferr != nil {
		slog.Warn("file download failed", "job_id", jobID, "url", e.task.SourceURL, "error", ferr)
	}
}

// finalize runs once every admitted task is terminal: assemble if at
// least one file succeeded, otherwise fail the job.
func (o *Orchestrator) finalize(jobID string) {
	ctx := context.Background()
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil || job.Status != core.StatusFetching {
		return // cancelled or reaped while fetching
	}
	if job.CompletedCount == 0 {
		o.fail(jobID, core.FailAllDownloadsFailed, "every file download failed")
		return
	}

	job, err = o.store.UpdateJob(ctx, jobID, func(j *core.Job) error {
		if !j.Status.CanTransition(core.StatusAssembling) {
			return store.ErrSkipUpdate
		}
		j.Status = core.StatusAssembling
		j.Message = "assembling archive"
		j.Touch()
		return nil
	})
	if err != nil || job.Status != core.StatusAssembling {
		return
	}

	ref, aerr := o.assembler.Assemble(job)
	if aerr != nil {
		slog.Error("archive assembly failed", "job_id", jobID, "error", aerr)
		o.fail(jobID, core.FailAssembly, "archive assembly failed")
		return
	}

	job, err = o.store.UpdateJob(ctx, jobID, func(j *core.Job) error {
		if !j.Status.CanTransition(core.StatusCompleted) {
			return store.ErrSkipUpdate
		}
		j.Status = core.StatusCompleted
		j.ArchiveRef = ref
		j.Message = fmt.Sprintf("complete: %d downloaded, %d failed", j.CompletedCount, j.FailedCount)
		j.Touch()
		return nil
	})
	if err == nil && job.Status == core.StatusCompleted {
		metrics.JobsCompleted.Inc()
		slog.Info("job completed", "job_id", jobID, "downloaded", job.CompletedCount, "failed", job.FailedCount)
	}
}

// fail moves the job to the failed state with the given kind.
func (o *Orchestrator) fail(jobID string, kind core.FailureKind, message string) {
	_, err := o.store.UpdateJob(context.Background(), jobID, func(j *core.Job) error {
		if !j.Status.CanTransition(core.StatusFailed) {
			return store.ErrSkipUpdate
		}
		j.Status = core.StatusFailed
		j.FailureKind = kind
		j.Message = message
		j.Touch()
		return nil
	})
	if err != nil {
		slog.Error("marking job failed", "job_id", jobID, "kind", string(kind), "error", err)
		return
	}
	metrics.JobsFailed.Inc()
	slog.Warn("job failed", "job_id", jobID, "kind", string(kind))
}

func (o *Orchestrator) dropCancel(jobID string) {
	o.mu.Lock()
	if cancel, ok := o.cancels[jobID]; ok {
		cancel()
		delete(o.cancels, jobID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) cleanupStaging(jobID string) {
	dir := filepath.Join(o.stagingRoot, jobID)
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("staging cleanup failed", "job_id", jobID, "error", err)
	}
}

// sanitizeName makes a display name safe for use as one archive path
// segment.
func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '/', '\\':
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	s := string(out)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}

// uniqueTarget disambiguates duplicate archive paths with a numeric
// suffix before the extension: "paper.pdf" → "paper (2).pdf".
func uniqueTarget(used map[string]bool, target string) string {
	if !used[target] {
		return target
	}
	ext := path.Ext(target)
	base := target[:len(target)-len(ext)]
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if !used[candidate] {
			return candidate
		}
	}
}
