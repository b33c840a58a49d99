// Package api implements the thin HTTP layer over the job
// orchestrator.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/papervault/paperfetch/internal/core"
	"github.com/papervault/paperfetch/internal/orchestrator"
	"github.com/papervault/paperfetch/internal/scheduler"
)

// Handler carries the dependencies of the job endpoints.
type Handler struct {
	jobs   *orchestrator.Orchestrator
	reaper *scheduler.Reaper
}

// NewHandler creates the endpoint handler. reaper may be nil in tests.
func NewHandler(jobs *orchestrator.Orchestrator, reaper *scheduler.Reaper) *Handler {
	return &Handler{jobs: jobs, reaper: reaper}
}

type createRequest struct {
	Groups []core.GroupSelection `json:"groups"`
}

type createResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CreateJob starts a bulk-download job and returns its id immediately;
// enumeration and fetching happen in the background.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("invalid JSON body", nil))
		return
	}

	// Opportunistic reap of expired jobs before taking on new work.
	if h.reaper != nil {
		go h.reaper.Sweep(context.Background())
	}

	id, err := h.jobs.CreateJob(r.Context(), req.Groups)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, createResponse{JobID: id, Status: string(core.StatusPending)})
}

type fileEntry struct {
	TargetPath   string `json:"target_path"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Bytes        int64  `json:"bytes,omitempty"`
}

type jobResponse struct {
	ID             string      `json:"id"`
	Status         string      `json:"status"`
	TotalCount     int         `json:"total_count"`
	CompletedCount int         `json:"completed_count"`
	FailedCount    int         `json:"failed_count"`
	Percentage     float64     `json:"percentage"`
	Message        string      `json:"message,omitempty"`
	FailureKind    string      `json:"failure_kind,omitempty"`
	Warnings       []string    `json:"warnings,omitempty"`
	Files          []fileEntry `json:"files,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func toJobResponse(job *core.Job) jobResponse {
	resp := jobResponse{
		ID:             job.ID,
		Status:         string(job.Status),
		TotalCount:     job.TotalCount,
		CompletedCount: job.CompletedCount,
		FailedCount:    job.FailedCount,
		Percentage:     job.Percentage(),
		Message:        job.Message,
		FailureKind:    string(job.FailureKind),
		Warnings:       job.Warnings,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	for _, t := range job.Files {
		resp.Files = append(resp.Files, fileEntry{
			TargetPath:   t.TargetPath,
			Status:       string(t.Status),
			AttemptCount: t.AttemptCount,
			ErrorKind:    string(t.ErrorKind),
			Bytes:        t.Bytes,
		})
	}
	sort.Slice(resp.Files, func(i, j int) bool {
		return resp.Files[i].TargetPath < resp.Files[j].TargetPath
	})
	return resp
}

// GetJob returns a progress snapshot of the job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toJobResponse(job))
}

// GetArchive streams the assembled archive of a completed job.
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	f, job, err := h.jobs.OpenArchive(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ArchiveRef+`"`)
	http.ServeContent(w, r, job.ArchiveRef, job.UpdatedAt, f)
}

// CancelJob cancels a job; cancelling a terminal job is a no-op.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.CancelJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, createResponse{JobID: job.ID, Status: string(job.Status)})
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
