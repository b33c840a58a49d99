package core

import (
	"time"
)

// JobStatus is the lifecycle state of a bulk-download job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusFetching   JobStatus = "fetching"
	StatusAssembling JobStatus = "assembling"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// statusRank orders the forward path of the state machine. Terminal
// states share the highest rank so no terminal state can replace another.
var statusRank = map[JobStatus]int{
	StatusPending:    0,
	StatusFetching:   1,
	StatusAssembling: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusCancelled:  3,
}

// CanTransition reports whether moving from s to next is a legal,
// monotonic transition. Cancellation is allowed from any non-terminal
// state; backward transitions never are.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// FileStatus is the lifecycle state of a single file download.
type FileStatus string

const (
	FilePending     FileStatus = "pending"
	FileDownloading FileStatus = "downloading"
	FileDone        FileStatus = "done"
	FileFailed      FileStatus = "failed"
)

// FetchErrorKind classifies a terminal fetch failure.
type FetchErrorKind string

const (
	FetchErrNetwork    FetchErrorKind = "network"
	FetchErrTimeout    FetchErrorKind = "timeout"
	FetchErrNotFound   FetchErrorKind = "not_found"
	FetchErrFilesystem FetchErrorKind = "filesystem"
)

// FailureKind explains why a job reached StatusFailed.
type FailureKind string

const (
	FailEnumerationEmpty   FailureKind = "enumeration_empty"
	FailAllDownloadsFailed FailureKind = "all_downloads_failed"
	FailAssembly           FailureKind = "assembly_failed"
)

// GroupSelection is one requested group and its selected subgroups.
type GroupSelection struct {
	GroupID     string   `json:"group_id"`
	SubgroupIDs []string `json:"subgroup_ids"`
}

// FileTask is one file's unit of work within a job. Tasks are owned
// exclusively by their job and never shared.
type FileTask struct {
	SourceURL    string         `json:"source_url"`
	TargetPath   string         `json:"target_path"`
	Status       FileStatus     `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	ErrorKind    FetchErrorKind `json:"error_kind,omitempty"`
	Bytes        int64          `json:"bytes,omitempty"`
}

// Job is one bulk-download request and its mutable progress state.
// All mutation goes through the tiered store's read-modify-write path;
// counters are kept consistent with Files on every update.
type Job struct {
	ID              string               `json:"id"`
	Status          JobStatus            `json:"status"`
	RequestedGroups []GroupSelection     `json:"requested_groups"`
	Files           map[string]*FileTask `json:"files"`
	TotalCount      int                  `json:"total_count"`
	CompletedCount  int                  `json:"completed_count"`
	FailedCount     int                  `json:"failed_count"`
	FailureKind     FailureKind          `json:"failure_kind,omitempty"`
	ArchiveRef      string               `json:"archive_ref,omitempty"`
	Warnings        []string             `json:"warnings,omitempty"`
	Message         string               `json:"message,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// NewJob returns a pending job with the given id and selection.
func NewJob(id string, groups []GroupSelection) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:              id,
		Status:          StatusPending,
		RequestedGroups: groups,
		Files:           make(map[string]*FileTask),
		Message:         "job created",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Touch bumps UpdatedAt; TTL expiry is driven by this field.
func (j *Job) Touch() {
	j.UpdatedAt = time.Now().UTC()
}

// ResolvedCount is the number of file tasks in a terminal state.
func (j *Job) ResolvedCount() int {
	return j.CompletedCount + j.FailedCount
}

// Percentage returns rough overall progress in [0, 100].
func (j *Job) Percentage() float64 {
	switch {
	case j.Status == StatusCompleted:
		return 100
	case j.TotalCount == 0:
		return 0
	default:
		return float64(j.ResolvedCount()) / float64(j.TotalCount) * 100
	}
}

// ApplyFileResult marks one task terminal and increments exactly one
// counter. It is a no-op if the task is unknown or already terminal, so
// replayed completions cannot double-count.
func (j *Job) ApplyFileResult(key string, status FileStatus, kind FetchErrorKind, attempts int, bytes int64) {
	task, ok := j.Files[key]
	if !ok || task.Status == FileDone || task.Status == FileFailed {
		return
	}
	task.Status = status
	task.AttemptCount = attempts
	switch status {
	case FileDone:
		task.Bytes = bytes
		task.ErrorKind = ""
		j.CompletedCount++
	case FileFailed:
		task.ErrorKind = kind
		j.FailedCount++
	}
	j.Touch()
}

// Clone returns a deep copy safe to hand to callers.
func (j *Job) Clone() *Job {
	cp := *j
	if j.RequestedGroups != nil {
		cp.RequestedGroups = make([]GroupSelection, len(j.RequestedGroups))
		for i, g := range j.RequestedGroups {
			cp.RequestedGroups[i] = GroupSelection{
				GroupID:     g.GroupID,
				SubgroupIDs: append([]string(nil), g.SubgroupIDs...),
			}
		}
	}
	if j.Files != nil {
		cp.Files = make(map[string]*FileTask, len(j.Files))
		for k, t := range j.Files {
			tc := *t
			cp.Files[k] = &tc
		}
	}
	cp.Warnings = append([]string(nil), j.Warnings...)
	return &cp
}
