package orchestrator

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/papervault/paperfetch/internal/archive"
	"github.com/papervault/paperfetch/internal/catalog"
	"github.com/papervault/paperfetch/internal/core"
	"github.com/papervault/paperfetch/internal/fetch"
	"github.com/papervault/paperfetch/internal/store"
)

// fakeEnum is a canned catalog collaborator keyed by "group/subgroup".
type fakeEnum struct {
	files map[string][]catalog.RemoteFile
	errs  map[string]error
}

func (f *fakeEnum) EnumerateFiles(_ context.Context, groupID, subgroupID string) ([]catalog.RemoteFile, error) {
	key := groupID + "/" + subgroupID
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.files[key], nil
}

type testEnv struct {
	orch  *Orchestrator
	store *store.Tiered
	asm   *archive.Assembler
}

func newTestEnv(t *testing.T, enum catalog.Enumerator, limit int64) *testEnv {
	t.Helper()
	st := store.NewTiered(store.NewMemory(), nil, store.NewMemory())
	staging := filepath.Join(t.TempDir(), "staging")
	asm := archive.NewAssembler(staging, filepath.Join(t.TempDir(), "archives"))
	orch := New(st,
		enum,
		fetch.NewFetcher(2*time.Second, 1),
		fetch.NewGovernor(limit, 0),
		asm,
		staging,
	)
	t.Cleanup(orch.Stop)
	return &testEnv{orch: orch, store: st, asm: asm}
}

func waitTerminal(t *testing.T, orch *Orchestrator, id string) *core.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := orch.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func waitStatus(t *testing.T, orch *Orchestrator, id string, want core.JobStatus) *core.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := orch.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached status %s", want)
	return nil
}

// originServer serves the request path as the body; paths under
// /missing/ get a 404.
func originServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "content of "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func remoteFile(base, pathPart, group, sub, name string) catalog.RemoteFile {
	return catalog.RemoteFile{
		SourceURL:    base + pathPart,
		GroupName:    group,
		SubgroupName: sub,
		FileName:     name,
	}
}

func TestJobLifecycle_MixedResults(t *testing.T) {
	srv := originServer(t)
	enum := &fakeEnum{files: map[string][]catalog.RemoteFile{
		"g1/sA": {
			remoteFile(srv.URL, "/ok/1", "Physics", "Mechanics", "one.pdf"),
			remoteFile(srv.URL, "/ok/2", "Physics", "Mechanics", "two.pdf"),
			remoteFile(srv.URL, "/ok/3", "Physics", "Mechanics", "three.pdf"),
		},
		"g1/sB": {
			remoteFile(srv.URL, "/missing/1", "Physics", "Optics", "four.pdf"),
			remoteFile(srv.URL, "/missing/2", "Physics", "Optics", "five.pdf"),
		},
	}}
	env := newTestEnv(t, enum, 4)

	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA", "sB"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job := waitTerminal(t, env.orch, id)
	if job.Status != core.StatusCompleted {
		t.Fatalf("status = %q, want %q (message %q)", job.Status, core.StatusCompleted, job.Message)
	}
	if job.TotalCount != 5 || job.CompletedCount != 3 || job.FailedCount != 2 {
		t.Errorf("counts = %d/%d/%d, want total 5 completed 3 failed 2",
			job.TotalCount, job.CompletedCount, job.FailedCount)
	}
	for key, task := range job.Files {
		if strings.Contains(task.SourceURL, "/missing/") {
			if task.Status != core.FileFailed || task.ErrorKind != core.FetchErrNotFound {
				t.Errorf("task %s = %q/%q, want failed/not_found", key, task.Status, task.ErrorKind)
			}
		} else if task.Status != core.FileDone {
			t.Errorf("task %s status = %q, want done", key, task.Status)
		}
	}

	f, _, err := env.orch.OpenArchive(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer f.Close()
	st, _ := f.Stat()
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if len(zr.File) != 3 {
		t.Errorf("archive entries = %d, want 3", len(zr.File))
	}
	for _, zf := range zr.File {
		if !strings.HasPrefix(zf.Name, "Physics/Mechanics/") {
			t.Errorf("unexpected archive entry %q", zf.Name)
		}
	}
}

func TestJob_EnumerationEmpty(t *testing.T) {
	enum := &fakeEnum{errs: map[string]error{
		"g1/sA": errors.New("catalog unreachable"),
	}}
	env := newTestEnv(t, enum, 2)

	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job := waitTerminal(t, env.orch, id)
	if job.Status != core.StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.FailureKind != core.FailEnumerationEmpty {
		t.Errorf("failure kind = %q, want %q", job.FailureKind, core.FailEnumerationEmpty)
	}
	if len(job.Warnings) == 0 {
		t.Error("expected a warning for the failed subgroup")
	}
}

func TestJob_PartialEnumerationProceedsWithWarning(t *testing.T) {
	srv := originServer(t)
	enum := &fakeEnum{
		files: map[string][]catalog.RemoteFile{
			"g1/sA": {remoteFile(srv.URL, "/ok/1", "G", "S", "a.pdf")},
		},
		errs: map[string]error{
			"g1/sB": errors.New("scrape failed"),
		},
	}
	env := newTestEnv(t, enum, 2)

	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA", "sB"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job := waitTerminal(t, env.orch, id)
	if job.Status != core.StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.TotalCount != 1 || job.CompletedCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", job.TotalCount, job.CompletedCount)
	}
	if len(job.Warnings) != 1 {
		t.Errorf("warnings = %v, want exactly one", job.Warnings)
	}
}

func TestJob_AllDownloadsFailed(t *testing.T) {
	srv := originServer(t)
	enum := &fakeEnum{files: map[string][]catalog.RemoteFile{
		"g1/sA": {
			remoteFile(srv.URL, "/missing/1", "G", "S", "a.pdf"),
			remoteFile(srv.URL, "/missing/2", "G", "S", "b.pdf"),
		},
	}}
	env := newTestEnv(t, enum, 2)

	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job := waitTerminal(t, env.orch, id)
	if job.Status != core.StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.FailureKind != core.FailAllDownloadsFailed {
		t.Errorf("failure kind = %q, want %q", job.FailureKind, core.FailAllDownloadsFailed)
	}

	if _, _, err := env.orch.OpenArchive(context.Background(), id); err == nil {
		t.Error("OpenArchive() on a failed job returned nil error")
	}
}

func TestCancelJob_MidFetch(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		io.WriteString(w, "late content")
	}))
	defer srv.Close()
	defer close(release)

	var files []catalog.RemoteFile
	for i := 0; i < 4; i++ {
		files = append(files, remoteFile(srv.URL, fmt.Sprintf("/slow/%d", i), "G", "S", fmt.Sprintf("f%d.pdf", i)))
	}
	enum := &fakeEnum{files: map[string][]catalog.RemoteFile{"g1/sA": files}}
	env := newTestEnv(t, enum, 1)

	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	waitStatus(t, env.orch, id, core.StatusFetching)

	job, err := env.orch.CancelJob(context.Background(), id)
	if err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if job.Status != core.StatusCancelled {
		t.Fatalf("status after cancel = %q, want cancelled", job.Status)
	}

	// Late results from in-flight fetches must be discarded.
	time.Sleep(50 * time.Millisecond)
	job, err = env.orch.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != core.StatusCancelled {
		t.Errorf("status = %q, want cancelled to stick", job.Status)
	}
	if job.CompletedCount != 0 {
		t.Errorf("CompletedCount = %d, want 0 after cancellation", job.CompletedCount)
	}

	// Cancelling again is a no-op.
	again, err := env.orch.CancelJob(context.Background(), id)
	if err != nil {
		t.Fatalf("second CancelJob() error = %v", err)
	}
	if again.Status != core.StatusCancelled {
		t.Errorf("second cancel status = %q, want cancelled", again.Status)
	}

	// A cancelled job never serves an archive.
	_, _, err = env.orch.OpenArchive(context.Background(), id)
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Code != core.ErrCodeNotReady {
		t.Errorf("OpenArchive() error = %v, want not_ready", err)
	}
}

func TestCreateJob_InvalidSelection(t *testing.T) {
	env := newTestEnv(t, &fakeEnum{}, 1)
	_, err := env.orch.CreateJob(context.Background(), nil)
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Code != core.ErrCodeInvalidRequest {
		t.Errorf("CreateJob(nil) error = %v, want invalid_request", err)
	}
}

func TestGetJob_Unknown(t *testing.T) {
	env := newTestEnv(t, &fakeEnum{}, 1)
	_, err := env.orch.GetJob(context.Background(), "nope")
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Code != core.ErrCodeNotFound {
		t.Errorf("GetJob(nope) error = %v, want not_found", err)
	}
}

func TestOpenArchive_ReassemblesMissingFile(t *testing.T) {
	srv := originServer(t)
	enum := &fakeEnum{files: map[string][]catalog.RemoteFile{
		"g1/sA": {
			remoteFile(srv.URL, "/ok/1", "G", "S", "a.pdf"),
			remoteFile(srv.URL, "/ok/2", "G", "S", "b.pdf"),
		},
	}}
	env := newTestEnv(t, enum, 2)

	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	job := waitTerminal(t, env.orch, id)
	if job.Status != core.StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}

	f, _, err := env.orch.OpenArchive(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	first, _ := io.ReadAll(f)
	f.Close()

	if err := env.asm.Remove(job.ArchiveRef); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	f, _, err = env.orch.OpenArchive(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenArchive() after removal error = %v", err)
	}
	second, _ := io.ReadAll(f)
	f.Close()

	if string(first) != string(second) {
		t.Error("re-assembled archive differs from the original bytes")
	}
}

func TestEnumerate_DuplicateNamesDisambiguated(t *testing.T) {
	srv := originServer(t)
	enum := &fakeEnum{files: map[string][]catalog.RemoteFile{
		"g1/sA": {
			remoteFile(srv.URL, "/ok/1", "G", "S", "paper.pdf"),
			remoteFile(srv.URL, "/ok/2", "G", "S", "paper.pdf"),
			remoteFile(srv.URL, "/ok/3", "G", "S", "paper.pdf"),
		},
	}}
	env := newTestEnv(t, enum, 3)

	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	job := waitTerminal(t, env.orch, id)
	if job.Status != core.StatusCompleted || job.CompletedCount != 3 {
		t.Fatalf("status = %q completed = %d, want completed/3", job.Status, job.CompletedCount)
	}

	targets := make(map[string]bool)
	for _, task := range job.Files {
		if targets[task.TargetPath] {
			t.Errorf("duplicate target path %q", task.TargetPath)
		}
		targets[task.TargetPath] = true
	}
	for _, want := range []string{"G/S/paper.pdf", "G/S/paper (2).pdf", "G/S/paper (3).pdf"} {
		if !targets[want] {
			t.Errorf("missing disambiguated target %q (have %v)", want, targets)
		}
	}
}

func TestCreateJob_DuplicateSelectionMergedOnce(t *testing.T) {
	srv := originServer(t)
	enum := &fakeEnum{files: map[string][]catalog.RemoteFile{
		"g1/sA": {remoteFile(srv.URL, "/ok/1", "G", "S", "a.pdf")},
	}}
	env := newTestEnv(t, enum, 2)

	// The same subgroup selected three times across two group entries.
	id, err := env.orch.CreateJob(context.Background(), []core.GroupSelection{
		{GroupID: "g1", SubgroupIDs: []string{"sA", "sA"}},
		{GroupID: "g1", SubgroupIDs: []string{"sA"}},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job := waitTerminal(t, env.orch, id)
	if job.Status != core.StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.TotalCount != 1 || len(job.Files) != 1 {
		t.Errorf("total = %d files = %d, want 1/1", job.TotalCount, len(job.Files))
	}
	if job.ResolvedCount() != job.TotalCount {
		t.Errorf("resolved = %d, want total %d", job.ResolvedCount(), job.TotalCount)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a/b", "a-b"},
		{`a\b`, "a-b"},
		{"", "unnamed"},
		{".", "unnamed"},
		{"..", "unnamed"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
