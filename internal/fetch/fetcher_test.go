package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papervault/paperfetch/internal/core"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f := NewFetcher(2*time.Second, 3)
	f.retryBase = time.Millisecond
	return f
}

func TestFetch_Success(t *testing.T) {
	body := []byte("hello archive content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q, want %q", got, userAgent)
		}
		w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a", "b.pdf")
	res, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Bytes != int64(len(body)) {
		t.Errorf("Bytes = %d, want %d", res.Bytes, len(body))
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("destination content = %q, want %q", got, body)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("temporary .part file left behind after success")
	}
}

func TestFetch_NotFoundIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "x.pdf")
	res, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, dest)
	if err == nil {
		t.Fatal("Fetch() error = nil, want not_found")
	}
	ferr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if ferr.Kind != core.FetchErrNotFound {
		t.Errorf("Kind = %q, want %q", ferr.Kind, core.FetchErrNotFound)
	}
	if res.Attempts != 1 || hits.Load() != 1 {
		t.Errorf("attempts = %d (server hits %d), want exactly 1", res.Attempts, hits.Load())
	}
}

func TestFetch_ServerErrorRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "x.pdf")
	res, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestFetch_ServerErrorExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "x.pdf")
	res, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, dest)
	if err == nil {
		t.Fatal("Fetch() error = nil, want network failure")
	}
	if kind := err.(*Error).Kind; kind != core.FetchErrNetwork {
		t.Errorf("Kind = %q, want %q", kind, core.FetchErrNetwork)
	}
	if res.Attempts != 3 || hits.Load() != 3 {
		t.Errorf("attempts = %d (server hits %d), want 3", res.Attempts, hits.Load())
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination file exists after a failed fetch")
	}
}

func TestFetch_OtherClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	res, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"))
	if err == nil {
		t.Fatal("Fetch() error = nil, want network failure")
	}
	if kind := err.(*Error).Kind; kind != core.FetchErrNetwork {
		t.Errorf("Kind = %q, want %q", kind, core.FetchErrNetwork)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestFetch_MalformedURL(t *testing.T) {
	tests := []string{"", "not a url", "ftp://example.com/x", "http://"}
	f := newTestFetcher(t)
	for _, raw := range tests {
		res, err := f.Fetch(context.Background(), raw, filepath.Join(t.TempDir(), "x"))
		if err == nil {
			t.Errorf("Fetch(%q) error = nil, want network failure", raw)
			continue
		}
		if kind := err.(*Error).Kind; kind != core.FetchErrNetwork {
			t.Errorf("Fetch(%q) kind = %q, want %q", raw, kind, core.FetchErrNetwork)
		}
		if res.Attempts != 0 {
			t.Errorf("Fetch(%q) attempts = %d, want 0", raw, res.Attempts)
		}
	}
}

func TestFetch_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewFetcher(50*time.Millisecond, 1)
	f.retryBase = time.Millisecond
	_, err := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"))
	if err == nil {
		t.Fatal("Fetch() error = nil, want timeout")
	}
	if kind := err.(*Error).Kind; kind != core.FetchErrTimeout {
		t.Errorf("Kind = %q, want %q", kind, core.FetchErrTimeout)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(time.Second, 3)
	_, err := f.Fetch(ctx, srv.URL, filepath.Join(t.TempDir(), "x"))
	if err == nil {
		t.Fatal("Fetch() error = nil, want failure after cancellation")
	}
}
