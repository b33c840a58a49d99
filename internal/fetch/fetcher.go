package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/papervault/paperfetch/internal/core"
)

const userAgent = "paperfetch"

// Error is a terminal fetch failure tagged with its kind.
type Error struct {
	Kind core.FetchErrorKind
	Err  error

	// terminal marks client-class network failures that must not be
	// retried even though their kind is "network".
	terminal bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result reports a finished fetch attempt sequence.
type Result struct {
	Bytes    int64
	Attempts int
}

// Fetcher downloads a single remote file to staging storage. Transient
// conditions (connection failure, timeout, 5xx) are retried with
// exponential backoff and jitter; client-class failures are terminal
// after one attempt. On success exactly one file becomes visible at the
// destination path: content is streamed to a temporary name and renamed
// into place, so a half-written file is never mistaken for a completed
// one.
type Fetcher struct {
	client         *http.Client
	attemptTimeout time.Duration
	maxAttempts    int
	retryBase      time.Duration
}

// NewFetcher creates a Fetcher with a per-attempt timeout and a maximum
// attempt count (minimum 1).
func NewFetcher(attemptTimeout time.Duration, maxAttempts int) *Fetcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Fetcher{
		client:         &http.Client{},
		attemptTimeout: attemptTimeout,
		maxAttempts:    maxAttempts,
		retryBase:      time.Second,
	}
}

// Fetch retrieves rawURL into destPath. The returned error, if any, is
// always an *Error; Result.Attempts counts network attempts actually
// made (zero for a malformed URL).
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destPath string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return Result{}, &Error{Kind: core.FetchErrNetwork, Err: fmt.Errorf("malformed url %q", rawURL)}
	}

	var res Result
	var lastErr *Error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		res.Attempts = attempt
		n, ferr := f.attempt(ctx, rawURL, destPath)
		if ferr == nil {
			res.Bytes = n
			return res, nil
		}
		lastErr = ferr
		if !retryable(ferr) || attempt == f.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return res, &Error{Kind: core.FetchErrTimeout, Err: ctx.Err()}
		case <-time.After(core.RetryDelay(f.retryBase, attempt)):
		}
	}
	return res, lastErr
}

// retryable reports whether the failure is a transient condition.
func retryable(e *Error) bool {
	return e.Kind == core.FetchErrNetwork && !e.terminal ||
		e.Kind == core.FetchErrTimeout
}

func (f *Fetcher) attempt(ctx context.Context, rawURL, destPath string) (int64, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, &Error{Kind: core.FetchErrNetwork, Err: err, terminal: true}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return 0, &Error{Kind: core.FetchErrNotFound, Err: fmt.Errorf("HTTP %d", resp.StatusCode), terminal: true}
	case resp.StatusCode >= 500:
		return 0, &Error{Kind: core.FetchErrNetwork, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		// Remaining client-class responses: terminal after one attempt.
		return 0, &Error{Kind: core.FetchErrNetwork, Err: fmt.Errorf("HTTP %d", resp.StatusCode), terminal: true}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, &Error{Kind: core.FetchErrFilesystem, Err: err, terminal: true}
	}
	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, &Error{Kind: core.FetchErrFilesystem, Err: err, terminal: true}
	}

	n, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmp)
		return 0, classifyTransport(err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return 0, &Error{Kind: core.FetchErrFilesystem, Err: closeErr, terminal: true}
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return 0, &Error{Kind: core.FetchErrFilesystem, Err: err, terminal: true}
	}
	return n, nil
}

// classifyTransport maps a transport-level error to timeout or network.
func classifyTransport(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: core.FetchErrTimeout, Err: err}
	}
	return &Error{Kind: core.FetchErrNetwork, Err: err}
}
