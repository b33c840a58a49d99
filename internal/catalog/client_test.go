package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEnumerateFiles_DecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups/g1/subgroups/s1/files" {
			t.Errorf("path = %q, want /groups/g1/subgroups/s1/files", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"source_url": "http://origin/a.pdf", "group_name": "Physics", "subgroup_name": "Optics", "file_name": "a.pdf"},
			{"source_url": "http://origin/b.pdf", "group_name": "Physics", "subgroup_name": "Optics", "file_name": "b.pdf"}
		]`))
	}))
	defer srv.Close()

	e := NewHTTPEnumerator(srv.URL, time.Second)
	files, err := e.EnumerateFiles(context.Background(), "g1", "s1")
	if err != nil {
		t.Fatalf("EnumerateFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}
	want := RemoteFile{
		SourceURL:    "http://origin/a.pdf",
		GroupName:    "Physics",
		SubgroupName: "Optics",
		FileName:     "a.pdf",
	}
	if files[0] != want {
		t.Errorf("files[0] = %+v, want %+v", files[0], want)
	}
}

func TestEnumerateFiles_ErrorKinds(t *testing.T) {
	badStatus := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badStatus.Close()

	badJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer badJSON.Close()

	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable.Close()

	tests := []struct {
		name     string
		baseURL  string
		wantKind string
	}{
		{"scrape failure", badStatus.URL, "scrape"},
		{"decode failure", badJSON.URL, "decode"},
		{"unreachable", unreachable.URL, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewHTTPEnumerator(tt.baseURL, time.Second)
			_, err := e.EnumerateFiles(context.Background(), "g1", "s1")
			var cerr *CollaboratorError
			if !errors.As(err, &cerr) {
				t.Fatalf("error type = %T, want *CollaboratorError", err)
			}
			if cerr.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", cerr.Kind, tt.wantKind)
			}
		})
	}
}
