package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPEnumerator consumes the catalog collaborator over HTTP.
type HTTPEnumerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEnumerator creates a client for the collaborator at baseURL.
func NewHTTPEnumerator(baseURL string, timeout time.Duration) *HTTPEnumerator {
	return &HTTPEnumerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteFilePayload struct {
	SourceURL    string `json:"source_url"`
	GroupName    string `json:"group_name"`
	SubgroupName string `json:"subgroup_name"`
	FileName     string `json:"file_name"`
}

// EnumerateFiles asks the collaborator for the subgroup's downloadable
// files. Any failure is a CollaboratorError; the orchestrator absorbs
// it as a per-subgroup warning.
func (e *HTTPEnumerator) EnumerateFiles(ctx context.Context, groupID, subgroupID string) ([]RemoteFile, error) {
	endpoint := fmt.Sprintf("%s/groups/%s/subgroups/%s/files",
		e.baseURL, url.PathEscape(groupID), url.PathEscape(subgroupID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &CollaboratorError{Kind: "request", Err: err}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &CollaboratorError{Kind: "unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CollaboratorError{Kind: "scrape", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var payload []remoteFilePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &CollaboratorError{Kind: "decode", Err: err}
	}

	files := make([]RemoteFile, 0, len(payload))
	for _, p := range payload {
		files = append(files, RemoteFile{
			SourceURL:    p.SourceURL,
			GroupName:    p.GroupName,
			SubgroupName: p.SubgroupName,
			FileName:     p.FileName,
		})
	}
	return files, nil
}
