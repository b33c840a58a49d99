// Package catalog defines the contract with the catalog-scraping
// collaborator. The orchestrator only ever asks it one question: given
// a group and subgroup, which files can be downloaded and what are they
// called. Scraping itself lives outside this service.
package catalog

import (
	"context"
	"fmt"
)

// RemoteFile is one downloadable file resolved at enumeration time.
// Display names are the human-readable names used for archive paths,
// not internal ids.
type RemoteFile struct {
	SourceURL    string
	GroupName    string
	SubgroupName string
	FileName     string
}

// Enumerator resolves a group/subgroup selection into concrete files,
// in a stable order.
type Enumerator interface {
	EnumerateFiles(ctx context.Context, groupID, subgroupID string) ([]RemoteFile, error)
}

// CollaboratorError reports a scrape failure for one subgroup. The
// orchestrator treats it as a soft failure: the subgroup's files are
// omitted and a warning is recorded on the job.
type CollaboratorError struct {
	Kind string
	Err  error
}

func (e *CollaboratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog %s: %v", e.Kind, e.Err)
	}
	return "catalog " + e.Kind
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
