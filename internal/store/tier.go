// Package store implements the tiered job state store: a fast
// process-local tier, a durable NATS KV tier, and a persistent sqlite
// fallback tier. Reads consult the tiers in that order and stop at the
// first hit; writes go fast-first, then durable with read-back
// verification, degrading to the fallback tier when the durable tier is
// unavailable. It is a passive persistence layer with no business logic.
package store

import (
	"context"
	"errors"
)

// ErrNotFound reports a record unknown to a tier. A missing record is a
// distinct outcome from an empty one and is never synthesized as a
// zero value.
var ErrNotFound = errors.New("record not found")

// ErrSkipUpdate may be returned by an Update mutate function to abandon
// the update without writing; Update then returns the unmodified record.
var ErrSkipUpdate = errors.New("update skipped")

// Tier is one layer of the storage hierarchy.
type Tier interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
	Keys(ctx context.Context) ([]string, error)
}

// CASTier is a tier supporting revision-conditional updates. The
// durable tier must be one: it may be written from a different process
// instance than the one that read it, so counter updates have to be
// conditional rather than blind overwrites.
type CASTier interface {
	Tier
	GetRevision(ctx context.Context, id string) ([]byte, uint64, error)
	Create(ctx context.Context, id string, data []byte) error
	UpdateRevision(ctx context.Context, id string, data []byte, revision uint64) error
}

// ErrConflict reports a revision mismatch on a conditional update.
var ErrConflict = errors.New("revision conflict")
