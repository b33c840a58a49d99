package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSKV is the durable tier, backed by a NATS JetStream KV bucket.
// Writes are verified by an immediate read-back; a failed round-trip
// surfaces as an error so the tiered store can degrade to the fallback
// tier without failing the overall operation.
type NATSKV struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// OpenNATS connects to NATS and opens (creating if needed) the given KV
// bucket.
func OpenNATS(ctx context.Context, natsURL, bucket string) (*NATSKV, error) {
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening KV bucket %s: %w", bucket, err)
	}
	return &NATSKV{nc: nc, kv: kv}, nil
}

// Close releases the NATS connection.
func (n *NATSKV) Close() {
	n.nc.Close()
}

func (n *NATSKV) Get(ctx context.Context, id string) ([]byte, error) {
	data, _, err := n.GetRevision(ctx, id)
	return data, err
}

func (n *NATSKV) GetRevision(ctx context.Context, id string) ([]byte, uint64, error) {
	entry, err := n.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Put writes unconditionally and verifies the write with a read-back.
func (n *NATSKV) Put(ctx context.Context, id string, data []byte) error {
	if _, err := n.kv.Put(ctx, id, data); err != nil {
		return err
	}
	stored, _, err := n.GetRevision(ctx, id)
	if err != nil {
		return fmt.Errorf("read-back after put: %w", err)
	}
	if !bytes.Equal(stored, data) {
		return fmt.Errorf("read-back after put: stored value differs")
	}
	return nil
}

// Create writes only if the key does not exist yet.
func (n *NATSKV) Create(ctx context.Context, id string, data []byte) error {
	if _, err := n.kv.Create(ctx, id, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// UpdateRevision writes only if the stored revision still matches.
func (n *NATSKV) UpdateRevision(ctx context.Context, id string, data []byte, revision uint64) error {
	if _, err := n.kv.Update(ctx, id, data, revision); err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (n *NATSKV) Delete(ctx context.Context, id string) error {
	err := n.kv.Delete(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (n *NATSKV) Keys(ctx context.Context) ([]string, error) {
	keys, err := n.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}
