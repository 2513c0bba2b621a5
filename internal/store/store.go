// Package store defines the contracts for the external storage collaborators
// (structured table store, blob store, message queue) and bundles concrete
// clients for injection into the pipeline components.
package store

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotFound reports that a record, blob, or queue message does not exist.
// Content resolution treats this as a signal to fall back, not a failure.
var ErrNotFound = errors.New("store: not found")

// TableClient is the structured key-value store contract. Field values must
// be flat scalars; nested structures are serialized to strings by callers.
type TableClient interface {
	Upsert(ctx context.Context, table, partitionKey, rowKey string, fields map[string]any) error
	Get(ctx context.Context, table, partitionKey, rowKey string) (map[string]any, error)
	Delete(ctx context.Context, table, partitionKey, rowKey string) error
}

// BlobClient is the object store contract, addressed by container and key.
// Keys follow the convention {partition_key}/{content_hash}.{ext}.
type BlobClient interface {
	Put(ctx context.Context, container, key string, data []byte) error
	Get(ctx context.Context, container, key string) ([]byte, error)
	Delete(ctx context.Context, container, key string) error
}

// Message is a received queue message. Receipt is required to delete it.
type Message struct {
	ID      string
	Receipt string
	Payload []byte
}

// QueueClient is the message queue contract. Delivery is at-least-once;
// consumers must tolerate replay.
type QueueClient interface {
	Send(ctx context.Context, queue string, payload []byte) error
	// Receive returns the next available message, or ErrNotFound when the
	// queue is empty.
	Receive(ctx context.Context, queue string) (*Message, error)
	Delete(ctx context.Context, queue string, msg *Message) error
}

// Clients bundles the shared service clients. It is constructed once and
// passed into each component's constructor; the clients are safe for
// concurrent use.
type Clients struct {
	Tables TableClient
	Blobs  BlobClient
	Queues QueueClient
	HTTP   *http.Client
}

// HTTPClient returns the bundle's HTTP client, defaulting to
// http.DefaultClient when none was configured.
func (c *Clients) HTTPClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
