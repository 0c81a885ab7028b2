// Package objstore provides the key-addressed blob store used for raw
// regulatory documents, pre-parsed caches, checkpoints, and workflow
// scratch state.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotExist is returned by Get for a missing key.
var ErrNotExist = errors.New("objstore: key does not exist")

// Metadata keys every stored document must carry.
const (
	MetaSource    = "source"
	MetaDataType  = "data_type"
	MetaFetchedAt = "fetched_at"
)

// Store is a key-addressed blob store with per-object user metadata.
// Put is idempotent (last write wins); there are no transactions.
type Store interface {
	// Put writes data under key with the given user metadata.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// Get returns the data and metadata for key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)

	// List returns all keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// DocumentMetadata builds the required metadata for a stored document.
func DocumentMetadata(source, dataType string, fetchedAt time.Time, extra map[string]string) map[string]string {
	md := map[string]string{
		MetaSource:    source,
		MetaDataType:  dataType,
		MetaFetchedAt: fetchedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}
