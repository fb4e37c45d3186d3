// Package blobstore defines the blob storage contract used to fetch raw
// documents and persist intermediate artifacts, with NATS Object Store and
// in-memory implementations.
package blobstore

import "context"

// Store provides access to immutable blobs keyed by name.
//
// Put-then-Get of the same key within one process may be eventually
// consistent; callers must not rely on read-your-writes for correctness.
type Store interface {
	// Get retrieves the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// List returns the keys under the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
