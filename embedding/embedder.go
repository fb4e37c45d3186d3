// Package embedding provides vector embedding generation for summary views
// and queries.
//
// The Adapter wraps an OpenAI-compatible embedding endpoint with retry,
// rate limiting and a fixed process-wide dimension contract. An optional
// content-addressed cache avoids re-embedding unchanged text on retry.
package embedding

import "context"

// Embedder generates vector embeddings for text.
//
// Implementations can use different providers while maintaining a consistent
// interface. Batch operations are the primary method, following OpenAI API
// patterns; for single text, pass a slice with one element.
type Embedder interface {
	// Generate creates embeddings for the given texts.
	Generate(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings produced by this
	// embedder. Constant for the life of the process.
	Dimensions() int

	// Model returns the model identifier used by this embedder.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}

// Cache provides content-addressed caching for embeddings.
//
// Implementations should use a hash of the text content as the key to
// enable deduplication and fast lookups.
type Cache interface {
	// Get retrieves a cached embedding for the given content hash.
	// Returns an error if the embedding is not found in the cache.
	Get(ctx context.Context, contentHash string) ([]float32, error)

	// Put stores an embedding in the cache with the given content hash.
	Put(ctx context.Context, contentHash string, embedding []float32) error
}
