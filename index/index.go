// Package index provides vector index access for book records: bulk
// upserts keyed by document id and per-view nearest-neighbor search.
package index

import "context"

// ViewPayload holds one semantic view of a document: the summary text and
// its embedding.
type ViewPayload struct {
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding"`
}

// Record is one indexable document with all of its views.
type Record struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Author   string                 `json:"author"`
	Metadata map[string]string      `json:"metadata,omitempty"`
	Views    map[string]ViewPayload `json:"views"`
}

// Hit is one search result.
type Hit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Author  string  `json:"author"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// UpsertError reports a per-record failure inside a bulk request. The
// surrounding batch may still have succeeded for other records.
type UpsertError struct {
	ID  string
	Err error
}

func (e UpsertError) Error() string {
	return "upsert " + e.ID + ": " + e.Err.Error()
}

func (e UpsertError) Unwrap() error {
	return e.Err
}

// VectorIndex stores records and answers per-view similarity queries.
// Upserts are idempotent by record id: re-indexing a document replaces its
// previous entry.
type VectorIndex interface {
	// BulkUpsert writes records in one request. It returns one UpsertError
	// per failed record; an empty slice means every record landed. A non-nil
	// error means the request as a whole failed and nothing is known to
	// have landed.
	BulkUpsert(ctx context.Context, records []Record) ([]UpsertError, error)

	// Search returns the k nearest records to vector under the named view,
	// ordered by descending similarity.
	Search(ctx context.Context, view string, vector []float32, k int) ([]Hit, error)

	// Count returns the number of indexed records.
	Count(ctx context.Context) (int, error)
}
