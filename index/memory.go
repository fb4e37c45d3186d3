package index

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/pkg/vector"
)

// Memory is an in-process VectorIndex using exact cosine similarity. It
// backs tests and small corpora; production deployments use OpenSearch.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// BulkUpsert stores records keyed by id, replacing existing entries.
func (m *Memory) BulkUpsert(_ context.Context, records []Record) ([]UpsertError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []UpsertError
	for _, r := range records {
		if r.ID == "" {
			failed = append(failed, UpsertError{ID: r.ID, Err: errors.ErrEmptyInput})
			continue
		}
		m.records[r.ID] = r
	}
	return failed, nil
}

// Search scans all records holding the view and returns the top k by
// cosine similarity.
func (m *Memory) Search(_ context.Context, view string, vec []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, r := range m.records {
		payload, ok := r.Views[view]
		if !ok || len(payload.Embedding) == 0 {
			continue
		}
		if len(payload.Embedding) != len(vec) {
			return nil, errors.Wrap(errors.ErrDimensionMismatch, "Memory", "Search", view)
		}
		hits = append(hits, Hit{
			ID:      r.ID,
			Title:   r.Title,
			Author:  r.Author,
			Score:   vector.CosineSimilarity(vec, payload.Embedding),
			Summary: payload.Summary,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of stored records.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Get returns a stored record. Test helper.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}
