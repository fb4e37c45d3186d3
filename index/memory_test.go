package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, views map[string][]float32) Record {
	r := Record{ID: id, Title: "title-" + id, Author: "author-" + id, Views: map[string]ViewPayload{}}
	for view, emb := range views {
		r.Views[view] = ViewPayload{Summary: "summary-" + id + "-" + view, Embedding: emb}
	}
	return r
}

func TestMemory_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	failed, err := m.BulkUpsert(ctx, []Record{rec("a", map[string][]float32{"plot": {1, 0}})})
	require.NoError(t, err)
	require.Empty(t, failed)

	// Re-index the same id with new content.
	failed, err = m.BulkUpsert(ctx, []Record{rec("a", map[string][]float32{"plot": {0, 1}})})
	require.NoError(t, err)
	require.Empty(t, failed)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1}, stored.Views["plot"].Embedding)
}

func TestMemory_SearchOrdersByScore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.BulkUpsert(ctx, []Record{
		rec("near", map[string][]float32{"plot": {1, 0}}),
		rec("mid", map[string][]float32{"plot": {1, 1}}),
		rec("far", map[string][]float32{"plot": {0, 1}}),
	})
	require.NoError(t, err)

	hits, err := m.Search(ctx, "plot", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "summary-near-plot", hits[0].Summary)
}

func TestMemory_SearchSkipsRecordsWithoutView(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.BulkUpsert(ctx, []Record{
		rec("both", map[string][]float32{"plot": {1, 0}, "thematic": {1, 0}}),
		rec("plot-only", map[string][]float32{"plot": {1, 0}}),
	})
	require.NoError(t, err)

	hits, err := m.Search(ctx, "thematic", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "both", hits[0].ID)
}

func TestMemory_EmptyIDRejected(t *testing.T) {
	m := NewMemory()
	failed, err := m.BulkUpsert(context.Background(), []Record{{ID: ""}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
}
