package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bookrec/errors"
)

func newOpenSearch(t *testing.T, handler http.Handler) *OpenSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	os, err := NewOpenSearch(OpenSearchConfig{
		Endpoint:   srv.URL,
		IndexName:  "books",
		Dimensions: 4,
	})
	require.NoError(t, err)
	return os
}

func TestOpenSearch_BulkUpsertFormat(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	os := newOpenSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_bulk", r.URL.Path)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]any{"errors": false})
	}))

	failed, err := os.BulkUpsert(context.Background(), []Record{
		{
			ID:     "b1",
			Title:  "Moby Dick",
			Author: "Herman Melville",
			Views: map[string]ViewPayload{
				"plot": {Summary: "A whale is pursued.", Embedding: []float32{1, 0, 0, 0}},
			},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, "application/x-ndjson", gotContentType)

	// Two NDJSON lines per record: action, then document.
	scanner := bufio.NewScanner(bytes.NewReader(gotBody))
	var lines []map[string]any
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)

	action := lines[0]["index"].(map[string]any)
	assert.Equal(t, "books", action["_index"])
	assert.Equal(t, "b1", action["_id"])

	doc := lines[1]
	assert.Equal(t, "Moby Dick", doc["title"])
	assert.Equal(t, "Herman Melville", doc["author"])
	assert.Equal(t, "A whale is pursued.", doc["plot_summary"])
	assert.Len(t, doc["plot_embedding"], 4)
}

func TestOpenSearch_BulkUpsertReportsItemErrors(t *testing.T) {
	os := newOpenSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": true,
			"items": []map[string]any{
				{"index": map[string]any{"_id": "ok", "status": 200}},
				{"index": map[string]any{"_id": "bad", "status": 400, "error": map[string]any{
					"type": "mapper_parsing_exception", "reason": "field too long",
				}}},
			},
		})
	}))

	failed, err := os.BulkUpsert(context.Background(), records(2))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ID)
	assert.Contains(t, failed[0].Err.Error(), "mapper_parsing_exception")
}

func TestOpenSearch_SearchKnnQuery(t *testing.T) {
	var gotQuery map[string]any
	os := newOpenSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/books/_search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))
		json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{"_id": "b1", "_score": 0.91, "_source": map[string]any{
						"title": "Moby Dick", "author": "Herman Melville",
						"thematic_summary": "Obsession and fate at sea.",
					}},
				},
			},
		})
	}))

	hits, err := os.Search(context.Background(), "thematic", []float32{0, 1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b1", hits[0].ID)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
	assert.Equal(t, "Obsession and fate at sea.", hits[0].Summary)

	assert.EqualValues(t, 5, gotQuery["size"])
	knn := gotQuery["query"].(map[string]any)["knn"].(map[string]any)
	field := knn["thematic_embedding"].(map[string]any)
	assert.EqualValues(t, 5, field["k"])
	assert.Len(t, field["vector"], 4)
}

func TestOpenSearch_SearchServerErrorIsTransient(t *testing.T) {
	os := newOpenSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "shard failure", http.StatusServiceUnavailable)
	}))

	_, err := os.Search(context.Background(), "plot", []float32{1, 0, 0, 0}, 3)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestOpenSearch_Count(t *testing.T) {
	os := newOpenSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/books/_count", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"count": 42})
	}))

	n, err := os.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestOpenSearch_EnsureIndexCreatesMapping(t *testing.T) {
	var created map[string]any
	os := newOpenSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			require.Equal(t, "/books", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			json.NewEncoder(w).Encode(map[string]any{"acknowledged": true})
		}
	}))

	err := os.EnsureIndex(context.Background(), []string{"plot", "combined"})
	require.NoError(t, err)

	props := created["mappings"].(map[string]any)["properties"].(map[string]any)
	emb := props["plot_embedding"].(map[string]any)
	assert.Equal(t, "knn_vector", emb["type"])
	assert.EqualValues(t, 4, emb["dimension"])
	assert.Contains(t, props, "combined_summary")
	assert.Contains(t, props, "title")
}

func TestNewOpenSearch_Validation(t *testing.T) {
	_, err := NewOpenSearch(OpenSearchConfig{})
	assert.True(t, errors.IsConfig(err))

	_, err = NewOpenSearch(OpenSearchConfig{Endpoint: "http://localhost:9200"})
	assert.True(t, errors.IsConfig(err))
}
