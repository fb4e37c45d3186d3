package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360/bookrec/errors"
)

// OpenSearchConfig configures the OpenSearch-backed index.
type OpenSearchConfig struct {
	// Endpoint is the cluster base URL, e.g. "https://localhost:9200".
	Endpoint string

	// IndexName is the target index.
	IndexName string

	// Username and Password enable basic auth when set.
	Username string
	Password string

	// Dimensions of the embedding vectors, used when creating the index.
	Dimensions int

	// Timeout for HTTP requests (default 30s).
	Timeout time.Duration

	// HTTPClient overrides the default client (tests, custom TLS).
	HTTPClient *http.Client

	// Logger for warnings (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

// OpenSearch implements VectorIndex against an OpenSearch cluster using
// its knn plugin. Each view is stored as a pair of fields on the same
// document: "<view>_summary" (text) and "<view>_embedding" (knn_vector).
type OpenSearch struct {
	endpoint  string
	indexName string
	username  string
	password  string
	dims      int
	client    *http.Client
	logger    *slog.Logger
}

// NewOpenSearch creates an OpenSearch-backed index client.
func NewOpenSearch(cfg OpenSearchConfig) (*OpenSearch, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "OpenSearch", "NewOpenSearch", "endpoint is required")
	}
	if cfg.IndexName == "" {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "OpenSearch", "NewOpenSearch", "index name is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, errors.WrapConfig(err, "OpenSearch", "NewOpenSearch", "parse endpoint")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenSearch{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		indexName: cfg.IndexName,
		username:  cfg.Username,
		password:  cfg.Password,
		dims:      cfg.Dimensions,
		client:    client,
		logger:    logger,
	}, nil
}

// EnsureIndex creates the index with a knn mapping for each view if it
// does not already exist.
func (o *OpenSearch) EnsureIndex(ctx context.Context, views []string) error {
	status, _, err := o.do(ctx, http.MethodHead, "/"+o.indexName, nil)
	if err != nil {
		return errors.WrapTransient(err, "OpenSearch", "EnsureIndex", "check index")
	}
	if status == http.StatusOK {
		return nil
	}

	properties := map[string]any{
		"title":  map[string]any{"type": "text"},
		"author": map[string]any{"type": "text"},
	}
	for _, view := range views {
		properties[view+"_summary"] = map[string]any{"type": "text"}
		properties[view+"_embedding"] = map[string]any{
			"type":      "knn_vector",
			"dimension": o.dims,
		}
	}
	body := map[string]any{
		"settings": map[string]any{"index": map[string]any{"knn": true}},
		"mappings": map[string]any{"properties": properties},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "OpenSearch", "EnsureIndex", "marshal mapping")
	}
	status, respBody, err := o.do(ctx, http.MethodPut, "/"+o.indexName, payload)
	if err != nil {
		return errors.WrapTransient(err, "OpenSearch", "EnsureIndex", "create index")
	}
	if status != http.StatusOK {
		return errors.WrapTransient(
			fmt.Errorf("create index returned status %d: %s", status, truncate(respBody, 200)),
			"OpenSearch", "EnsureIndex", "create index")
	}
	o.logger.Info("created index", "index", o.indexName, "views", views, "dimensions", o.dims)
	return nil
}

// BulkUpsert indexes records through the _bulk API. Per-record rejections
// come back as UpsertErrors so callers can retry only what failed.
func (o *OpenSearch) BulkUpsert(ctx context.Context, records []Record) ([]UpsertError, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		action := map[string]any{
			"index": map[string]any{"_index": o.indexName, "_id": r.ID},
		}
		if err := enc.Encode(action); err != nil {
			return nil, errors.Wrap(err, "OpenSearch", "BulkUpsert", "encode action")
		}
		if err := enc.Encode(bulkDocument(r)); err != nil {
			return nil, errors.Wrap(err, "OpenSearch", "BulkUpsert", "encode document")
		}
	}

	status, respBody, err := o.do(ctx, http.MethodPost, "/_bulk", buf.Bytes())
	if err != nil {
		return nil, errors.WrapTransient(err, "OpenSearch", "BulkUpsert", "post bulk request")
	}
	if status != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("bulk request returned status %d: %s", status, truncate(respBody, 200)),
			"OpenSearch", "BulkUpsert", "post bulk request")
	}

	var resp bulkResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrap(err, "OpenSearch", "BulkUpsert", "decode bulk response")
	}
	if !resp.Errors {
		return nil, nil
	}

	var failed []UpsertError
	for _, item := range resp.Items {
		if item.Index.Error == nil {
			continue
		}
		failed = append(failed, UpsertError{
			ID:  item.Index.ID,
			Err: fmt.Errorf("%s: %s", item.Index.Error.Type, item.Index.Error.Reason),
		})
	}
	return failed, nil
}

// Search runs a knn query against "<view>_embedding".
func (o *OpenSearch) Search(ctx context.Context, view string, vec []float32, k int) ([]Hit, error) {
	body := map[string]any{
		"size": k,
		"query": map[string]any{
			"knn": map[string]any{
				view + "_embedding": map[string]any{"vector": vec, "k": k},
			},
		},
		"_source": []string{"title", "author", view + "_summary"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "OpenSearch", "Search", "marshal query")
	}

	status, respBody, err := o.do(ctx, http.MethodPost, "/"+o.indexName+"/_search", payload)
	if err != nil {
		return nil, errors.WrapTransient(err, "OpenSearch", "Search", "post search request")
	}
	if status != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("search returned status %d: %s", status, truncate(respBody, 200)),
			"OpenSearch", "Search", "post search request")
	}

	var resp searchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrap(err, "OpenSearch", "Search", "decode search response")
	}

	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, Hit{
			ID:      h.ID,
			Title:   h.Source.Title,
			Author:  h.Source.Author,
			Score:   h.Score,
			Summary: h.Source.summaryFor(view),
		})
	}
	return hits, nil
}

// Count returns the index document count.
func (o *OpenSearch) Count(ctx context.Context) (int, error) {
	status, respBody, err := o.do(ctx, http.MethodGet, "/"+o.indexName+"/_count", nil)
	if err != nil {
		return 0, errors.WrapTransient(err, "OpenSearch", "Count", "get count")
	}
	if status != http.StatusOK {
		return 0, errors.WrapTransient(
			fmt.Errorf("count returned status %d", status),
			"OpenSearch", "Count", "get count")
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, errors.Wrap(err, "OpenSearch", "Count", "decode count response")
	}
	return resp.Count, nil
}

func (o *OpenSearch) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.endpoint+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		if path == "/_bulk" {
			req.Header.Set("Content-Type", "application/x-ndjson")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if o.username != "" {
		req.SetBasicAuth(o.username, o.password)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// bulkDocument flattens a record into the per-view field layout.
func bulkDocument(r Record) map[string]any {
	doc := map[string]any{
		"title":  r.Title,
		"author": r.Author,
	}
	if len(r.Metadata) > 0 {
		doc["metadata"] = r.Metadata
	}
	for view, payload := range r.Views {
		doc[view+"_summary"] = payload.Summary
		doc[view+"_embedding"] = payload.Embedding
	}
	return doc
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string       `json:"_id"`
			Score  float64      `json:"_score"`
			Source searchSource `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// searchSource captures the _source fields; view summaries land in the
// raw map because their field names are view-dependent.
type searchSource struct {
	Title  string `json:"title"`
	Author string `json:"author"`

	raw map[string]json.RawMessage
}

func (s *searchSource) UnmarshalJSON(data []byte) error {
	type plain searchSource
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = searchSource(p)
	return json.Unmarshal(data, &s.raw)
}

func (s *searchSource) summaryFor(view string) string {
	rawSummary, ok := s.raw[view+"_summary"]
	if !ok {
		return ""
	}
	var summary string
	if err := json.Unmarshal(rawSummary, &summary); err != nil {
		return ""
	}
	return summary
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
