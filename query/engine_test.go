package query

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/index"
)

// stubEmbedder returns a fixed vector; it can be scripted to fail.
type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) Generate(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = s.vector
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return len(s.vector) }
func (s *stubEmbedder) Model() string   { return "stub" }
func (s *stubEmbedder) Close() error    { return nil }

// scriptedIndex returns canned hits per view and can fail chosen views.
type scriptedIndex struct {
	mu       sync.Mutex
	hits     map[string][]index.Hit
	failing  map[string]error
	searched []string
}

func (s *scriptedIndex) BulkUpsert(context.Context, []index.Record) ([]index.UpsertError, error) {
	return nil, nil
}

func (s *scriptedIndex) Search(_ context.Context, view string, _ []float32, _ int) ([]index.Hit, error) {
	s.mu.Lock()
	s.searched = append(s.searched, view)
	s.mu.Unlock()
	if err := s.failing[view]; err != nil {
		return nil, err
	}
	return s.hits[view], nil
}

func (s *scriptedIndex) Count(context.Context) (int, error) { return 0, nil }

func newEngine(t *testing.T, idx index.VectorIndex) (*Engine, *stubEmbedder) {
	t.Helper()
	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	e, err := NewEngine(emb, idx, Config{TopK: 5})
	require.NoError(t, err)
	return e, emb
}

func TestEngine_SingleViewStrategy(t *testing.T) {
	idx := &scriptedIndex{hits: map[string][]index.Hit{
		"plot": {{ID: "b1", Title: "Book One", Score: 0.8, Summary: "A plot."}},
	}}
	e, emb := newEngine(t, idx)

	resp, err := e.Query(context.Background(), "sea adventure", StrategyPlot)
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b1", resp.Results[0].ID)
	assert.Equal(t, "plot", resp.Results[0].MatchedView)
	assert.False(t, resp.Degraded)
	assert.Equal(t, []string{"plot"}, idx.searched)
	assert.Equal(t, 1, emb.calls, "query embedded exactly once")
}

func TestEngine_MultiMaxPoolsAcrossViews(t *testing.T) {
	// b1 appears under plot (0.40) and thematic (0.91): the merged result
	// must carry the thematic score and view.
	idx := &scriptedIndex{hits: map[string][]index.Hit{
		"plot":     {{ID: "b1", Title: "Book One", Score: 0.40, Summary: "plot summary"}},
		"thematic": {{ID: "b1", Title: "Book One", Score: 0.91, Summary: "thematic summary"}},
		"combined": {{ID: "b2", Title: "Book Two", Score: 0.55, Summary: "combined summary"}},
	}}
	e, _ := newEngine(t, idx)

	resp, err := e.Query(context.Background(), "obsession at sea", StrategyMulti)
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b1", resp.Results[0].ID)
	assert.InDelta(t, 0.91, resp.Results[0].Score, 1e-9)
	assert.Equal(t, "thematic", resp.Results[0].MatchedView)
	assert.Equal(t, "thematic summary", resp.Results[0].Summary)
	assert.Equal(t, "b2", resp.Results[1].ID)
	assert.Len(t, idx.searched, 4, "all views searched")
}

func TestEngine_ScoreTieKeepsEarlierViewMatched(t *testing.T) {
	// The same document scores identically under two views. The merged
	// result must deterministically carry the first configured view, not
	// whichever one happens to merge last.
	idx := &scriptedIndex{hits: map[string][]index.Hit{
		"plot":     {{ID: "b1", Score: 0.75, Summary: "plot summary"}},
		"thematic": {{ID: "b1", Score: 0.75, Summary: "thematic summary"}},
	}}
	e, _ := newEngine(t, idx)

	for i := 0; i < 20; i++ {
		resp, err := e.Query(context.Background(), "tied either way", StrategyMulti)
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "plot", resp.Results[0].MatchedView)
		assert.Equal(t, "plot summary", resp.Results[0].Summary)
	}
}

func TestEngine_TieBreakByLexicalOverlapThenID(t *testing.T) {
	// Equal scores: b2's combined summary shares words with the query so it
	// ranks first; b1 and b3 remain tied and fall back to id order.
	idx := &scriptedIndex{hits: map[string][]index.Hit{
		"combined": {
			{ID: "b3", Score: 0.5, Summary: "unrelated words entirely"},
			{ID: "b2", Score: 0.5, Summary: "a whale hunt across the ocean"},
			{ID: "b1", Score: 0.5, Summary: "different topic altogether"},
		},
	}}
	e, _ := newEngine(t, idx)

	resp, err := e.Query(context.Background(), "whale hunt", StrategyMulti)
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, "b2", resp.Results[0].ID)
	assert.Equal(t, "b1", resp.Results[1].ID)
	assert.Equal(t, "b3", resp.Results[2].ID)
}

func TestEngine_DegradedWhenViewFails(t *testing.T) {
	idx := &scriptedIndex{
		hits: map[string][]index.Hit{
			"plot": {{ID: "b1", Score: 0.7}},
		},
		failing: map[string]error{
			"thematic": errors.WrapTransient(errors.ErrServiceUnavailable, "idx", "Search", "thematic"),
		},
	}
	e, _ := newEngine(t, idx)

	resp, err := e.Query(context.Background(), "anything", StrategyMulti)
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Equal(t, []string{"thematic"}, resp.FailedViews)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b1", resp.Results[0].ID)
}

func TestEngine_AllViewsFailingIsAnError(t *testing.T) {
	unavailable := errors.WrapTransient(errors.ErrServiceUnavailable, "idx", "Search", "view")
	idx := &scriptedIndex{failing: map[string]error{
		"plot": unavailable, "thematic": unavailable, "character": unavailable, "combined": unavailable,
	}}
	e, _ := newEngine(t, idx)

	_, err := e.Query(context.Background(), "anything", StrategyMulti)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestEngine_EmbedFailureFailsQuery(t *testing.T) {
	idx := &scriptedIndex{hits: map[string][]index.Hit{}}
	e, emb := newEngine(t, idx)
	emb.err = errors.WrapTransient(errors.ErrRateLimited, "emb", "Generate", "query")

	_, err := e.Query(context.Background(), "anything", StrategyMulti)
	require.Error(t, err)
	assert.Empty(t, idx.searched, "no search without a query vector")
}

func TestEngine_EmptyQueryRejected(t *testing.T) {
	e, _ := newEngine(t, &scriptedIndex{})
	_, err := e.Query(context.Background(), "   ", StrategyPlot)
	require.Error(t, err)
	assert.True(t, errors.IsContent(err))
}

func TestEngine_UnknownStrategyRejected(t *testing.T) {
	e, _ := newEngine(t, &scriptedIndex{})
	_, err := e.Query(context.Background(), "anything", Strategy("bogus"))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies() {
		parsed, err := ParseStrategy(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStrategy("semantic")
	assert.Error(t, err)
}

func TestEngine_TopKBoundsMergedResults(t *testing.T) {
	hits := make([]index.Hit, 10)
	for i := range hits {
		hits[i] = index.Hit{ID: string(rune('a' + i)), Score: float64(10-i) / 10}
	}
	idx := &scriptedIndex{hits: map[string][]index.Hit{"plot": hits}}

	emb := &stubEmbedder{vector: []float32{1, 0, 0, 0}}
	e, err := NewEngine(emb, idx, Config{TopK: 3, PerViewK: 10})
	require.NoError(t, err)

	resp, err := e.Query(context.Background(), "anything", StrategyMulti)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, "a", resp.Results[0].ID)
}
