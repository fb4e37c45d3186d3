package query

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/bookrec/embedding"
	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/index"
	"github.com/c360/bookrec/summarize"
)

// Config configures the query engine.
type Config struct {
	// TopK is the number of merged results returned (default 10).
	TopK int

	// PerViewK is how many candidates each view contributes before the
	// merge (default TopK). Larger values make max-pooling more thorough
	// at the cost of wider index reads.
	PerViewK int

	// Timeout bounds one query end to end (default 15s).
	Timeout time.Duration

	// Views searched by the multi strategy (default all four).
	Views []summarize.View

	// Logger (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.PerViewK == 0 {
		c.PerViewK = c.TopK
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if len(c.Views) == 0 {
		c.Views = summarize.DefaultViews()
	}
}

// Result is one recommended document.
type Result struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Score       float64 `json:"score"`
	MatchedView string  `json:"matched_view"`
	Summary     string  `json:"summary"`
}

// Response carries the merged results of one query. Degraded is set when
// some views failed and the results were merged from the rest.
type Response struct {
	Results     []Result `json:"results"`
	Strategy    Strategy `json:"strategy"`
	Degraded    bool     `json:"degraded,omitempty"`
	FailedViews []string `json:"failed_views,omitempty"`
}

// Engine answers queries by embedding the query text once and searching
// the vector index under the chosen strategy.
type Engine struct {
	embedder embedding.Embedder
	idx      index.VectorIndex
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a query engine.
func NewEngine(embedder embedding.Embedder, idx index.VectorIndex, cfg Config) (*Engine, error) {
	if embedder == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Engine", "NewEngine", "embedder is required")
	}
	if idx == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Engine", "NewEngine", "index is required")
	}
	cfg.applyDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, idx: idx, cfg: cfg, logger: logger}, nil
}

// Query embeds text and searches under the given strategy. A failed query
// embedding fails the whole query; with the multi strategy, individual
// view failures only degrade the response.
func (e *Engine) Query(ctx context.Context, text string, strategy Strategy) (Response, error) {
	if strings.TrimSpace(text) == "" {
		return Response{}, errors.WrapContent(errors.ErrEmptyInput, "Engine", "Query", "embed query")
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	logger := e.logger.With("query_id", uuid.NewString(), "strategy", strategy)
	logger.Debug("query received", "chars", len(text))

	// The query is embedded exactly once and the vector shared across views.
	vectors, err := e.embedder.Generate(ctx, []string{text})
	if err != nil {
		return Response{}, errors.Wrap(err, "Engine", "Query", "embed query")
	}
	if len(vectors) == 0 {
		return Response{}, errors.WrapTransient(errors.ErrEmptyInput, "Engine", "Query", "embed query")
	}
	vector := vectors[0]

	if view, ok := singleView[strategy]; ok {
		hits, err := e.idx.Search(ctx, string(view), vector, e.cfg.TopK)
		if err != nil {
			return Response{}, errors.Wrap(err, "Engine", "Query", "search "+string(view))
		}
		return Response{Results: toResults(hits, string(view)), Strategy: strategy}, nil
	}

	return e.multiQuery(ctx, text, vector)
}

// multiQuery fans out one search per view in parallel and max-pools the
// per-document scores.
func (e *Engine) multiQuery(ctx context.Context, text string, vector []float32) (Response, error) {
	var mu sync.Mutex
	perView := make(map[string][]index.Hit, len(e.cfg.Views))
	var failedViews []string

	g, gctx := errgroup.WithContext(ctx)
	for _, view := range e.cfg.Views {
		name := string(view)
		g.Go(func() error {
			hits, err := e.idx.Search(gctx, name, vector, e.cfg.PerViewK)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One bad view degrades the response instead of failing it.
				failedViews = append(failedViews, name)
				e.logger.Warn("view search failed", "view", name, "error", err)
				return nil
			}
			perView[name] = hits
			return nil
		})
	}
	_ = g.Wait()

	if len(failedViews) == len(e.cfg.Views) {
		return Response{}, errors.WrapTransient(errors.ErrServiceUnavailable,
			"Engine", "multiQuery", "search all views")
	}

	resp := Response{
		Strategy:    StrategyMulti,
		Degraded:    len(failedViews) > 0,
		FailedViews: failedViews,
	}
	sort.Strings(resp.FailedViews)
	resp.Results = e.merge(text, perView)
	return resp, nil
}

// merged is the max-pooling accumulator for one document.
type merged struct {
	best            Result
	combinedSummary string
}

// merge max-pools per-view hits into one ranked list. Each document keeps
// the score of its best-matching view; views are visited in configured
// order, so on an exact score tie the earlier view stays matched_view.
// Equal scores across documents are broken by lexical overlap between the
// query and the document's combined summary, then by id for stability.
func (e *Engine) merge(queryText string, perView map[string][]index.Hit) []Result {
	docs := make(map[string]*merged)
	for _, v := range e.cfg.Views {
		view := string(v)
		hits, ok := perView[view]
		if !ok {
			continue
		}
		for _, h := range hits {
			m, ok := docs[h.ID]
			if !ok {
				m = &merged{}
				docs[h.ID] = m
				m.best = toResult(h, view)
			} else if h.Score > m.best.Score {
				m.best = toResult(h, view)
			}
			if view == string(summarize.ViewCombined) {
				m.combinedSummary = h.Summary
			}
		}
	}

	results := make([]Result, 0, len(docs))
	overlaps := make(map[string]float64, len(docs))
	for id, m := range docs {
		tieBreak := m.combinedSummary
		if tieBreak == "" {
			tieBreak = m.best.Summary
		}
		overlaps[id] = lexicalOverlap(queryText, tieBreak)
		results = append(results, m.best)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if overlaps[a.ID] != overlaps[b.ID] {
			return overlaps[a.ID] > overlaps[b.ID]
		}
		return a.ID < b.ID
	})

	if len(results) > e.cfg.TopK {
		results = results[:e.cfg.TopK]
	}
	return results
}

// lexicalOverlap is the fraction of distinct query words appearing in the
// candidate text. Cheap, deterministic, only consulted on score ties.
func lexicalOverlap(query, text string) float64 {
	queryWords := fieldsLower(query)
	if len(queryWords) == 0 {
		return 0
	}
	textWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		textWords[strings.Trim(w, ".,!?;:\"'")] = struct{}{}
	}
	matched := 0
	for w := range queryWords {
		if _, ok := textWords[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryWords))
}

func fieldsLower(s string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		words[strings.Trim(w, ".,!?;:\"'")] = struct{}{}
	}
	return words
}

func toResult(h index.Hit, view string) Result {
	return Result{
		ID:          h.ID,
		Title:       h.Title,
		Author:      h.Author,
		Score:       h.Score,
		MatchedView: view,
		Summary:     h.Summary,
	}
}

func toResults(hits []index.Hit, view string) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = toResult(h, view)
	}
	return results
}
