package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/c360/bookrec/errors"
)

// maxReduceDepth bounds the recursive reduce passes. Digests shrink their
// input by an order of magnitude, so hitting this means the generator is
// not condensing.
const maxReduceDepth = 6

// Config configures the hierarchical summarizer.
type Config struct {
	// ChunkSize and Overlap control the map-phase chunking of raw content.
	ChunkSize int
	Overlap   int

	// ReduceChunkSize is the chunk size for recursive reduce passes over
	// joined digests (default ChunkSize).
	ReduceChunkSize int

	// CollapseThreshold is the joined-digest length above which another
	// map/reduce pass runs (default ChunkSize).
	CollapseThreshold int

	// MinLen and MaxLen bound every finished view summary. Output below
	// MinLen is a permanent content error.
	MinLen int
	MaxLen int

	// MapConcurrency caps parallel chunk digests within one document so a
	// single large document cannot starve others (default 4).
	MapConcurrency int

	// Views to produce. Empty means DefaultViews().
	Views []View
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 8000
	}
	if c.Overlap == 0 {
		c.Overlap = 500
	}
	if c.ReduceChunkSize == 0 {
		c.ReduceChunkSize = c.ChunkSize
	}
	if c.CollapseThreshold == 0 {
		c.CollapseThreshold = c.ChunkSize
	}
	if c.MinLen == 0 {
		c.MinLen = 100
	}
	if c.MaxLen == 0 {
		c.MaxLen = 4000
	}
	if c.MapConcurrency == 0 {
		c.MapConcurrency = 4
	}
	if len(c.Views) == 0 {
		c.Views = DefaultViews()
	}
}

// Summarizer reduces arbitrarily long text into short semantic views with
// bounded cost.
type Summarizer struct {
	gen     Generator
	cfg     Config
	chunker *Chunker
	reducer *Chunker
	logger  *slog.Logger
}

// New creates a Summarizer.
func New(gen Generator, cfg Config, logger *slog.Logger) (*Summarizer, error) {
	if gen == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Summarizer", "New", "generator is required")
	}
	cfg.applyDefaults()

	for _, v := range cfg.Views {
		if !v.Valid() {
			return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Summarizer", "New",
				fmt.Sprintf("unknown view %q", v))
		}
	}

	chunker, err := NewChunker(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}
	reducer, err := NewChunker(cfg.ReduceChunkSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Summarizer{
		gen:     gen,
		cfg:     cfg,
		chunker: chunker,
		reducer: reducer,
		logger:  logger,
	}, nil
}

// Views returns the configured view set in indexing order.
func (s *Summarizer) Views() []View {
	return s.cfg.Views
}

// Summarize produces one summary per configured view. The bundle is
// complete across all views or an error is returned; no partial bundles.
func (s *Summarizer) Summarize(ctx context.Context, content string) (Bundle, error) {
	if len(content) < s.cfg.MinLen {
		return nil, errors.WrapContent(errors.ErrContentTooShort, "Summarizer", "Summarize",
			fmt.Sprintf("summarize %d chars (min %d)", len(content), s.cfg.MinLen))
	}

	bundle := make(Bundle, len(s.cfg.Views))
	for _, view := range s.cfg.Views {
		summary, err := s.summarizeView(ctx, view, content, 0)
		if err != nil {
			return nil, err
		}
		if len(summary) < s.cfg.MinLen {
			return nil, errors.WrapContent(errors.ErrSummaryTooShort, "Summarizer", "Summarize",
				fmt.Sprintf("%s summary of %d chars (min %d)", view, len(summary), s.cfg.MinLen))
		}
		bundle[view] = clampSummary(summary, s.cfg.MaxLen)
	}
	return bundle, nil
}

// summarizeView runs one map/reduce pass for a view, recursing while the
// joined digests remain above the collapse threshold.
func (s *Summarizer) summarizeView(ctx context.Context, view View, text string, depth int) (string, error) {
	if depth >= maxReduceDepth {
		return "", errors.WrapContent(
			fmt.Errorf("reduction did not converge after %d passes", depth),
			"Summarizer", "summarizeView", string(view))
	}

	chunker := s.chunker
	if depth > 0 {
		chunker = s.reducer
	}

	// Documents no longer than one chunk skip the map phase entirely.
	if len(text) <= chunker.ChunkSize {
		return s.gen.Generate(ctx, reduceInstruction(view), text)
	}

	chunks := chunker.Split(text)
	digests, err := s.mapChunks(ctx, view, chunks)
	if err != nil {
		return "", err
	}

	joined := strings.Join(digests, "\n\n")
	if len(joined) > s.cfg.CollapseThreshold {
		s.logger.Debug("recursing reduce pass",
			"view", view, "depth", depth+1, "joined_chars", len(joined))
		return s.summarizeView(ctx, view, joined, depth+1)
	}

	return s.gen.Generate(ctx, reduceInstruction(view), joined)
}

// mapChunks digests each chunk in parallel, bounded by MapConcurrency.
func (s *Summarizer) mapChunks(ctx context.Context, view View, chunks []string) ([]string, error) {
	digests := make([]string, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MapConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			digest, err := s.gen.Generate(ctx, mapInstruction(view, i, len(chunks)), chunk)
			if err != nil {
				return err
			}
			digests[i] = digest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}

// clampSummary trims a summary to maxLen, cutting at the last sentence
// terminal before the bound when one exists.
func clampSummary(summary string, maxLen int) string {
	if len(summary) <= maxLen {
		return summary
	}
	cut := summary[:maxLen]
	for i := maxLen - 1; i > maxLen/2; i-- {
		switch cut[i] {
		case '.', '!', '?':
			return cut[:i+1]
		}
	}
	return cut
}
