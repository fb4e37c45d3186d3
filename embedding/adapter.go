package embedding

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/pkg/retry"
)

// DefaultMaxInputChars bounds the text accepted for a single embedding call.
// Callers truncate upstream; the adapter rejects rather than silently
// truncating.
const DefaultMaxInputChars = 30000

// Config configures the embedding Adapter.
type Config struct {
	// BaseURL is the base URL of the OpenAI-compatible embedding service.
	BaseURL string

	// Model is the embedding model identifier.
	Model string

	// APIKey for authentication (optional for local services).
	APIKey string

	// Dimensions pins the expected vector dimension. Zero adopts the
	// dimension of the first successful response; any later mismatch is a
	// fatal configuration error either way.
	Dimensions int

	// MaxInputChars caps accepted input length (default DefaultMaxInputChars).
	MaxInputChars int

	// Timeout for HTTP requests (default 30s).
	Timeout time.Duration

	// Retry controls backoff for transient endpoint failures.
	Retry retry.Config

	// RequestsPerSecond throttles remote calls. Zero disables throttling.
	RequestsPerSecond float64

	// Cache for embedding results (optional but recommended).
	Cache Cache

	// Logger for warnings (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

// Adapter calls an external OpenAI-compatible embedding service.
// It is safe for concurrent use.
type Adapter struct {
	client   *openai.Client
	model    string
	maxChars int
	retryCfg retry.Config
	limiter  *rate.Limiter
	cache    Cache
	logger   *slog.Logger

	dimsMu     sync.Mutex
	dimensions int
}

// NewAdapter creates a new embedding adapter.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Adapter", "NewAdapter", "base_url is required")
	}
	if cfg.Model == "" {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Adapter", "NewAdapter", "model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxChars := cfg.MaxInputChars
	if maxChars == 0 {
		maxChars = DefaultMaxInputChars
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key" // Local services don't need a real key
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	return &Adapter{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxChars:   maxChars,
		retryCfg:   retryCfg,
		limiter:    limiter,
		cache:      cfg.Cache,
		logger:     logger,
	}, nil
}

// Embed generates the embedding for a single text.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.Generate(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Generate creates embeddings for the given texts, consulting the cache
// first and calling the endpoint only for misses.
func (a *Adapter) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	for _, text := range texts {
		if text == "" {
			return nil, errors.WrapContent(errors.ErrEmptyInput, "Adapter", "Generate", "validate input")
		}
		if len(text) > a.maxChars {
			return nil, errors.WrapContent(errors.ErrInputTooLong, "Adapter", "Generate",
				fmt.Sprintf("validate input of %d chars (max %d)", len(text), a.maxChars))
		}
	}

	embeddings := make([][]float32, len(texts))
	var missIndexes []int
	var missTexts []string

	if a.cache != nil {
		for i, text := range texts {
			hash := ContentHash(text)
			if cached, err := a.cache.Get(ctx, hash); err == nil && a.checkDimensions(len(cached)) == nil {
				embeddings[i] = cached
			} else {
				missIndexes = append(missIndexes, i)
				missTexts = append(missTexts, text)
			}
		}
	} else {
		missIndexes = make([]int, len(texts))
		for i := range texts {
			missIndexes[i] = i
		}
		missTexts = texts
	}

	if len(missTexts) > 0 {
		vectors, err := a.callEndpoint(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			embeddings[missIndexes[i]] = vec
			if a.cache != nil {
				hash := ContentHash(missTexts[i])
				if err := a.cache.Put(ctx, hash, vec); err != nil {
					// Cache is best-effort
					a.logger.Warn("embedding cache put failed", "hash", hash, "error", err)
				}
			}
		}
	}

	return embeddings, nil
}

// callEndpoint performs the remote call with retry and validates dimensions.
func (a *Adapter) callEndpoint(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(a.model),
	}

	resp, err := retry.DoWithResult(ctx, a.retryCfg, func() (openai.EmbeddingResponse, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return openai.EmbeddingResponse{}, retry.NonRetryable(err)
			}
		}
		resp, err := a.client.CreateEmbeddings(ctx, req)
		if err != nil && !isTransientCall(err) {
			return resp, retry.NonRetryable(err)
		}
		return resp, err
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Adapter", "Generate", "call embedding endpoint")
	}

	if len(resp.Data) != len(texts) {
		return nil, errors.WrapTransient(
			fmt.Errorf("endpoint returned %d embeddings for %d texts", len(resp.Data), len(texts)),
			"Adapter", "Generate", "validate response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if err := a.checkDimensions(len(data.Embedding)); err != nil {
			return nil, err
		}
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

// checkDimensions adopts the first observed dimension when none was pinned
// and rejects any later disagreement. Guarded because Generate runs from
// multiple workers at once.
func (a *Adapter) checkDimensions(n int) error {
	a.dimsMu.Lock()
	defer a.dimsMu.Unlock()
	if a.dimensions == 0 {
		a.dimensions = n
		return nil
	}
	if n != a.dimensions {
		return errors.WrapConfig(errors.ErrDimensionMismatch, "Adapter", "Generate",
			fmt.Sprintf("expected %d dimensions, got %d", a.dimensions, n))
	}
	return nil
}

// isTransientCall reports whether an endpoint error is worth retrying.
// Rate limits and server-side failures are transient; 4xx rejections are not.
func isTransientCall(err error) bool {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return errors.IsTransient(err)
}

// Dimensions returns the dimensionality of embeddings produced.
func (a *Adapter) Dimensions() int {
	a.dimsMu.Lock()
	defer a.dimsMu.Unlock()
	return a.dimensions
}

// Model returns the model identifier.
func (a *Adapter) Model() string {
	return a.model
}

// Close releases resources (no-op for the HTTP client).
func (a *Adapter) Close() error {
	return nil
}
