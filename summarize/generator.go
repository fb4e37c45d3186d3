package summarize

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/pkg/retry"
)

// Generator produces a condensed rendition of text following an instruction.
// Implementations call a language model; tests inject deterministic fakes.
type Generator interface {
	Generate(ctx context.Context, instruction, text string) (string, error)
}

// GeneratorConfig configures the chat-completion generator.
type GeneratorConfig struct {
	// BaseURL is the base URL of the OpenAI-compatible chat service.
	BaseURL string

	// Model is the chat model identifier.
	Model string

	// APIKey for authentication (optional for local services).
	APIKey string

	// MaxTokens bounds each completion (default 800, matching the longest
	// reduce-phase summaries).
	MaxTokens int

	// Timeout for HTTP requests (default 120s; long chunks are slow).
	Timeout time.Duration

	// Retry controls backoff for transient endpoint failures.
	Retry retry.Config

	// RequestsPerSecond throttles remote calls. Zero disables throttling.
	RequestsPerSecond float64

	// Logger for warnings (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

// ChatGenerator generates summaries via an OpenAI-compatible chat endpoint.
type ChatGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	retryCfg  retry.Config
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewChatGenerator creates a chat-completion backed generator.
func NewChatGenerator(cfg GeneratorConfig) (*ChatGenerator, error) {
	if cfg.BaseURL == "" {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "ChatGenerator", "NewChatGenerator", "base_url is required")
	}
	if cfg.Model == "" {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "ChatGenerator", "NewChatGenerator", "model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 800
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key"
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

	return &ChatGenerator{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: maxTokens,
		retryCfg:  retryCfg,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Generate runs one chat completion with the instruction as the system
// prompt and the text as the user message.
func (g *ChatGenerator) Generate(ctx context.Context, instruction, text string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	}

	resp, err := retry.DoWithResult(ctx, g.retryCfg, func() (openai.ChatCompletionResponse, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return openai.ChatCompletionResponse{}, retry.NonRetryable(err)
			}
		}
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err != nil && !isTransientChat(err) {
			return resp, retry.NonRetryable(err)
		}
		return resp, err
	})
	if err != nil {
		return "", errors.WrapTransient(err, "ChatGenerator", "Generate", "call chat endpoint")
	}

	if len(resp.Choices) == 0 {
		return "", errors.WrapTransient(
			fmt.Errorf("chat endpoint returned no choices"),
			"ChatGenerator", "Generate", "validate response")
	}

	return resp.Choices[0].Message.Content, nil
}

func isTransientChat(err error) bool {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return errors.IsTransient(err)
}
