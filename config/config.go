// Package config loads and validates the application configuration from a
// YAML file with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/bookrec/errors"
)

// Config is the complete application configuration.
type Config struct {
	NATS       NATSConfig       `yaml:"nats"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chat       ChatConfig       `yaml:"chat"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Query      QueryConfig      `yaml:"query"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NATSConfig connects the pipeline to JetStream for blobs, the embedding
// cache and checkpoint snapshots.
type NATSConfig struct {
	URL string `yaml:"url"`

	// CorpusBucket is the Object Store bucket holding raw documents.
	CorpusBucket string `yaml:"corpus_bucket"`

	// ArtifactBucket is the Object Store bucket for summary bundles.
	ArtifactBucket string `yaml:"artifact_bucket"`

	// CacheBucket is the KV bucket for the embedding cache. Empty disables
	// caching.
	CacheBucket string `yaml:"cache_bucket"`

	// LedgerBucket is the KV bucket for checkpoint snapshots. Empty falls
	// back to LedgerPath.
	LedgerBucket string `yaml:"ledger_bucket"`
}

// OpenSearchConfig points at the vector index.
type OpenSearchConfig struct {
	Endpoint  string `yaml:"endpoint"`
	IndexName string `yaml:"index_name"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// EmbeddingConfig configures the embedding endpoint.
type EmbeddingConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	Dimensions        int     `yaml:"dimensions"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ChatConfig configures the summarization chat endpoint.
type ChatConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SummarizerConfig bounds the hierarchical summarizer.
type SummarizerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
	MinLen    int `yaml:"min_len"`
	MaxLen    int `yaml:"max_len"`
}

// IngestConfig controls the ingestion run.
type IngestConfig struct {
	Workers     int    `yaml:"workers"`
	BatchSize   int    `yaml:"batch_size"`
	MaxAttempts int    `yaml:"max_attempts"`
	IndexBatch  int    `yaml:"index_batch"`
	CorpusPath  string `yaml:"corpus_path"`

	// LedgerPath is the local checkpoint file used when no KV bucket is
	// configured.
	LedgerPath string `yaml:"ledger_path"`

	FlushInterval time.Duration `yaml:"flush_interval"`
}

// QueryConfig controls query serving.
type QueryConfig struct {
	TopK     int           `yaml:"top_k"`
	PerViewK int           `yaml:"per_view_k"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			CorpusBucket:   "books-raw",
			ArtifactBucket: "books-summaries",
			CacheBucket:    "embedding-cache",
			LedgerBucket:   "ingest-ledger",
		},
		OpenSearch: OpenSearchConfig{
			Endpoint:  "https://localhost:9200",
			IndexName: "books",
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Chat: ChatConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 800,
		},
		Summarizer: SummarizerConfig{
			ChunkSize: 8000,
			Overlap:   500,
			MinLen:    100,
			MaxLen:    4000,
		},
		Ingest: IngestConfig{
			Workers:     4,
			BatchSize:   8,
			MaxAttempts: 3,
			IndexBatch:  25,
			LedgerPath:  "ledger.json",
		},
		Query: QueryConfig{
			TopK:    10,
			Timeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. An empty path returns defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapConfig(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapConfig(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and connection overrides from the environment,
// so credentials stay out of checked-in config files.
func (c *Config) applyEnv() {
	if v := os.Getenv("BOOKREC_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("BOOKREC_OPENSEARCH_ENDPOINT"); v != "" {
		c.OpenSearch.Endpoint = v
	}
	if v := os.Getenv("BOOKREC_OPENSEARCH_USERNAME"); v != "" {
		c.OpenSearch.Username = v
	}
	if v := os.Getenv("BOOKREC_OPENSEARCH_PASSWORD"); v != "" {
		c.OpenSearch.Password = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = v
		}
		if c.Chat.APIKey == "" {
			c.Chat.APIKey = v
		}
	}
}

// Validate checks the configuration for systemic problems. Every finding
// is a config-class error that should abort startup.
func (c *Config) Validate() error {
	fail := func(msg string) error {
		return errors.WrapConfig(errors.ErrInvalidConfig, "Config", "Validate", msg)
	}

	if c.NATS.URL == "" {
		return fail("nats.url is required")
	}
	if c.OpenSearch.Endpoint == "" {
		return fail("opensearch.endpoint is required")
	}
	if c.OpenSearch.IndexName == "" {
		return fail("opensearch.index_name is required")
	}
	if c.Embedding.Model == "" {
		return fail("embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fail("embedding.dimensions must be positive")
	}
	if c.Chat.Model == "" {
		return fail("chat.model is required")
	}
	if c.Summarizer.Overlap >= c.Summarizer.ChunkSize {
		return fail(fmt.Sprintf("summarizer.overlap %d must be below chunk_size %d",
			c.Summarizer.Overlap, c.Summarizer.ChunkSize))
	}
	if c.Ingest.Workers <= 0 {
		return fail("ingest.workers must be positive")
	}
	if c.Ingest.MaxAttempts <= 0 {
		return fail("ingest.max_attempts must be positive")
	}
	if c.NATS.LedgerBucket == "" && c.Ingest.LedgerPath == "" {
		return fail("one of nats.ledger_bucket or ingest.ledger_path is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fail(fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fail(fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}
	return nil
}
