// Package main implements the bookrec command line: a pipeline that
// summarizes books into semantic views, embeds them into a vector index,
// and serves similarity queries over the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/bookrec/blobstore"
	"github.com/c360/bookrec/config"
	"github.com/c360/bookrec/embedding"
	"github.com/c360/bookrec/index"
	"github.com/c360/bookrec/ingest"
	"github.com/c360/bookrec/ledger"
	"github.com/c360/bookrec/query"
	"github.com/c360/bookrec/summarize"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "bookrec"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development secrets; missing .env is fine.
	_ = godotenv.Load()

	cli, err := parseFlags()
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if err := validateFlags(cli); err != nil {
		return err
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return err
	}

	if cli.Command == "validate" {
		logger.Info("configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cli.Command {
	case "ingest":
		return runIngest(ctx, cli, cfg, logger)
	case "query":
		return runQuery(ctx, cli, cfg, logger)
	}
	return nil
}

func runIngest(ctx context.Context, cli *CLIConfig, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	if cli.MetricsPort > 0 {
		serveMetrics(cli.MetricsPort, registry, logger)
	}

	nc, js, err := connectNATS(cfg, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	corpusBucket, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket: cfg.NATS.CorpusBucket,
	})
	if err != nil {
		return fmt.Errorf("open corpus bucket %q: %w", cfg.NATS.CorpusBucket, err)
	}
	corpus, err := ingest.NewCorpus(blobstore.NewObjectStore(corpusBucket), cfg.Ingest.CorpusPath, logger)
	if err != nil {
		return err
	}

	var artifacts blobstore.Store
	if cfg.NATS.ArtifactBucket != "" {
		bucket, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket: cfg.NATS.ArtifactBucket,
		})
		if err != nil {
			return fmt.Errorf("open artifact bucket %q: %w", cfg.NATS.ArtifactBucket, err)
		}
		artifacts = blobstore.NewObjectStore(bucket)
	}

	var cache embedding.Cache
	if cfg.NATS.CacheBucket != "" {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket: cfg.NATS.CacheBucket,
		})
		if err != nil {
			return fmt.Errorf("open cache bucket %q: %w", cfg.NATS.CacheBucket, err)
		}
		cache = embedding.NewNATSCache(kv)
	}

	ledgerStore, err := newLedgerStore(ctx, js, cfg)
	if err != nil {
		return err
	}
	led := ledger.New(ledgerStore, cfg.Ingest.MaxAttempts, logger)

	embedder, err := embedding.NewAdapter(embedding.Config{
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		APIKey:            cfg.Embedding.APIKey,
		Dimensions:        cfg.Embedding.Dimensions,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Cache:             cache,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	generator, err := summarize.NewChatGenerator(summarize.GeneratorConfig{
		BaseURL:           cfg.Chat.BaseURL,
		Model:             cfg.Chat.Model,
		APIKey:            cfg.Chat.APIKey,
		MaxTokens:         cfg.Chat.MaxTokens,
		RequestsPerSecond: cfg.Chat.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	summarizer, err := summarize.New(generator, summarize.Config{
		ChunkSize: cfg.Summarizer.ChunkSize,
		Overlap:   cfg.Summarizer.Overlap,
		MinLen:    cfg.Summarizer.MinLen,
		MaxLen:    cfg.Summarizer.MaxLen,
	}, logger)
	if err != nil {
		return err
	}

	vectorIndex, err := newVectorIndex(cfg, logger)
	if err != nil {
		return err
	}
	if err := vectorIndex.EnsureIndex(ctx, viewNames(summarizer.Views())); err != nil {
		return err
	}

	indexer, err := index.NewBulkIndexer(vectorIndex, index.BulkIndexerConfig{
		BatchSize:     cfg.Ingest.IndexBatch,
		FlushInterval: cfg.Ingest.FlushInterval,
		Logger:        logger,
		Registerer:    registry,
	})
	if err != nil {
		return err
	}

	orchestrator, err := ingest.NewOrchestrator(corpus, summarizer, embedder, indexer, led, artifacts, ingest.Config{
		Workers:    cfg.Ingest.Workers,
		BatchSize:  cfg.Ingest.BatchSize,
		Logger:     logger,
		Registerer: registry,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := orchestrator.Run(ctx)
	logger.Info("ingestion finished", "stats", stats.String(), "duration", time.Since(start))
	return err
}

func runQuery(ctx context.Context, cli *CLIConfig, cfg *config.Config, logger *slog.Logger) error {
	strategy, err := query.ParseStrategy(cli.Strategy)
	if err != nil {
		return err
	}

	embedder, err := embedding.NewAdapter(embedding.Config{
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		APIKey:            cfg.Embedding.APIKey,
		Dimensions:        cfg.Embedding.Dimensions,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	vectorIndex, err := newVectorIndex(cfg, logger)
	if err != nil {
		return err
	}

	topK := cfg.Query.TopK
	if cli.TopK > 0 {
		topK = cli.TopK
	}
	engine, err := query.NewEngine(embedder, vectorIndex, query.Config{
		TopK:     topK,
		PerViewK: cfg.Query.PerViewK,
		Timeout:  cfg.Query.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	resp, err := engine.Query(ctx, strings.Join(cli.Args, " "), strategy)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func connectNATS(cfg *config.Config, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open JetStream: %w", err)
	}
	logger.Info("connected to NATS", "url", cfg.NATS.URL)
	return nc, js, nil
}

func newLedgerStore(ctx context.Context, js jetstream.JetStream, cfg *config.Config) (ledger.SnapshotStore, error) {
	if cfg.NATS.LedgerBucket != "" {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket: cfg.NATS.LedgerBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("open ledger bucket %q: %w", cfg.NATS.LedgerBucket, err)
		}
		return ledger.NewKVStore(kv)
	}
	return ledger.NewFileStore(cfg.Ingest.LedgerPath)
}

func newVectorIndex(cfg *config.Config, logger *slog.Logger) (*index.OpenSearch, error) {
	return index.NewOpenSearch(index.OpenSearchConfig{
		Endpoint:   cfg.OpenSearch.Endpoint,
		IndexName:  cfg.OpenSearch.IndexName,
		Username:   cfg.OpenSearch.Username,
		Password:   cfg.OpenSearch.Password,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})
}

func serveMetrics(port int, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

func viewNames(views []summarize.View) []string {
	names := make([]string, len(views))
	for i, v := range views {
		names[i] = string(v)
	}
	return names
}
