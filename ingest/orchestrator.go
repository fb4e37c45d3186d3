package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/bookrec/blobstore"
	"github.com/c360/bookrec/embedding"
	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/index"
	"github.com/c360/bookrec/ledger"
	"github.com/c360/bookrec/pkg/worker"
	"github.com/c360/bookrec/summarize"
)

// Config configures the ingestion orchestrator.
type Config struct {
	// Workers processing documents concurrently (default 4).
	Workers int

	// QueueSize bounds the worker queue (default Workers*2).
	QueueSize int

	// BatchSize is how many documents are claimed from the ledger at a
	// time; the ledger is snapshotted after each batch (default 8).
	BatchSize int

	// ArtifactPrefix is the blob key prefix under which summary bundles
	// are persisted (default "summaries/"). Empty artifacts store disables
	// persistence.
	ArtifactPrefix string

	// StopTimeout bounds the worker-pool drain on shutdown (default 60s).
	StopTimeout time.Duration

	// Logger (optional, defaults to slog.Default()).
	Logger *slog.Logger

	// Registerer receives pipeline metrics when set.
	Registerer prometheus.Registerer
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = c.Workers * 2
	}
	if c.BatchSize == 0 {
		c.BatchSize = 8
	}
	if c.ArtifactPrefix == "" {
		c.ArtifactPrefix = "summaries/"
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats summarizes one ingestion run.
type Stats struct {
	Discovered int   `json:"discovered"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Skipped    int   `json:"skipped"`
	Retried    int64 `json:"retried"`
}

// Orchestrator runs the full ingestion pipeline: claim documents from the
// ledger in batches, process them on a bounded worker pool, and snapshot
// progress after every batch. Transient per-document failures requeue with
// bounded attempts; content failures quarantine the document; config
// failures abort the run.
type Orchestrator struct {
	corpus     *Corpus
	summarizer *summarize.Summarizer
	embedder   embedding.Embedder
	indexer    *index.BulkIndexer
	ledger     *ledger.Ledger
	artifacts  blobstore.Store
	cfg        Config
	logger     *slog.Logger

	keys sync.Map // document id -> storage key

	processed atomic.Int64
	failedN   atomic.Int64
	retried   atomic.Int64

	fatalMu  sync.Mutex
	fatalErr error
	cancel   context.CancelFunc

	outcomes      *prometheus.CounterVec
	errorsByClass *prometheus.CounterVec
}

// NewOrchestrator wires the pipeline stages together. The artifacts store
// may be nil to skip summary persistence.
func NewOrchestrator(
	corpus *Corpus,
	summarizer *summarize.Summarizer,
	embedder embedding.Embedder,
	indexer *index.BulkIndexer,
	led *ledger.Ledger,
	artifacts blobstore.Store,
	cfg Config,
) (*Orchestrator, error) {
	switch {
	case corpus == nil:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Orchestrator", "NewOrchestrator", "corpus is required")
	case summarizer == nil:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Orchestrator", "NewOrchestrator", "summarizer is required")
	case embedder == nil:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Orchestrator", "NewOrchestrator", "embedder is required")
	case indexer == nil:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Orchestrator", "NewOrchestrator", "indexer is required")
	case led == nil:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Orchestrator", "NewOrchestrator", "ledger is required")
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		corpus:     corpus,
		summarizer: summarizer,
		embedder:   embedder,
		indexer:    indexer,
		ledger:     led,
		artifacts:  artifacts,
		cfg:        cfg,
		logger:     cfg.Logger,
	}
	if cfg.Registerer != nil {
		o.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookrec_ingest_documents_total",
			Help: "Documents finished by outcome",
		}, []string{"outcome"})
		o.errorsByClass = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookrec_ingest_errors_total",
			Help: "Document processing errors by class",
		}, []string{"class"})
		cfg.Registerer.MustRegister(o.outcomes, o.errorsByClass)
	}
	return o, nil
}

// task is one claimed document travelling through the worker pool.
type task struct {
	id string
	wg *sync.WaitGroup
}

// Run executes the pipeline until the corpus is drained, the context is
// cancelled, or a configuration error aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.cancel = cancel

	// Every log line of this run shares one correlation id.
	o.logger = o.cfg.Logger.With("run_id", uuid.NewString())

	var stats Stats

	if err := o.ledger.Restore(ctx); err != nil {
		return stats, err
	}

	keys, err := o.corpus.Discover(ctx)
	if err != nil {
		return stats, err
	}
	stats.Discovered = len(keys)

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id := DocumentID(key)
		o.keys.Store(id, key)
		if entry, ok := o.ledger.Get(id); ok &&
			(entry.Status == ledger.StatusDone || entry.Status == ledger.StatusFailed) {
			stats.Skipped++
			continue
		}
		ids = append(ids, id)
	}
	added := o.ledger.Discover(ids...)
	o.logger.Info("corpus discovered",
		"documents", len(keys), "new", added, "skipped", stats.Skipped)

	pool, err := o.newPool()
	if err != nil {
		return stats, err
	}
	if err := pool.Start(ctx); err != nil {
		return stats, err
	}

	o.indexer.Start(ctx)

	for {
		if err := o.fatal(); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		batch := o.ledger.ClaimBatch(o.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, id := range batch {
			wg.Add(1)
			if err := pool.SubmitWait(ctx, task{id: id, wg: &wg}); err != nil {
				wg.Done()
				// Unclaim so the document is not stranded in progress.
				_ = o.ledger.MarkFailed(id, errors.WrapTransient(err, "Orchestrator", "Run", "submit"))
			}
		}
		wg.Wait()

		if err := o.ledger.Snapshot(ctx); err != nil {
			o.logger.Warn("checkpoint snapshot failed", "error", err)
		}
	}

	if err := pool.Stop(o.cfg.StopTimeout); err != nil {
		o.logger.Warn("worker pool drain timed out", "error", err)
	}
	if err := o.indexer.Close(ctx); err != nil {
		o.logger.Warn("final index flush failed", "error", err)
	}

	// Records the indexer gave up on were already marked done by their
	// workers; demote them so resumed runs do not skip lost documents.
	var demoted int64
	for _, id := range o.indexer.FailedIDs() {
		entry, ok := o.ledger.Get(id)
		if !ok || entry.Status != ledger.StatusDone {
			continue
		}
		cause := errors.WrapTransient(errors.ErrIndexRejected, "Orchestrator", "Run", "index "+id)
		if err := o.ledger.Quarantine(id, cause); err != nil {
			o.logger.Warn("quarantine rejected", "document_id", id, "error", err)
			continue
		}
		demoted++
		o.countOutcome("demoted")
	}
	if demoted > 0 {
		o.processed.Add(-demoted)
		o.failedN.Add(demoted)
		o.logger.Warn("documents lost to index failures", "count", demoted)
	}

	if err := o.ledger.Snapshot(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("final snapshot failed", "error", err)
	}

	counts := o.ledger.Counts()
	if _, err := o.indexer.Reconcile(ctx, counts.Done); err != nil {
		o.logger.Warn("reconcile failed", "error", err)
	}

	stats.Processed = o.processed.Load()
	stats.Failed = o.failedN.Load()
	stats.Retried = o.retried.Load()

	if err := o.fatal(); err != nil {
		return stats, err
	}
	return stats, ctx.Err()
}

func (o *Orchestrator) newPool() (*worker.Pool[task], error) {
	var opts []worker.Option[task]
	if o.cfg.Registerer != nil {
		opts = append(opts, worker.WithMetrics[task](o.cfg.Registerer, "bookrec_ingest"))
	}
	return worker.NewPool(o.cfg.Workers, o.cfg.QueueSize, o.process, opts...)
}

// process runs one document end to end: load, summarize, embed each view,
// queue for indexing, mark done.
func (o *Orchestrator) process(ctx context.Context, t task) error {
	defer t.wg.Done()

	keyVal, ok := o.keys.Load(t.id)
	if !ok {
		err := errors.WrapContent(errors.ErrDocumentNotFound, "Orchestrator", "process", t.id)
		o.fail(t.id, err)
		return err
	}
	key := keyVal.(string)

	doc, err := o.corpus.Load(ctx, key)
	if err != nil {
		o.fail(t.id, errors.Wrap(err, "Orchestrator", "process", "load "+t.id))
		return err
	}

	bundle, err := o.summarizer.Summarize(ctx, doc.Content)
	if err != nil {
		o.fail(t.id, err)
		return err
	}
	o.persistBundle(ctx, t.id, bundle)

	// One batched embedding call covers every view of the document.
	order := o.summarizer.Views()
	texts := make([]string, len(order))
	for i, view := range order {
		texts[i] = bundle[view]
	}
	embeddings, err := o.embedder.Generate(ctx, texts)
	if err != nil {
		o.fail(t.id, err)
		return err
	}
	if len(embeddings) != len(order) {
		err := errors.WrapTransient(
			fmt.Errorf("embedding count %d does not match %d views", len(embeddings), len(order)),
			"Orchestrator", "process", "embed views")
		o.fail(t.id, err)
		return err
	}

	views := make(map[string]index.ViewPayload, len(order))
	for i, view := range order {
		views[string(view)] = index.ViewPayload{Summary: bundle[view], Embedding: embeddings[i]}
	}

	record := index.Record{
		ID:     doc.ID,
		Title:  doc.Title,
		Author: doc.Author,
		Metadata: map[string]string{
			"checksum": doc.Checksum,
			"model":    o.embedder.Model(),
		},
		Views: views,
	}
	if err := o.indexer.Add(ctx, record); err != nil {
		o.fail(t.id, err)
		return err
	}

	if err := o.ledger.MarkDone(t.id); err != nil {
		return err
	}
	o.processed.Add(1)
	o.countOutcome("done")
	o.logger.Info("document indexed", "document_id", t.id, "title", doc.Title)
	return nil
}

// persistBundle writes the summary bundle as an artifact so re-runs and
// audits can read summaries without re-generating them. Best effort.
func (o *Orchestrator) persistBundle(ctx context.Context, id string, bundle summarize.Bundle) {
	if o.artifacts == nil {
		return
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return
	}
	key := o.cfg.ArtifactPrefix + id + ".json"
	if err := o.artifacts.Put(ctx, key, data); err != nil {
		o.logger.Warn("summary artifact not persisted", "document_id", id, "error", err)
	}
}

// fail routes one document failure through the ledger according to its
// error class. Config errors abort the whole run.
func (o *Orchestrator) fail(id string, err error) {
	if errors.IsConfig(err) {
		o.fatalMu.Lock()
		if o.fatalErr == nil {
			o.fatalErr = err
			o.logger.Error("configuration error, aborting run", "error", err)
		}
		o.fatalMu.Unlock()
		if o.cancel != nil {
			o.cancel()
		}
		// Unclaim without consuming an attempt budget beyond this one.
		_ = o.ledger.MarkFailed(id, err)
		return
	}

	if o.errorsByClass != nil {
		o.errorsByClass.WithLabelValues(errors.Classify(err).String()).Inc()
	}

	if markErr := o.ledger.MarkFailed(id, err); markErr != nil {
		o.logger.Warn("mark failed rejected", "document_id", id, "error", markErr)
		return
	}

	if o.ledger.Retryable(id) {
		o.retried.Add(1)
		o.countOutcome("requeued")
		o.logger.Warn("document requeued", "document_id", id,
			"class", errors.Classify(err).String(), "error", err)
		return
	}

	o.failedN.Add(1)
	o.countOutcome("failed")
	o.logger.Warn("document failed", "document_id", id,
		"class", errors.Classify(err).String(), "error", err)
}

func (o *Orchestrator) countOutcome(outcome string) {
	if o.outcomes != nil {
		o.outcomes.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) fatal() error {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	return o.fatalErr
}

// String renders run statistics for logs.
func (s Stats) String() string {
	return fmt.Sprintf("discovered=%d processed=%d failed=%d skipped=%d retried=%d",
		s.Discovered, s.Processed, s.Failed, s.Skipped, s.Retried)
}
