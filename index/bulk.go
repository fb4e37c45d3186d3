package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/pkg/retry"
)

// BulkIndexerConfig configures batching behavior.
type BulkIndexerConfig struct {
	// BatchSize triggers a flush once this many records accumulate
	// (default 25).
	BatchSize int

	// FlushInterval flushes partial batches that have been sitting idle
	// (default 30s). Negative disables the timer; only size-triggered and
	// explicit flushes run.
	FlushInterval time.Duration

	// Retry controls backoff for transient bulk-request failures.
	Retry retry.Config

	// Logger for flush diagnostics (optional, defaults to slog.Default()).
	Logger *slog.Logger

	// Registerer receives flush metrics when set.
	Registerer prometheus.Registerer
}

// BulkIndexer accumulates records and writes them to the underlying index
// in batches. Accumulation is guarded by a mutex but network flushes run
// outside it, so workers keep adding while a flush is in flight. Records
// rejected per-item are retried alone; records that keep failing are
// recorded and reported by Reconcile.
type BulkIndexer struct {
	idx      VectorIndex
	cfg      BulkIndexerConfig
	logger   *slog.Logger
	retryCfg retry.Config

	mu      sync.Mutex
	pending []Record

	// flushMu serializes flushes so batches reach the index in order.
	flushMu sync.Mutex

	failMu sync.Mutex
	failed map[string]error

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool

	indexed      prometheus.Counter
	dropped      prometheus.Counter
	flushedTotal prometheus.Counter
}

// NewBulkIndexer creates a bulk indexer over idx.
func NewBulkIndexer(idx VectorIndex, cfg BulkIndexerConfig) (*BulkIndexer, error) {
	if idx == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "BulkIndexer", "NewBulkIndexer", "index is required")
	}
	if cfg.BatchSize < 0 {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "BulkIndexer", "NewBulkIndexer", "batch size cannot be negative")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 25
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	b := &BulkIndexer{
		idx:      idx,
		cfg:      cfg,
		logger:   logger,
		retryCfg: retryCfg,
		failed:   make(map[string]error),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if cfg.Registerer != nil {
		b.indexed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookrec_indexer_records_indexed_total",
			Help: "Records successfully written to the vector index",
		})
		b.dropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookrec_indexer_records_dropped_total",
			Help: "Records that failed indexing after retries",
		})
		b.flushedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookrec_indexer_flushes_total",
			Help: "Bulk flushes issued to the vector index",
		})
		cfg.Registerer.MustRegister(b.indexed, b.dropped, b.flushedTotal)
	}

	return b, nil
}

// Start launches the idle-flush timer. Optional; size-triggered flushes
// work without it.
func (b *BulkIndexer) Start(ctx context.Context) {
	if b.cfg.FlushInterval < 0 {
		return
	}
	b.started = true
	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(b.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := b.Flush(ctx); err != nil {
					b.logger.Warn("interval flush failed", "error", err)
				}
			}
		}
	}()
}

// Add queues a record, flushing when the batch is full.
func (b *BulkIndexer) Add(ctx context.Context, rec Record) error {
	b.mu.Lock()
	b.pending = append(b.pending, rec)
	full := len(b.pending) >= b.cfg.BatchSize
	b.mu.Unlock()

	if full {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes all pending records now. Per-record rejections are retried
// individually; records that never land are tracked, not returned as an
// error.
func (b *BulkIndexer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if b.flushedTotal != nil {
		b.flushedTotal.Inc()
	}
	return b.flushBatch(ctx, batch)
}

// flushBatch sends one batch, retrying transient request failures, then
// retrying only the individually rejected records.
func (b *BulkIndexer) flushBatch(ctx context.Context, batch []Record) error {
	remaining := batch
	byID := make(map[string]Record, len(batch))
	for _, r := range batch {
		byID[r.ID] = r
	}

	var lastItemErrs []UpsertError
	var itemFailure bool
	err := retry.Do(ctx, b.retryCfg, func() error {
		itemFailure = false
		itemErrs, err := b.idx.BulkUpsert(ctx, remaining)
		if err != nil {
			if !errors.IsTransient(err) {
				return retry.NonRetryable(err)
			}
			return err
		}
		if len(itemErrs) == 0 {
			lastItemErrs = nil
			return nil
		}

		// Only the rejected records go into the next attempt.
		itemFailure = true
		lastItemErrs = itemErrs
		next := make([]Record, 0, len(itemErrs))
		for _, ie := range itemErrs {
			if r, ok := byID[ie.ID]; ok {
				next = append(next, r)
			}
		}
		remaining = next
		return fmt.Errorf("%d of %d records rejected", len(itemErrs), len(batch))
	})

	if err != nil {
		b.recordFailures(batch, remaining, lastItemErrs, err)
		if itemFailure {
			// The rest of the batch landed. The rejected records are tracked
			// per id and surfaced through FailedIDs; the failure does not
			// belong to whichever caller happened to trigger this flush.
			b.clearFailures(batch, remaining)
			return nil
		}
		return errors.WrapTransient(err, "BulkIndexer", "Flush",
			fmt.Sprintf("index batch of %d", len(batch)))
	}

	if b.indexed != nil {
		b.indexed.Add(float64(len(batch)))
	}
	b.clearFailures(batch, nil)
	return nil
}

// clearFailures forgets earlier failures for batch records that have now
// landed, keeping only the given still-failed subset tracked.
func (b *BulkIndexer) clearFailures(batch, stillFailed []Record) {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	keep := make(map[string]struct{}, len(stillFailed))
	for _, r := range stillFailed {
		keep[r.ID] = struct{}{}
	}
	for _, r := range batch {
		if _, ok := keep[r.ID]; !ok {
			delete(b.failed, r.ID)
		}
	}
}

func (b *BulkIndexer) recordFailures(batch, remaining []Record, itemErrs []UpsertError, cause error) {
	b.failMu.Lock()
	defer b.failMu.Unlock()

	if len(itemErrs) > 0 {
		for _, ie := range itemErrs {
			b.failed[ie.ID] = ie.Err
		}
	} else {
		// The whole request kept failing; every remaining record is unaccounted for.
		for _, r := range remaining {
			b.failed[r.ID] = cause
		}
	}
	if b.dropped != nil {
		b.dropped.Add(float64(len(remaining)))
	}
	if b.indexed != nil && len(batch) > len(remaining) {
		b.indexed.Add(float64(len(batch) - len(remaining)))
	}
	b.logger.Warn("records failed indexing after retries",
		"failed", len(remaining), "batch", len(batch))
}

// FailedIDs returns ids of records that never landed, in no particular order.
func (b *BulkIndexer) FailedIDs() []string {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	ids := make([]string, 0, len(b.failed))
	for id := range b.failed {
		ids = append(ids, id)
	}
	return ids
}

// Reconcile compares the index document count against the expected number
// and logs a warning on mismatch. Returns the observed count.
func (b *BulkIndexer) Reconcile(ctx context.Context, expected int) (int, error) {
	count, err := b.idx.Count(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "BulkIndexer", "Reconcile", "count documents")
	}
	if count != expected {
		b.logger.Warn("index count does not match ledger",
			"indexed", count, "expected", expected, "failed_records", len(b.FailedIDs()))
	}
	return count, nil
}

// Close flushes remaining records and stops the timer loop.
func (b *BulkIndexer) Close(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	if b.started {
		select {
		case <-b.doneCh:
		case <-ctx.Done():
		}
	}
	return b.Flush(ctx)
}
