// Package ledger provides a durable, crash-consistent record of which
// documents have been processed.
//
// The ledger is the sole shared mutable state on the ingestion path. All
// access goes through its claim/mark operations; concurrent claims never
// return overlapping document ids. State is snapshotted after each
// completed batch rather than after every document, and on restore any
// document left in progress by a crash is treated as pending again
// (at-least-once reprocessing is safe because indexing is idempotent by
// document id).
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/bookrec/errors"
)

// Status is the processing state of one document.
type Status string

const (
	// StatusPending means the document is awaiting processing.
	StatusPending Status = "pending"
	// StatusInProgress means a worker has claimed the document.
	StatusInProgress Status = "in_progress"
	// StatusDone means the document was indexed successfully. Terminal.
	StatusDone Status = "done"
	// StatusFailed means the document exhausted its attempts or its content
	// is permanently unusable. Terminal.
	StatusFailed Status = "failed"
)

// Entry tracks one document through the status state machine.
type Entry struct {
	DocumentID string    `json:"document_id"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Counts aggregates entry statuses.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// Ledger tracks per-document ingestion status with bounded retry.
type Ledger struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	order       []string
	maxAttempts int
	store       SnapshotStore
	logger      *slog.Logger
}

// New creates a ledger backed by the given snapshot store.
func New(store SnapshotStore, maxAttempts int, logger *slog.Logger) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		entries:     make(map[string]*Entry),
		maxAttempts: maxAttempts,
		store:       store,
		logger:      logger,
	}
}

// Discover registers documents as pending. Already-tracked documents are
// left untouched, so re-discovery after a restore never resets progress.
// Returns the number of newly added documents.
func (l *Ledger) Discover(ids ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, id := range ids {
		if _, ok := l.entries[id]; ok {
			continue
		}
		l.entries[id] = &Entry{
			DocumentID: id,
			Status:     StatusPending,
			UpdatedAt:  time.Now(),
		}
		l.order = append(l.order, id)
		added++
	}
	return added
}

// ClaimBatch atomically claims up to n pending documents, marking them in
// progress. Claims are disjoint across concurrent callers. An empty result
// means no work is currently claimable.
func (l *Ledger) ClaimBatch(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var claimed []string
	for _, id := range l.order {
		if len(claimed) >= n {
			break
		}
		entry := l.entries[id]
		if entry.Status != StatusPending {
			continue
		}
		entry.Status = StatusInProgress
		entry.UpdatedAt = time.Now()
		claimed = append(claimed, id)
	}
	return claimed
}

// MarkDone transitions a claimed document to done.
func (l *Ledger) MarkDone(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return errors.Wrap(errors.ErrUnknownDocument, "Ledger", "MarkDone", id)
	}
	if entry.Status != StatusInProgress {
		return errors.Wrap(errors.ErrNotClaimed, "Ledger", "MarkDone", id)
	}
	entry.Status = StatusDone
	entry.Attempts++
	entry.LastError = ""
	entry.UpdatedAt = time.Now()
	return nil
}

// MarkFailed records a failed attempt. Permanent content errors fail the
// document immediately; transient failures return it to pending until the
// attempt budget is exhausted.
func (l *Ledger) MarkFailed(id string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return errors.Wrap(errors.ErrUnknownDocument, "Ledger", "MarkFailed", id)
	}
	if entry.Status != StatusInProgress {
		return errors.Wrap(errors.ErrNotClaimed, "Ledger", "MarkFailed", id)
	}

	entry.Attempts++
	if cause != nil {
		entry.LastError = cause.Error()
	}
	entry.UpdatedAt = time.Now()

	if errors.IsContent(cause) || entry.Attempts >= l.maxAttempts {
		entry.Status = StatusFailed
		l.logger.Warn("document quarantined",
			"document_id", id, "attempts", entry.Attempts, "error", entry.LastError)
	} else {
		entry.Status = StatusPending
	}
	return nil
}

// Quarantine force-fails a document regardless of its current status. Used
// when a failure surfaces only after the document was marked done, such as
// an index write that exhausted its retries in a later flush.
func (l *Ledger) Quarantine(id string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return errors.Wrap(errors.ErrUnknownDocument, "Ledger", "Quarantine", id)
	}
	if entry.Status == StatusFailed {
		return nil
	}
	entry.Status = StatusFailed
	if cause != nil {
		entry.LastError = cause.Error()
	}
	entry.UpdatedAt = time.Now()
	l.logger.Warn("document quarantined",
		"document_id", id, "attempts", entry.Attempts, "error", entry.LastError)
	return nil
}

// Retryable reports whether the last MarkFailed left the document pending.
func (l *Ledger) Retryable(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	return ok && entry.Status == StatusPending && entry.Attempts > 0
}

// Get returns a copy of the entry for a document.
func (l *Ledger) Get(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Counts returns the current status totals.
func (l *Ledger) Counts() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()

	var c Counts
	for _, entry := range l.entries {
		switch entry.Status {
		case StatusPending:
			c.Pending++
		case StatusInProgress:
			c.InProgress++
		case StatusDone:
			c.Done++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// snapshot is the persisted form of the ledger.
type snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// Snapshot persists a consistent copy of the full ledger state.
func (l *Ledger) Snapshot(ctx context.Context) error {
	l.mu.Lock()
	snap := snapshot{SavedAt: time.Now(), Entries: make([]Entry, 0, len(l.order))}
	for _, id := range l.order {
		snap.Entries = append(snap.Entries, *l.entries[id])
	}
	l.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "Ledger", "Snapshot", "marshal snapshot")
	}
	if err := l.store.Save(ctx, data); err != nil {
		return errors.WrapTransient(err, "Ledger", "Snapshot", "persist snapshot")
	}
	return nil
}

// Restore replaces the ledger state with the last snapshot. Documents left
// in progress by a crash are demoted to pending. A missing snapshot leaves
// the ledger empty.
func (l *Ledger) Restore(ctx context.Context) error {
	data, err := l.store.Load(ctx)
	if err != nil {
		if err == ErrNoSnapshot {
			return nil
		}
		return errors.WrapTransient(err, "Ledger", "Restore", "load snapshot")
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "Ledger", "Restore", "unmarshal snapshot")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*Entry, len(snap.Entries))
	l.order = l.order[:0]
	demoted := 0
	for i := range snap.Entries {
		entry := snap.Entries[i]
		if entry.Status == StatusInProgress {
			entry.Status = StatusPending
			demoted++
		}
		l.entries[entry.DocumentID] = &entry
		l.order = append(l.order, entry.DocumentID)
	}

	if demoted > 0 {
		l.logger.Info("requeued interrupted documents", "count", demoted)
	}
	return nil
}

// String summarizes ledger state for logs.
func (l *Ledger) String() string {
	c := l.Counts()
	return fmt.Sprintf("ledger{pending=%d in_progress=%d done=%d failed=%d}",
		c.Pending, c.InProgress, c.Done, c.Failed)
}
