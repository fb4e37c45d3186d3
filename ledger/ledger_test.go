package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bookrec/errors"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(NewMemoryStore(), 3, nil)
}

func TestLedger_DiscoverIsIdempotent(t *testing.T) {
	l := newTestLedger(t)

	assert.Equal(t, 3, l.Discover("a", "b", "c"))
	assert.Equal(t, 0, l.Discover("a", "b", "c"))
	assert.Equal(t, 1, l.Discover("b", "d"))

	c := l.Counts()
	assert.Equal(t, 4, c.Pending)
}

func TestLedger_ClaimBatchDisjoint(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 20; i++ {
		l.Discover(fmt.Sprintf("doc-%02d", i))
	}

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch := l.ClaimBatch(3)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, id := range batch {
					seen[id]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "document %s claimed more than once", id)
	}
	assert.Equal(t, 20, l.Counts().InProgress)
}

func TestLedger_MarkDoneRequiresClaim(t *testing.T) {
	l := newTestLedger(t)
	l.Discover("a")

	err := l.MarkDone("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotClaimed)

	err = l.MarkDone("ghost")
	assert.ErrorIs(t, err, errors.ErrUnknownDocument)

	require.Equal(t, []string{"a"}, l.ClaimBatch(1))
	require.NoError(t, l.MarkDone("a"))

	entry, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusDone, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
}

func TestLedger_QuarantineOverridesDone(t *testing.T) {
	l := newTestLedger(t)
	l.Discover("a", "b")

	require.Equal(t, []string{"a", "b"}, l.ClaimBatch(2))
	require.NoError(t, l.MarkDone("a"))
	require.NoError(t, l.MarkDone("b"))

	cause := errors.WrapTransient(errors.ErrIndexRejected, "Indexer", "Flush", "index a")
	require.NoError(t, l.Quarantine("a", cause))

	entry, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Contains(t, entry.LastError, "rejected")

	entry, _ = l.Get("b")
	assert.Equal(t, StatusDone, entry.Status)

	// Idempotent on an already-failed document; unknown ids are rejected.
	require.NoError(t, l.Quarantine("a", cause))
	assert.ErrorIs(t, l.Quarantine("ghost", cause), errors.ErrUnknownDocument)
}

func TestLedger_TransientFailureRequeues(t *testing.T) {
	l := newTestLedger(t)
	l.Discover("a")

	transient := errors.WrapTransient(errors.ErrServiceUnavailable, "Embedder", "Generate", "embed view")

	// Two transient failures leave the document pending with attempts counted.
	for want := 1; want <= 2; want++ {
		require.Equal(t, []string{"a"}, l.ClaimBatch(1))
		require.NoError(t, l.MarkFailed("a", transient))

		entry, _ := l.Get("a")
		assert.Equal(t, StatusPending, entry.Status)
		assert.Equal(t, want, entry.Attempts)
		assert.True(t, l.Retryable("a"))
	}

	// Third failure exhausts the budget.
	require.Equal(t, []string{"a"}, l.ClaimBatch(1))
	require.NoError(t, l.MarkFailed("a", transient))

	entry, _ := l.Get("a")
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
	assert.Empty(t, l.ClaimBatch(1))
}

func TestLedger_ContentErrorFailsImmediately(t *testing.T) {
	l := newTestLedger(t)
	l.Discover("a")

	require.Equal(t, []string{"a"}, l.ClaimBatch(1))
	cause := errors.WrapContent(errors.ErrContentTooShort, "Summarizer", "Summarize", "summarize 5 chars")
	require.NoError(t, l.MarkFailed("a", cause))

	entry, _ := l.Get("a")
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Contains(t, entry.LastError, "content too short")
}

func TestLedger_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	l := New(store, 3, nil)
	l.Discover("done", "pending", "failed", "running")

	claim := l.ClaimBatch(4)
	require.Len(t, claim, 4)
	require.NoError(t, l.MarkDone("done"))
	require.NoError(t, l.MarkFailed("pending", errors.WrapTransient(errors.ErrRateLimited, "x", "y", "z")))
	require.NoError(t, l.MarkFailed("failed", errors.WrapContent(errors.ErrContentTooShort, "x", "y", "z")))
	// "running" stays in progress, simulating a crash mid-document.
	require.NoError(t, l.Snapshot(ctx))

	restored := New(store, 3, nil)
	require.NoError(t, restored.Restore(ctx))

	c := restored.Counts()
	assert.Equal(t, 1, c.Done)
	assert.Equal(t, 1, c.Failed)
	// Both the transient failure and the interrupted document are pending.
	assert.Equal(t, 2, c.Pending)
	assert.Equal(t, 0, c.InProgress)

	// Attempt counts survive the round trip.
	entry, ok := restored.Get("pending")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Attempts)
}

func TestLedger_RestoreWithoutSnapshotIsEmpty(t *testing.T) {
	l := New(NewMemoryStore(), 3, nil)
	require.NoError(t, l.Restore(context.Background()))
	assert.Equal(t, Counts{}, l.Counts())
}

func TestLedger_ResumeSkipsFinishedDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	l := New(store, 3, nil)
	l.Discover("a", "b", "c")
	require.Len(t, l.ClaimBatch(2), 2)
	require.NoError(t, l.MarkDone("a"))
	require.NoError(t, l.MarkDone("b"))
	require.NoError(t, l.Snapshot(ctx))

	resumed := New(store, 3, nil)
	require.NoError(t, resumed.Restore(ctx))
	// Re-discovery of the same corpus adds nothing and resets nothing.
	assert.Equal(t, 0, resumed.Discover("a", "b", "c"))
	assert.Equal(t, []string{"c"}, resumed.ClaimBatch(10))
}

func TestFileStore_AtomicReplace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ledger.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Save(ctx, []byte(`{"v":1}`)))
	require.NoError(t, store.Save(ctx, []byte(`{"v":2}`)))

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))
}

func TestFileStore_Validation(t *testing.T) {
	_, err := NewFileStore("")
	assert.True(t, errors.IsConfig(err))
}
