package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bookrec/blobstore"
	"github.com/c360/bookrec/errors"
)

const gutenbergSample = `The Project Gutenberg eBook of Moby Dick

Title: Moby Dick; or, The Whale
Author: Herman Melville
Release date: July 1, 2001

*** START OF THE PROJECT GUTENBERG EBOOK MOBY DICK; OR, THE WHALE ***

Call me Ishmael. Some years ago, never mind how long precisely, having
little or no money in my purse, I thought I would sail about a little.

*** END OF THE PROJECT GUTENBERG EBOOK MOBY DICK; OR, THE WHALE ***

This and all associated files of various formats will be found at
www.gutenberg.org.`

func newTestCorpus(t *testing.T) (*Corpus, *blobstore.Memory) {
	t.Helper()
	store := blobstore.NewMemory()
	corpus, err := NewCorpus(store, "books/", nil)
	require.NoError(t, err)
	return corpus, store
}

func TestCorpus_LoadStripsGutenbergBoilerplate(t *testing.T) {
	ctx := context.Background()
	corpus, store := newTestCorpus(t)
	require.NoError(t, store.Put(ctx, "books/moby_dick.txt", []byte(gutenbergSample)))

	doc, err := corpus.Load(ctx, "books/moby_dick.txt")
	require.NoError(t, err)

	want := Document{
		ID:     "moby_dick",
		Title:  "Moby Dick; or, The Whale",
		Author: "Herman Melville",
	}
	if diff := cmp.Diff(want, doc, cmpopts.IgnoreFields(Document{}, "Content", "Checksum")); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, strings.HasPrefix(doc.Content, "Call me Ishmael."))
	assert.NotContains(t, doc.Content, "PROJECT GUTENBERG")
	assert.NotContains(t, doc.Content, "www.gutenberg.org")
	assert.NotEmpty(t, doc.Checksum)
}

func TestCorpus_LoadWithoutMarkersPassesThrough(t *testing.T) {
	ctx := context.Background()
	corpus, store := newTestCorpus(t)
	plain := "A plain document with no boilerplate at all."
	require.NoError(t, store.Put(ctx, "books/plain.txt", []byte(plain)))

	doc, err := corpus.Load(ctx, "books/plain.txt")
	require.NoError(t, err)
	assert.Equal(t, plain, doc.Content)
	assert.Equal(t, "plain", doc.Title)
	assert.Equal(t, "Unknown", doc.Author)
}

func TestCorpus_LoadEmptyIsContentError(t *testing.T) {
	ctx := context.Background()
	corpus, store := newTestCorpus(t)
	require.NoError(t, store.Put(ctx, "books/empty.txt", nil))

	_, err := corpus.Load(ctx, "books/empty.txt")
	require.Error(t, err)
	assert.True(t, errors.IsContent(err))
}

func TestCorpus_Discover(t *testing.T) {
	ctx := context.Background()
	corpus, store := newTestCorpus(t)
	require.NoError(t, store.Put(ctx, "books/a.txt", []byte("x")))
	require.NoError(t, store.Put(ctx, "books/b.txt", []byte("y")))
	require.NoError(t, store.Put(ctx, "other/c.txt", []byte("z")))

	keys, err := corpus.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"books/a.txt", "books/b.txt"}, keys)
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "moby_dick", DocumentID("books/moby_dick.txt"))
	assert.Equal(t, "pride", DocumentID("pride.txt"))
	assert.Equal(t, "noext", DocumentID("deep/path/noext"))
}
