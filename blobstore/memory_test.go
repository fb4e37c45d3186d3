package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bookrec/errors"
)

func TestMemory_PutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Put(ctx, "books/moby-dick.txt", []byte("Call me Ishmael.")))

	data, err := store.Get(ctx, "books/moby-dick.txt")
	require.NoError(t, err)
	assert.Equal(t, "Call me Ishmael.", string(data))
}

func TestMemory_GetMissing(t *testing.T) {
	store := NewMemory()
	_, err := store.Get(context.Background(), "books/nope.txt")
	require.Error(t, err)
	assert.True(t, errors.IsContent(err))
}

func TestMemory_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Put(ctx, "books/b.txt", []byte("b")))
	require.NoError(t, store.Put(ctx, "books/a.txt", []byte("a")))
	require.NoError(t, store.Put(ctx, "summaries/a.json", []byte("{}")))

	keys, err := store.List(ctx, "books/")
	require.NoError(t, err)
	assert.Equal(t, []string{"books/a.txt", "books/b.txt"}, keys)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Put(ctx, "k", []byte("abc")))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
