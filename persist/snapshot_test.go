package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySnapshotStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	_, err := store.Load(ctx, "room-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, "room-1", []byte(`{"v":1}`)))
	got, err := store.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)

	// The store keeps its own copy; callers mutating buffers afterwards do
	// not corrupt it.
	buf := []byte(`{"v":2}`)
	require.NoError(t, store.Save(ctx, "room-2", buf))
	buf[5] = '9'
	got, err = store.Load(ctx, "room-2")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)

	require.NoError(t, store.Delete(ctx, "room-1"))
	_, err = store.Load(ctx, "room-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Close())
}

func TestFileSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(ctx, "room-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, "room-1", []byte(`{"root":{}}`)))
	got, err := store.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"root":{}}`), got)

	// Overwrites replace.
	require.NoError(t, store.Save(ctx, "room-1", []byte(`{"root":{"a":1}}`)))
	got, err = store.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"root":{"a":1}}`), got)

	require.NoError(t, store.Delete(ctx, "room-1"))
	_, err = store.Load(ctx, "room-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, "room-1"))

	require.NoError(t, store.Close())
}
