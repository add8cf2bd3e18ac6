package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

// setupTestStore creates an in-memory SQLite store with the schema initialized.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGet_Empty(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "playbackState")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "playbackState", []byte(`{"volume":0.5}`)))
	require.NoError(t, store.Set(ctx, "playbackState", []byte(`{"volume":0.25}`)))

	got, err := store.Get(ctx, "playbackState")
	require.NoError(t, err)
	assert.JSONEq(t, `{"volume":0.25}`, string(got))

	at, err := store.UpdatedAt(ctx, "playbackState")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), at, 5*time.Second)

	_, err = store.UpdatedAt(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "playbackState", []byte("saved")))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "playbackState")
	require.NoError(t, err)
	assert.Equal(t, "saved", string(got))
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "state.db", filepath.Base(path))
	assert.Equal(t, "tunebridge", filepath.Base(filepath.Dir(path)))
}
