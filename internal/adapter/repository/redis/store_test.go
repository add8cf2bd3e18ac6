package redis

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

// newTestStore connects a store to an in-process Redis server.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()

	store, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "playbackState")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_SetAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "playbackState", []byte(`{"volume":1}`)))
	require.NoError(t, store.Set(ctx, "playbackState", []byte(`{"volume":0.3}`)))

	got, err := store.Get(ctx, "playbackState")
	require.NoError(t, err)
	assert.JSONEq(t, `{"volume":0.3}`, string(got))

	// Keys are namespaced and never expire
	raw, err := mr.Get("tunebridge:playbackState")
	require.NoError(t, err)
	assert.JSONEq(t, `{"volume":0.3}`, raw)
	assert.Zero(t, mr.TTL("tunebridge:playbackState"))
	assert.False(t, mr.Exists("playbackState"))
}

func TestStore_PrefixesIsolate(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	other := NewWithClient(store.client, "other:")
	require.NoError(t, other.Set(ctx, "playbackState", []byte(`{"volume":0.5}`)))

	_, err := store.Get(ctx, "playbackState")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, mr.Exists("other:playbackState"))
}

func TestStore_ServerError(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.SetError("LOADING server is loading")

	_, err := store.Get(ctx, "playbackState")
	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Op)
	assert.Equal(t, backend, storeErr.Backend)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	err = store.Set(ctx, "playbackState", []byte(`{}`))
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "set", storeErr.Op)

	mr.SetError("")
	require.NoError(t, store.Set(ctx, "playbackState", []byte(`{}`)))
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	mr.Close()

	_, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
