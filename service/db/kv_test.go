package db

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/brojonat/goldium/service/config"
	"github.com/brojonat/goldium/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKV exercises the KV contract against any backend.
func testKV(t *testing.T, store KV) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		v, err := store.Get(ctx, "history_missing")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "history_a", []byte(`[{"id":"1"}]`)))
		v, err := store.Get(ctx, "history_a")
		require.NoError(t, err)
		assert.Equal(t, `[{"id":"1"}]`, string(v))
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "history_b", []byte("one")))
		require.NoError(t, store.Put(ctx, "history_b", []byte("two")))
		v, err := store.Get(ctx, "history_b")
		require.NoError(t, err)
		assert.Equal(t, "two", string(v))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "history_c", []byte("x")))
		require.NoError(t, store.Delete(ctx, "history_c"))
		v, err := store.Get(ctx, "history_c")
		require.NoError(t, err)
		assert.Nil(t, v)

		// Deleting a missing key is not an error.
		assert.NoError(t, store.Delete(ctx, "history_c"))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(nil)
	testKV(t, store)

	t.Run("values are copied", func(t *testing.T) {
		ctx := context.Background()
		buf := []byte("abc")
		require.NoError(t, store.Put(ctx, "k", buf))
		buf[0] = 'z'
		v, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(v))
	})

	require.NoError(t, store.Close())
	_, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Put(context.Background(), "k", nil), ErrClosed)
}

func TestBadgerStore_InMemory(t *testing.T) {
	store, err := OpenBadger("", nil, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	testKV(t, store)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "history")

	store, err := OpenBadger(dir, nil, discardLogger())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "history_a", []byte("kept")))
	require.NoError(t, store.Close())

	store, err = OpenBadger(dir, nil, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	v, err := store.Get(ctx, "history_a")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(v))
}

func TestPostgresStore(t *testing.T) {
	store := NewTestPostgresStore(t)
	testKV(t, store)
}

func TestRedisStore(t *testing.T) {
	store := NewTestRedisStore(t)
	testKV(t, store)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics(prometheus.NewRegistry())

	t.Run("memory", func(t *testing.T) {
		kv, err := Open(ctx, &config.Config{HistoryBackend: config.BackendMemory}, m, discardLogger())
		require.NoError(t, err)
		defer kv.Close()
		assert.IsType(t, &MemoryStore{}, kv)
		testKV(t, kv)
	})

	t.Run("badger", func(t *testing.T) {
		cfg := &config.Config{
			HistoryBackend: config.BackendBadger,
			HistoryPath:    filepath.Join(t.TempDir(), "history"),
		}
		kv, err := Open(ctx, cfg, m, discardLogger())
		require.NoError(t, err)
		defer kv.Close()
		assert.IsType(t, &BadgerStore{}, kv)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(ctx, &config.Config{HistoryBackend: "sqlite"}, m, discardLogger())
		assert.ErrorContains(t, err, "unknown history backend")
	})

	t.Run("bad redis url", func(t *testing.T) {
		_, err := Open(ctx, &config.Config{HistoryBackend: config.BackendRedis, RedisURL: "::nope"}, m, discardLogger())
		assert.ErrorContains(t, err, "invalid redis url")
	})
}
