package auditstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStoreTest creates a miniredis instance and returns the store and cleanup function
func setupRedisStoreTest(t *testing.T, cfg RedisConfig) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cfg.URL = "redis://" + mr.Addr()
	store, err := NewRedisStore(cfg)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create redis store: %v", err)
	}

	cleanup := func() {
		store.Close()
		mr.Close()
	}

	return store, mr, cleanup
}

func TestRedisStore_Save(t *testing.T) {
	store, mr, cleanup := setupRedisStoreTest(t, RedisConfig{Key: "audit:test", MaxLen: 3, TTL: time.Hour})
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		info := sampleLog()
		info.ID = fmt.Sprintf("log-%d", i)
		require.NoError(t, store.Save(ctx, info))
	}

	items, err := mr.List("audit:test")
	require.NoError(t, err)
	assert.Len(t, items, 3, "feed is trimmed to MaxLen")

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "log-4", recent[0].ID, "newest first")
	assert.Equal(t, "log-2", recent[2].ID)

	got, err := store.Get(ctx, "log-0")
	require.NoError(t, err)
	require.NotNil(t, got, "per-log keys outlive the feed")
	assert.Equal(t, "orders", got.ApplicationName)

	assert.Equal(t, time.Hour, mr.TTL("audit:test:log-0"))
	mr.FastForward(2 * time.Hour)

	got, err = store.Get(ctx, "log-0")
	require.NoError(t, err)
	assert.Nil(t, got, "expired logs are gone")
}

func TestRedisStore_Defaults(t *testing.T) {
	store, _, cleanup := setupRedisStoreTest(t, RedisConfig{})
	defer cleanup()

	assert.Equal(t, "auditkit:logs", store.config.Key)
	assert.Equal(t, int64(10000), store.config.MaxLen)
	assert.NoError(t, store.Ping(context.Background()))

	recent, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestNewRedisStore_Errors(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(RedisConfig{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestRedisStore_SaveAfterServerStops(t *testing.T) {
	store, mr, cleanup := setupRedisStoreTest(t, RedisConfig{})
	defer cleanup()

	mr.Close()
	assert.Error(t, store.Save(context.Background(), sampleLog()))
}
