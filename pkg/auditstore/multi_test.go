package auditstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditkit/pkg/auditing"
	"github.com/platinummonkey/auditkit/pkg/config"
)

type recordingObserver struct {
	mu     sync.Mutex
	writes map[string]error
}

func (o *recordingObserver) ObserveStoreWrite(store string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writes == nil {
		o.writes = make(map[string]error)
	}
	o.writes[store] = err
}

func TestMultiStore_Save(t *testing.T) {
	first := NewMemoryStore(0)
	second := NewMemoryStore(0)
	failing := auditing.StoreFunc(func(context.Context, *auditing.AuditLogInfo) error {
		return errors.New("unavailable")
	})

	t.Run("all sinks receive the log", func(t *testing.T) {
		multi := NewMultiStore(0, Sink{Name: "first", Store: first}, Sink{Name: "second", Store: second})
		require.NoError(t, multi.Save(context.Background(), sampleLog()))
		assert.Equal(t, 1, first.Len())
		assert.Equal(t, 1, second.Len())
	})

	t.Run("a failing sink does not stop the others", func(t *testing.T) {
		observer := &recordingObserver{}
		multi := NewMultiStore(1,
			Sink{Name: "broken", Store: failing},
			Sink{Name: "first", Store: first},
		)
		multi.SetObserver(observer)

		err := multi.Save(context.Background(), sampleLog())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken: unavailable")
		assert.Equal(t, 2, first.Len())

		assert.Error(t, observer.writes["broken"])
		assert.NoError(t, observer.writes["first"])
	})

	t.Run("no sinks", func(t *testing.T) {
		assert.NoError(t, NewMultiStore(0).Save(context.Background(), sampleLog()))
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		info := sampleLog()
		info.ID = id
		require.NoError(t, store.Save(ctx, info))
	}

	logs := store.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].ID)
	assert.Equal(t, "c", logs[1].ID)

	logs[0].Comments = append(logs[0].Comments, "mutated")
	assert.NotContains(t, store.Logs()[0].Comments, "mutated", "callers get copies")
}

func TestOpen(t *testing.T) {
	log, _ := test.NewNullLogger()

	t.Run("memory and file", func(t *testing.T) {
		cfg := config.Default().Store
		cfg.Types = []string{config.StoreMemory, config.StoreFile}
		cfg.FileBasePath = t.TempDir()

		stores, err := Open(context.Background(), cfg, log)
		require.NoError(t, err)
		defer stores.Close()

		require.NotNil(t, stores.Memory)
		require.NotNil(t, stores.File)
		assert.Nil(t, stores.DB())
		assert.Nil(t, stores.RedisClient())

		require.NoError(t, stores.Store().Save(context.Background(), sampleLog()))
		assert.Equal(t, 1, stores.Memory.Len())

		logs, err := stores.File.ReadLogs(0)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})

	t.Run("sqlite is the purger without postgres", func(t *testing.T) {
		cfg := config.Default().Store
		cfg.Types = []string{config.StoreMemory}

		stores, err := Open(context.Background(), cfg, log)
		require.NoError(t, err)
		assert.Nil(t, stores.Purger())
		require.NoError(t, stores.Close())

		cfg.Types = []string{config.StoreSQLite}
		cfg.SQLitePath = filepath.Join(t.TempDir(), "audit.db")

		stores, err = Open(context.Background(), cfg, log)
		require.NoError(t, err)
		defer stores.Close()

		require.NotNil(t, stores.SQLite)
		assert.Equal(t, stores.SQLite, stores.Purger())
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg := config.Default().Store
		cfg.Types = []string{"mongo"}

		_, err := Open(context.Background(), cfg, log)
		assert.Error(t, err)
	})

	t.Run("no types", func(t *testing.T) {
		cfg := config.Default().Store
		cfg.Types = nil

		_, err := Open(context.Background(), cfg, log)
		assert.Error(t, err)
	})
}
