package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auditkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auditing:\n  application_name: first\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, hook := test.NewNullLogger()
	var latest atomic.Value
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, log, func(cfg *Config) {
			latest.Store(cfg.Auditing.ApplicationName)
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("auditing:\n  application_name: second\n"), 0o644))
	assert.Eventually(t, func() bool {
		name, _ := latest.Load().(string)
		return name == "second"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("store:\n  types: [mongo]\n"), 0o644))
	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Ignoring invalid configuration change" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	name, _ := latest.Load().(string)
	assert.Equal(t, "second", name, "invalid files keep the previous configuration")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_EmptyFileKeepsPreviousConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auditkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auditing:\n  application_name: first\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	var mu sync.Mutex
	var names []string
	go func() {
		_ = Watch(ctx, path, log, func(cfg *Config) {
			mu.Lock()
			defer mu.Unlock()
			names = append(names, cfg.Auditing.ApplicationName)
		})
	}()
	loaded := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), names...)
	}
	logged := func(msg string) func() bool {
		return func() bool {
			for _, e := range hook.AllEntries() {
				if e.Message == msg {
					return true
				}
			}
			return false
		}
	}

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("auditing:\n  application_name: second\n"), 0o644))
	assert.Eventually(t, func() bool { return len(loaded()) == 1 }, 5*time.Second, 20*time.Millisecond)

	// a truncation that settles before the next write
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.Eventually(t, logged("Ignoring empty configuration file"), 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("store:\n  types: [mongo]\n"), 0o644))
	assert.Eventually(t, logged("Ignoring invalid configuration change"), 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"second"}, loaded(), "defaults are never applied")
}

func TestWatch_CoalescesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auditkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auditing:\n  application_name: first\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, _ := test.NewNullLogger()
	var reloads atomic.Int32
	var latest atomic.Value
	go func() {
		_ = Watch(ctx, path, log, func(cfg *Config) {
			reloads.Add(1)
			latest.Store(cfg.Auditing.ApplicationName)
		})
	}()

	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("auditing:\n")
	require.NoError(t, err)
	_, err = f.WriteString("  application_name: third\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool {
		name, _ := latest.Load().(string)
		return name == "third"
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(2 * reloadDelay)
	assert.Equal(t, int32(1), reloads.Load())
}

func TestWatch_MissingDirectory(t *testing.T) {
	log, _ := test.NewNullLogger()
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "auditkit.yaml"), log, func(*Config) {})
	assert.Error(t, err)
}
