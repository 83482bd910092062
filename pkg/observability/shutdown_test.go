package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"with custom timeout", 10 * time.Second, 10 * time.Second},
		{"with zero timeout uses default", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, _ := test.NewNullLogger()
			sm := NewShutdownManager(log, &http.Server{}, tt.timeout)
			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("Expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
			if len(sm.shutdownFuncs) != 0 {
				t.Error("Expected no shutdown functions")
			}
		})
	}
}

func TestShutdownFunctionOrdering(t *testing.T) {
	log, hook := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, time.Second)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"retention", "audit manager", "audit stores"} {
		name := name
		sm.RegisterShutdownFunc(name, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"retention", "audit manager", "audit stores"}, order)
	assert.Equal(t, "Graceful shutdown complete", hook.LastEntry().Message)
}

func TestShutdownWithMixedSuccessAndFailure(t *testing.T) {
	log, _ := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, time.Second)

	ran := false
	sm.RegisterShutdownFunc("stores", func(context.Context) error { return errors.New("flush failed") })
	sm.RegisterShutdownFunc("tracing", func(context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stores: flush failed")
	assert.True(t, ran, "later functions still run after a failure")
}

func TestShutdownTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, 20*time.Millisecond)

	skipped := true
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.RegisterShutdownFunc("after", func(context.Context) error {
		skipped = false
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timeout reached before after")
	assert.True(t, skipped)
}

func TestShutdownWithHTTPServer(t *testing.T) {
	log, _ := test.NewNullLogger()
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()

	sm := NewShutdownManager(log, ts.Config, time.Second)
	require.NoError(t, sm.Shutdown())

	_, err := http.Get(ts.URL)
	assert.Error(t, err, "server no longer accepts connections")
}

func TestWaitForShutdown(t *testing.T) {
	log, _ := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, time.Second)

	called := make(chan struct{})
	sm.RegisterShutdownFunc("audit manager", func(context.Context) error {
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
	<-called
}
