package httpaudit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditkit/pkg/auditing"
	"github.com/platinummonkey/auditkit/pkg/auditstore"
	"github.com/platinummonkey/auditkit/pkg/httputil"
)

const orderService = "example.OrderService"

func setupMiddlewareTest(t *testing.T, opts auditing.Options) (*Middleware, *auditing.Manager, *auditstore.MemoryStore) {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := auditstore.NewMemoryStore(0)
	registry := auditing.NewRegistry().EnableAuditing(orderService)

	manager, err := auditing.NewManager(store, registry, auditing.WithOptions(opts), auditing.WithLogger(log))
	require.NoError(t, err)
	return NewMiddleware(manager, log), manager, store
}

func TestMiddleware_RecordsRequest(t *testing.T) {
	mw, manager, store := setupMiddlewareTest(t, auditing.DefaultOptions())

	router := mux.NewRouter()
	router.Use(mw.MuxMiddleware())
	router.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		err := manager.Intercept(r.Context(), auditing.Invocation{Service: orderService, Method: "PlaceOrder"}, func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPost)

	req := httptest.NewRequest(http.MethodPost, "/orders?source=web", strings.NewReader(`{}`))
	req.Header.Set(httputil.RequestIDHeader, "req-42")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	logs := store.Logs()
	require.Len(t, logs, 1, "the request and the intercepted call share one log")

	info := logs[0]
	assert.Equal(t, http.MethodPost, info.HTTPMethod)
	assert.Equal(t, "/orders?source=web", info.URL)
	assert.Equal(t, "203.0.113.9", info.ClientIP)
	assert.Equal(t, http.StatusCreated, info.HTTPStatusCode)
	assert.Equal(t, "req-42", info.CorrelationID)
	require.Len(t, info.Actions, 1)
	assert.Equal(t, "PlaceOrder", info.Actions[0].MethodName)
}

func TestMiddleware_GetRequests(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("skipped by default", func(t *testing.T) {
		mw, _, store := setupMiddlewareTest(t, auditing.DefaultOptions())
		mw.Handler(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", nil))
		assert.Zero(t, store.Len())
	})

	t.Run("enabled", func(t *testing.T) {
		opts := auditing.DefaultOptions()
		opts.IsEnabledForGetRequests = true
		mw, _, store := setupMiddlewareTest(t, opts)
		mw.Handler(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", nil))
		require.Equal(t, 1, store.Len())
		assert.Equal(t, http.StatusOK, store.Logs()[0].HTTPStatusCode)
	})
}

func TestMiddleware_Disabled(t *testing.T) {
	opts := auditing.DefaultOptions()
	opts.IsEnabled = false
	mw, _, store := setupMiddlewareTest(t, opts)

	var scoped bool
	mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped = auditing.Current(r.Context()) != nil
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/orders/1", nil))

	assert.False(t, scoped)
	assert.Zero(t, store.Len())
}

func TestMiddleware_Panic(t *testing.T) {
	mw, _, store := setupMiddlewareTest(t, auditing.DefaultOptions())
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	assert.PanicsWithValue(t, "boom", func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/orders/1", nil))
	})

	logs := store.Logs()
	require.Len(t, logs, 1, "the log is saved even when the handler panics")
	assert.Equal(t, http.StatusInternalServerError, logs[0].HTTPStatusCode)
	require.Len(t, logs[0].Exceptions, 1)
	assert.Contains(t, logs[0].Exceptions[0], "boom")
}

func TestMiddleware_RecoveryChain(t *testing.T) {
	mw, _, store := setupMiddlewareTest(t, auditing.DefaultOptions())
	log, _ := test.NewNullLogger()

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(log),
		httputil.RequestIDMiddleware,
		mw.Handler,
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, 1, store.Len())
	assert.Equal(t, w.Header().Get(httputil.RequestIDHeader), store.Logs()[0].CorrelationID)
}
