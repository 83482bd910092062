// Package httpaudit opens one audit scope per HTTP request and records the
// request metadata on the audit log.
package httpaudit

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/auditkit/pkg/auditing"
	"github.com/platinummonkey/auditkit/pkg/contextkeys"
	"github.com/platinummonkey/auditkit/pkg/httputil"
)

// Middleware provides HTTP middleware for audit scopes
type Middleware struct {
	manager *auditing.Manager
	log     logrus.FieldLogger
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(manager *auditing.Manager, log logrus.FieldLogger) *Middleware {
	return &Middleware{
		manager: manager,
		log:     log,
	}
}

// MuxMiddleware adapts the middleware for router.Use
func (m *Middleware) MuxMiddleware() mux.MiddlewareFunc {
	return m.Handler
}

// Handler wraps an HTTP handler with an audit scope. The scope is saved when
// the handler returns, including when it panics.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.shouldAudit(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if _, ok := contextkeys.RequestID(ctx); !ok {
			if id := r.Header.Get(httputil.RequestIDHeader); id != "" {
				ctx = contextkeys.WithRequestID(ctx, id)
			}
		}

		ctx, scope := m.manager.BeginScope(ctx)
		defer scope.Close()

		requestID, _ := contextkeys.RequestID(ctx)
		scope.Builder().Update(func(info *auditing.AuditLogInfo) {
			info.HTTPMethod = r.Method
			info.URL = r.URL.RequestURI()
			info.ClientIP = httputil.ClientIP(r)
			if info.CorrelationID == "" {
				info.CorrelationID = requestID
			}
		})

		rw := httputil.NewStatusRecorder(w)
		defer func() {
			if rec := recover(); rec != nil {
				rw.SetStatus(http.StatusInternalServerError)
				scope.AddException(fmt.Errorf("panic: %v", rec))
				m.finish(scope, rw)
				panic(rec)
			}
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))
		m.finish(scope, rw)
	})
}

func (m *Middleware) finish(scope *auditing.Scope, rw *httputil.StatusRecorder) {
	status := rw.Status()
	scope.Builder().Update(func(info *auditing.AuditLogInfo) {
		info.HTTPStatusCode = status
	})
	if status >= http.StatusInternalServerError {
		m.log.WithFields(logrus.Fields{
			"audit_log_id": scope.ID(),
			"status":       status,
		}).Debug("Audited request failed")
	}
}

// shouldAudit skips requests while auditing is disabled, and GET and HEAD
// requests unless they are enabled
func (m *Middleware) shouldAudit(r *http.Request) bool {
	opts := m.manager.Options()
	if !opts.IsEnabled {
		return false
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return opts.IsEnabledForGetRequests
	}
	return true
}
