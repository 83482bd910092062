package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/auditkit/pkg/httputil"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Audit log metrics
	AuditLogSavesTotal    *prometheus.CounterVec
	AuditLogSaveDuration  *prometheus.HistogramVec
	AuditLogsSkippedTotal prometheus.Counter
	AuditActionsTotal     prometheus.Counter
	EntityChangesTotal    prometheus.Counter

	// Store metrics
	StoreWritesTotal   *prometheus.CounterVec
	StoreWriteDuration *prometheus.HistogramVec

	// Retention metrics
	RetentionRunsTotal   *prometheus.CounterVec
	RetentionPurgedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditkit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditkit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		// Audit log metrics
		AuditLogSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditkit_audit_log_saves_total",
				Help: "Total number of audit log saves",
			},
			[]string{"status"},
		),
		AuditLogSaveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditkit_audit_log_save_duration_seconds",
				Help:    "Audit log save duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		AuditLogsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auditkit_audit_logs_skipped_total",
				Help: "Total number of empty audit logs that were not saved",
			},
		),
		AuditActionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auditkit_audit_actions_total",
				Help: "Total number of audited actions recorded",
			},
		),
		EntityChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auditkit_entity_changes_total",
				Help: "Total number of entity changes recorded",
			},
		),

		// Store metrics
		StoreWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditkit_store_writes_total",
				Help: "Total number of writes per audit store",
			},
			[]string{"store", "status"},
		),
		StoreWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditkit_store_write_duration_seconds",
				Help:    "Audit store write duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"store"},
		),

		// Retention metrics
		RetentionRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditkit_retention_runs_total",
				Help: "Total number of retention runs",
			},
			[]string{"status"},
		),
		RetentionPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auditkit_retention_purged_total",
				Help: "Total number of audit logs removed by retention",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuditLogSavesTotal,
		m.AuditLogSaveDuration,
		m.AuditLogsSkippedTotal,
		m.AuditActionsTotal,
		m.EntityChangesTotal,
		m.StoreWritesTotal,
		m.StoreWriteDuration,
		m.RetentionRunsTotal,
		m.RetentionPurgedTotal,
	)

	return m
}

// ObserveSave records a finished audit log save
func (m *Metrics) ObserveSave(status string, d time.Duration) {
	m.AuditLogSavesTotal.WithLabelValues(status).Inc()
	m.AuditLogSaveDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveSkippedEmpty records an empty audit log that was not saved
func (m *Metrics) ObserveSkippedEmpty() {
	m.AuditLogsSkippedTotal.Inc()
}

// ObserveActions records audited actions
func (m *Metrics) ObserveActions(n int) {
	m.AuditActionsTotal.Add(float64(n))
}

// ObserveEntityChanges records entity changes
func (m *Metrics) ObserveEntityChanges(n int) {
	m.EntityChangesTotal.Add(float64(n))
}

// ObserveStoreWrite records a single sink write
func (m *Metrics) ObserveStoreWrite(store string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.StoreWritesTotal.WithLabelValues(store, status).Inc()
	m.StoreWriteDuration.WithLabelValues(store).Observe(d.Seconds())
}

// ObserveRetention records a retention run
func (m *Metrics) ObserveRetention(purged int64, err error) {
	if err != nil {
		m.RetentionRunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.RetentionRunsTotal.WithLabelValues("success").Inc()
	m.RetentionPurgedTotal.Add(float64(purged))
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to keep cardinality
// bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := httputil.NewStatusRecorder(w)

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.Status())).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
