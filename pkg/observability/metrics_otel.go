package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const meterName = "github.com/platinummonkey/auditkit"

// OTelMetrics records the same audit measurements as Metrics through
// OpenTelemetry instruments
type OTelMetrics struct {
	// Audit log metrics
	auditLogSaves        metric.Int64Counter
	auditLogSaveDuration metric.Float64Histogram
	auditLogsSkipped     metric.Int64Counter
	auditActions         metric.Int64Counter
	entityChanges        metric.Int64Counter

	// Store metrics
	storeWrites        metric.Int64Counter
	storeWriteDuration metric.Float64Histogram

	// Retention metrics
	retentionRuns   metric.Int64Counter
	retentionPurged metric.Int64Counter
}

// NewOTelMetrics creates the instruments on meter. A nil meter uses the
// global meter provider.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	m := &OTelMetrics{}
	var err error

	m.auditLogSaves, err = meter.Int64Counter(
		"auditkit.audit_log.saves",
		metric.WithDescription("Total number of audit log saves"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_log_saves counter: %w", err)
	}

	m.auditLogSaveDuration, err = meter.Float64Histogram(
		"auditkit.audit_log.save.duration",
		metric.WithDescription("Audit log save duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_log_save_duration histogram: %w", err)
	}

	m.auditLogsSkipped, err = meter.Int64Counter(
		"auditkit.audit_log.skipped",
		metric.WithDescription("Total number of empty audit logs that were not saved"),
		metric.WithUnit("{log}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_logs_skipped counter: %w", err)
	}

	m.auditActions, err = meter.Int64Counter(
		"auditkit.audit.actions",
		metric.WithDescription("Total number of audited actions recorded"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_actions counter: %w", err)
	}

	m.entityChanges, err = meter.Int64Counter(
		"auditkit.entity.changes",
		metric.WithDescription("Total number of entity changes recorded"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity_changes counter: %w", err)
	}

	m.storeWrites, err = meter.Int64Counter(
		"auditkit.store.writes",
		metric.WithDescription("Total number of writes per audit store"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_writes counter: %w", err)
	}

	m.storeWriteDuration, err = meter.Float64Histogram(
		"auditkit.store.write.duration",
		metric.WithDescription("Audit store write duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_write_duration histogram: %w", err)
	}

	m.retentionRuns, err = meter.Int64Counter(
		"auditkit.retention.runs",
		metric.WithDescription("Total number of retention runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retention_runs counter: %w", err)
	}

	m.retentionPurged, err = meter.Int64Counter(
		"auditkit.retention.purged",
		metric.WithDescription("Total number of audit logs removed by retention"),
		metric.WithUnit("{log}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retention_purged counter: %w", err)
	}

	return m, nil
}

// ObserveSave records a finished audit log save
func (m *OTelMetrics) ObserveSave(status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.auditLogSaves.Add(context.Background(), 1, attrs)
	m.auditLogSaveDuration.Record(context.Background(), d.Seconds(), attrs)
}

// ObserveSkippedEmpty records an empty audit log that was not saved
func (m *OTelMetrics) ObserveSkippedEmpty() {
	m.auditLogsSkipped.Add(context.Background(), 1)
}

// ObserveActions records audited actions
func (m *OTelMetrics) ObserveActions(n int) {
	m.auditActions.Add(context.Background(), int64(n))
}

// ObserveEntityChanges records entity changes
func (m *OTelMetrics) ObserveEntityChanges(n int) {
	m.entityChanges.Add(context.Background(), int64(n))
}

// ObserveStoreWrite records a single sink write
func (m *OTelMetrics) ObserveStoreWrite(store string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.storeWrites.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("status", status),
	))
	m.storeWriteDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(attribute.String("store", store)))
}

// ObserveRetention records a retention run
func (m *OTelMetrics) ObserveRetention(purged int64, err error) {
	if err != nil {
		m.retentionRuns.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", "failure")))
		return
	}
	m.retentionRuns.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", "success")))
	m.retentionPurged.Add(context.Background(), purged)
}

// InitMetrics installs a global meter provider exporting over OTLP/gRPC. A
// nil provider is returned when cfg is disabled.
func InitMetrics(ctx context.Context, cfg OTelConfig, logger logrus.FieldLogger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	logger.WithField("endpoint", cfg.Endpoint).Info("Initializing OpenTelemetry metrics")

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var grpcOpts []grpc.DialOption
	if cfg.Insecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(exportCtx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(grpcOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
	)
	otel.SetMeterProvider(mp)

	logger.Info("OpenTelemetry metrics initialized")
	return mp, nil
}

// ShutdownMetrics flushes and stops the meter provider
func ShutdownMetrics(ctx context.Context, mp *sdkmetric.MeterProvider, logger logrus.FieldLogger) error {
	if mp == nil {
		return nil
	}

	logger.Info("Shutting down OpenTelemetry meter provider")
	if err := mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	return nil
}
