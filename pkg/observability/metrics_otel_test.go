package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

var (
	_ auditing.MetricsRecorder = (*OTelMetrics)(nil)
	_ auditing.MetricsRecorder = Recorders(nil)
	_ Recorder                 = (*Metrics)(nil)
	_ Recorder                 = (*OTelMetrics)(nil)
)

func setupOTelMetrics(t *testing.T) (*OTelMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewOTelMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string][]metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string][]metricdata.DataPoint[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				sums[m.Name] = sum.DataPoints
			}
		}
	}
	return sums
}

func total(points []metricdata.DataPoint[int64], attrs ...attribute.KeyValue) int64 {
	want := attribute.NewSet(attrs...)
	var n int64
	for _, p := range points {
		if len(attrs) == 0 || p.Attributes.Equals(&want) {
			n += p.Value
		}
	}
	return n
}

func TestOTelMetrics_AuditRecorder(t *testing.T) {
	m, reader := setupOTelMetrics(t)

	m.ObserveSave(auditing.SaveStatusSuccess, 20*time.Millisecond)
	m.ObserveSave(auditing.SaveStatusSuccess, 30*time.Millisecond)
	m.ObserveSave(auditing.SaveStatusFailure, time.Millisecond)
	m.ObserveSkippedEmpty()
	m.ObserveActions(3)
	m.ObserveEntityChanges(5)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), total(sums["auditkit.audit_log.saves"], attribute.String("status", auditing.SaveStatusSuccess)))
	assert.Equal(t, int64(1), total(sums["auditkit.audit_log.saves"], attribute.String("status", auditing.SaveStatusFailure)))
	assert.Equal(t, int64(1), total(sums["auditkit.audit_log.skipped"]))
	assert.Equal(t, int64(3), total(sums["auditkit.audit.actions"]))
	assert.Equal(t, int64(5), total(sums["auditkit.entity.changes"]))
}

func TestOTelMetrics_StoreAndRetention(t *testing.T) {
	m, reader := setupOTelMetrics(t)

	m.ObserveStoreWrite("postgres", time.Millisecond, nil)
	m.ObserveStoreWrite("postgres", time.Millisecond, errors.New("down"))
	m.ObserveRetention(7, nil)
	m.ObserveRetention(0, errors.New("lock timeout"))

	sums := collectSums(t, reader)
	assert.Equal(t, int64(1), total(sums["auditkit.store.writes"],
		attribute.String("status", "failure"), attribute.String("store", "postgres")))
	assert.Equal(t, int64(2), total(sums["auditkit.store.writes"]))
	assert.Equal(t, int64(1), total(sums["auditkit.retention.runs"], attribute.String("status", "failure")))
	assert.Equal(t, int64(7), total(sums["auditkit.retention.purged"]))
}

func TestCombine(t *testing.T) {
	otelMetrics, reader := setupOTelMetrics(t)
	promMetrics := NewMetrics(prometheus.NewRegistry())

	recorders := Combine(promMetrics, nil, otelMetrics)
	require.Len(t, recorders, 2)

	recorders.ObserveActions(2)
	recorders.ObserveStoreWrite("memory", time.Millisecond, nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(promMetrics.AuditActionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(promMetrics.StoreWritesTotal.WithLabelValues("memory", "success")))

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), total(sums["auditkit.audit.actions"]))
	assert.Equal(t, int64(1), total(sums["auditkit.store.writes"]))
}

func TestInitMetrics_Disabled(t *testing.T) {
	log, _ := test.NewNullLogger()
	mp, err := InitMetrics(context.Background(), OTelConfig{}, log)
	require.NoError(t, err)
	assert.Nil(t, mp)
	assert.NoError(t, ShutdownMetrics(context.Background(), nil, log))
}
