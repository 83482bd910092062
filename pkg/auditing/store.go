package auditing

import (
	"context"
	"time"
)

// Store persists finished audit logs. Implementations must be safe for
// concurrent use; the engine never inspects what they do with the log.
type Store interface {
	Save(ctx context.Context, info *AuditLogInfo) error
}

// StoreFunc adapts a function to Store
type StoreFunc func(ctx context.Context, info *AuditLogInfo) error

func (f StoreFunc) Save(ctx context.Context, info *AuditLogInfo) error {
	return f(ctx, info)
}

// MetricsRecorder receives engine measurements
type MetricsRecorder interface {
	ObserveSave(status string, duration time.Duration)
	ObserveSkippedEmpty()
	ObserveActions(n int)
	ObserveEntityChanges(n int)
}

// Save outcomes reported to MetricsRecorder
const (
	SaveStatusSuccess = "success"
	SaveStatusFailure = "failure"
)

type noopMetrics struct{}

func (noopMetrics) ObserveSave(string, time.Duration) {}
func (noopMetrics) ObserveSkippedEmpty()              {}
func (noopMetrics) ObserveActions(int)                {}
func (noopMetrics) ObserveEntityChanges(int)          {}
