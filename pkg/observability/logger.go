package observability

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditkit/pkg/contextkeys"
)

// NewLogger creates a structured JSON logger
func NewLogger(level logrus.Level, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return logger
}

// FromContext returns base enriched with the request, identity and trace
// identifiers carried by ctx
func FromContext(ctx context.Context, base logrus.FieldLogger) logrus.FieldLogger {
	fields := logrus.Fields{}

	if requestID, ok := contextkeys.RequestID(ctx); ok {
		fields["request_id"] = requestID
	}
	if userID, ok := contextkeys.UserID(ctx); ok {
		fields["user_id"] = userID
	}
	if tenantID, ok := contextkeys.TenantID(ctx); ok {
		fields["tenant_id"] = tenantID
	}

	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields["trace_id"] = spanCtx.TraceID().String()
		fields["span_id"] = spanCtx.SpanID().String()
	}

	if len(fields) == 0 {
		return base
	}
	return base.WithFields(fields)
}
