package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/platinummonkey/auditkit/pkg/contextkeys"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.WarnLevel, &buf)

	logger.Info("dropped")
	logger.WithField("audit_log_id", "abc").Warn("kept")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["audit_log_id"] != "abc" || entry["level"] != "warning" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestFromContext(t *testing.T) {
	base, hook := test.NewNullLogger()

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithUserID(ctx, "42")

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(tracetest.NewInMemoryExporter())))
	ctx, span := tp.Tracer("test").Start(ctx, "op")
	defer span.End()

	FromContext(ctx, base).Info("hello")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("Expected a log entry")
	}
	if entry.Data["request_id"] != "req-1" || entry.Data["user_id"] != "42" {
		t.Errorf("missing identity fields: %v", entry.Data)
	}
	if _, ok := entry.Data["tenant_id"]; ok {
		t.Error("tenant_id should be absent")
	}
	if entry.Data["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", entry.Data["trace_id"])
	}

	if got := FromContext(context.Background(), base); got != base {
		t.Error("Expected the base logger back for an empty context")
	}
}

func TestRecoverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	func() {
		defer RecoverPanic(logger, "retention purge")
		panic("boom")
	}()

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("Expected an error entry, got %v", entry)
	}
	if entry.Data["context"] != "retention purge" || entry.Data["panic"] != "boom" {
		t.Errorf("unexpected fields %v", entry.Data)
	}
}

func TestShutdownManager(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("runs functions in order", func(t *testing.T) {
		sm := NewShutdownManager(logger, nil, time.Second)
		var order []string
		sm.RegisterShutdownFunc("audit manager", func(context.Context) error {
			order = append(order, "audit manager")
			return nil
		})
		sm.RegisterShutdownFunc("stores", func(context.Context) error {
			order = append(order, "stores")
			return nil
		})

		if err := sm.Shutdown(); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		if len(order) != 2 || order[0] != "audit manager" || order[1] != "stores" {
			t.Errorf("order = %v", order)
		}
	})

	t.Run("collects errors and keeps going", func(t *testing.T) {
		sm := NewShutdownManager(logger, nil, time.Second)
		ran := false
		sm.RegisterShutdownFunc("broken", func(context.Context) error { return errors.New("flush failed") })
		sm.RegisterShutdownFunc("after", func(context.Context) error {
			ran = true
			return nil
		})

		err := sm.Shutdown()
		if err == nil {
			t.Fatal("Expected an error")
		}
		if !ran {
			t.Error("Expected later functions to run")
		}
	})

	t.Run("waits for context", func(t *testing.T) {
		server := &http.Server{Addr: "127.0.0.1:0"}
		sm := NewShutdownManager(logger, server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := sm.WaitForShutdown(ctx); err != nil {
			t.Errorf("WaitForShutdown() error = %v", err)
		}
	})
}
