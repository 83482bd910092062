package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no dependencies is healthy", func(t *testing.T) {
		status := NewHealthChecker(nil, nil, "1.0.0").Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Status = %s, want healthy", status.Status)
		}
		if status.Version != "1.0.0" {
			t.Errorf("Version = %s, want 1.0.0", status.Version)
		}
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		status := NewHealthChecker(db, nil, "").Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Status = %s, want unhealthy", status.Status)
		}
		if status.Dependencies["database"].Message != "connection refused" {
			t.Errorf("Message = %q", status.Dependencies["database"].Message)
		}
	})

	t.Run("redis down only degrades", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		mr.Close()

		status := NewHealthChecker(nil, client, "").Check(context.Background())
		if status.Status != StatusDegraded {
			t.Errorf("Status = %s, want degraded", status.Status)
		}
	})

	t.Run("redis up", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		defer mr.Close()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		status := NewHealthChecker(nil, client, "").Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Status = %s, want healthy", status.Status)
		}
	})

	t.Run("custom checks", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, "")
		checker.AddCheck("s3", true, func(context.Context) error { return errors.New("throttled") })
		if got := checker.Check(context.Background()).Status; got != StatusDegraded {
			t.Errorf("optional failure Status = %s, want degraded", got)
		}

		checker.AddCheck("file", false, func(context.Context) error { return errors.New("read-only") })
		if got := checker.Check(context.Background()).Status; got != StatusUnhealthy {
			t.Errorf("required failure Status = %s, want unhealthy", got)
		}
	})
}

func TestHealthRoutes(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "")
	checker.AddCheck("store", false, func(context.Context) error { return errors.New("down") })

	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.Dependencies["store"].Status != StatusUnhealthy {
		t.Errorf("store dependency = %+v", status.Dependencies["store"])
	}
}
