package auditstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

// SQLiteStore keeps each audit log as a JSON document in a single SQLite
// table, with the columns used for lookups and retention alongside
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file at path and creates the table.
// ":memory:" keeps everything in process.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.ensureTable(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure audit table: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		correlation_id TEXT,
		execution_time INTEGER NOT NULL,
		entity_changes INTEGER NOT NULL DEFAULT 0,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_execution_time ON audit_logs(execution_time);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_correlation_id ON audit_logs(correlation_id);
	`)
	return err
}

// Save inserts the log. Saving the same ID twice is an error.
func (s *SQLiteStore) Save(ctx context.Context, info *auditing.AuditLogInfo) (err error) {
	ctx, span := tracer.Start(ctx, "SQLite.SaveAuditLog",
		trace.WithAttributes(attribute.String("audit_log.id", info.ID)),
	)
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save audit log")
		}
	}()

	doc, err := info.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, correlation_id, execution_time, entity_changes, document)
		VALUES (?, ?, ?, ?, ?, ?)
	`, info.ID, nullString(info.UserID), nullString(info.CorrelationID),
		info.ExecutionTime.UnixNano(), len(info.EntityChanges), string(doc))
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Get returns the log with the given ID, or nil if there is none
func (s *SQLiteStore) Get(ctx context.Context, id string) (*auditing.AuditLogInfo, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM audit_logs WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log %s: %w", id, err)
	}
	return auditing.FromJSON([]byte(doc))
}

// ByCorrelationID returns the logs sharing a correlation ID, oldest first
func (s *SQLiteStore) ByCorrelationID(ctx context.Context, correlationID string) ([]*auditing.AuditLogInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM audit_logs
		WHERE correlation_id = ?
		ORDER BY execution_time ASC
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*auditing.AuditLogInfo
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		info, err := auditing.FromJSON([]byte(doc))
		if err != nil {
			return nil, err
		}
		logs = append(logs, info)
	}
	return logs, rows.Err()
}

// Cleanup deletes audit logs executed before cutoff
func (s *SQLiteStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE execution_time < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks the database
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
