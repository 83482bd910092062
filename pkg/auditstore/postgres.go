package auditstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

// PostgresConfig holds audit database connection settings
type PostgresConfig struct {
	URL         string
	Schema      string
	MaxConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// OpenPostgres opens and pings a PostgreSQL connection pool
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// PostgresStore persists audit logs into four normalized tables: audit_logs,
// audit_log_actions, entity_changes and entity_property_changes
type PostgresStore struct {
	db     *sql.DB
	schema string
}

// NewPostgresStore creates the store and ensures its tables exist. An empty
// schema uses the connection's search path.
func NewPostgresStore(db *sql.DB, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &PostgresStore{
		db:     db,
		schema: schema,
	}

	if err := store.ensureTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure audit tables: %w", err)
	}

	return store, nil
}

// table qualifies name with the configured schema
func (s *PostgresStore) table(name string) string {
	if s.schema == "" {
		return name
	}
	return pq.QuoteIdentifier(s.schema) + "." + name
}

// ensureTables creates the audit tables if they don't exist
func (s *PostgresStore) ensureTables(ctx context.Context) error {
	logs := s.table("audit_logs")
	actions := s.table("audit_log_actions")
	changes := s.table("entity_changes")
	props := s.table("entity_property_changes")

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id UUID PRIMARY KEY,
		application_name VARCHAR(96),
		user_id VARCHAR(64),
		tenant_id VARCHAR(64),
		correlation_id VARCHAR(64),
		client_ip VARCHAR(64),
		http_method VARCHAR(16),
		url TEXT,
		http_status_code INTEGER,
		execution_time TIMESTAMP WITH TIME ZONE NOT NULL,
		end_time TIMESTAMP WITH TIME ZONE,
		execution_duration_ms BIGINT NOT NULL DEFAULT 0,
		exceptions JSONB,
		comments JSONB,
		extra_properties JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS %[2]s (
		id BIGSERIAL PRIMARY KEY,
		audit_log_id UUID NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
		service_name VARCHAR(256) NOT NULL,
		method_name VARCHAR(128) NOT NULL,
		parameters JSONB,
		execution_time TIMESTAMP WITH TIME ZONE NOT NULL,
		execution_duration_ms BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS %[3]s (
		id BIGSERIAL PRIMARY KEY,
		audit_log_id UUID NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		change_type VARCHAR(16) NOT NULL,
		entity_type_full_name VARCHAR(256) NOT NULL,
		entity_id VARCHAR(128),
		change_time TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS %[4]s (
		id BIGSERIAL PRIMARY KEY,
		entity_change_id BIGINT NOT NULL REFERENCES %[3]s(id) ON DELETE CASCADE,
		property_name VARCHAR(128) NOT NULL,
		property_type_full_name VARCHAR(256),
		original_value TEXT,
		new_value TEXT
	);

	-- Create indexes for common query patterns
	CREATE INDEX IF NOT EXISTS idx_audit_logs_execution_time ON %[1]s(execution_time DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON %[1]s(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_correlation_id ON %[1]s(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_actions_log ON %[2]s(audit_log_id);
	CREATE INDEX IF NOT EXISTS idx_entity_changes_log ON %[3]s(audit_log_id);
	CREATE INDEX IF NOT EXISTS idx_entity_changes_entity ON %[3]s(entity_type_full_name, entity_id);
	CREATE INDEX IF NOT EXISTS idx_entity_property_changes_change ON %[4]s(entity_change_id);
	`, logs, actions, changes, props)

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Save writes the audit log and all of its children in one transaction
func (s *PostgresStore) Save(ctx context.Context, info *auditing.AuditLogInfo) (err error) {
	ctx, span := tracer.Start(ctx, "Postgres.SaveAuditLog",
		trace.WithAttributes(
			attribute.String("audit_log.id", info.ID),
			attribute.Int("audit_log.actions", len(info.Actions)),
			attribute.Int("audit_log.entity_changes", len(info.EntityChanges)),
		),
	)
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save audit log")
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.insertLog(ctx, tx, info); err != nil {
		return err
	}
	for _, action := range info.Actions {
		if err = s.insertAction(ctx, tx, info.ID, action); err != nil {
			return err
		}
	}
	for i, change := range info.EntityChanges {
		if err = s.insertEntityChange(ctx, tx, info.ID, i, change); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertLog(ctx context.Context, tx *sql.Tx, info *auditing.AuditLogInfo) error {
	exceptions, err := jsonParam(info.Exceptions)
	if err != nil {
		return fmt.Errorf("failed to marshal exceptions: %w", err)
	}
	comments, err := jsonParam(info.Comments)
	if err != nil {
		return fmt.Errorf("failed to marshal comments: %w", err)
	}
	extra, err := jsonParam(info.ExtraProperties)
	if err != nil {
		return fmt.Errorf("failed to marshal extra properties: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, application_name, user_id, tenant_id, correlation_id,
			client_ip, http_method, url, http_status_code,
			execution_time, end_time, execution_duration_ms,
			exceptions, comments, extra_properties
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15
		)
	`, s.table("audit_logs"))

	_, err = tx.ExecContext(ctx, query,
		info.ID, nullString(info.ApplicationName), nullString(info.UserID), nullString(info.TenantID), nullString(info.CorrelationID),
		nullString(info.ClientIP), nullString(info.HTTPMethod), nullString(info.URL), nullInt(info.HTTPStatusCode),
		info.ExecutionTime, nullTime(info.EndTime), info.ExecutionDuration.Milliseconds(),
		exceptions, comments, extra,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertAction(ctx context.Context, tx *sql.Tx, logID string, action auditing.AuditLogAction) error {
	params, err := jsonParam(action.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal action parameters: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			audit_log_id, service_name, method_name, parameters,
			execution_time, execution_duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, s.table("audit_log_actions"))

	_, err = tx.ExecContext(ctx, query,
		logID, action.ServiceName, action.MethodName, params,
		action.ExecutionTime, action.ExecutionDuration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log action: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertEntityChange(ctx context.Context, tx *sql.Tx, logID string, position int, change auditing.EntityChange) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			audit_log_id, position, change_type,
			entity_type_full_name, entity_id, change_time
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, s.table("entity_changes"))

	var changeID int64
	err := tx.QueryRowContext(ctx, query,
		logID, position, string(change.ChangeType),
		change.EntityTypeFullName, nullString(change.EntityID), change.ChangeTime,
	).Scan(&changeID)
	if err != nil {
		return fmt.Errorf("failed to insert entity change: %w", err)
	}

	propQuery := fmt.Sprintf(`
		INSERT INTO %s (
			entity_change_id, property_name, property_type_full_name,
			original_value, new_value
		) VALUES ($1, $2, $3, $4, $5)
	`, s.table("entity_property_changes"))

	for _, prop := range change.PropertyChanges {
		_, err := tx.ExecContext(ctx, propQuery,
			changeID, prop.PropertyName, nullString(prop.PropertyTypeFullName),
			nullString(prop.OriginalValue), nullString(prop.NewValue),
		)
		if err != nil {
			return fmt.Errorf("failed to insert property change %s: %w", prop.PropertyName, err)
		}
	}
	return nil
}

// Cleanup deletes audit logs executed before cutoff. Children go with them
// through ON DELETE CASCADE.
func (s *PostgresStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CleanupAuditLogs",
		trace.WithAttributes(attribute.String("retention.cutoff", cutoff.UTC().Format(time.RFC3339))),
	)
	defer span.End()

	query := fmt.Sprintf("DELETE FROM %s WHERE execution_time < $1", s.table("audit_logs"))
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to clean up audit logs")
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed audit logs: %w", err)
	}
	span.SetAttributes(attribute.Int64("retention.purged", n))
	return n, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store
func (s *PostgresStore) Close() error {
	// We don't close the database connection as it may be shared
	return nil
}

// jsonParam encodes v for a JSONB column, mapping empty collections to NULL
func jsonParam(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
