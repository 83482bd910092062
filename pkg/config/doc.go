// Package config provides application configuration management from
// defaults, an optional YAML file and environment variables.
//
// # Overview
//
// Configuration is resolved in three layers. Defaults come first, then the
// YAML file named by AUDITKIT_CONFIG_FILE is overlaid, and finally any
// AUDITKIT_* environment variable that is set wins.
//
// # Configuration Structure
//
// Server settings:
//
//	AUDITKIT_HOST="0.0.0.0"
//	AUDITKIT_PORT="8080"
//	AUDITKIT_SHUTDOWN_TIMEOUT="30s"
//
// Auditing settings:
//
//	AUDITKIT_ENABLED="true"
//	AUDITKIT_DEFAULT_AUDITING_ENABLED="true"
//	AUDITKIT_READ_ONLY_METHOD_PREFIXES="Get,Find"
//	AUDITKIT_AUDITED_NAMESPACES="github.com/acme/orders."
//	AUDITKIT_HIDE_ERRORS="true"
//	AUDITKIT_ASYNC_SAVE="false"
//
// Store settings:
//
//	AUDITKIT_STORE_TYPES="postgres,s3"  # memory, file, postgres, sqlite, redis, s3
//	AUDITKIT_POSTGRES_URL="postgres://localhost/audit"
//	AUDITKIT_SQLITE_PATH="./auditkit.db"
//	AUDITKIT_REDIS_URL="redis://localhost:6379"
//	AUDITKIT_S3_BUCKET="audit-archive"
//
// Retention settings (postgres or sqlite store):
//
//	AUDITKIT_RETENTION_ENABLED="true"
//	AUDITKIT_RETENTION_SCHEDULE="@daily"
//	AUDITKIT_RETENTION_MAX_AGE="2160h"
//
// Observability settings:
//
//	AUDITKIT_LOG_LEVEL="info"  # debug, info, warn, error
//	AUDITKIT_METRICS_ENABLED="true"
//	AUDITKIT_OTEL_ENABLED="true"
//	AUDITKIT_OTEL_ENDPOINT="otel-collector:4317"
//	AUDITKIT_OTEL_METRICS_ENABLED="true"  # also export engine metrics over OTLP
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	manager, err := auditing.NewManager(store, registry,
//		auditing.WithOptions(cfg.Auditing.Options()))
//
// Reload on change:
//
//	go config.Watch(ctx, path, logger, func(cfg *config.Config) {
//		manager.SetOptions(cfg.Auditing.Options())
//	})
package config
