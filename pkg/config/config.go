package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

// Store types accepted in StoreConfig.Types
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreS3       = "s3"
	StoreSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Auditing engine configuration
	Auditing AuditingConfig `yaml:"auditing"`

	// Audit store configuration
	Store StoreConfig `yaml:"store"`

	// Retention of persisted audit logs
	Retention RetentionConfig `yaml:"retention"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// AuditingConfig mirrors auditing.Options in a serializable form
type AuditingConfig struct {
	Enabled                       bool          `yaml:"enabled"`
	DefaultAuditingEnabled        bool          `yaml:"default_auditing_enabled"`
	DisableLogActionInfo          bool          `yaml:"disable_log_action_info"`
	DisableEmptyAuditLogs         bool          `yaml:"disable_empty_audit_logs"`
	ExtraBaseAuditProperties      []string      `yaml:"extra_base_audit_properties"`
	ReadOnlyMethodPrefixes        []string      `yaml:"read_only_method_prefixes"`
	AuditedNamespaces             []string      `yaml:"audited_namespaces"`
	ApplicationName               string        `yaml:"application_name"`
	HideErrors                    bool          `yaml:"hide_errors"`
	AlwaysLogOnException          bool          `yaml:"always_log_on_exception"`
	EnabledForIntegrationServices bool          `yaml:"enabled_for_integration_services"`
	EnabledForGetRequests         bool          `yaml:"enabled_for_get_requests"`
	IgnoredTypes                  []string      `yaml:"ignored_types"`
	AsyncSave                     bool          `yaml:"async_save"`
	SaveTimeout                   time.Duration `yaml:"save_timeout"`
	MaxValueLength                int           `yaml:"max_value_length"`
}

// Options converts the configuration into engine options. Each audited
// namespace becomes a prefix selector.
func (c AuditingConfig) Options() auditing.Options {
	opts := auditing.Options{
		IsEnabled:                       c.Enabled,
		DefaultAuditingEnabled:          c.DefaultAuditingEnabled,
		DisableLogActionInfo:            c.DisableLogActionInfo,
		DisableEmptyAuditLogs:           c.DisableEmptyAuditLogs,
		ExtraBaseAuditProperties:        append([]string(nil), c.ExtraBaseAuditProperties...),
		ReadOnlyMethodPrefixes:          append([]string(nil), c.ReadOnlyMethodPrefixes...),
		ApplicationName:                 c.ApplicationName,
		HideErrors:                      c.HideErrors,
		AlwaysLogOnException:            c.AlwaysLogOnException,
		IsEnabledForIntegrationServices: c.EnabledForIntegrationServices,
		IsEnabledForGetRequests:         c.EnabledForGetRequests,
		IgnoredTypes:                    append([]string(nil), c.IgnoredTypes...),
		AsyncSave:                       c.AsyncSave,
		SaveTimeout:                     c.SaveTimeout,
		MaxValueLength:                  c.MaxValueLength,
	}
	for _, ns := range c.AuditedNamespaces {
		opts.EntitySelectors = append(opts.EntitySelectors, auditing.SelectNamespace("namespace:"+ns, ns))
	}
	return opts
}

// StoreConfig selects and configures the audit log sinks
type StoreConfig struct {
	// Types lists the enabled sinks; more than one fans out to all of them
	Types []string `yaml:"types"`

	// File sink
	FileBasePath string `yaml:"file_base_path"`
	FileMaxSize  int64  `yaml:"file_max_size"`
	FileMaxFiles int    `yaml:"file_max_files"`
	FileRotate   bool   `yaml:"file_rotate"`

	// PostgreSQL sink
	PostgresURL      string        `yaml:"postgres_url"`
	PostgresSchema   string        `yaml:"postgres_schema"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	// SQLite sink
	SQLitePath string `yaml:"sqlite_path"`

	// Redis sink
	RedisURL    string        `yaml:"redis_url"`
	RedisKey    string        `yaml:"redis_key"`
	RedisMaxLen int64         `yaml:"redis_max_len"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`

	// S3 sink
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`

	// MaxConcurrency bounds parallel writes when fanning out
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Has reports whether the sink type is enabled
func (s StoreConfig) Has(storeType string) bool {
	for _, t := range s.Types {
		if strings.EqualFold(t, storeType) {
			return true
		}
	}
	return false
}

// RetentionConfig controls the periodic purge of old audit logs
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelMetricsEnabled bool   `yaml:"otel_metrics_enabled"`
}

// Level returns the parsed log level, defaulting to info
func (o ObservabilityConfig) Level() logrus.Level {
	return parseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	opts := auditing.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auditing: AuditingConfig{
			Enabled:                opts.IsEnabled,
			DefaultAuditingEnabled: opts.DefaultAuditingEnabled,
			ReadOnlyMethodPrefixes: opts.ReadOnlyMethodPrefixes,
			ApplicationName:        "auditkit",
			HideErrors:             opts.HideErrors,
			AlwaysLogOnException:   opts.AlwaysLogOnException,
			SaveTimeout:            opts.SaveTimeout,
			MaxValueLength:         opts.MaxValueLength,
		},
		Store: StoreConfig{
			Types:           []string{StoreMemory},
			FileBasePath:    "./audit-logs",
			FileMaxSize:     100 * 1024 * 1024,
			FileMaxFiles:    10,
			FileRotate:      true,
			PostgresTimeout: 5 * time.Second,
			SQLitePath:      "./auditkit.db",
			RedisKey:        "auditkit:logs",
			RedisMaxLen:     10000,
			RedisTTL:        24 * time.Hour,
			S3Region:        "us-east-1",
			S3Prefix:        "audit-logs",
			MaxConcurrency:  4,
		},
		Retention: RetentionConfig{
			Schedule: "@daily",
			MaxAge:   90 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "auditkit",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads configuration from defaults, the optional YAML file named
// by AUDITKIT_CONFIG_FILE, and environment variables, in that order.
func LoadConfig() (*Config, error) {
	return Load(getEnv("AUDITKIT_CONFIG_FILE", ""))
}

// Load loads configuration with path as the YAML overlay. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// mergeFile overlays the YAML file onto cfg. Keys absent from the file keep
// their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.applyServerEnv()
	c.applyAuditingEnv()
	c.applyStoreEnv()
	c.applyRetentionEnv()
	c.applyObservabilityEnv()
}

func (c *Config) applyServerEnv() {
	s := &c.Server
	s.Host = getEnv("AUDITKIT_HOST", s.Host)
	s.Port = getEnv("AUDITKIT_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("AUDITKIT_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("AUDITKIT_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("AUDITKIT_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("AUDITKIT_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
}

func (c *Config) applyAuditingEnv() {
	a := &c.Auditing
	a.Enabled = getEnvBool("AUDITKIT_ENABLED", a.Enabled)
	a.DefaultAuditingEnabled = getEnvBool("AUDITKIT_DEFAULT_AUDITING_ENABLED", a.DefaultAuditingEnabled)
	a.DisableLogActionInfo = getEnvBool("AUDITKIT_DISABLE_LOG_ACTION_INFO", a.DisableLogActionInfo)
	a.DisableEmptyAuditLogs = getEnvBool("AUDITKIT_DISABLE_EMPTY_AUDIT_LOGS", a.DisableEmptyAuditLogs)
	a.ExtraBaseAuditProperties = getEnvList("AUDITKIT_EXTRA_BASE_AUDIT_PROPERTIES", a.ExtraBaseAuditProperties)
	a.ReadOnlyMethodPrefixes = getEnvList("AUDITKIT_READ_ONLY_METHOD_PREFIXES", a.ReadOnlyMethodPrefixes)
	a.AuditedNamespaces = getEnvList("AUDITKIT_AUDITED_NAMESPACES", a.AuditedNamespaces)
	a.ApplicationName = getEnv("AUDITKIT_APPLICATION_NAME", a.ApplicationName)
	a.HideErrors = getEnvBool("AUDITKIT_HIDE_ERRORS", a.HideErrors)
	a.AlwaysLogOnException = getEnvBool("AUDITKIT_ALWAYS_LOG_ON_EXCEPTION", a.AlwaysLogOnException)
	a.EnabledForIntegrationServices = getEnvBool("AUDITKIT_ENABLED_FOR_INTEGRATION_SERVICES", a.EnabledForIntegrationServices)
	a.EnabledForGetRequests = getEnvBool("AUDITKIT_ENABLED_FOR_GET_REQUESTS", a.EnabledForGetRequests)
	a.IgnoredTypes = getEnvList("AUDITKIT_IGNORED_TYPES", a.IgnoredTypes)
	a.AsyncSave = getEnvBool("AUDITKIT_ASYNC_SAVE", a.AsyncSave)
	a.SaveTimeout = getEnvDuration("AUDITKIT_SAVE_TIMEOUT", a.SaveTimeout)
	a.MaxValueLength = getEnvInt("AUDITKIT_MAX_VALUE_LENGTH", a.MaxValueLength)
}

func (c *Config) applyStoreEnv() {
	s := &c.Store
	s.Types = getEnvList("AUDITKIT_STORE_TYPES", s.Types)

	// File config
	s.FileBasePath = getEnv("AUDITKIT_FILE_BASE_PATH", s.FileBasePath)
	s.FileMaxSize = getEnvInt64("AUDITKIT_FILE_MAX_SIZE", s.FileMaxSize)
	s.FileMaxFiles = getEnvInt("AUDITKIT_FILE_MAX_FILES", s.FileMaxFiles)
	s.FileRotate = getEnvBool("AUDITKIT_FILE_ROTATE", s.FileRotate)

	// PostgreSQL config
	s.PostgresURL = getEnv("AUDITKIT_POSTGRES_URL", s.PostgresURL)
	s.PostgresSchema = getEnv("AUDITKIT_POSTGRES_SCHEMA", s.PostgresSchema)
	s.PostgresMaxConns = getEnvInt("AUDITKIT_POSTGRES_MAX_CONNS", s.PostgresMaxConns)
	s.PostgresTimeout = getEnvDuration("AUDITKIT_POSTGRES_TIMEOUT", s.PostgresTimeout)

	// SQLite config
	s.SQLitePath = getEnv("AUDITKIT_SQLITE_PATH", s.SQLitePath)

	// Redis config
	s.RedisURL = getEnv("AUDITKIT_REDIS_URL", s.RedisURL)
	s.RedisKey = getEnv("AUDITKIT_REDIS_KEY", s.RedisKey)
	s.RedisMaxLen = getEnvInt64("AUDITKIT_REDIS_MAX_LEN", s.RedisMaxLen)
	s.RedisTTL = getEnvDuration("AUDITKIT_REDIS_TTL", s.RedisTTL)

	// S3 config
	s.S3Endpoint = getEnv("AUDITKIT_S3_ENDPOINT", s.S3Endpoint)
	s.S3Region = getEnv("AUDITKIT_S3_REGION", s.S3Region)
	s.S3Bucket = getEnv("AUDITKIT_S3_BUCKET", s.S3Bucket)
	s.S3Prefix = getEnv("AUDITKIT_S3_PREFIX", s.S3Prefix)
	s.S3AccessKey = getEnv("AUDITKIT_S3_ACCESS_KEY", s.S3AccessKey)
	s.S3SecretKey = getEnv("AUDITKIT_S3_SECRET_KEY", s.S3SecretKey)
	s.S3UsePathStyle = getEnvBool("AUDITKIT_S3_USE_PATH_STYLE", s.S3UsePathStyle)

	s.MaxConcurrency = getEnvInt("AUDITKIT_STORE_MAX_CONCURRENCY", s.MaxConcurrency)
}

func (c *Config) applyRetentionEnv() {
	r := &c.Retention
	r.Enabled = getEnvBool("AUDITKIT_RETENTION_ENABLED", r.Enabled)
	r.Schedule = getEnv("AUDITKIT_RETENTION_SCHEDULE", r.Schedule)
	r.MaxAge = getEnvDuration("AUDITKIT_RETENTION_MAX_AGE", r.MaxAge)
}

func (c *Config) applyObservabilityEnv() {
	o := &c.Observability
	o.LogLevel = getEnv("AUDITKIT_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("AUDITKIT_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("AUDITKIT_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("AUDITKIT_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("AUDITKIT_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("AUDITKIT_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("AUDITKIT_OTEL_INSECURE", o.OTelInsecure)
	o.OTelMetricsEnabled = getEnvBool("AUDITKIT_OTEL_METRICS_ENABLED", o.OTelMetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	// Validate auditing config
	if c.Auditing.MaxValueLength < 0 {
		return fmt.Errorf("max value length must not be negative")
	}
	if c.Auditing.SaveTimeout < 0 {
		return fmt.Errorf("save timeout must not be negative")
	}

	// Validate store config based on the enabled types
	if len(c.Store.Types) == 0 {
		return fmt.Errorf("at least one store type is required")
	}
	for _, t := range c.Store.Types {
		switch strings.ToLower(t) {
		case StoreMemory:
		case StoreFile:
			if c.Store.FileBasePath == "" {
				return fmt.Errorf("file base path is required for file store")
			}
		case StorePostgres:
			if c.Store.PostgresURL == "" {
				return fmt.Errorf("postgres URL is required for postgres store")
			}
		case StoreSQLite:
			if c.Store.SQLitePath == "" {
				return fmt.Errorf("sqlite path is required for sqlite store")
			}
		case StoreRedis:
			if c.Store.RedisURL == "" {
				return fmt.Errorf("redis URL is required for redis store")
			}
		case StoreS3:
			if c.Store.S3Bucket == "" {
				return fmt.Errorf("S3 bucket is required for s3 store")
			}
		default:
			return fmt.Errorf("invalid store type: %s (must be memory, file, postgres, sqlite, redis, or s3)", t)
		}
	}

	// Validate retention config
	if c.Retention.Enabled {
		if !c.Store.Has(StorePostgres) && !c.Store.Has(StoreSQLite) {
			return fmt.Errorf("retention requires the postgres or sqlite store")
		}
		if c.Retention.MaxAge <= 0 {
			return fmt.Errorf("retention max age must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled || c.Observability.OTelMetricsEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "warn", "warning":
		return logrus.WarnLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
