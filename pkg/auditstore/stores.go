package auditstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/auditkit/pkg/auditing"
	"github.com/platinummonkey/auditkit/pkg/config"
)

var tracer = otel.Tracer("github.com/platinummonkey/auditkit/pkg/auditstore")

// Stores holds the sinks opened from configuration
type Stores struct {
	Memory   *MemoryStore
	File     *FileStore
	Postgres *PostgresStore
	SQLite   *SQLiteStore
	Redis    *RedisStore
	S3       *S3Store

	db    *sql.DB
	multi *MultiStore
}

// Open opens every sink enabled in cfg. On error, sinks opened so far are
// closed again.
func Open(ctx context.Context, cfg config.StoreConfig, log logrus.FieldLogger) (_ *Stores, err error) {
	s := &Stores{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	var sinks []Sink
	for _, t := range cfg.Types {
		switch strings.ToLower(t) {
		case config.StoreMemory:
			s.Memory = NewMemoryStore(10000)
			sinks = append(sinks, Sink{Name: config.StoreMemory, Store: s.Memory})

		case config.StoreFile:
			s.File, err = NewFileStore(FileConfig{
				BasePath: cfg.FileBasePath,
				Rotate:   cfg.FileRotate,
				MaxSize:  cfg.FileMaxSize,
				MaxFiles: cfg.FileMaxFiles,
			}, log.WithField("store", config.StoreFile))
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, Sink{Name: config.StoreFile, Store: s.File})

		case config.StorePostgres:
			s.db, err = OpenPostgres(ctx, PostgresConfig{
				URL:      cfg.PostgresURL,
				MaxConns: cfg.PostgresMaxConns,
				Timeout:  cfg.PostgresTimeout,
			})
			if err != nil {
				return nil, err
			}
			s.Postgres, err = NewPostgresStore(s.db, cfg.PostgresSchema)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, Sink{Name: config.StorePostgres, Store: s.Postgres})

		case config.StoreSQLite:
			s.SQLite, err = NewSQLiteStore(cfg.SQLitePath)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, Sink{Name: config.StoreSQLite, Store: s.SQLite})

		case config.StoreRedis:
			s.Redis, err = NewRedisStore(RedisConfig{
				URL:    cfg.RedisURL,
				Key:    cfg.RedisKey,
				MaxLen: cfg.RedisMaxLen,
				TTL:    cfg.RedisTTL,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, Sink{Name: config.StoreRedis, Store: s.Redis})

		case config.StoreS3:
			s.S3, err = NewS3Store(ctx, S3Config{
				Endpoint:     cfg.S3Endpoint,
				Region:       cfg.S3Region,
				Bucket:       cfg.S3Bucket,
				Prefix:       cfg.S3Prefix,
				AccessKey:    cfg.S3AccessKey,
				SecretKey:    cfg.S3SecretKey,
				UsePathStyle: cfg.S3UsePathStyle,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, Sink{Name: config.StoreS3, Store: s.S3})

		default:
			return nil, fmt.Errorf("unknown store type: %s", t)
		}
		log.WithField("store", t).Info("Audit store opened")
	}

	if len(sinks) == 0 {
		return nil, fmt.Errorf("at least one store type is required")
	}

	s.multi = NewMultiStore(cfg.MaxConcurrency, sinks...)
	return s, nil
}

// Store returns the fan-out over every opened sink
func (s *Stores) Store() auditing.Store {
	return s.multi
}

// SetObserver reports each sink write to observer
func (s *Stores) SetObserver(observer WriteObserver) {
	s.multi.SetObserver(observer)
}

// DB returns the audit database, or nil without the postgres store
func (s *Stores) DB() *sql.DB {
	return s.db
}

// RedisClient returns the redis client, or nil without the redis store
func (s *Stores) RedisClient() *redis.Client {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Client()
}

// Purger deletes audit logs executed before a cutoff
type Purger interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger returns the store retention runs against, preferring postgres over
// sqlite. It is nil when neither is open.
func (s *Stores) Purger() Purger {
	switch {
	case s.Postgres != nil:
		return s.Postgres
	case s.SQLite != nil:
		return s.SQLite
	}
	return nil
}

// Close releases every opened sink
func (s *Stores) Close() error {
	var errs []error
	if s.File != nil {
		errs = append(errs, s.File.Close())
	}
	if s.Postgres != nil {
		errs = append(errs, s.Postgres.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.SQLite != nil {
		errs = append(errs, s.SQLite.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}
