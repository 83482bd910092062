package auditstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

// RedisConfig configures the redis store
type RedisConfig struct {
	URL    string
	Key    string        // List holding the most recent audit logs
	MaxLen int64         // Length the list is trimmed to after each push
	TTL    time.Duration // Expiry of the per-log key; zero keeps it forever
}

// RedisStore keeps a capped feed of recent audit logs in a redis list and
// each log under its own key
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	owned  bool
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Set connection timeouts
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := NewRedisStoreWithClient(client, config)
	store.owned = true
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client. Close leaves the client
// open.
func NewRedisStoreWithClient(client *redis.Client, config RedisConfig) *RedisStore {
	if config.Key == "" {
		config.Key = "auditkit:logs"
	}
	if config.MaxLen <= 0 {
		config.MaxLen = 10000
	}
	return &RedisStore{
		client: client,
		config: config,
	}
}

// Client returns the underlying redis client
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) logKey(id string) string {
	return fmt.Sprintf("%s:%s", s.config.Key, id)
}

// Save pushes the log onto the feed, trims it and stores the log by ID in
// one pipeline
func (s *RedisStore) Save(ctx context.Context, info *auditing.AuditLogInfo) error {
	ctx, span := tracer.Start(ctx, "Redis.SaveAuditLog",
		trace.WithAttributes(
			attribute.String("audit_log.id", info.ID),
			attribute.String("redis.key", s.config.Key),
		),
	)
	defer span.End()

	data, err := info.ToJSON()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal audit log")
		return fmt.Errorf("failed to marshal audit log: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.config.Key, data)
		pipe.LTrim(ctx, s.config.Key, 0, s.config.MaxLen-1)
		pipe.Set(ctx, s.logKey(info.ID), data, s.config.TTL)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write audit log to redis")
		return fmt.Errorf("failed to write audit log to redis: %w", err)
	}
	return nil
}

// Get returns the log stored under id, or nil if it expired or never existed
func (s *RedisStore) Get(ctx context.Context, id string) (*auditing.AuditLogInfo, error) {
	data, err := s.client.Get(ctx, s.logKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return auditing.FromJSON(data)
}

// Recent returns up to n logs from the feed, newest first
func (s *RedisStore) Recent(ctx context.Context, n int64) ([]*auditing.AuditLogInfo, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.client.LRange(ctx, s.config.Key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	logs := make([]*auditing.AuditLogInfo, 0, len(items))
	for _, item := range items {
		info, err := auditing.FromJSON([]byte(item))
		if err != nil {
			return nil, err
		}
		logs = append(logs, info)
	}
	return logs, nil
}

// Ping checks the redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if the store created it
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
