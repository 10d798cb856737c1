// Package store holds the registry's persistence adapters: the Redis frame
// log used for replay, a Redis snapshot cache and the Postgres collision
// audit table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned by GetJSON for an absent or expired key.
var ErrCacheMiss = errors.New("cache miss")

// Options locates the backing services. DatabaseURL may be empty.
type Options struct {
	RedisAddr   string
	RedisDB     int
	DatabaseURL string
	Pool        PGPoolConfig
	DialTimeout time.Duration
}

// PGPoolConfig overrides pgxpool defaults; zero fields keep the default.
type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func (c PGPoolConfig) apply(cfg *pgxpool.Config) {
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		cfg.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = c.HealthCheckPeriod
	}
}

// HybridStore owns the Redis client shared by the frame log and the stats
// cache, plus the optional Postgres pool behind discovery and the audit log.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to Redis and, when a database URL is set, Postgres. Both
// are pinged before Open returns.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := &HybridStore{redis: rdb, logger: logger}
	if opts.DatabaseURL == "" {
		logger.Info("store.opened", zap.String("redis", opts.RedisAddr), zap.Bool("postgres", false))
		return s, nil
	}

	cfg, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	opts.Pool.apply(cfg)
	if s.PG, err = pgxpool.NewWithConfig(ctx, cfg); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := s.PG.Ping(ctx); err != nil {
		s.PG.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	logger.Info("store.opened",
		zap.String("redis", opts.RedisAddr),
		zap.Bool("postgres", true),
		zap.Int32("pg_max_conns", cfg.MaxConns))
	return s, nil
}

// Redis exposes the client for the frame log.
func (s *HybridStore) Redis() *redis.Client { return s.redis }

// SetJSON caches value under key. A zero ttl keeps the key until overwritten.
func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// HealthCheck pings every configured backend and joins their failures.
func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return errors.New("redis not initialized")
	}
	var errs []error
	if err := s.redis.Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("redis ping failed: %w", err))
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres ping failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
