package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the runtime configuration for one registry node.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "venue-registry"
	NodeID      string // origin stamped on replicated frames
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int    // HTTP API and metrics port

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Registry
	IDWidth                 int // 64 or 128
	IndexStripes            int
	CollisionAlertThreshold int
	CollisionAlertWindow    time.Duration

	// Resolver
	ArbFeeThresholdBps    decimal.Decimal
	ArbLiquidityThreshold float64

	// Transport
	NATSURL        string // e.g. nats://localhost:4222; empty disables NATS
	NATSSubject    string
	AMQPURL        string // empty disables the AMQP sink
	AMQPExchange   string
	AMQPRoutingKey string
	RedisAddr      string // empty disables the frame log
	RedisDB        int
	RedisStream    string
	RedisStreamMax int64
	PendingLimit   int

	// Discovery and jobs
	DatabaseURL   string // reference.instruments source and collision audit; empty disables
	PayloadFile   string // JSON payload feed loaded at startup; empty disables
	PayloadURL    string // HTTP payload feed fetched at startup; empty disables
	FeedRetries   int
	SchemaFile    string // YAML dynamic message schemas; empty disables
	PGMaxConns    int
	PGMinConns    int
	StatsKey      string
	StatsInterval time.Duration
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	host, _ := os.Hostname()
	if host == "" {
		host = "node"
	}

	return &Config{
		ServiceName:      GetEnv("SERVICE_NAME", "venue-registry"),
		NodeID:           GetEnv("NODE_ID", host),
		Env:              GetEnv("ENV", "dev"),
		LogLevel:         GetEnv("LOG_LEVEL", "info"),
		Port:             GetEnvInt("PORT", 9030),
		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		IDWidth:                 GetEnvInt("ID_WIDTH", 64),
		IndexStripes:            GetEnvInt("INDEX_STRIPES", 64),
		CollisionAlertThreshold: GetEnvInt("COLLISION_ALERT_THRESHOLD", 3),
		CollisionAlertWindow:    GetEnvDuration("COLLISION_ALERT_WINDOW", time.Hour),

		ArbFeeThresholdBps:    GetEnvDecimal("ARB_FEE_THRESHOLD_BPS", decimal.NewFromInt(5)),
		ArbLiquidityThreshold: GetEnvFloat("ARB_LIQUIDITY_THRESHOLD", 0.2),

		NATSURL:        GetEnv("NATS_URL", ""),
		NATSSubject:    GetEnv("NATS_SUBJECT", "registry.frames"),
		AMQPURL:        GetEnv("AMQP_URL", ""),
		AMQPExchange:   GetEnv("AMQP_EXCHANGE", ""),
		AMQPRoutingKey: GetEnv("AMQP_ROUTING_KEY", "registry.frames"),
		RedisAddr:      GetEnv("REDIS_ADDR", ""),
		RedisDB:        GetEnvInt("REDIS_DB", 0),
		RedisStream:    GetEnv("REDIS_STREAM", "registry:frames"),
		RedisStreamMax: GetEnvInt64("REDIS_STREAM_MAXLEN", 0),
		PendingLimit:   GetEnvInt("PENDING_LIMIT", 1024),

		DatabaseURL:   GetEnv("DATABASE_URL", ""),
		PayloadFile:   GetEnv("PAYLOAD_FILE", ""),
		PayloadURL:    GetEnv("PAYLOAD_URL", ""),
		FeedRetries:   GetEnvInt("FEED_RETRIES", 3),
		SchemaFile:    GetEnv("SCHEMA_FILE", ""),
		PGMaxConns:    GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:    GetEnvInt("PG_MIN_CONNS", 2),
		StatsKey:      GetEnv("STATS_KEY", "registry:stats"),
		StatsInterval: GetEnvDuration("STATS_INTERVAL", time.Minute),
	}
}

// Validate rejects settings the registry cannot start with.
func (c *Config) Validate() error {
	if c.IDWidth != 64 && c.IDWidth != 128 {
		return fmt.Errorf("ID_WIDTH must be 64 or 128, got %d", c.IDWidth)
	}
	if c.IndexStripes <= 0 {
		return fmt.Errorf("INDEX_STRIPES must be positive, got %d", c.IndexStripes)
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("STATS_INTERVAL must be positive, got %s", c.StatsInterval)
	}
	return nil
}
