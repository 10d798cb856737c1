package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any env vars that would override defaults
	for _, key := range []string{
		"SERVICE_NAME", "ENV", "LOG_LEVEL", "PORT", "ID_WIDTH", "INDEX_STRIPES",
		"ARB_FEE_THRESHOLD_BPS", "ARB_LIQUIDITY_THRESHOLD",
		"COLLISION_ALERT_THRESHOLD", "COLLISION_ALERT_WINDOW",
		"NATS_URL", "NATS_SUBJECT", "REDIS_STREAM", "PENDING_LIMIT", "STATS_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "venue-registry", cfg.ServiceName)
	assert.Equal(t, 64, cfg.IDWidth)
	assert.Equal(t, 64, cfg.IndexStripes)
	assert.True(t, cfg.ArbFeeThresholdBps.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 0.2, cfg.ArbLiquidityThreshold)
	assert.Equal(t, 3, cfg.CollisionAlertThreshold)
	assert.Equal(t, time.Hour, cfg.CollisionAlertWindow)
	assert.Equal(t, "registry.frames", cfg.NATSSubject)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 1024, cfg.PendingLimit)
	assert.NotEmpty(t, cfg.NodeID)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ID_WIDTH", "128")
	t.Setenv("ARB_FEE_THRESHOLD_BPS", "2.5")
	t.Setenv("ARB_LIQUIDITY_THRESHOLD", "0.35")
	t.Setenv("COLLISION_ALERT_WINDOW", "15m")
	t.Setenv("NODE_ID", "node-a")
	t.Setenv("PENDING_LIMIT", "not-a-number")

	cfg := Load()
	assert.Equal(t, 128, cfg.IDWidth)
	assert.Equal(t, "2.5", cfg.ArbFeeThresholdBps.String())
	assert.Equal(t, 0.35, cfg.ArbLiquidityThreshold)
	assert.Equal(t, 15*time.Minute, cfg.CollisionAlertWindow)
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, 1024, cfg.PendingLimit, "invalid values fall back to the default")
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.IDWidth = 96
	assert.ErrorContains(t, cfg.Validate(), "ID_WIDTH")

	cfg = Load()
	cfg.IndexStripes = 0
	assert.ErrorContains(t, cfg.Validate(), "INDEX_STRIPES")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("X_FLOAT", "1.5")
	t.Setenv("X_INT64", "9000000000")
	t.Setenv("X_DEC", "0.25")
	t.Setenv("X_BAD", "nope")
	assert.Equal(t, 1.5, GetEnvFloat("X_FLOAT", 0))
	assert.Equal(t, 2.0, GetEnvFloat("X_BAD", 2))
	assert.Equal(t, int64(9000000000), GetEnvInt64("X_INT64", 0))
	assert.Equal(t, int64(7), GetEnvInt64("X_BAD", 7))
	assert.Equal(t, "0.25", GetEnvDecimal("X_DEC", decimal.Zero).String())
	assert.True(t, GetEnvDecimal("X_BAD", decimal.NewFromInt(3)).Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "def", GetEnv("X_UNSET_KEY", "def"))
}
