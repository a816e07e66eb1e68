package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RELAYPOINT_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Delivery.BaseDelay)
	assert.Equal(t, 2.0, cfg.Delivery.BackoffMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetryInterval)
	assert.Equal(t, 100, cfg.Scheduler.RetryBatchSize)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 300*time.Second, cfg.Gateway.SignatureTolerance)
	assert.True(t, cfg.Gateway.RateLimitEnabled)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, 8, cfg.Delivery.Workers.High)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RELAYPOINT_CONFIG_DIR", t.TempDir())
	t.Setenv("RELAYPOINT_SERVER_PORT", "9999")
	t.Setenv("RELAYPOINT_DELIVERY_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
}

func TestDatabaseConfig_ConnString(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, Database: "hub", User: "hub", Password: "s3cret", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://hub:s3cret@db:5432/hub?sslmode=disable", d.ConnString())
}
