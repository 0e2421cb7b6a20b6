package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "xop_", cfg.Auth.SecretPrefix)
	assert.Equal(t, 120, cfg.Auth.KeyLimit)
	assert.Equal(t, time.Minute, cfg.Auth.KeyWindow)
	assert.Equal(t, 0, cfg.Auth.KeyDailyLimit)
	assert.Empty(t, cfg.Auth.AdminToken, "admin surface disabled out of the box")
	assert.Equal(t, 10000, cfg.RateLimit.EvictThreshold)
	assert.Equal(t, 30*time.Second, cfg.Redis.UsageTTL)
	assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 200, cfg.Exporter.BatchSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9999"
auth:
  key_limit: 5
  admin_token: "s3cret"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Auth.KeyLimit)
	assert.Equal(t, "s3cret", cfg.Auth.AdminToken)
	// Untouched sections keep their defaults.
	assert.Equal(t, "xop_", cfg.Auth.SecretPrefix)
	assert.Equal(t, 10000, cfg.RateLimit.EvictThreshold)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}
