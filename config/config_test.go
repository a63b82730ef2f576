package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/studio-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.DBPath)
	assert.Equal(t, 24*time.Hour, cfg.CancelWindow)
	assert.Equal(t, "0 * * * *", cfg.SweepCron)
	assert.Empty(t, cfg.AMQPURL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STUDIO_ENV", "production")
	t.Setenv("STUDIO_PORT", "9090")
	t.Setenv("STUDIO_DB_PATH", "/var/lib/studio/studio.db")
	t.Setenv("STUDIO_CANCEL_WINDOW_HOURS", "48")
	t.Setenv("STUDIO_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/var/lib/studio/studio.db", cfg.DBPath)
	assert.Equal(t, 48*time.Hour, cfg.CancelWindow)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("STUDIO_CANCEL_WINDOW_HOURS", "0")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadPort(t *testing.T) {
	t.Setenv("STUDIO_PORT", "70000")
	_, err := config.Load()
	assert.Error(t, err)
}
