package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbqsrc/robust/internal/config"
	"github.com/bbqsrc/robust/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:8889", cfg.TCP.Addr)
	assert.Equal(t, "127.0.0.1:8888", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Minute, cfg.TCP.IdleWait)
	assert.Equal(t, 30*time.Second, cfg.TCP.ReadWait)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"oauth", "token"}, cfg.Auth.Modes)
	assert.Equal(t, 10*time.Minute, cfg.Auth.ChallengeTTL)
	assert.Equal(t, domain.DefaultMOTD, cfg.MOTD)
	assert.True(t, cfg.IsLocal())
	assert.False(t, cfg.IsProd())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MOTD", "hi")
	t.Setenv("TCP__ADDR", "0.0.0.0:9000")
	t.Setenv("TCP__IDLE_WAIT", "90s")
	t.Setenv("REDIS__ADDR", "redis:6379")
	t.Setenv("AUTH__MODES", "token")
	t.Setenv("AUTH__CHALLENGE_TTL", "5m")

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "hi", cfg.MOTD)
	assert.Equal(t, "0.0.0.0:9000", cfg.TCP.Addr)
	assert.Equal(t, 90*time.Second, cfg.TCP.IdleWait)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"token"}, cfg.Auth.Modes)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ChallengeTTL)
	assert.True(t, cfg.ModeEnabled("token"))
	assert.False(t, cfg.ModeEnabled("oauth"))
}

func TestLoadProdRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("AUTH__MODES", "oauth,token")
	t.Setenv("OAUTH__CONSUMER_KEY", "ck")

	_, err := config.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "oauth.consumer_secret")
}

func TestLoadProdComplete(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS__ADDR", "redis:6379")
	t.Setenv("OAUTH__CONSUMER_KEY", "ck")
	t.Setenv("OAUTH__CONSUMER_SECRET", "cs")
	t.Setenv("TOKEN__SECRET", "ts")

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
}

func TestModeEnabled(t *testing.T) {
	t.Setenv("AUTH__MODES", "oauth")

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, cfg.ModeEnabled("oauth"))
	assert.False(t, cfg.ModeEnabled("plain"))
}
