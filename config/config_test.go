package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Empty(t, cfg.RedisURL)
	require.Equal(t, "keyward.db", cfg.DatabasePath)
	require.Equal(t, "localhost", cfg.RPID)
	require.Equal(t, []string{"http://localhost:9000"}, cfg.RPOrigins)
	require.Equal(t, 720*time.Hour, cfg.SessionTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KEYWARD_LISTEN_ADDR", ":8443")
	t.Setenv("KEYWARD_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("KEYWARD_RP_ID", "example.com")
	t.Setenv("KEYWARD_RP_ORIGINS", "https://example.com,https://app.example.com")
	t.Setenv("KEYWARD_SESSION_TTL", "24h")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8443", cfg.ListenAddr)
	require.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	require.Equal(t, "example.com", cfg.RPID)
	require.Equal(t, []string{"https://example.com", "https://app.example.com"}, cfg.RPOrigins)
	require.Equal(t, 24*time.Hour, cfg.SessionTTL)
}
