package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 15, cfg.MaxBoards)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 64, cfg.WS.SendQueue)
	assert.Equal(t, 25*time.Second, cfg.WS.PingInterval)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "sqlite://itinera.db")
	t.Setenv("ITINERA_MAX_BOARDS", "3")
	t.Setenv("ITINERA_LOG_FORMAT", "CONSOLE")
	t.Setenv("ITINERA_WS_PING_INTERVAL", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "sqlite://itinera.db", cfg.DatabaseURL)
	assert.Equal(t, 3, cfg.MaxBoards)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.WS.PingInterval)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itinera.yaml")
	contents := "addr: \":7000\"\nredis_url: redis://cache:6379/1\nws:\n  send_queue: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	t.Setenv("API_ADDR", ":7001")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.Addr)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, 8, cfg.WS.SendQueue)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name, env, value string
	}{
		{"no boards", "ITINERA_MAX_BOARDS", "0"},
		{"boards above cap", "ITINERA_MAX_BOARDS", "16"},
		{"unknown log format", "ITINERA_LOG_FORMAT", "xml"},
		{"pong before ping", "ITINERA_WS_PONG_WAIT", "1s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadAcceptsBoardCap(t *testing.T) {
	t.Setenv("ITINERA_MAX_BOARDS", "15")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.MaxBoards)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
