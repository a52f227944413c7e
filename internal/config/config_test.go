package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(FileEnv, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	assert.True(t, cfg.RefetchHistory)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "memory", cfg.HistoryStore)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repochat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: http://chat.internal:9000
stream_idle_timeout: 5s
refetch_history: false
rate_limit_requests: 10
`), 0o600))

	t.Setenv(FileEnv, path)
	t.Setenv("REPOCHAT_STREAM_IDLE_TIMEOUT", "2s")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://chat.internal:9000", cfg.APIURL)
	assert.Equal(t, 2*time.Second, cfg.StreamIdleTimeout)
	assert.False(t, cfg.RefetchHistory)
	assert.Equal(t, 10, cfg.RateLimitRequests)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: [unterminated"), 0o600))
	t.Setenv(FileEnv, path)

	_, err := Load()
	assert.Error(t, err)

	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}
