package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "rssreader.db", cfg.DBPath)
	assert.Equal(t, 20*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 1, cfg.FetchConcurrency)
	assert.Equal(t, int64(10<<20), cfg.FetchMaxBodyBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.HostRequestInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.RefreshDebounce)
	assert.Equal(t, "@every 30m", cfg.RefreshSchedule)
	assert.Empty(t, cfg.ExportDir)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"LOG_LEVEL":         "debug",
		"STORE_DRIVER":      "json",
		"DATA_DIR":          "/var/lib/rssreader",
		"FETCH_CONCURRENCY": "4",
		"REFRESH_DEBOUNCE":  "2s",
	})
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, 2*time.Second, cfg.RefreshDebounce)

	opts := cfg.StoreOptions()
	assert.Equal(t, "json", opts.Driver)
	assert.Equal(t, "/var/lib/rssreader", opts.DataDir)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		wantErr string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}, "unknown STORE_DRIVER"},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}, "DATABASE_URL"},
		{"zero concurrency", map[string]string{"FETCH_CONCURRENCY": "0"}, "FETCH_CONCURRENCY"},
		{"bad duration", map[string]string{"FETCH_TIMEOUT": "soon"}, "FetchTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.environ)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParsePostgres(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"STORE_DRIVER": "postgres",
		"DATABASE_URL": "postgres://localhost/rss?sslmode=disable",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/rss?sslmode=disable", cfg.StoreOptions().PostgresURL)
}
