package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "oos.json", map[string]any{
		"health_addr_grpc":   "0.0.0.0:7000",
		"database_dsn":       "postgres://db/oos",
		"root_secret":        "root",
		"confirm_token_ttl":  "45m",
		"s3_bucket":          "blobs",
		"queue_url":          "http://sqs/q",
		"workers":            6,
		"visibility_timeout": "1m",
		"stale_after":        int64(2 * time.Minute),
		"max_file_size":      2048,
		"allowed_types":      []string{"pdf", "txt"},
		"memory_mode":        true,
	})

	t.Run("overlays present fields", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg, []string{"-config", path})

		assert.Equal(t, "0.0.0.0:7000", cfg.HealthAddrGRPC)
		assert.Equal(t, "postgres://db/oos", cfg.DatabaseDSN)
		assert.Equal(t, "root", cfg.RootSecret)
		assert.Equal(t, 45*time.Minute, cfg.ConfirmTokenTTL)
		assert.Equal(t, "blobs", cfg.S3Bucket)
		assert.Equal(t, "http://sqs/q", cfg.QueueURL)
		assert.Equal(t, 6, cfg.Workers)
		assert.Equal(t, time.Minute, cfg.VisibilityTimeout)
		assert.Equal(t, 2*time.Minute, cfg.StaleAfter)
		assert.Equal(t, int64(2048), cfg.MaxFileSize)
		assert.Equal(t, []string{"pdf", "txt"}, cfg.AllowedTypes)
		assert.True(t, cfg.MemoryMode)

		// absent fields keep defaults
		assert.Equal(t, 5, cfg.MaxAttempts)
		assert.Equal(t, "us-east-1", cfg.S3Region)
	})

	t.Run("no config flag leaves config untouched", func(t *testing.T) {
		cfg := &Config{DatabaseDSN: "keep", Workers: 1}
		parseJson(cfg, []string{"-w", "3"})
		assert.Equal(t, &Config{DatabaseDSN: "keep", Workers: 1}, cfg)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ nope`), 0o600))
		require.Panics(t, func() { parseJson(&Config{}, []string{"-c", bad}) })
	})

	t.Run("missing file panics", func(t *testing.T) {
		require.Panics(t, func() { parseJson(&Config{}, []string{"-c", filepath.Join(dir, "absent.json")}) })
	})
}
