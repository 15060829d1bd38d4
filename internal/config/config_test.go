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

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "hidden-spot-bronze", cfg.Storage.Buckets.Bronze)
	assert.Equal(t, 80, cfg.Analysis.ChunkSize)
	assert.Equal(t, 2, cfg.Crawler.RetryCount)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, cfg.QueueBackoff())
	assert.Equal(t, 1500*time.Millisecond, cfg.CrawlRetryDelay())
	assert.Equal(t, 50, cfg.Serving.ReviewLogCap)
	assert.Equal(t, 2, cfg.Quality.MinMarkerHits)
	assert.NotEmpty(t, cfg.Quality.BoilerplateMarkers)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
storage:
  backend: local
  local:
    base_dir: /tmp/lake
  buckets:
    gold: my-gold
queue:
  max_attempts: 5
  backoff_seconds: [1, 2]
analysis:
  chunk_size: 40
  model: custom-model
  fallback_models: [a, b]
quality:
  boilerplate_markers: [foo, bar]
  min_marker_hits: 3
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/lake", cfg.Storage.Local.BaseDir)
	assert.Equal(t, "my-gold", cfg.Storage.Buckets.Gold)
	assert.Equal(t, "hidden-spot-silver", cfg.Storage.Buckets.Silver)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.QueueBackoff())
	assert.Equal(t, 40, cfg.Analysis.ChunkSize)
	assert.Equal(t, "custom-model", cfg.Analysis.Model)
	assert.Equal(t, []string{"a", "b"}, cfg.Analysis.FallbackModels)
	assert.Equal(t, []string{"foo", "bar"}, cfg.Quality.BoilerplateMarkers)
	assert.Equal(t, 3, cfg.Quality.MinMarkerHits)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HIDDENSPOT_SERVER_PORT", "7070")
	t.Setenv("HIDDENSPOT_ANALYSIS_CHUNK_SIZE", "12")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Analysis.ChunkSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local"; c.Storage.Local.BaseDir = "" }, "base_dir"},
		{"pubsub without project", func(c *Config) { c.Queue.Backend = "pubsub" }, "queue.project_id"},
		{"unknown queue", func(c *Config) { c.Queue.Backend = "kafka" }, "queue.backend"},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }, "queue.workers"},
		{"no attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }, "queue.max_attempts"},
		{"negative retries", func(c *Config) { c.Crawler.RetryCount = -1 }, "crawler.retry_count"},
		{"crawler mode", func(c *Config) { c.Crawler.Mode = "curl" }, "crawler.mode"},
		{"zero chunk", func(c *Config) { c.Analysis.ChunkSize = 0 }, "analysis.chunk_size"},
		{"zero concurrency", func(c *Config) { c.Analysis.ChunkConcurrency = 0 }, "analysis.chunk_concurrency"},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, "embedding.dimension"},
		{"zero marker hits", func(c *Config) { c.Quality.MinMarkerHits = 0 }, "quality.min_marker_hits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
