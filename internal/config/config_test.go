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
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-matter"))
	require.Error(t, err, "explicit missing path is an error")

	// Empty path with no default file falls back to pure defaults.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, ".codelore/codelore.db", cfg.DatabasePath)
	assert.Equal(t, "v1", cfg.AnalysisVersion)
	assert.Equal(t, 5, cfg.Scheduler.BatchSize)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, "", cfg.Embedding.Provider)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_path: /tmp/test.db
analysis_version: v7
search_root: /src/project
scheduler:
  batch_size: 2
  daily_limit: 10
embedding:
  provider: ollama
  ollama_model: nomic-embed-text
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.DatabasePath)
	assert.Equal(t, "/src/project", cfg.SearchRoot)
	assert.Equal(t, 2, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10, cfg.Scheduler.DailyLimit)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.OllamaModel)

	// The global version reaches every component that uses it.
	assert.Equal(t, "v7", cfg.Ranker.AnalysisVersion)
	assert.Equal(t, "v7", cfg.Research.AnalysisVersion)
	assert.Equal(t, "v7", cfg.Cache.AnalysisVersion)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis_version: v2\n"), 0644))

	t.Setenv("CODELORE_ANALYSIS_VERSION", "v3")
	t.Setenv("CODELORE_DAILY_LIMIT", "42")
	t.Setenv("CODELORE_IDLE_INTERVAL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v3", cfg.AnalysisVersion)
	assert.Equal(t, "v3", cfg.Cache.AnalysisVersion)
	assert.Equal(t, 42, cfg.Scheduler.DailyLimit)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.IdleInterval)
}

func TestEnvParseFailure(t *testing.T) {
	t.Setenv("CODELORE_BATCH_SIZE", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CODELORE_BATCH_SIZE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative daily limit", func(c *Config) { c.Scheduler.DailyLimit = -1 }, "daily_limit"},
		{"missing version", func(c *Config) { c.AnalysisVersion = "" }, "analysis_version"},
		{"missing db path", func(c *Config) { c.DatabasePath = "" }, "database_path"},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "openai" }, "embedding provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
