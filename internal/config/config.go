// Package config loads the application configuration: defaults, then an
// optional YAML file, then CODELORE_* environment overrides, in that
// order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codelore/codelore/internal/cache"
	"github.com/codelore/codelore/internal/embedding"
	"github.com/codelore/codelore/internal/enricher"
	"github.com/codelore/codelore/internal/ranker"
	"github.com/codelore/codelore/internal/research"
	"github.com/codelore/codelore/internal/scheduler"
)

// DefaultPath is where Load looks when no explicit path is given.
const DefaultPath = ".codelore/config.yaml"

// AIConfig holds the model client settings carried in the config file.
// The API key is normally supplied via ANTHROPIC_API_KEY instead.
type AIConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// Config is the full application configuration.
type Config struct {
	// DatabasePath is the SQLite file holding chunks, the queue and
	// enrichments.
	DatabasePath string `yaml:"database_path"`

	// AnalysisVersion is the global prompt/schema version. Bumping it
	// invalidates every stored enrichment on the next stale sweep. It is
	// propagated into the ranker, research and cache configs on load.
	AnalysisVersion string `yaml:"analysis_version"`

	// SearchRoot enables the research grep tool when set to a source
	// tree directory.
	SearchRoot string `yaml:"search_root"`

	AI        AIConfig         `yaml:"ai"`
	Embedding embedding.Config `yaml:"embedding"`
	Ranker    ranker.Config    `yaml:"ranker"`
	Research  research.Config  `yaml:"research"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Cache     cache.Config     `yaml:"cache"`
	Enricher  enricher.Config  `yaml:"enricher"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatabasePath:    ".codelore/codelore.db",
		AnalysisVersion: "v1",
		Embedding:       embedding.DefaultConfig(),
		Ranker:          ranker.DefaultConfig(),
		Research:        research.DefaultConfig(),
		Scheduler:       scheduler.DefaultConfig(),
		Cache:           cache.DefaultConfig(),
		Enricher:        enricher.DefaultConfig(),
	}
}

// Load builds the configuration. With an empty path, DefaultPath is used
// when it exists and silently skipped when it does not; an explicit path
// that cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; defaults plus env apply.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.propagate()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays CODELORE_* environment variables.
//
//   - CODELORE_DB_PATH: SQLite database path
//   - CODELORE_ANALYSIS_VERSION: global analysis version
//   - CODELORE_SEARCH_ROOT: source tree for the grep tool
//   - CODELORE_API_KEY: Anthropic API key
//   - CODELORE_DAILY_LIMIT: research runs per day
//   - CODELORE_BATCH_SIZE: queue items per pass
//   - CODELORE_MAX_RETRIES: attempts before terminal failure
//   - CODELORE_MAX_TOOL_CALLS: research tool budget per run
//   - CODELORE_IDLE_INTERVAL: runner wait when the queue is empty
//   - CODELORE_EMBEDDING_PROVIDER: "ollama", "genai" or "" (disabled)
func (c *Config) applyEnv() error {
	if err := parseEnvString("CODELORE_DB_PATH", &c.DatabasePath); err != nil {
		return err
	}
	if err := parseEnvString("CODELORE_ANALYSIS_VERSION", &c.AnalysisVersion); err != nil {
		return err
	}
	if err := parseEnvString("CODELORE_SEARCH_ROOT", &c.SearchRoot); err != nil {
		return err
	}
	if err := parseEnvString("CODELORE_API_KEY", &c.AI.APIKey); err != nil {
		return err
	}
	if err := parseEnvInt("CODELORE_DAILY_LIMIT", &c.Scheduler.DailyLimit); err != nil {
		return err
	}
	if err := parseEnvInt("CODELORE_BATCH_SIZE", &c.Scheduler.BatchSize); err != nil {
		return err
	}
	if err := parseEnvInt("CODELORE_MAX_RETRIES", &c.Scheduler.MaxRetries); err != nil {
		return err
	}
	if err := parseEnvInt("CODELORE_MAX_TOOL_CALLS", &c.Research.MaxToolCalls); err != nil {
		return err
	}
	if err := parseEnvDuration("CODELORE_IDLE_INTERVAL", &c.Scheduler.IdleInterval); err != nil {
		return err
	}
	if err := parseEnvString("CODELORE_EMBEDDING_PROVIDER", &c.Embedding.Provider); err != nil {
		return err
	}
	return nil
}

// propagate copies the global analysis version into every component that
// stamps or checks it, so a file can never configure them inconsistently.
func (c *Config) propagate() {
	if c.AnalysisVersion != "" {
		c.Ranker.AnalysisVersion = c.AnalysisVersion
		c.Research.AnalysisVersion = c.AnalysisVersion
		c.Cache.AnalysisVersion = c.AnalysisVersion
	}
}

// Validate checks the loaded configuration for values the pipeline cannot
// run with.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.AnalysisVersion == "" {
		return fmt.Errorf("analysis_version is required")
	}
	if c.Scheduler.BatchSize < 0 {
		return fmt.Errorf("scheduler batch_size cannot be negative (got %d)", c.Scheduler.BatchSize)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler max_retries cannot be negative (got %d)", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.DailyLimit < 0 {
		return fmt.Errorf("scheduler daily_limit cannot be negative (got %d)", c.Scheduler.DailyLimit)
	}
	if c.Research.MaxToolCalls < 0 {
		return fmt.Errorf("research max_tool_calls cannot be negative (got %d)", c.Research.MaxToolCalls)
	}
	switch c.Embedding.Provider {
	case "", "ollama", "genai":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	return nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	*dest = value
	return nil
}

func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
