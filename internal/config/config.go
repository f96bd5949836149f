// Package config loads paragraf configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete paragraf configuration.
type Config struct {
	API       APIConfig       `yaml:"api" json:"api"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// APIConfig configures the Lovdata public data API client.
type APIConfig struct {
	// BaseURL is the public data endpoint root.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Timeout is the per-request timeout for archive downloads.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxRetries is the retry budget for transient download failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// DatabaseURL is the Postgres connection string. Empty selects the
	// embedded SQLite fallback store.
	DatabaseURL string `yaml:"database_url" json:"database_url"`
	// CacheDir is the directory for the SQLite fallback database.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// SyncConfig configures the sync orchestrator.
type SyncConfig struct {
	// Workers bounds per-document parse/upsert parallelism within one run.
	Workers int `yaml:"workers" json:"workers"`
}

// SearchConfig configures retrieval behavior.
type SearchConfig struct {
	// DefaultLimit is the result count when the caller does not specify one.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	// MaxLimit caps caller-supplied limits.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`
	// FTSWeight is the hybrid-search text weight w in
	// (1-w)*similarity + w*rank. Range 0..1.
	FTSWeight float64 `yaml:"fts_weight" json:"fts_weight"`
}

// EmbeddingConfig configures the external embedding provider.
type EmbeddingConfig struct {
	// Endpoint is the embedContent REST endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the fixed output dimensionality.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// CacheSize is the LRU size for query embeddings.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.lovdata.no/v1/publicData",
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
		},
		Store: StoreConfig{
			CacheDir: defaultCacheDir(),
		},
		Sync: SyncConfig{
			Workers: 4,
		},
		Search: SearchConfig{
			DefaultLimit: 20,
			MaxLimit:     50,
			FTSWeight:    0.5,
		},
		Embedding: EmbeddingConfig{
			Endpoint:   "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent",
			Model:      "gemini-embedding-001",
			Dimensions: 1536,
			APIKeyEnv:  "GEMINI_API_KEY",
			CacheSize:  1000,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("PARAGRAF_CACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "paragraf-cache")
	}
	return filepath.Join(home, ".paragraf")
}

// Load reads configuration from path (optional) and applies environment
// overrides. A missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config values from PARAGRAF_* environment variables.
// Env vars take priority over both defaults and file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("PARAGRAF_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("PARAGRAF_DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("PARAGRAF_CACHE_DIR"); v != "" {
		c.Store.CacheDir = v
	}
	if v := os.Getenv("PARAGRAF_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.Workers = n
		}
	}
	if v := os.Getenv("PARAGRAF_FTS_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.FTSWeight = f
		}
	}
	if v := os.Getenv("PARAGRAF_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be >= 1, got %d", c.Sync.Workers)
	}
	if c.Search.FTSWeight < 0 || c.Search.FTSWeight > 1 {
		return fmt.Errorf("search.fts_weight must be in [0,1], got %v", c.Search.FTSWeight)
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: default=%d max=%d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// UsePostgres reports whether the primary (Postgres) store is configured.
func (c *Config) UsePostgres() bool {
	return c.Store.DatabaseURL != ""
}

// SQLitePath returns the path of the embedded fallback database.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Store.CacheDir, "paragraf.db")
}
