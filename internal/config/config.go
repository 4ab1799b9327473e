package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultMaxChunkChars is the default character count per prompt chunk.
	DefaultMaxChunkChars = 12000

	// DefaultChunkOverlap is the default character overlap between adjacent chunks.
	DefaultChunkOverlap = 600

	// DefaultMinInsights is the minimum insight count required before an
	// analysis is attempted.
	DefaultMinInsights = 3
)

// Config holds all configuration for synapse.
type Config struct {
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	Claude   ClaudeConfig   `mapstructure:"claude"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// OllamaConfig holds Ollama text-generation service settings.
type OllamaConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// ClaudeConfig holds Anthropic Claude API settings for the optional
// hosted backend.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// AnalysisConfig holds orchestrator and LLM-call settings.
type AnalysisConfig struct {
	Backend       string        `mapstructure:"backend"` // "ollama" or "claude"
	MemoryDir     string        `mapstructure:"memory_dir"`
	MinInsights   int           `mapstructure:"min_insights"`
	MaxChunkChars int           `mapstructure:"max_chunk_chars"`
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ShortTimeout  time.Duration `mapstructure:"short_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	MinConfidence float64       `mapstructure:"min_confidence"`
}

// CacheConfig bounds one cache instance. The same bounds are applied to
// the snapshot, formatted-text, and result caches independently.
type CacheConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	MaxEntries   int           `mapstructure:"max_entries"`
	MaxSizeBytes int64         `mapstructure:"max_size_bytes"`
}

// QueueConfig holds worker pool settings.
type QueueConfig struct {
	Workers             int           `mapstructure:"workers"`
	MaxQueueSize        int           `mapstructure:"max_queue_size"`
	StarvationThreshold time.Duration `mapstructure:"starvation_threshold"`
}

// HistoryConfig locates the auxiliary history and analytics documents.
type HistoryConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "llama3.2")
	v.SetDefault("ollama.requests_per_sec", 2.0)

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("analysis.backend", "ollama")
	v.SetDefault("analysis.memory_dir", filepath.Join(homeDir(), ".synapse", "memory"))
	v.SetDefault("analysis.min_insights", DefaultMinInsights)
	v.SetDefault("analysis.max_chunk_chars", DefaultMaxChunkChars)
	v.SetDefault("analysis.chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("analysis.timeout", "120s")
	v.SetDefault("analysis.short_timeout", "30s")
	v.SetDefault("analysis.max_retries", 2)
	v.SetDefault("analysis.retry_backoff", "2s")
	v.SetDefault("analysis.min_confidence", 0.0)

	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_entries", 128)
	v.SetDefault("cache.max_size_bytes", 32<<20) // 32 MB

	v.SetDefault("queue.workers", 3)
	v.SetDefault("queue.max_queue_size", 32)
	v.SetDefault("queue.starvation_threshold", "2m")

	v.SetDefault("history.dir", filepath.Join(homeDir(), ".synapse", "history"))
	v.SetDefault("history.max_entries", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8090")
	v.SetDefault("api.auth_token", "")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".synapse"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("SYNAPSE")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("ollama.base_url", "SYNAPSE_OLLAMA_BASE_URL")
	_ = v.BindEnv("ollama.model", "SYNAPSE_OLLAMA_MODEL")
	_ = v.BindEnv("analysis.backend", "SYNAPSE_ANALYSIS_BACKEND")
	_ = v.BindEnv("api.listen_addr", "SYNAPSE_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "SYNAPSE_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK — use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Analysis.Backend != "ollama" && c.Analysis.Backend != "claude" {
		return fmt.Errorf("analysis.backend must be \"ollama\" or \"claude\", got %q", c.Analysis.Backend)
	}
	if c.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama.base_url must not be empty")
	}
	if c.Analysis.Backend == "claude" && c.Claude.APIKey == "" {
		return fmt.Errorf("claude.api_key must be set when analysis.backend is \"claude\"")
	}
	if c.Analysis.MinInsights < 0 {
		return fmt.Errorf("analysis.min_insights must be >= 0")
	}
	if c.Analysis.MaxChunkChars <= 0 {
		return fmt.Errorf("analysis.max_chunk_chars must be greater than 0")
	}
	if c.Analysis.ChunkOverlap < 0 {
		return fmt.Errorf("analysis.chunk_overlap must be >= 0")
	}
	if c.Analysis.ChunkOverlap >= c.Analysis.MaxChunkChars {
		return fmt.Errorf("analysis.chunk_overlap (%d) must be less than analysis.max_chunk_chars (%d)",
			c.Analysis.ChunkOverlap, c.Analysis.MaxChunkChars)
	}
	if c.Analysis.MaxRetries < 0 {
		return fmt.Errorf("analysis.max_retries must be >= 0")
	}
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		return fmt.Errorf("analysis.min_confidence must be between 0 and 1")
	}
	if c.Analysis.Timeout <= 0 || c.Analysis.ShortTimeout <= 0 {
		return fmt.Errorf("analysis.timeout and analysis.short_timeout must be greater than 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than 0")
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache.max_size_bytes must be greater than 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be greater than 0")
	}
	if c.Queue.MaxQueueSize <= 0 {
		return fmt.Errorf("queue.max_queue_size must be greater than 0")
	}
	if c.Queue.StarvationThreshold <= 0 {
		return fmt.Errorf("queue.starvation_threshold must be greater than 0")
	}
	if c.History.MaxEntries < 0 {
		return fmt.Errorf("history.max_entries must be >= 0")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
