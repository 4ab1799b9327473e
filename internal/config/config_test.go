package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Ollama: OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3.2"},
		Analysis: AnalysisConfig{
			Backend:       "ollama",
			MemoryDir:     "/tmp/memory",
			MinInsights:   3,
			MaxChunkChars: 12000,
			ChunkOverlap:  600,
			Timeout:       2 * time.Minute,
			ShortTimeout:  30 * time.Second,
			MaxRetries:    2,
		},
		Cache: CacheConfig{TTL: time.Hour, MaxEntries: 128, MaxSizeBytes: 32 << 20},
		Queue: QueueConfig{Workers: 3, MaxQueueSize: 32, StarvationThreshold: 2 * time.Minute},
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // keep any real ~/.synapse/config.yaml out
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Analysis.Backend)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, DefaultMinInsights, cfg.Analysis.MinInsights)
	assert.Equal(t, DefaultMaxChunkChars, cfg.Analysis.MaxChunkChars)
	assert.Equal(t, DefaultChunkOverlap, cfg.Analysis.ChunkOverlap)
	assert.Equal(t, 2*time.Minute, cfg.Analysis.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Analysis.ShortTimeout)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Queue.Workers)
	assert.Equal(t, ":8090", cfg.API.ListenAddr)
	assert.Empty(t, cfg.API.AuthToken)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("SYNAPSE_OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("SYNAPSE_OLLAMA_MODEL", "mistral")
	t.Setenv("SYNAPSE_ANALYSIS_BACKEND", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-1234567890")
	t.Setenv("SYNAPSE_API_AUTH_TOKEN", "hunter2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://ollama.internal:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "mistral", cfg.Ollama.Model)
	assert.Equal(t, "claude", cfg.Analysis.Backend)
	assert.Equal(t, "sk-ant-test-1234567890", cfg.Claude.APIKey)
	assert.Equal(t, "hunter2", cfg.API.AuthToken)
}

func TestLoadClaudeBackendRequiresKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("SYNAPSE_ANALYSIS_BACKEND", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claude.api_key")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad backend", func(c *Config) { c.Analysis.Backend = "gpt" }, "analysis.backend"},
		{"empty base url", func(c *Config) { c.Ollama.BaseURL = "" }, "ollama.base_url"},
		{"negative min insights", func(c *Config) { c.Analysis.MinInsights = -1 }, "min_insights"},
		{"zero chunk chars", func(c *Config) { c.Analysis.MaxChunkChars = 0 }, "max_chunk_chars"},
		{"overlap too large", func(c *Config) { c.Analysis.ChunkOverlap = 12000 }, "chunk_overlap"},
		{"negative retries", func(c *Config) { c.Analysis.MaxRetries = -1 }, "max_retries"},
		{"confidence over one", func(c *Config) { c.Analysis.MinConfidence = 1.5 }, "min_confidence"},
		{"zero timeout", func(c *Config) { c.Analysis.Timeout = 0 }, "timeout"},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }, "cache.max_entries"},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }, "queue.workers"},
		{"zero queue size", func(c *Config) { c.Queue.MaxQueueSize = 0 }, "queue.max_queue_size"},
		{"zero starvation threshold", func(c *Config) { c.Queue.StarvationThreshold = 0 }, "starvation_threshold"},
		{"negative history entries", func(c *Config) { c.History.MaxEntries = -1 }, "history.max_entries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestClaudeConfigMasksAPIKey(t *testing.T) {
	c := ClaudeConfig{APIKey: "sk-ant-api03-verysecretkey", Model: "claude-haiku-4-5-20251001"}
	s := c.String()
	assert.NotContains(t, s, "verysecret")
	assert.Contains(t, s, "sk-a")
	assert.Contains(t, s, "claude-haiku-4-5-20251001")

	assert.Equal(t, "***", maskAPIKey("short"))
	assert.Equal(t, "***", maskAPIKey(""))
}
