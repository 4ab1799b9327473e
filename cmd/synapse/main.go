package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/synapselabs/synapse/internal/analyzer"
	"github.com/synapselabs/synapse/internal/cache"
	"github.com/synapselabs/synapse/internal/config"
	"github.com/synapselabs/synapse/internal/history"
	"github.com/synapselabs/synapse/internal/lifecycle"
	"github.com/synapselabs/synapse/internal/llm"
	"github.com/synapselabs/synapse/internal/memory"
	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/internal/queue"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "synapse",
		Short: "Synapse — LLM-driven analysis of accumulated memory insights",
		Long:  "Synapse reads accumulated memory snapshots and uses an LLM to discover non-obvious connections between insights and meta-patterns across them, with caching and a prioritized background queue.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		analyzeCmd(),
		serveCmd(),
		mcpCmd(),
		statsCmd(),
		historyCmd(),
		housekeepCmd(),
		healthCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newGenerator builds the configured LLM backend wrapped with the retry
// policy.
func newGenerator(logger *slog.Logger) llm.Generator {
	var base llm.Generator
	switch cfg.Analysis.Backend {
	case "claude":
		base = llm.NewClaudeClient(cfg.Claude.APIKey, cfg.Claude.Model, logger)
	default:
		base = llm.NewOllamaClient(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.RequestsPerSec, logger)
	}
	policy := llm.DefaultRetryPolicy(cfg.Analysis.MaxRetries, cfg.Analysis.RetryBackoff)
	return llm.NewRetrier(base, policy, logger)
}

func newReader(logger *slog.Logger) memory.SnapshotReader {
	return memory.NewFileReader(cfg.Analysis.MemoryDir, logger)
}

// pipeline bundles the wired analysis components a command needs.
type pipeline struct {
	analyzer  *analyzer.Analyzer
	queue     *queue.Queue
	history   *history.Store
	lifecycle *lifecycle.Manager
	snapshots *cache.Cache[*models.MemorySnapshot]
	texts     *cache.Cache[string]
	results   *cache.Cache[*models.AnalysisResult]
}

// buildPipeline wires the caches, history store, analyzer, queue, and
// lifecycle manager from the loaded config.
func buildPipeline(logger *slog.Logger) (*pipeline, error) {
	cc := cfg.Cache
	snapshots, err := cache.New[*models.MemorySnapshot](cc.TTL, cc.MaxEntries, cc.MaxSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot cache: %w", err)
	}
	texts, err := cache.New[string](cc.TTL, cc.MaxEntries, cc.MaxSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("creating text cache: %w", err)
	}
	results, err := cache.New[*models.AnalysisResult](cc.TTL, cc.MaxEntries, cc.MaxSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}

	hist, err := history.New(cfg.History.Dir, cfg.History.MaxEntries, logger)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	an, err := analyzer.New(
		newReader(logger),
		newGenerator(logger),
		snapshots, texts, results,
		analyzer.Config{
			MinInsights:   cfg.Analysis.MinInsights,
			MaxChunkChars: cfg.Analysis.MaxChunkChars,
			ChunkOverlap:  cfg.Analysis.ChunkOverlap,
			MinConfidence: cfg.Analysis.MinConfidence,
			Timeout:       cfg.Analysis.Timeout,
			ShortTimeout:  cfg.Analysis.ShortTimeout,
		},
		logger,
		analyzer.WithRecorder(hist),
	)
	if err != nil {
		return nil, fmt.Errorf("creating analyzer: %w", err)
	}

	q, err := queue.New(queue.Config{
		Workers:             cfg.Queue.Workers,
		MaxQueueSize:        cfg.Queue.MaxQueueSize,
		StarvationThreshold: cfg.Queue.StarvationThreshold,
	}, an.Execute, logger, queue.WithErrorInfo(analyzer.ErrorInfoFor))
	if err != nil {
		return nil, fmt.Errorf("creating queue: %w", err)
	}

	lm := lifecycle.NewManager(
		[]lifecycle.Sweeper{snapshots, texts, results},
		hist, q,
		lifecycle.Config{
			Interval:         cfg.Cache.TTL / 2,
			HistoryRetention: 30 * 24 * time.Hour,
			RequestRetention: time.Hour,
		},
		logger,
	)

	return &pipeline{
		analyzer:  an,
		queue:     q,
		history:   hist,
		lifecycle: lm,
		snapshots: snapshots,
		texts:     texts,
		results:   results,
	}, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
