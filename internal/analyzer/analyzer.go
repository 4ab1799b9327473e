// Package analyzer orchestrates the analysis pipeline: cache lookup,
// snapshot loading, prompt chunking, LLM invocation, output validation,
// and result caching.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/synapselabs/synapse/internal/cache"
	"github.com/synapselabs/synapse/internal/chunker"
	"github.com/synapselabs/synapse/internal/llm"
	"github.com/synapselabs/synapse/internal/memory"
	"github.com/synapselabs/synapse/internal/metrics"
	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/pkg/tokenizer"
)

// shortInputTokens is the estimated-token threshold below which the
// short timeout applies. Cost heuristic only, not a correctness knob.
const shortInputTokens = 1000

// Config holds orchestrator settings.
type Config struct {
	MinInsights   int
	MaxChunkChars int
	ChunkOverlap  int
	MinConfidence float64
	Timeout       time.Duration
	ShortTimeout  time.Duration
}

// Recorder persists auxiliary history and analytics for completed
// analyses. Implementations must not fail the analysis: errors are
// theirs to log and swallow.
type Recorder interface {
	RecordAnalysis(ref string, result *models.AnalysisResult)
}

// Analyzer is the synchronous façade over the analysis pipeline.
// Identical concurrent requests (same fingerprint) collapse to a single
// in-flight computation.
type Analyzer struct {
	reader    memory.SnapshotReader
	gen       llm.Generator
	snapshots *cache.Cache[*models.MemorySnapshot]
	texts     *cache.Cache[string]
	results   *cache.Cache[*models.AnalysisResult]
	recorder  Recorder
	cfg       Config
	flight    singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRecorder attaches a history/analytics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an Analyzer. The three caches are independent instances;
// no lock is ever held across more than one of them.
func New(
	reader memory.SnapshotReader,
	gen llm.Generator,
	snapshots *cache.Cache[*models.MemorySnapshot],
	texts *cache.Cache[string],
	results *cache.Cache[*models.AnalysisResult],
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) (*Analyzer, error) {
	if cfg.MinInsights < 0 {
		return nil, fmt.Errorf("invalid analyzer configuration: min insights must be >= 0, got %d", cfg.MinInsights)
	}
	if cfg.MaxChunkChars <= 0 {
		return nil, fmt.Errorf("invalid analyzer configuration: max chunk chars must be greater than 0, got %d", cfg.MaxChunkChars)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkChars {
		return nil, fmt.Errorf("invalid analyzer configuration: chunk overlap (%d) must be in [0, %d)", cfg.ChunkOverlap, cfg.MaxChunkChars)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("invalid analyzer configuration: min confidence must be in [0, 1], got %g", cfg.MinConfidence)
	}
	if cfg.Timeout <= 0 || cfg.ShortTimeout <= 0 {
		return nil, fmt.Errorf("invalid analyzer configuration: timeouts must be greater than 0")
	}

	a := &Analyzer{
		reader:    reader,
		gen:       gen,
		snapshots: snapshots,
		texts:     texts,
		results:   results,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze runs the full pipeline for ref and returns a structured
// result. A cached result returns immediately with
// metadata.cache_hit=true and no LLM call.
func (a *Analyzer) Analyze(ctx context.Context, ref string, opts models.AnalysisOptions) (*models.AnalysisResult, error) {
	metrics.Inc(metrics.AnalyzeTotal)

	fp, err := a.reader.Fingerprint(ref, a.gen.Model(), opts)
	if err != nil {
		return nil, err
	}

	if res, ok := a.results.Get(fp); ok {
		metrics.Inc(metrics.AnalyzeCacheHits)
		a.logger.Debug("analysis cache hit", "ref", ref, "fingerprint", fp)
		return cachedCopy(res), nil
	}

	v, err, shared := a.flight.Do(fp, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the cache between our miss and this closure running.
		if res, ok := a.results.Get(fp); ok {
			metrics.Inc(metrics.AnalyzeCacheHits)
			return cachedCopy(res), nil
		}
		return a.run(ctx, ref, fp, opts)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		a.logger.Debug("analysis de-duplicated in flight", "ref", ref, "fingerprint", fp)
	}
	return v.(*models.AnalysisResult), nil
}

// Execute adapts Analyze to the queue's executor signature. Queued and
// direct requests share the same single-flight group, so an identical
// direct call never duplicates a queued one.
func (a *Analyzer) Execute(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	return a.Analyze(ctx, req.Ref, req.Options)
}

// Fingerprint exposes the cache/dedup key for a request so callers can
// tag queued requests at submission time.
func (a *Analyzer) Fingerprint(ref string, opts models.AnalysisOptions) (string, error) {
	return a.reader.Fingerprint(ref, a.gen.Model(), opts)
}

// run executes steps 3-8 of the pipeline on a cache miss.
func (a *Analyzer) run(ctx context.Context, ref, fp string, opts models.AnalysisOptions) (*models.AnalysisResult, error) {
	start := a.now()

	snap, err := a.loadSnapshot(ctx, ref, fp)
	if err != nil {
		return nil, err
	}

	if len(snap.Insights) < a.cfg.MinInsights {
		metrics.Inc(metrics.InsufficientData)
		return nil, fmt.Errorf("%w: snapshot has %d insights, need at least %d",
			ErrInsufficientData, len(snap.Insights), a.cfg.MinInsights)
	}

	text := a.formatText(fp, snap)

	chunks, err := chunker.Split(text, a.cfg.MaxChunkChars, a.cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunking memory text: %w", err)
	}
	if len(chunks) == 0 {
		chunks = []string{text}
	}
	if len(chunks) > 1 {
		metrics.Inc(metrics.AnalyzeChunked)
		a.logger.Info("input exceeds chunk limit, analyzing in parts",
			"ref", ref, "chunks", len(chunks), "chars", len(text))
	}

	timeout := a.cfg.Timeout
	if tokenizer.EstimateTokens(text) < shortInputTokens {
		timeout = a.cfg.ShortTimeout
	}

	partials := make([]*models.AnalysisResult, 0, len(chunks))
	for i, chunk := range chunks {
		prompt := buildPrompt(chunk, i+1, len(chunks), opts)
		parsed, err := a.generateParsed(ctx, prompt, timeout)
		if err != nil {
			metrics.Inc(metrics.AnalyzeFailed)
			a.logger.Error("generation failed", "ref", ref, "chunk", i+1, "error", err)
			return nil, fmt.Errorf("%w: %s", ErrAnalysisUnavailable, Sanitize(err.Error()))
		}
		for _, w := range parsed.Warnings {
			a.logger.Warn("dropped or repaired model output field",
				"ref", ref, "chunk", i+1, "field", w.Field, "reason", w.Reason)
		}
		partials = append(partials, parsed.Result)
	}

	result := mergeResults(partials)
	if dropped := filterLowConfidence(result, a.cfg.MinConfidence); dropped > 0 {
		a.logger.Debug("filtered low-confidence findings",
			"ref", ref, "dropped", dropped, "min_confidence", a.cfg.MinConfidence)
	}
	result.Metadata = models.ResultMetadata{
		GeneratedAt:      a.now().UTC(),
		Model:            a.gen.Model(),
		DurationMS:       a.now().Sub(start).Milliseconds(),
		InsightsAnalyzed: len(snap.Insights),
		CacheHit:         false,
		ChunkCount:       len(chunks),
	}

	a.results.Put(fp, result, 0, resultSize(result))

	if a.recorder != nil {
		a.recorder.RecordAnalysis(ref, result)
	}

	a.logger.Info("analysis complete", "ref", ref,
		"connections", len(result.Connections),
		"meta_patterns", len(result.MetaPatterns),
		"chunks", len(chunks),
		"duration_ms", result.Metadata.DurationMS)
	return result, nil
}

// generateParsed issues one generation call and parses the response.
// An unparseable response gets exactly one stricter re-ask before
// surfacing as a malformed-response error.
func (a *Analyzer) generateParsed(ctx context.Context, prompt string, timeout time.Duration) (ParsedOutput, error) {
	genOpts := llm.GenerateOptions{Timeout: timeout, JSONOnly: true}

	metrics.Inc(metrics.GenerateCalls)
	text, err := a.gen.Generate(ctx, prompt, genOpts)
	if err != nil {
		return ParsedOutput{}, err
	}

	parsed := parseOutput(text)
	if parsed.Status != Unparseable {
		return parsed, nil
	}

	a.logger.Warn("unparseable model output, re-asking with strict prompt",
		"response_chars", len(text))
	metrics.Inc(metrics.GenerateCalls)
	text, err = a.gen.Generate(ctx, llm.StrictRetryPrefix+prompt, genOpts)
	if err != nil {
		return ParsedOutput{}, err
	}

	parsed = parseOutput(text)
	if parsed.Status == Unparseable {
		return ParsedOutput{}, fmt.Errorf("%w: response is not valid JSON", llm.ErrMalformedResponse)
	}
	return parsed, nil
}

// loadSnapshot reads the snapshot through the memory-data cache.
func (a *Analyzer) loadSnapshot(ctx context.Context, ref, fp string) (*models.MemorySnapshot, error) {
	key := "snap:" + fp
	if snap, ok := a.snapshots.Get(key); ok {
		return snap, nil
	}
	snap, err := a.reader.Read(ctx, ref)
	if err != nil {
		return nil, err
	}
	a.snapshots.Put(key, snap, 0, snapshotSize(snap))
	return snap, nil
}

// formatText renders the snapshot through the formatted-text cache.
func (a *Analyzer) formatText(fp string, snap *models.MemorySnapshot) string {
	key := "text:" + fp
	if text, ok := a.texts.Get(key); ok {
		return text
	}
	text := memory.FormatSnapshot(snap)
	a.texts.Put(key, text, 0, int64(len(text)))
	return text
}

// cachedCopy returns a shallow copy tagged as a cache hit. The slices
// are shared; results are immutable once cached.
func cachedCopy(res *models.AnalysisResult) *models.AnalysisResult {
	cp := *res
	cp.Metadata.CacheHit = true
	return &cp
}

// snapshotSize estimates a snapshot's footprint for cache accounting.
func snapshotSize(snap *models.MemorySnapshot) int64 {
	var n int64
	for _, ins := range snap.Insights {
		n += int64(len(ins.Content)+len(ins.Evidence)+len(ins.Category)) + 64
	}
	for _, sum := range snap.ConversationSummaries {
		n += int64(len(sum.Text)) + 32
	}
	return n
}

// resultSize estimates a result's footprint for cache accounting.
func resultSize(res *models.AnalysisResult) int64 {
	b, err := json.Marshal(res)
	if err != nil {
		return 1024
	}
	return int64(len(b))
}
