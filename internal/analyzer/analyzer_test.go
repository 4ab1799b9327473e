package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapselabs/synapse/internal/cache"
	"github.com/synapselabs/synapse/internal/llm"
	"github.com/synapselabs/synapse/internal/memory"
	"github.com/synapselabs/synapse/internal/models"
)

// fakeGen is a scriptable Generator. With no script it answers every
// prompt with an empty well-formed result.
type fakeGen struct {
	mu        sync.Mutex
	calls     int32
	prompts   []string
	responses []fakeResponse
	block     chan struct{} // when set, Generate waits on it
}

type fakeResponse struct {
	text string
	err  error
}

func (g *fakeGen) Model() string { return "fake-model" }

func (g *fakeGen) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.responses) == 0 {
		return `{"connections": [], "meta_patterns": [], "summary": "nothing notable", "recommendations": []}`, nil
	}
	next := g.responses[0]
	g.responses = g.responses[1:]
	return next.text, next.err
}

func (g *fakeGen) callCount() int { return int(atomic.LoadInt32(&g.calls)) }

func testSnapshot(n int) *models.MemorySnapshot {
	snap := &models.MemorySnapshot{}
	for i := 0; i < n; i++ {
		snap.Insights = append(snap.Insights, models.Insight{
			ID:         fmt.Sprintf("i-%d", i+1),
			Category:   "habit",
			Content:    fmt.Sprintf("insight number %d about the user", i+1),
			Confidence: 0.8,
			Timestamp:  time.Now().UTC(),
		})
	}
	return snap
}

func testConfig() Config {
	return Config{
		MinInsights:   3,
		MaxChunkChars: 12000,
		ChunkOverlap:  600,
		Timeout:       time.Minute,
		ShortTimeout:  10 * time.Second,
	}
}

func newTestAnalyzer(t *testing.T, reader memory.SnapshotReader, gen llm.Generator, cfg Config, opts ...Option) *Analyzer {
	t.Helper()
	snapshots, err := cache.New[*models.MemorySnapshot](time.Hour, 64, 1<<20)
	require.NoError(t, err)
	texts, err := cache.New[string](time.Hour, 64, 1<<20)
	require.NoError(t, err)
	results, err := cache.New[*models.AnalysisResult](time.Hour, 64, 1<<20)
	require.NoError(t, err)

	a, err := New(reader, gen, snapshots, texts, results, cfg, slog.Default(), opts...)
	require.NoError(t, err)
	return a
}

func TestAnalyzerConfigValidation(t *testing.T) {
	reader := memory.NewMockReader()
	gen := &fakeGen{}

	for name, cfg := range map[string]Config{
		"negativeMinInsights": {MinInsights: -1, MaxChunkChars: 100, Timeout: time.Second, ShortTimeout: time.Second},
		"zeroChunkChars":      {MaxChunkChars: 0, Timeout: time.Second, ShortTimeout: time.Second},
		"overlapTooLarge":     {MaxChunkChars: 100, ChunkOverlap: 100, Timeout: time.Second, ShortTimeout: time.Second},
		"confidenceOverOne":   {MaxChunkChars: 100, MinConfidence: 1.5, Timeout: time.Second, ShortTimeout: time.Second},
		"zeroTimeout":         {MaxChunkChars: 100, ShortTimeout: time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(reader, gen, nil, nil, nil, cfg, slog.Default())
			assert.Error(t, err)
		})
	}
}

func TestAnalyzeReturnsResult(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{responses: []fakeResponse{{text: `{
		"connections": [{"title": "C1", "description": "d", "surprise_factor": 0.7, "relevance": 0.6}],
		"meta_patterns": [{"name": "P1", "description": "d", "confidence": 0.8, "evidence_count": 3}],
		"summary": "found things",
		"recommendations": ["rec one"]
	}`}}}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	res, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)

	require.Len(t, res.Connections, 1)
	assert.Equal(t, "C1", res.Connections[0].Title)
	require.Len(t, res.MetaPatterns, 1)
	assert.Equal(t, "found things", res.Summary)

	assert.Equal(t, "fake-model", res.Metadata.Model)
	assert.Equal(t, 5, res.Metadata.InsightsAnalyzed)
	assert.Equal(t, 1, res.Metadata.ChunkCount)
	assert.False(t, res.Metadata.CacheHit)
	assert.Equal(t, 1, gen.callCount())
}

func TestAnalyzeMinConfidenceFilters(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{responses: []fakeResponse{{text: `{
		"connections": [
			{"title": "Strong", "description": "d", "surprise_factor": 0.8, "relevance": 0.9},
			{"title": "Weak", "description": "d", "surprise_factor": 0.9, "relevance": 0.2}
		],
		"meta_patterns": [
			{"name": "Solid", "description": "d", "confidence": 0.9, "evidence_count": 4},
			{"name": "Shaky", "description": "d", "confidence": 0.3, "evidence_count": 1}
		],
		"summary": "mixed quality",
		"recommendations": []
	}`}}}

	cfg := testConfig()
	cfg.MinConfidence = 0.5
	a := newTestAnalyzer(t, reader, gen, cfg)

	res, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)

	require.Len(t, res.Connections, 1)
	assert.Equal(t, "Strong", res.Connections[0].Title)
	require.Len(t, res.MetaPatterns, 1)
	assert.Equal(t, "Solid", res.MetaPatterns[0].Name)
}

func TestAnalyzeCacheHitSkipsGeneration(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	first, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)
	assert.False(t, first.Metadata.CacheHit)

	second, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.Summary, second.Summary)

	assert.Equal(t, 1, gen.callCount(), "a cached result must not touch the LLM")
	assert.Equal(t, 1, reader.Reads(), "a cached result must not re-read the snapshot")
}

func TestAnalyzeOptionsChangeCacheKey(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	_, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "user-1", models.AnalysisOptions{Depth: "deep"})
	require.NoError(t, err)

	assert.Equal(t, 2, gen.callCount(), "different options must not share a cache entry")
}

func TestAnalyzePriorityDoesNotChangeCacheKey(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	_, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{Priority: models.PriorityLow})
	require.NoError(t, err)
	res, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{Priority: models.PriorityUrgent})
	require.NoError(t, err)

	assert.True(t, res.Metadata.CacheHit)
	assert.Equal(t, 1, gen.callCount())
}

func TestAnalyzeSnapshotChangeInvalidatesCache(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	_, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)

	// Updated snapshot gets a new fingerprint, so the old entry no longer
	// matches and a fresh analysis runs.
	reader.SetSnapshot("user-1", testSnapshot(6))

	res, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)
	assert.False(t, res.Metadata.CacheHit)
	assert.Equal(t, 2, gen.callCount())
}

func TestAnalyzeInsufficientData(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("sparse", testSnapshot(2))
	gen := &fakeGen{}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	_, err := a.Analyze(context.Background(), "sparse", models.AnalysisOptions{})
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Contains(t, err.Error(), "2 insights")
	assert.Equal(t, 0, gen.callCount(), "insufficient data must never reach the LLM")
}

func TestAnalyzeUnknownRef(t *testing.T) {
	a := newTestAnalyzer(t, memory.NewMockReader(), &fakeGen{}, testConfig())
	_, err := a.Analyze(context.Background(), "missing", models.AnalysisOptions{})
	assert.ErrorIs(t, err, memory.ErrDataNotFound)
}

func TestAnalyzeConcurrentDuplicatesCollapse(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{block: make(chan struct{})}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*models.AnalysisResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
		}(i)
	}

	// Wait until the single in-flight generation has started, then let
	// it finish.
	require.Eventually(t, func() bool { return gen.callCount() == 1 }, 2*time.Second, time.Millisecond)
	close(gen.block)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}
	assert.Equal(t, 1, gen.callCount(), "identical concurrent requests must share one execution")
	assert.Equal(t, 1, reader.Reads())
}

func TestAnalyzeChunksLargeInputAndMerges(t *testing.T) {
	snap := &models.MemorySnapshot{}
	for i := 0; i < 12; i++ {
		snap.Insights = append(snap.Insights, models.Insight{
			ID:      fmt.Sprintf("i-%d", i+1),
			Content: strings.Repeat("very detailed observation ", 20),
		})
	}
	reader := memory.NewMockReader()
	reader.SetSnapshot("big", snap)

	chunkResp := func(unique string) string {
		return fmt.Sprintf(`{
			"connections": [
				{"title": "Pattern A", "description": "seen everywhere", "surprise_factor": 0.6, "relevance": 0.6},
				{"title": %q, "description": "chunk specific", "surprise_factor": 0.5, "relevance": 0.5}
			],
			"meta_patterns": [],
			"summary": "partial view",
			"recommendations": []
		}`, unique)
	}
	gen := &fakeGen{responses: []fakeResponse{
		{text: chunkResp("Only First")},
		{text: chunkResp("Only Second")},
		{text: chunkResp("Only Third")},
		{text: chunkResp("Only Fourth")},
		{text: chunkResp("Only Fifth")},
	}}

	cfg := testConfig()
	cfg.MaxChunkChars = 2000
	cfg.ChunkOverlap = 100
	a := newTestAnalyzer(t, reader, gen, cfg)

	res, err := a.Analyze(context.Background(), "big", models.AnalysisOptions{})
	require.NoError(t, err)

	require.Greater(t, res.Metadata.ChunkCount, 1)
	assert.Equal(t, res.Metadata.ChunkCount, gen.callCount(), "one generation per chunk")

	// "Pattern A" appears in every partial result but survives merging
	// exactly once.
	seen := 0
	for _, c := range res.Connections {
		if c.Title == "Pattern A" {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
	assert.Len(t, res.Connections, 1+res.Metadata.ChunkCount)

	// Each chunk prompt names its position.
	for i, prompt := range gen.prompts {
		assert.Contains(t, prompt, fmt.Sprintf("chunk %d of %d", i+1, res.Metadata.ChunkCount))
	}
}

func TestAnalyzeUnparseableGetsOneStrictReask(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{responses: []fakeResponse{
		{text: "I refuse to answer in JSON."},
		{text: `{"connections": [], "meta_patterns": [], "summary": "second try", "recommendations": []}`},
	}}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	res, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second try", res.Summary)

	require.Equal(t, 2, gen.callCount())
	assert.True(t, strings.HasPrefix(gen.prompts[1], llm.StrictRetryPrefix))
}

func TestAnalyzeUnparseableTwiceFails(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{responses: []fakeResponse{
		{text: "still prose"},
		{text: "more prose"},
	}}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	_, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnalysisUnavailable)
	assert.Equal(t, 2, gen.callCount())
}

func TestAnalyzeBackendFailureIsSanitized(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{responses: []fakeResponse{
		{err: fmt.Errorf("%w: dial unix /var/run/ollama/ollama.sock: no such file", llm.ErrServiceUnavailable)},
	}}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	_, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnalysisUnavailable)
	assert.NotContains(t, err.Error(), "/var/run", "paths must not leak to callers")
}

func TestAnalyzeFailureIsNotCached(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{responses: []fakeResponse{
		{err: fmt.Errorf("%w: down", llm.ErrServiceUnavailable)},
		{text: `{"connections": [], "meta_patterns": [], "summary": "recovered", "recommendations": []}`},
	}}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	_, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.Error(t, err)

	res, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Summary)
	assert.False(t, res.Metadata.CacheHit)
}

func TestAnalyzeRecorderInvoked(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{}

	var mu sync.Mutex
	var recordedRefs []string
	rec := recorderFunc(func(ref string, _ *models.AnalysisResult) {
		mu.Lock()
		defer mu.Unlock()
		recordedRefs = append(recordedRefs, ref)
	})

	a := newTestAnalyzer(t, reader, gen, testConfig(), WithRecorder(rec))

	_, err := a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)
	// A cache hit is not a new analysis and must not be re-recorded.
	_, err = a.Analyze(context.Background(), "user-1", models.AnalysisOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"user-1"}, recordedRefs)
}

// recorderFunc adapts a function to the Recorder interface.
type recorderFunc func(ref string, result *models.AnalysisResult)

func (f recorderFunc) RecordAnalysis(ref string, result *models.AnalysisResult) { f(ref, result) }

func TestExecuteAdaptsQueueRequests(t *testing.T) {
	reader := memory.NewMockReader()
	reader.SetSnapshot("user-1", testSnapshot(5))
	gen := &fakeGen{}

	a := newTestAnalyzer(t, reader, gen, testConfig())

	res, err := a.Execute(context.Background(), &models.AnalysisRequest{
		Ref:     "user-1",
		Options: models.AnalysisOptions{Depth: "standard"},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, gen.callCount())
}
