// Package history persists auxiliary records of completed analyses:
// an append-capped history document and rolled-up usage analytics.
// History is advisory: write failures are logged and counted, never
// surfaced to the analysis caller.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synapselabs/synapse/internal/metrics"
	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/pkg/tokenizer"
)

const (
	historyFile   = "history.json"
	analyticsFile = "analytics.json"

	previewChars = 240
)

// Entry is one recorded analysis run.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Ref       string    `json:"ref"`
	Summary   string    `json:"summary"`

	// Performance captures how the run behaved, not what it found.
	Performance Performance `json:"performance_snapshot"`

	// ResultsPreview is a truncated rendering of the top findings so the
	// history stays readable without re-loading full results.
	ResultsPreview string `json:"results_preview,omitempty"`
}

// Performance is the per-run execution snapshot stored with each entry.
type Performance struct {
	Model            string `json:"model"`
	DurationMS       int64  `json:"duration_ms"`
	InsightsAnalyzed int    `json:"insights_analyzed"`
	ChunkCount       int    `json:"chunk_count"`
	Connections      int    `json:"connections"`
	MetaPatterns     int    `json:"meta_patterns"`
}

// Analytics is the rolled-up usage document.
type Analytics struct {
	TotalAnalyses    int            `json:"total_analyses"`
	TotalConnections int            `json:"total_connections"`
	TotalPatterns    int            `json:"total_patterns"`
	DailyUsage       map[string]int `json:"daily_usage"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// Store reads and writes the history and analytics documents under a
// single directory. All methods are safe for concurrent use.
type Store struct {
	dir        string
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	mu sync.Mutex
}

// New creates a Store rooted at dir, creating it if needed. maxEntries
// caps the history document; 0 means unlimited.
func New(dir string, maxEntries int, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("history directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &Store{
		dir:        dir,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// WithClock injects a clock for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// RecordAnalysis appends an entry for a completed run and updates the
// analytics roll-up. Errors are logged and counted but not returned.
func (s *Store) RecordAnalysis(ref string, result *models.AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Ref:       ref,
		Summary:   result.Summary,
		Performance: Performance{
			Model:            result.Metadata.Model,
			DurationMS:       result.Metadata.DurationMS,
			InsightsAnalyzed: result.Metadata.InsightsAnalyzed,
			ChunkCount:       result.Metadata.ChunkCount,
			Connections:      len(result.Connections),
			MetaPatterns:     len(result.MetaPatterns),
		},
		ResultsPreview: preview(result),
	}

	if err := s.appendEntryLocked(entry); err != nil {
		metrics.Inc(metrics.HistoryWriteFails)
		s.logger.Warn("history write failed", "ref", ref, "error", err)
	}
	if err := s.updateAnalyticsLocked(ts, result); err != nil {
		metrics.Inc(metrics.HistoryWriteFails)
		s.logger.Warn("analytics write failed", "ref", ref, "error", err)
	}
}

// Entries returns the recorded history, newest first, up to limit
// entries. limit <= 0 returns everything.
func (s *Store) Entries(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadEntriesLocked()
	if err != nil {
		return nil, err
	}

	// Stored oldest-first; reverse for presentation.
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Usage returns the analytics roll-up. A missing document yields an
// empty Analytics, not an error.
func (s *Store) Usage() (*Analytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAnalyticsLocked()
}

// Prune drops history entries older than cutoff and returns how many
// were removed. The analytics roll-up is never pruned.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadEntriesLocked()
	if err != nil {
		return 0, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeJSONLocked(historyFile, kept); err != nil {
		return 0, fmt.Errorf("writing pruned history: %w", err)
	}
	return removed, nil
}

func (s *Store) appendEntryLocked(entry Entry) error {
	entries, err := s.loadEntriesLocked()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if s.maxEntries > 0 && len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	return s.writeJSONLocked(historyFile, entries)
}

func (s *Store) updateAnalyticsLocked(ts time.Time, result *models.AnalysisResult) error {
	a, err := s.loadAnalyticsLocked()
	if err != nil {
		return err
	}
	a.TotalAnalyses++
	a.TotalConnections += len(result.Connections)
	a.TotalPatterns += len(result.MetaPatterns)
	a.DailyUsage[ts.Format("2006-01-02")]++
	a.LastUpdated = ts
	return s.writeJSONLocked(analyticsFile, a)
}

func (s *Store) loadEntriesLocked() ([]Entry, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		// A corrupt history document is not worth failing analyses over;
		// start fresh and keep the old bytes aside for inspection.
		s.logger.Warn("history document corrupt, starting fresh", "error", err)
		_ = os.Rename(filepath.Join(s.dir, historyFile), filepath.Join(s.dir, historyFile+".corrupt"))
		return nil, nil
	}
	return entries, nil
}

func (s *Store) loadAnalyticsLocked() (*Analytics, error) {
	a := &Analytics{DailyUsage: map[string]int{}}
	b, err := os.ReadFile(filepath.Join(s.dir, analyticsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("reading analytics: %w", err)
	}
	if err := json.Unmarshal(b, a); err != nil {
		s.logger.Warn("analytics document corrupt, starting fresh", "error", err)
		return &Analytics{DailyUsage: map[string]int{}}, nil
	}
	if a.DailyUsage == nil {
		a.DailyUsage = map[string]int{}
	}
	return a, nil
}

// writeJSONLocked writes atomically via a temp file in the same
// directory, so a crash never leaves a half-written document.
func (s *Store) writeJSONLocked(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

// preview renders the top findings as a short human-readable line.
func preview(result *models.AnalysisResult) string {
	var parts []string
	for i, c := range result.Connections {
		if i >= 3 {
			break
		}
		parts = append(parts, c.Title)
	}
	for i, p := range result.MetaPatterns {
		if i >= 2 {
			break
		}
		parts = append(parts, p.Name)
	}
	if len(parts) == 0 {
		return ""
	}
	return tokenizer.Preview(strings.Join(parts, "; "), previewChars)
}
