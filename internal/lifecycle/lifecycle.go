// Package lifecycle runs periodic housekeeping: sweeping expired cache
// entries, pruning old history, and dropping terminal queue requests.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synapselabs/synapse/internal/metrics"
)

// Sweeper removes expired entries and reports how many it dropped.
// All three caches satisfy this.
type Sweeper interface {
	Sweep() int
}

// HistoryPruner drops history entries older than the cutoff.
type HistoryPruner interface {
	Prune(cutoff time.Time) (int, error)
}

// RequestPruner drops terminal queued requests older than the given age.
type RequestPruner interface {
	PruneTerminal(olderThan time.Duration) int
}

// Report summarizes one housekeeping run.
type Report struct {
	CacheEntriesSwept int `json:"cache_entries_swept"`
	HistoryPruned     int `json:"history_pruned"`
	RequestsPruned    int `json:"requests_pruned"`
}

// Config tunes the housekeeping schedule and retention windows.
type Config struct {
	// Interval between background runs. <= 0 disables the ticker;
	// Run can still be invoked manually.
	Interval time.Duration

	// HistoryRetention is how long history entries are kept.
	HistoryRetention time.Duration

	// RequestRetention is how long terminal requests stay queryable.
	RequestRetention time.Duration
}

// Manager coordinates housekeeping across the caches, history store,
// and request queue.
type Manager struct {
	sweepers []Sweeper
	history  HistoryPruner
	requests RequestPruner
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a lifecycle manager. history and requests may be
// nil; their steps are skipped.
func NewManager(sweepers []Sweeper, history HistoryPruner, requests RequestPruner, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		sweepers: sweepers,
		history:  history,
		requests: requests,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes one housekeeping pass.
func (m *Manager) Run(ctx context.Context) *Report {
	report := &Report{}

	for _, s := range m.sweepers {
		report.CacheEntriesSwept += s.Sweep()
	}

	if m.history != nil && m.cfg.HistoryRetention > 0 {
		cutoff := time.Now().UTC().Add(-m.cfg.HistoryRetention)
		pruned, err := m.history.Prune(cutoff)
		if err != nil {
			m.logger.Error("history prune failed", "error", err)
		}
		report.HistoryPruned = pruned
	}

	if m.requests != nil && m.cfg.RequestRetention > 0 {
		report.RequestsPruned = m.requests.PruneTerminal(m.cfg.RequestRetention)
	}

	metrics.Inc(metrics.LifecycleSweeps)
	m.logger.Debug("housekeeping pass complete",
		"cache_entries_swept", report.CacheEntriesSwept,
		"history_pruned", report.HistoryPruned,
		"requests_pruned", report.RequestsPruned)
	return report
}

// Start launches the background ticker. It is a no-op when already
// running or when no interval is configured.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.cfg.Interval <= 0 {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.loop(ctx, m.stopCh, m.doneCh)
	m.logger.Info("housekeeping started", "interval", m.cfg.Interval)
}

// Stop halts the background ticker and waits for any in-flight pass.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
	m.logger.Info("housekeeping stopped")
}

func (m *Manager) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Run(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
