package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct{ n int }

func (f *fakeSweeper) Sweep() int { return f.n }

type fakeHistory struct {
	pruned int
	cutoff time.Time
	err    error
}

func (f *fakeHistory) Prune(cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.pruned, f.err
}

type fakeRequests struct {
	pruned    int
	olderThan time.Duration
}

func (f *fakeRequests) PruneTerminal(olderThan time.Duration) int {
	f.olderThan = olderThan
	return f.pruned
}

func TestManagerRunAggregates(t *testing.T) {
	hist := &fakeHistory{pruned: 4}
	reqs := &fakeRequests{pruned: 2}
	m := NewManager(
		[]Sweeper{&fakeSweeper{n: 3}, &fakeSweeper{n: 1}},
		hist, reqs,
		Config{HistoryRetention: 24 * time.Hour, RequestRetention: time.Hour},
		slog.Default(),
	)

	report := m.Run(context.Background())
	assert.Equal(t, 4, report.CacheEntriesSwept)
	assert.Equal(t, 4, report.HistoryPruned)
	assert.Equal(t, 2, report.RequestsPruned)

	assert.Equal(t, time.Hour, reqs.olderThan)
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), hist.cutoff, time.Minute)
}

func TestManagerRunToleratesPruneError(t *testing.T) {
	hist := &fakeHistory{err: errors.New("disk full")}
	m := NewManager(nil, hist, nil,
		Config{HistoryRetention: time.Hour}, slog.Default())

	report := m.Run(context.Background())
	assert.Equal(t, 0, report.HistoryPruned)
}

func TestManagerSkipsDisabledSteps(t *testing.T) {
	hist := &fakeHistory{pruned: 9}
	m := NewManager(nil, hist, nil, Config{}, slog.Default())

	report := m.Run(context.Background())
	assert.Equal(t, 0, report.HistoryPruned, "zero retention disables history pruning")
	assert.True(t, hist.cutoff.IsZero())
}

func TestManagerStartStop(t *testing.T) {
	m := NewManager([]Sweeper{&fakeSweeper{}}, nil, nil,
		Config{Interval: 5 * time.Millisecond}, slog.Default())

	m.Start(context.Background())
	// Second Start is a no-op, not a second ticker.
	m.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	m.Stop()
	// Stop after Stop is safe.
	m.Stop()
}

func TestManagerStartWithoutIntervalIsNoop(t *testing.T) {
	m := NewManager(nil, nil, nil, Config{}, slog.Default())
	m.Start(context.Background())
	m.Stop()
}

func TestManagerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(nil, nil, nil, Config{Interval: time.Millisecond}, slog.Default())
	m.Start(ctx)
	cancel()

	// The loop exits on its own; Stop must still return promptly.
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Stop did not return after context cancellation")
	}
}
