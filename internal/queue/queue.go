// Package queue holds analysis requests in a bounded priority queue and
// dispatches them to a fixed pool of workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synapselabs/synapse/internal/metrics"
	"github.com/synapselabs/synapse/internal/models"
)

// ErrQueueFull signals backpressure: the caller should retry later or
// fall back to a direct synchronous analysis.
var ErrQueueFull = errors.New("analysis queue full")

// ErrNotFound is returned for an unknown request ID.
var ErrNotFound = errors.New("request not found")

// ErrNotRunning is returned by Submit before Start or after Shutdown.
var ErrNotRunning = errors.New("queue not running")

// Executor runs one analysis request to completion and returns its result.
type Executor func(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error)

// Config bounds the queue and its worker pool.
type Config struct {
	Workers             int
	MaxQueueSize        int
	StarvationThreshold time.Duration
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0, got %d", c.Workers)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be greater than 0, got %d", c.MaxQueueSize)
	}
	if c.StarvationThreshold <= 0 {
		return fmt.Errorf("starvation threshold must be greater than 0, got %s", c.StarvationThreshold)
	}
	return nil
}

type item struct {
	req       *models.AnalysisRequest
	cancelled bool // advisory once processing has started
}

// Queue is a bounded multi-tier FIFO with a fixed worker pool. Requests
// drain strictly by priority tier (urgent first), FIFO within a tier,
// with a one-tier boost for requests that have waited past the
// starvation threshold. All bookkeeping happens under one mutex;
// Submit/Cancel/Status never block on analysis work.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending [4][]*item // indexed by models.Priority
	byID    map[string]*item
	depth   int // items currently in StateQueued

	cfg       Config
	exec      Executor
	errInfo   func(error) models.ErrorInfo
	logger    *slog.Logger
	now       func() time.Time
	started   bool
	stopped   bool
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock injects a clock for starvation-boost tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithErrorInfo overrides how executor errors are serialized onto failed
// requests. The default records a generic code with the error text; the
// orchestrator wiring installs its sanitizing classifier here.
func WithErrorInfo(fn func(error) models.ErrorInfo) Option {
	return func(q *Queue) { q.errInfo = fn }
}

// New creates a queue. Workers do not run until Start is called.
func New(cfg Config, exec Executor, logger *slog.Logger, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue configuration: %w", err)
	}
	if exec == nil {
		return nil, fmt.Errorf("invalid queue configuration: executor must not be nil")
	}

	q := &Queue{
		byID:   make(map[string]*item),
		cfg:    cfg,
		exec:   exec,
		logger: logger,
		now:    time.Now,
		errInfo: func(err error) models.ErrorInfo {
			return models.ErrorInfo{Code: "analysis_failed", Message: err.Error()}
		},
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Start launches the worker pool. Workers live until Shutdown.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	runCtx, cancel := context.WithCancel(ctx)
	q.cancelRun = cancel

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, i)
	}
	q.logger.Info("queue started", "workers", q.cfg.Workers, "max_queue_size", q.cfg.MaxQueueSize)
}

// Shutdown stops accepting work, cancels in-flight executions, and waits
// for the workers to exit.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	cancel := q.cancelRun
	q.cond.Broadcast()
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	q.logger.Info("queue stopped")
}

// Submit enqueues a request and returns its ID. The queue assigns the ID
// and submission time and owns the request until it reaches a terminal
// state. Fails with ErrQueueFull when the queue is at capacity.
func (q *Queue) Submit(req *models.AnalysisRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started || q.stopped {
		return "", ErrNotRunning
	}
	if q.depth >= q.cfg.MaxQueueSize {
		metrics.Inc(metrics.QueueRejected)
		return "", fmt.Errorf("%w: %d requests queued", ErrQueueFull, q.depth)
	}
	if !req.Priority.IsValid() {
		req.Priority = models.PriorityNormal
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.SubmittedAt = q.now()
	req.State = models.StateQueued

	it := &item{req: req}
	q.pending[req.Priority] = append(q.pending[req.Priority], it)
	q.byID[req.ID] = it
	q.depth++

	metrics.Inc(metrics.QueueSubmitted)
	q.logger.Debug("request queued", "id", req.ID, "priority", req.Priority.String(), "depth", q.depth)
	q.cond.Signal()
	return req.ID, nil
}

// Cancel cancels a request. Returns true only when the request was still
// queued and is now cancelled. Cancelling a processing request is
// advisory: the flag is set and the worker discards the result when its
// current call returns.
func (q *Queue) Cancel(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	switch it.req.State {
	case models.StateQueued:
		q.removeLocked(it)
		it.req.State = models.StateCancelled
		it.req.CompletedAt = q.now()
		q.depth--
		metrics.Inc(metrics.QueueCancelled)
		q.logger.Info("request cancelled", "id", id)
		return true, nil
	case models.StateProcessing:
		it.cancelled = true
		q.logger.Info("cancellation flagged for in-flight request", "id", id)
		return false, nil
	default:
		return false, nil
	}
}

// Status returns the request's current lifecycle state.
func (q *Queue) Status(id string) (models.RequestState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return it.req.State, nil
}

// Get returns a copy of the request, including result or error once
// terminal.
func (q *Queue) Get(id string) (*models.AnalysisRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	cp := *it.req
	return &cp, nil
}

// Depth returns how many requests are waiting (not yet processing).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// PruneTerminal forgets terminal requests older than olderThan and
// returns how many were removed. Called by the lifecycle manager so the
// request table does not grow for the process lifetime.
func (q *Queue) PruneTerminal(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	pruned := 0
	for id, it := range q.byID {
		if it.req.State.Terminal() && it.req.CompletedAt.Before(cutoff) {
			delete(q.byID, id)
			pruned++
		}
	}
	return pruned
}

// worker loops until shutdown: pop the highest-priority ready request,
// execute it, store the outcome. A failure or panic in one execution
// never kills the worker.
func (q *Queue) worker(ctx context.Context, n int) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for !q.stopped && q.depth == 0 {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		it := q.popLocked()
		it.req.State = models.StateProcessing
		it.req.StartedAt = q.now()
		q.depth--
		q.mu.Unlock()

		q.logger.Debug("worker picked request", "worker", n, "id", it.req.ID,
			"priority", it.req.Priority.String())
		result, err := q.runOne(ctx, it.req)

		q.mu.Lock()
		switch {
		case it.cancelled:
			// Advisory cancellation: the work ran, the result is discarded.
			it.req.State = models.StateCancelled
		case err != nil:
			info := q.errInfo(err)
			it.req.State = models.StateFailed
			it.req.Error = &info
			q.logger.Warn("request failed", "id", it.req.ID, "error", err)
		default:
			it.req.State = models.StateCompleted
			it.req.Result = result
		}
		it.req.CompletedAt = q.now()
		q.mu.Unlock()
	}
}

// runOne executes the request, converting a panic into an error so the
// worker loop survives.
func (q *Queue) runOne(ctx context.Context, req *models.AnalysisRequest) (result *models.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()
	return q.exec(ctx, req)
}

// popLocked selects the next request: highest effective tier first, FIFO
// within a tier. A request that has waited past the starvation threshold
// is considered one tier above its own, so sustained high-priority load
// cannot starve low-priority work indefinitely. Caller holds mu and has
// checked depth > 0.
func (q *Queue) popLocked() *item {
	now := q.now()

	var best *item
	bestTier := models.PriorityLow - 1
	// Scan lowest tier first so a starved item, boosted one tier up,
	// outranks natural items of that tier; the strict comparison keeps
	// FIFO within a tier because later items in a slice were submitted
	// later.
	for tier := models.PriorityLow; tier <= models.PriorityUrgent; tier++ {
		for _, it := range q.pending[tier] {
			effective := tier
			// The boost never reaches urgent: urgent work is always first.
			if tier < models.PriorityHigh && now.Sub(it.req.SubmittedAt) > q.cfg.StarvationThreshold {
				effective = tier + 1
			}
			if effective > bestTier {
				best = it
				bestTier = effective
			}
		}
	}

	q.removeLocked(best)
	return best
}

// removeLocked deletes it from its pending tier slice. Caller holds mu.
func (q *Queue) removeLocked(target *item) {
	tier := target.req.Priority
	for i, it := range q.pending[tier] {
		if it == target {
			q.pending[tier] = append(q.pending[tier][:i], q.pending[tier][i+1:]...)
			return
		}
	}
}
