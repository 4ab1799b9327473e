// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint
// when net/http/pprof is imported in the main binary.
package metrics

import "expvar"

// Operation counters.
var (
	AnalyzeTotal      = expvar.NewInt("synapse_analyze_total")
	AnalyzeCacheHits  = expvar.NewInt("synapse_analyze_cache_hits_total")
	AnalyzeChunked    = expvar.NewInt("synapse_analyze_chunked_total")
	AnalyzeFailed     = expvar.NewInt("synapse_analyze_failed_total")
	InsufficientData  = expvar.NewInt("synapse_insufficient_data_total")
	GenerateCalls     = expvar.NewInt("synapse_generate_calls_total")
	GenerateRetries   = expvar.NewInt("synapse_generate_retries_total")
	QueueSubmitted    = expvar.NewInt("synapse_queue_submitted_total")
	QueueRejected     = expvar.NewInt("synapse_queue_rejected_total")
	QueueCancelled    = expvar.NewInt("synapse_queue_cancelled_total")
	LifecycleSweeps   = expvar.NewInt("synapse_lifecycle_sweeps_total")
	HistoryWriteFails = expvar.NewInt("synapse_history_write_failures_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
