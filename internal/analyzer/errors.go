package analyzer

import (
	"context"
	"errors"
	"regexp"

	"github.com/synapselabs/synapse/internal/memory"
	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/internal/queue"
)

// ErrInsufficientData is returned when a snapshot holds too few insights
// to analyze. It is an expected, common outcome, not a failure of the
// pipeline, and it is never retried.
var ErrInsufficientData = errors.New("insufficient insights for analysis")

// ErrAnalysisUnavailable is returned once the LLM adapter's retries are
// exhausted. The wrapped message is sanitized; the original cause is
// logged, never returned.
var ErrAnalysisUnavailable = errors.New("analysis temporarily unavailable")

// pathPattern matches absolute filesystem paths with at least two
// segments. Provider error text may embed local paths; they must never
// reach callers.
var pathPattern = regexp.MustCompile(`(?:/[\w@.+-]+){2,}/?`)

// Sanitize strips filesystem paths from an error message.
func Sanitize(msg string) string {
	return pathPattern.ReplaceAllString(msg, "[path]")
}

// ErrorInfoFor serializes an error for storage on a failed request. The
// queue is configured with this classifier so failed asynchronous
// requests carry the same codes and sanitized messages as synchronous
// callers see.
func ErrorInfoFor(err error) models.ErrorInfo {
	code := "analysis_failed"
	switch {
	case errors.Is(err, ErrInsufficientData):
		code = "insufficient_data"
	case errors.Is(err, ErrAnalysisUnavailable):
		code = "analysis_unavailable"
	case errors.Is(err, memory.ErrDataNotFound):
		code = "data_not_found"
	case errors.Is(err, memory.ErrDataCorrupt):
		code = "data_corrupt"
	case errors.Is(err, queue.ErrQueueFull):
		code = "queue_full"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = "cancelled"
	}
	return models.ErrorInfo{Code: code, Message: Sanitize(err.Error())}
}
