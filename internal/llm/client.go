// Package llm adapts external text-generation backends behind a single
// Generator interface with a shared error taxonomy and retry policy.
package llm

import (
	"context"
	"errors"
	"time"
)

// Failure modes surfaced by a Generator. Callers classify with errors.Is;
// the retry policy treats ErrTimeout and ErrServiceUnavailable as
// transient and ErrMalformedResponse as retryable once with a stricter
// prompt.
var (
	ErrTimeout            = errors.New("generation timed out")
	ErrServiceUnavailable = errors.New("generation service unavailable")
	ErrMalformedResponse  = errors.New("malformed generation response")
)

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	// Timeout bounds the call. Zero means the backend's default.
	Timeout time.Duration

	// MaxTokens caps the response length where the backend supports it.
	MaxTokens int

	// JSONOnly asks the backend to constrain output to valid JSON.
	JSONOnly bool
}

// Generator issues one text-generation request to a backing model.
// Implementations are stateless aside from configuration and safe for
// concurrent use.
type Generator interface {
	// Generate returns the model's raw text response for prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Model returns the backend model identifier, used in result
	// metadata and cache fingerprints.
	Model() string
}
