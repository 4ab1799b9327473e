package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// defaultOllamaTimeout bounds a generation call when the caller does not
// supply one. Local models can be slow on long prompts.
const defaultOllamaTimeout = 120 * time.Second

// OllamaClient implements Generator using the Ollama HTTP API.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates a Generator backed by a local Ollama daemon.
// requestsPerSec <= 0 disables client-side rate limiting.
func NewOllamaClient(baseURL, model string, requestsPerSec float64, logger *slog.Logger) *OllamaClient {
	var limiter *rate.Limiter
	if requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		limiter: limiter,
		logger:  logger,
	}
}

// Model returns the configured Ollama model name.
func (o *OllamaClient) Model() string { return o.model }

// Generate sends a non-streaming generation request and returns the raw
// response text. Failures map onto the package error taxonomy: network
// timeouts and deadline expiry become ErrTimeout, unreachable or erroring
// service becomes ErrServiceUnavailable, and an empty or undecodable body
// becomes ErrMalformedResponse.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	}
	if opts.JSONOnly {
		reqBody.Format = "json"
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	reqURL := o.baseURL + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		o.logger.Warn("ollama returned non-200", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("%w: ollama returned %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrMalformedResponse, err)
	}
	if result.Response == "" {
		return "", fmt.Errorf("%w: ollama returned empty response", ErrMalformedResponse)
	}

	o.logger.Debug("generation complete",
		"model", o.model,
		"prompt_chars", len(prompt),
		"response_chars", len(result.Response),
		"duration", time.Since(start))
	return result.Response, nil
}

// classifyTransportError maps HTTP client errors onto the package taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}
