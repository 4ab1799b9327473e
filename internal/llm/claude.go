package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultClaudeMaxTokens caps the response when the caller does not set one.
const defaultClaudeMaxTokens = 4096

// ClaudeClient implements Generator using the Anthropic Claude API. It is
// the hosted alternative to the local Ollama backend.
type ClaudeClient struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeClient creates a Generator backed by the Anthropic API.
func NewClaudeClient(apiKey, model string, logger *slog.Logger) *ClaudeClient {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClient{
		client: &c,
		model:  model,
		logger: logger,
	}
}

// Model returns the configured Claude model identifier.
func (c *ClaudeClient) Model() string { return c.model }

// Generate sends the prompt as a single user message and returns the
// first text block of the response.
func (c *ClaudeClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.JSONOnly {
		params.System = []anthropic.TextBlockParam{
			{Text: "You are a precise analysis system. Output only valid JSON."},
		}
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: calling Claude API: %v", ErrServiceUnavailable, err)
	}

	var text string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text = strings.TrimSpace(resp.Content[i].Text)
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty response from Claude", ErrMalformedResponse)
	}

	c.logger.Debug("generation complete",
		"model", c.model,
		"prompt_chars", len(prompt),
		"response_chars", len(text),
		"duration", time.Since(start))
	return text, nil
}
