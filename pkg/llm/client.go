// Package llm provides the completion client used by the analysis node.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrEmptyResponse indicates the provider returned no usable text.
var ErrEmptyResponse = errors.New("llm returned empty response")

// Client is the completion contract the analysis node depends on. The
// response is expected to be strict JSON; callers validate it.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures the Anthropic client.
type Options struct {
	// APIKeyEnv names the environment variable holding the API key.
	// Defaults to ANTHROPIC_API_KEY.
	APIKeyEnv string
	// Model defaults to claude-sonnet-4-5.
	Model       string
	MaxTokens   int
	Temperature float64
}

func (o Options) withDefaults() Options {
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	return o
}

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	opts   Options
	logger *slog.Logger
}

// NewAnthropicClient builds a client from options, reading the API key from
// the configured environment variable.
func NewAnthropicClient(opts Options, logger *slog.Logger) (*AnthropicClient, error) {
	opts = opts.withDefaults()
	key := os.Getenv(opts.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", opts.APIKeyEnv)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(key)),
		opts:   opts,
		logger: logger.With("component", "llm", "model", opts.Model),
	}, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: int64(c.opts.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(c.opts.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
