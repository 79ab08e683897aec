// Package ai provides the language-model client for research runs:
// unstructured chat plus schema-validated structured generation, with
// retry, backoff and a circuit breaker around the API.
package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Model constants. Research runs use the default model; nothing here needs
// the high-end tier, but the env override allows swapping it in.
const (
	ModelDefault = "claude-sonnet-4-5-20250929"
	ModelHaiku   = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the model to use, checking CODELORE_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("CODELORE_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// Client is the language-model surface the research loop depends on.
// Chat returns raw model text; GenerateStructured decodes the model's
// response into out, applying the resilient JSON extraction strategies.
type Client interface {
	Chat(ctx context.Context, prompt string) (string, error)
	GenerateStructured(ctx context.Context, prompt string, out interface{}) error
	Model() string
}

// AnthropicClient implements Client against the Anthropic Messages API
type AnthropicClient struct {
	client         *anthropic.Client
	model          string
	maxTokens      int64
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	logger         *zap.Logger
}

// ClientConfig holds client configuration
type ClientConfig struct {
	APIKey    string      // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Model     string      // Model to use (default: GetDefaultModel())
	MaxTokens int64       // Response token cap (default: 4096)
	Retry     RetryConfig // Retry configuration (uses defaults if zero)
	Logger    *zap.Logger
}

// NewClient creates a new Anthropic-backed client
func NewClient(cfg *ClientConfig) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout, logger)
		logger.Info("circuit breaker initialized",
			zap.Int("failure_threshold", retry.FailureThreshold),
			zap.Int("success_threshold", retry.SuccessThreshold),
			zap.Duration("open_timeout", retry.OpenTimeout))
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &AnthropicClient{
		client:         &client,
		model:          model,
		maxTokens:      maxTokens,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
		logger:         logger,
	}, nil
}

// Model returns the configured model identifier
func (c *AnthropicClient) Model() string {
	return c.model
}

// Chat sends a single-turn prompt and returns the model's text
func (c *AnthropicClient) Chat(ctx context.Context, prompt string) (string, error) {
	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, "chat", func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: c.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// GenerateStructured sends a prompt and decodes the response JSON into out.
// A response the extractor cannot parse is returned as an error; callers
// treat it as a retryable failure for the enclosing run.
func (c *AnthropicClient) GenerateStructured(ctx context.Context, prompt string, out interface{}) error {
	text, err := c.Chat(ctx, prompt)
	if err != nil {
		return err
	}
	if err := ParseInto(text, out, ParseOptions{Context: "structured generation", Logger: c.logger}); err != nil {
		return fmt.Errorf("failed to parse structured response: %w", err)
	}
	return nil
}
