package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tierroute/tierroute/internal/backends"
)

// Config holds Anthropic-specific settings.
type Config struct {
	BaseURL string `yaml:"base_url"`

	// Models is the advertised backend set; the Anthropic API has no
	// generate-capability listing comparable to other providers, so
	// discovery serves the configured ids.
	Models []string `yaml:"models"`

	// MaxTokens maps model id to its reported output capacity.
	MaxTokens map[string]int `yaml:"max_tokens"`
}

// Client invokes Anthropic models via the Messages API.
type Client struct {
	config *Config
	logger *logrus.Logger
}

// NewClient creates an Anthropic backend client.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	return &Client{config: config, logger: logger}
}

func (c *Client) api(credential string) anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(credential)}
	if c.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.config.BaseURL))
	}
	return anthropic.NewClient(opts...)
}

// Invoke sends the prompt as a single user message and measures the
// round trip.
func (c *Client) Invoke(ctx context.Context, backend, credential, prompt string) (*backends.Result, error) {
	maxTokens := c.config.MaxTokens[backend]
	if maxTokens <= 0 {
		maxTokens = 1024 // the Messages API requires max_tokens
	}

	client := c.api(credential)
	start := time.Now()
	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: anthropic.Model(backend),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		MaxTokens: int64(maxTokens),
	})
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		text.WriteString(block.Text)
	}

	c.logger.WithFields(logrus.Fields{
		"backend":    backend,
		"latency_ms": latency.Milliseconds(),
	}).Debug("Anthropic call completed")

	return &backends.Result{
		Backend:   backend,
		Text:      text.String(),
		Latency:   latency,
		MaxTokens: c.config.MaxTokens[backend],
	}, nil
}

// ListBackends serves the configured model set.
func (c *Client) ListBackends(ctx context.Context, credential string) ([]string, error) {
	ids := make([]string, len(c.config.Models))
	copy(ids, c.config.Models)
	return ids, nil
}
