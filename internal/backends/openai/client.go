package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tierroute/tierroute/internal/backends"
)

// Config holds OpenAI-specific settings.
type Config struct {
	BaseURL string `yaml:"base_url"`
	OrgID   string `yaml:"org_id"`

	// Blocked lists model id substrings excluded from discovery
	// (embeddings, audio, image generation and similar).
	Blocked []string `yaml:"blocked"`

	// MaxTokens maps model id to its reported output capacity. Models
	// absent from the map report capacity 0.
	MaxTokens map[string]int `yaml:"max_tokens"`
}

// Client invokes OpenAI chat models and discovers usable model ids.
// Credentials are supplied per call, not bound at construction.
type Client struct {
	config *Config
	logger *logrus.Logger
}

// NewClient creates an OpenAI backend client.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	return &Client{config: config, logger: logger}
}

func (c *Client) api(credential string) *openai.Client {
	clientConfig := openai.DefaultConfig(credential)
	if c.config.BaseURL != "" {
		clientConfig.BaseURL = c.config.BaseURL
	}
	if c.config.OrgID != "" {
		clientConfig.OrgID = c.config.OrgID
	}
	return openai.NewClientWithConfig(clientConfig)
}

// Invoke sends the prompt as a single user message and measures the
// round trip.
func (c *Client) Invoke(ctx context.Context, backend, credential, prompt string) (*backends.Result, error) {
	start := time.Now()
	resp, err := c.api(credential).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: backend,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	c.logger.WithFields(logrus.Fields{
		"backend":    backend,
		"latency_ms": latency.Milliseconds(),
	}).Debug("OpenAI call completed")

	return &backends.Result{
		Backend:   backend,
		Text:      text,
		Latency:   latency,
		MaxTokens: c.config.MaxTokens[backend],
	}, nil
}

// ListBackends lists chat-capable model ids, dropping any id containing
// a blocked substring.
func (c *Client) ListBackends(ctx context.Context, credential string) ([]string, error) {
	resp, err := c.api(credential).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai list models: %w", err)
	}

	var usable []string
	for _, model := range resp.Models {
		if c.blocked(model.ID) {
			continue
		}
		usable = append(usable, model.ID)
	}
	return usable, nil
}

func (c *Client) blocked(id string) bool {
	lower := strings.ToLower(id)
	for _, bad := range c.config.Blocked {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}
