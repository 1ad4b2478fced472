// Package anthropic adapts the Anthropic Messages API to the chat-completion
// shape used by the reply generator.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"support-chat/internal/domain"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
	defaultTimeout   = 30 * time.Second
)

// Client sends chat turns through the Anthropic Messages API.
type Client struct {
	api       anthropic.Client
	maxTokens int64
}

type config struct {
	apiKey    string
	baseURL   string
	timeout   time.Duration
	maxTokens int64
}

type Option func(*config)

func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = strings.TrimSpace(baseURL) }
}

func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxTokens(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewClient builds a Client. Retries are disabled; one attempt per call.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	cfg := config{
		apiKey:    strings.TrimSpace(apiKey),
		timeout:   defaultTimeout,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.apiKey == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.apiKey),
		option.WithRequestTimeout(cfg.timeout),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Client{
		api:       anthropic.NewClient(reqOpts...),
		maxTokens: cfg.maxTokens,
	}, nil
}

// Chat sends messages and returns the concatenated text of the reply.
// System messages are lifted into the request's system prompt.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("anthropic: model must not be empty")
	}

	system, turns := toMessageParams(messages)
	if len(turns) == 0 {
		return "", errors.New("anthropic: no user message to send")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  turns,
	}
	if len(system) > 0 {
		params.System = system
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	reply := strings.TrimSpace(b.String())
	if reply == "" {
		return "", errors.New("anthropic: no reply in response")
	}
	return reply, nil
}

// toMessageParams splits system instructions from conversation turns. Leading
// assistant turns are dropped because the API requires a user turn first.
func toMessageParams(messages []domain.ChatMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system []anthropic.TextBlockParam
		turns  []anthropic.MessageParam
	)
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case domain.RoleAssistant:
			if len(turns) == 0 {
				continue
			}
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, turns
}
