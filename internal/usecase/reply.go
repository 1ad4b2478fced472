package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"support-chat/internal/domain"
)

const (
	// MaxHistory is the number of prior messages sent as context.
	MaxHistory = 10

	DefaultReplyTimeout = 30 * time.Second

	FallbackUnconfigured = "I'm having trouble connecting right now. Please try again later."
	FallbackFailed       = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."
)

var errEmptyReply = errors.New("usecase: llm returned an empty reply")

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// ReplyRecorder observes reply outcomes.
type ReplyRecorder interface {
	ObserveReply(outcome string)
}

// Outcome classifies how a reply was produced.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeUnconfigured Outcome = "unconfigured"
	OutcomeFailed       Outcome = "failed"
)

// Reply is the result of a generation attempt. Text is always usable; Err is
// set only when Outcome is OutcomeFailed.
type Reply struct {
	Text    string
	Outcome Outcome
	Err     error
}

// Degraded reports whether Text is a fallback rather than a model reply.
func (r Reply) Degraded() bool {
	return r.Outcome != OutcomeDelivered
}

type ReplyGenerator struct {
	llm          LLMClient
	model        string
	systemPrompt string
	timeout      time.Duration
	logger       *slog.Logger
	recorder     ReplyRecorder
}

type ReplyOption func(*ReplyGenerator)

// WithSystemPrompt replaces DefaultSystemPrompt. Blank values are ignored.
func WithSystemPrompt(prompt string) ReplyOption {
	return func(g *ReplyGenerator) {
		if strings.TrimSpace(prompt) != "" {
			g.systemPrompt = prompt
		}
	}
}

func WithReplyTimeout(d time.Duration) ReplyOption {
	return func(g *ReplyGenerator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithReplyLogger(logger *slog.Logger) ReplyOption {
	return func(g *ReplyGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithReplyRecorder(r ReplyRecorder) ReplyOption {
	return func(g *ReplyGenerator) {
		g.recorder = r
	}
}

// NewReplyGenerator builds a generator. A nil llm means no credential is
// configured and every reply is FallbackUnconfigured.
func NewReplyGenerator(llm LLMClient, model string, opts ...ReplyOption) (*ReplyGenerator, error) {
	model = strings.TrimSpace(model)
	if llm != nil && model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	g := &ReplyGenerator{
		llm:          llm,
		model:        model,
		systemPrompt: DefaultSystemPrompt,
		timeout:      DefaultReplyTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// GenerateReply returns the assistant text for userMessage. It never fails.
func (g *ReplyGenerator) GenerateReply(ctx context.Context, userMessage string, history []domain.Message) string {
	return g.Generate(ctx, userMessage, history).Text
}

// Generate makes at most one LLM call. The call is detached from ctx
// cancellation and bounded by the generator timeout.
func (g *ReplyGenerator) Generate(ctx context.Context, userMessage string, history []domain.Message) Reply {
	if g.llm == nil {
		return g.finish(Reply{Text: FallbackUnconfigured, Outcome: OutcomeUnconfigured})
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	messages := buildPromptMessages(g.systemPrompt, userMessage, history, MaxHistory)
	started := time.Now()
	text, err := g.llm.Chat(callCtx, g.model, messages)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyReply
	}
	if err != nil {
		g.logger.WarnContext(ctx, "chat.reply.failed",
			"model", g.model,
			"history", len(messages)-2,
			"duration_ms", time.Since(started).Milliseconds(),
			"err", err,
		)
		return g.finish(Reply{Text: FallbackFailed, Outcome: OutcomeFailed, Err: err})
	}
	return g.finish(Reply{Text: text, Outcome: OutcomeDelivered})
}

func (g *ReplyGenerator) finish(r Reply) Reply {
	if g.recorder != nil {
		g.recorder.ObserveReply(string(r.Outcome))
	}
	return r
}
