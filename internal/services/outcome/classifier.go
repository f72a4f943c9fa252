package outcome

import (
	"context"
	"strings"
	"time"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/prompts"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 10 * time.Second
	temperature    = 0.1
	maxTokens      = 10
)

// Classifier labels call summaries
type Classifier interface {
	Classify(ctx context.Context, summary string) domain.OutcomeLabel
}

// ChatCompleter is the part of the OpenAI client the classifier needs
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures an OpenAIClassifier
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClassifier classifies summaries with a single chat completion.
// It never fails: any error, timeout or off-list answer yields neutral.
type OpenAIClassifier struct {
	client  ChatCompleter
	model   string
	timeout time.Duration
	observe func(label domain.OutcomeLabel, fallback bool)
}

// NewOpenAIClassifier creates a classifier backed by the OpenAI chat API
func NewOpenAIClassifier(cfg Config) *OpenAIClassifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return NewClassifierWithClient(openai.NewClientWithConfig(clientConfig), cfg.Model, cfg.Timeout)
}

// NewClassifierWithClient creates a classifier around any ChatCompleter
func NewClassifierWithClient(client ChatCompleter, model string, timeout time.Duration) *OpenAIClassifier {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAIClassifier{client: client, model: model, timeout: timeout}
}

// OnResult registers a hook called with every label produced
func (c *OpenAIClassifier) OnResult(fn func(label domain.OutcomeLabel, fallback bool)) {
	c.observe = fn
}

// Classify returns the outcome label for summary
func (c *OpenAIClassifier) Classify(ctx context.Context, summary string) domain.OutcomeLabel {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return c.result(domain.OutcomeNeutral, true)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompts.OutcomeSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompts.OutcomeUserPrompt(summary)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		logger.Warn(ctx, "outcome classification failed, using neutral", zap.Error(err))
		return c.result(domain.OutcomeNeutral, true)
	}
	if len(resp.Choices) == 0 {
		logger.Warn(ctx, "outcome classification returned no choices, using neutral")
		return c.result(domain.OutcomeNeutral, true)
	}

	raw := resp.Choices[0].Message.Content
	label, ok := domain.ParseOutcome(raw)
	if !ok {
		logger.Warn(ctx, "outcome classification returned unknown label, using neutral", zap.String("raw", raw))
		return c.result(domain.OutcomeNeutral, true)
	}

	logger.Debug(ctx, "call outcome classified", zap.String("outcome", string(label)))
	return c.result(label, false)
}

func (c *OpenAIClassifier) result(label domain.OutcomeLabel, fallback bool) domain.OutcomeLabel {
	if c.observe != nil {
		c.observe(label, fallback)
	}
	return label
}
