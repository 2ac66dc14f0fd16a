package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultOpenAIModel = "gpt-4o-mini"

const storytellerSystemPrompt = "You are a master storyteller who turns chess games into vivid narratives."

// OpenAI talks to any OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAI(cfg Config, logger *zap.Logger) (*OpenAI, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	conf := openai.DefaultConfig(key)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		conf.BaseURL = strings.TrimSuffix(base, "/")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(conf),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (text string, err error) {
	start := time.Now()
	defer func() { observe(ProviderOpenAI, start, err) }()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: storytellerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text = strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	o.logger.Debug("openai story generated",
		zap.String("model", o.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return text, nil
}

func (o *OpenAI) Close() error { return nil }
