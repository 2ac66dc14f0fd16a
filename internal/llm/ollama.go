package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3"
)

type Ollama struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

func NewOllama(cfg Config, logger *zap.Logger) (*Ollama, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultOllamaURL
	}
	// api.NewClient expects the bare host, without an OpenAI-style /v1 suffix
	base = strings.TrimSuffix(strings.TrimSuffix(base, "/"), "/v1")
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url %q: %w", base, err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOllamaModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ollama{
		client: api.NewClient(parsed, &http.Client{Timeout: cfg.Timeout}),
		model:  model,
		logger: logger,
	}, nil
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (text string, err error) {
	start := time.Now()
	defer func() { observe(ProviderOllama, start, err) }()

	stream := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "system", Content: storytellerSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
	}

	var b strings.Builder
	err = o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		b.WriteString(r.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	text = strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	o.logger.Debug("ollama story generated", zap.String("model", o.model), zap.Int("chars", len(text)))
	return text, nil
}

func (o *Ollama) Close() error { return nil }
