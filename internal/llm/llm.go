package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/bards-gambit/internal/narrative"
	"go.uber.org/zap"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

var (
	ErrEmptyResponse = errors.New("empty response from model")
	ErrMissingAPIKey = errors.New("api key required")
)

const defaultTimeout = 60 * time.Second

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// Generator is a narrative.Generator that owns network resources.
type Generator interface {
	narrative.Generator
	Close() error
}

// New builds the generator selected by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return NewGemini(cfg, logger)
	case ProviderOpenAI:
		return NewOpenAI(cfg, logger)
	case ProviderOllama:
		return NewOllama(cfg, logger)
	}
	return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
}
