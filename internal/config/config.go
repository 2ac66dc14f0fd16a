package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EvalBackendStockfish = "stockfish"
	EvalBackendLichess   = "lichess"
	EvalBackendNone      = "none"
)

type AppConfig struct {
	Port               int
	GinMode            string
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration

	NarrativeMode string
	DefaultTheme  string
	ThemesDir     string

	EvalBackend    string
	StockfishPath  string
	EngineDepth    int
	EngineThreads  int
	EngineHashMB   int
	EnginePoolSize int
	EvalTimeout    time.Duration
	LichessBaseURL string

	RedisURL     string
	EvalCacheTTL time.Duration

	DatabaseURL string
	GamesFile   string

	AIProvider    string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OllamaBaseURL string
	OllamaModel   string
	AITimeout     time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:               5001,
		GinMode:            "release",
		CORSAllowedOrigins: []string{"*"},
		RequestTimeout:     60 * time.Second,
		NarrativeMode:      "analysis",
		DefaultTheme:       "medieval_kingdom",
		EvalBackend:        EvalBackendStockfish,
		EngineDepth:        12,
		EngineThreads:      1,
		EngineHashMB:       64,
		EvalTimeout:        5 * time.Second,
		LichessBaseURL:     "https://lichess.org",
		EvalCacheTTL:       168 * time.Hour,
		AIProvider:         "gemini",
		GeminiModel:        "gemini-1.5-flash",
		OpenAIModel:        "gpt-4o-mini",
		OllamaBaseURL:      "http://localhost:11434",
		OllamaModel:        "llama3",
		AITimeout:          60 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = n
	}
	if v := strings.TrimSpace(os.Getenv("GIN_MODE")); v != "" {
		cfg.GinMode = v
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	if d, ok := durationEnv("REQUEST_TIMEOUT"); ok {
		cfg.RequestTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("NARRATIVE_MODE")); v != "" {
		cfg.NarrativeMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_THEME")); v != "" {
		cfg.DefaultTheme = v
	}
	cfg.ThemesDir = strings.TrimSpace(os.Getenv("THEMES_DIR"))

	// Evaluation
	if v := strings.TrimSpace(os.Getenv("EVAL_BACKEND")); v != "" {
		cfg.EvalBackend = strings.ToLower(v)
	}
	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if n, ok := positiveIntEnv("ENGINE_DEPTH"); ok {
		cfg.EngineDepth = n
	}
	if n, ok := positiveIntEnv("ENGINE_THREADS"); ok {
		cfg.EngineThreads = n
	}
	if n, ok := positiveIntEnv("ENGINE_HASH_MB"); ok {
		cfg.EngineHashMB = n
	}
	if n, ok := positiveIntEnv("ENGINE_POOL_SIZE"); ok {
		cfg.EnginePoolSize = n
	}
	if d, ok := durationEnv("EVAL_TIMEOUT"); ok {
		cfg.EvalTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("LICHESS_BASE_URL")); v != "" {
		cfg.LichessBaseURL = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if d, ok := durationEnv("EVAL_CACHE_TTL"); ok {
		cfg.EvalCacheTTL = d
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.GamesFile = strings.TrimSpace(os.Getenv("GAMES_FILE"))

	// AI provider
	if v := strings.TrimSpace(os.Getenv("AI_PROVIDER")); v != "" {
		cfg.AIProvider = strings.ToLower(v)
	}
	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		cfg.GeminiModel = v
	}
	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAIBaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		cfg.OpenAIModel = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL")); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_MODEL")); v != "" {
		cfg.OllamaModel = v
	}
	if d, ok := durationEnv("AI_TIMEOUT"); ok {
		cfg.AITimeout = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.NarrativeMode {
	case "analysis", "plain":
	default:
		return fmt.Errorf("NARRATIVE_MODE must be analysis or plain, got %q", c.NarrativeMode)
	}
	switch c.EvalBackend {
	case EvalBackendStockfish:
		if c.StockfishPath == "" {
			return errors.New("STOCKFISH_PATH is required when EVAL_BACKEND=stockfish")
		}
	case EvalBackendLichess, EvalBackendNone:
	default:
		return fmt.Errorf("unknown EVAL_BACKEND %q", c.EvalBackend)
	}
	switch c.AIProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY or GOOGLE_API_KEY is required")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required")
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *AppConfig) Addr() string { return ":" + strconv.Itoa(c.Port) }

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func positiveIntEnv(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// durationEnv accepts Go durations ("90s") or a bare number of seconds.
func durationEnv(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
