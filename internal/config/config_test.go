package config

import (
	"testing"
	"time"
)

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EVAL_BACKEND", "none")
	t.Setenv("AI_PROVIDER", "ollama")
}

func TestLoadDefaults(t *testing.T) {
	setMinimalEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5001 || cfg.Addr() != ":5001" {
		t.Fatalf("port default: %d", cfg.Port)
	}
	if cfg.DefaultTheme != "medieval_kingdom" || cfg.NarrativeMode != "analysis" {
		t.Fatalf("narrative defaults: %+v", cfg)
	}
	if cfg.EngineDepth != 12 || cfg.EvalTimeout != 5*time.Second || cfg.EvalCacheTTL != 168*time.Hour {
		t.Fatalf("eval defaults: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("cors default: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("REQUEST_TIMEOUT", "90")
	t.Setenv("EVAL_TIMEOUT", "750ms")
	t.Setenv("ENGINE_DEPTH", "-3")
	t.Setenv("NARRATIVE_MODE", "PLAIN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port: %d", cfg.Port)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.example" {
		t.Fatalf("cors: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RequestTimeout != 90*time.Second || cfg.EvalTimeout != 750*time.Millisecond {
		t.Fatalf("durations: %v %v", cfg.RequestTimeout, cfg.EvalTimeout)
	}
	if cfg.EngineDepth != 12 {
		t.Fatalf("invalid depth must keep default, got %d", cfg.EngineDepth)
	}
	if cfg.NarrativeMode != "plain" {
		t.Fatalf("mode: %q", cfg.NarrativeMode)
	}
}

func TestLoadGeminiKeyFallback(t *testing.T) {
	t.Setenv("EVAL_BACKEND", "none")
	t.Setenv("AI_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiAPIKey != "g-key" {
		t.Fatalf("expected GOOGLE_API_KEY fallback, got %q", cfg.GeminiAPIKey)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"stockfish without path": {"EVAL_BACKEND": "stockfish", "STOCKFISH_PATH": "", "AI_PROVIDER": "ollama"},
		"unknown backend":        {"EVAL_BACKEND": "crystal-ball", "AI_PROVIDER": "ollama"},
		"unknown provider":       {"EVAL_BACKEND": "none", "AI_PROVIDER": "oracle"},
		"openai without key":     {"EVAL_BACKEND": "none", "AI_PROVIDER": "openai", "OPENAI_API_KEY": ""},
		"bad mode":               {"EVAL_BACKEND": "none", "AI_PROVIDER": "ollama", "NARRATIVE_MODE": "loud"},
		"bad port":               {"EVAL_BACKEND": "none", "AI_PROVIDER": "ollama", "PORT": "http"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
