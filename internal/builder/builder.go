package builder

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/bards-gambit/internal/annotate"
	corechess "github.com/park285/bards-gambit/internal/chess"
	"github.com/park285/bards-gambit/internal/config"
	"github.com/park285/bards-gambit/internal/evalcache"
	"github.com/park285/bards-gambit/internal/games"
	"github.com/park285/bards-gambit/internal/lichess"
	"github.com/park285/bards-gambit/internal/llm"
	"github.com/park285/bards-gambit/internal/narrative"
	"github.com/park285/bards-gambit/internal/themes"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Assembler    *narrative.Assembler
	Annotator    *annotate.Annotator
	Themes       *themes.Table
	Games        games.Repository
	Evaluators   annotate.EvaluatorSource
	Generator    llm.Generator
	DefaultTheme string

	engine *corechess.Engine
	redis  *redis.Client
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (deps *Deps, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Deps{DefaultTheme: cfg.DefaultTheme}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.Themes, err = themes.New(cfg.ThemesDir)
	if err != nil {
		return nil, fmt.Errorf("load themes: %w", err)
	}
	if !d.Themes.Has(cfg.DefaultTheme) {
		return nil, fmt.Errorf("DEFAULT_THEME %q is not a known theme", cfg.DefaultTheme)
	}

	mode, err := narrative.ParseMode(cfg.NarrativeMode)
	if err != nil {
		return nil, err
	}

	// Evaluation oracle (only consulted in analysis mode)
	if mode == narrative.ModeAnalysis {
		if err = d.buildEvaluators(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	d.Generator, err = llm.New(llmConfig(cfg), logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}

	// Game store: Postgres when configured, otherwise in-memory with an optional seed file.
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		d.Games, err = games.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init game repository: %w", err)
		}
	} else {
		d.Games = games.NewMemoryRepository()
	}
	if strings.TrimSpace(cfg.GamesFile) != "" {
		n, serr := games.LoadSeedFile(ctx, d.Games, cfg.GamesFile)
		if serr != nil {
			return nil, fmt.Errorf("load games file: %w", serr)
		}
		logger.Info("games_seeded", zap.String("file", cfg.GamesFile), zap.Int("count", n))
	}

	d.Annotator = annotate.New(corechess.NewBoard(), logger.Named("annotate"))
	d.Assembler, err = narrative.New(narrative.Config{
		Themes:     d.Themes,
		Generator:  d.Generator,
		Annotator:  d.Annotator,
		Evaluators: d.Evaluators,
		Mode:       mode,
		Logger:     logger.Named("narrative"),
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Deps) buildEvaluators(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) error {
	var depth int
	switch cfg.EvalBackend {
	case config.EvalBackendStockfish:
		engine, err := corechess.NewEngine(corechess.EngineConfig{
			BinaryPath:  cfg.StockfishPath,
			Depth:       cfg.EngineDepth,
			Threads:     cfg.EngineThreads,
			HashMB:      cfg.EngineHashMB,
			PoolSize:    cfg.EnginePoolSize,
			EvalTimeout: cfg.EvalTimeout,
		}, logger.Named("engine"))
		if err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		d.engine = engine
		d.Evaluators = engine
		depth = engine.Depth()
	case config.EvalBackendLichess:
		d.Evaluators = lichess.NewClient(cfg.LichessBaseURL, lichess.WithTimeout(cfg.EvalTimeout))
	case config.EvalBackendNone:
		return nil
	default:
		return fmt.Errorf("unknown EVAL_BACKEND %q", cfg.EvalBackend)
	}

	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil
	}
	opts, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	d.redis = rdb
	store := evalcache.NewStore(rdb, cfg.EvalBackend, depth, cfg.EvalCacheTTL, logger.Named("evalcache"))
	d.Evaluators = store.Wrap(d.Evaluators)
	return nil
}

func llmConfig(cfg *config.AppConfig) llm.Config {
	out := llm.Config{Provider: cfg.AIProvider, Timeout: cfg.AITimeout}
	switch cfg.AIProvider {
	case llm.ProviderOpenAI:
		out.APIKey, out.Model, out.BaseURL = cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL
	case llm.ProviderOllama:
		out.Model, out.BaseURL = cfg.OllamaModel, cfg.OllamaBaseURL
	default:
		out.APIKey, out.Model = cfg.GeminiAPIKey, cfg.GeminiModel
	}
	return out
}

// Close releases the engine pool, redis and the game store. Safe on partial Deps.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if d.engine != nil {
		keep(d.engine.Close())
	}
	if d.redis != nil {
		keep(d.redis.Close())
	}
	if d.Generator != nil {
		keep(d.Generator.Close())
	}
	if d.Games != nil {
		keep(d.Games.Close())
	}
	return first
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Host
	if u.Port() == "" {
		host = u.Hostname() + ":6379"
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
