package chess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/bards-gambit/internal/annotate"
	"github.com/park285/bards-gambit/internal/chess/uci"
	"github.com/park285/bards-gambit/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	ErrEngineUnavailable = errors.New("chess engine unavailable")
	ErrEngineTimeout     = errors.New("chess engine timeout")
)

const (
	defaultDepth       = 12
	defaultHashMB      = 64
	defaultEvalTimeout = 5 * time.Second
)

var evalCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bard_eval_requests_total",
	Help: "Position evaluations by backend and outcome.",
}, []string{"backend", "status"})

// ObserveEval records one evaluation outcome. Shared by every evaluation backend.
func ObserveEval(backend string, ev domain.Evaluation, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case !ev.Available:
		status = "unavailable"
	}
	evalCounter.WithLabelValues(backend, status).Inc()
}

type EngineConfig struct {
	BinaryPath string
	Depth      int
	Threads    int
	HashMB     int
	PoolSize   int
	// EvalTimeout bounds one position query; a timed-out query is unavailable.
	EvalTimeout time.Duration
}

// Engine evaluates positions with a pool of UCI processes.
type Engine struct {
	pool    *uci.Pool
	limits  uci.Limits
	timeout time.Duration
	logger  *zap.Logger
}

func NewEngine(cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	hash := cfg.HashMB
	if hash <= 0 {
		hash = defaultHashMB
	}
	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.BinaryPath,
		Options:    uci.Options{Threads: cfg.Threads, HashMB: hash, MultiPV: 1},
		Capacity:   cfg.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	timeout := cfg.EvalTimeout
	if timeout <= 0 {
		timeout = defaultEvalTimeout
	}
	return &Engine{
		pool:    pool,
		limits:  uci.Limits{Depth: depth},
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (e *Engine) Depth() int { return e.limits.Depth }

// Acquire reserves one engine process for the caller until release is called.
func (e *Engine) Acquire(ctx context.Context) (annotate.Evaluator, func(), error) {
	r, err := e.Reserve(ctx)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Release, nil
}

// Reserve takes a session out of the pool and resets it for a new game.
func (e *Engine) Reserve(ctx context.Context) (*Reservation, error) {
	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, mapEngineError(err)
	}
	if err := session.NewGame(ctx); err != nil {
		e.pool.Release(session, err)
		return nil, mapEngineError(err)
	}
	return &Reservation{engine: e, session: session}, nil
}

func (e *Engine) Close() error {
	if e.pool == nil {
		return nil
	}
	return e.pool.Close()
}

// Reservation is an Evaluator bound to one engine session at a time.
// A failed search costs only that query: the session is swapped for a fresh one
// before the next position. It is not safe for concurrent use.
type Reservation struct {
	engine   *Engine
	session  *uci.Session
	failed   error
	released bool
}

func (r *Reservation) Evaluate(ctx context.Context, fen string) (domain.Evaluation, error) {
	ev, err := r.evaluate(ctx, fen)
	ObserveEval("stockfish", ev, err)
	return ev, err
}

func (r *Reservation) evaluate(ctx context.Context, fen string) (domain.Evaluation, error) {
	if r.released {
		return domain.Unavailable(), ErrEngineUnavailable
	}
	if err := r.ensureSession(ctx); err != nil {
		return domain.Unavailable(), err
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.engine.timeout)
	defer cancel()

	resp, err := r.session.Search(searchCtx, uci.SearchRequest{
		FEN:    fen,
		Limits: r.engine.limits,
	})
	if err != nil {
		// the process may still be writing search output
		r.failed = err
		r.engine.logger.Warn("engine search failed", zap.String("fen", fen), zap.Error(err))
		return domain.Unavailable(), mapEngineError(err)
	}
	return whiteScore(fen, resp.Score), nil
}

// ensureSession replaces the session abandoned by the last failed search, or leases one
// when an earlier replacement failed.
func (r *Reservation) ensureSession(ctx context.Context) error {
	if r.session != nil && r.failed == nil {
		return nil
	}
	session, err := r.engine.pool.Replace(ctx, r.session, r.failed)
	r.session, r.failed = session, nil
	if err != nil {
		r.engine.logger.Warn("engine session replacement failed", zap.Error(err))
		return mapEngineError(err)
	}
	return nil
}

// Release returns the session to the pool, discarding it if its last search failed.
func (r *Reservation) Release() {
	if r.released {
		return
	}
	r.released = true
	if r.session != nil {
		r.engine.pool.Release(r.session, r.failed)
	}
}

// whiteScore converts a side-to-move score into White's perspective. Mate scores have no
// centipawn value and are reported unavailable.
func whiteScore(fen string, sc uci.Score) domain.Evaluation {
	if sc.Kind != uci.ScoreCP {
		return domain.Unavailable()
	}
	if SideToMove(fen) == domain.Black {
		return domain.Centipawns(-sc.CP)
	}
	return domain.Centipawns(sc.CP)
}

func mapEngineError(err error) error {
	if err == nil {
		return ErrEngineUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || engineTimeoutMessage(err) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

func engineTimeoutMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline")
}
