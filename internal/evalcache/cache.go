package evalcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/park285/bards-gambit/internal/annotate"
	"github.com/park285/bards-gambit/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultTTL = 7 * 24 * time.Hour

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bard_eval_cache_lookups_total",
	Help: "Evaluation cache lookups by result.",
}, []string{"result"})

// Store keeps available evaluations in Redis, keyed by backend and depth.
type Store struct {
	rdb     *redis.Client
	backend string
	depth   int
	ttl     time.Duration
	logger  *zap.Logger
}

func NewStore(rdb *redis.Client, backend string, depth int, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, backend: strings.TrimSpace(backend), depth: depth, ttl: ttl, logger: logger}
}

func (s *Store) key(fen string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(fen)))
	return "bard:eval:" + s.backend + ":" + strconv.Itoa(s.depth) + ":" + hex.EncodeToString(sum[:])
}

// Get reports ok=false on a miss.
func (s *Store) Get(ctx context.Context, fen string) (domain.Evaluation, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(fen)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Unavailable(), false, nil
	}
	if err != nil {
		return domain.Unavailable(), false, err
	}
	cp, err := strconv.Atoi(raw)
	if err != nil {
		return domain.Unavailable(), false, err
	}
	return domain.Centipawns(cp), true, nil
}

// Put stores only available evaluations, so a transient outage is never cached.
func (s *Store) Put(ctx context.Context, fen string, ev domain.Evaluation) error {
	if !ev.Available {
		return nil
	}
	return s.rdb.Set(ctx, s.key(fen), strconv.Itoa(ev.CP), s.ttl).Err()
}

// Wrap decorates an evaluator source with the cache.
func (s *Store) Wrap(src annotate.EvaluatorSource) annotate.EvaluatorSource {
	return annotate.SourceFunc(func(ctx context.Context) (annotate.Evaluator, func(), error) {
		inner, release, err := src.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return &cached{store: s, inner: inner}, release, nil
	})
}

type cached struct {
	store *Store
	inner annotate.Evaluator
}

// Evaluate consults the cache first; Redis failures fall through to the inner evaluator.
func (c *cached) Evaluate(ctx context.Context, fen string) (domain.Evaluation, error) {
	ev, ok, err := c.store.Get(ctx, fen)
	switch {
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		c.store.logger.Warn("eval cache read failed", zap.Error(err))
	case ok:
		cacheLookups.WithLabelValues("hit").Inc()
		return ev, nil
	default:
		cacheLookups.WithLabelValues("miss").Inc()
	}

	ev, err = c.inner.Evaluate(ctx, fen)
	if err != nil {
		return ev, err
	}
	if perr := c.store.Put(ctx, fen, ev); perr != nil {
		c.store.logger.Warn("eval cache write failed", zap.Error(perr))
	}
	return ev, nil
}
