package evalcache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/bards-gambit/internal/annotate"
	"github.com/park285/bards-gambit/internal/domain"
	"github.com/redis/go-redis/v9"
)

type countingEvaluator struct {
	calls int
	ev    domain.Evaluation
	err   error
}

func (c *countingEvaluator) Evaluate(context.Context, string) (domain.Evaluation, error) {
	c.calls++
	return c.ev, c.err
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "stockfish", 12, time.Hour, nil), mr
}

func acquire(t *testing.T, src annotate.EvaluatorSource) annotate.Evaluator {
	t.Helper()
	ev, release, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(release)
	return ev
}

func TestCachedEvaluationHitsRedis(t *testing.T) {
	store, mr := newTestStore(t)
	inner := &countingEvaluator{ev: domain.Centipawns(-42)}
	ev := acquire(t, store.Wrap(annotate.Shared(inner)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := ev.Evaluate(ctx, "fen-a")
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !got.Available || got.CP != -42 {
			t.Fatalf("unexpected evaluation: %+v", got)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one inner call, got %d", inner.calls)
	}
	key := store.key("fen-a")
	if !mr.Exists(key) {
		t.Fatalf("expected key %s in redis", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl: %v", ttl)
	}
}

func TestUnavailableIsNotCached(t *testing.T) {
	store, _ := newTestStore(t)
	inner := &countingEvaluator{ev: domain.Unavailable()}
	ev := acquire(t, store.Wrap(annotate.Shared(inner)))

	for i := 0; i < 2; i++ {
		if got, _ := ev.Evaluate(context.Background(), "fen-b"); got.Available {
			t.Fatalf("expected unavailable: %+v", got)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("unavailable evaluations must be retried, got %d calls", inner.calls)
	}
}

func TestInnerErrorPropagates(t *testing.T) {
	store, _ := newTestStore(t)
	boom := errors.New("engine gone")
	ev := acquire(t, store.Wrap(annotate.Shared(&countingEvaluator{err: boom})))
	if _, err := ev.Evaluate(context.Background(), "fen-c"); !errors.Is(err, boom) {
		t.Fatalf("expected inner error, got %v", err)
	}
}

func TestRedisOutageFallsThrough(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()
	inner := &countingEvaluator{ev: domain.Centipawns(5)}
	ev := acquire(t, store.Wrap(annotate.Shared(inner)))

	got, err := ev.Evaluate(context.Background(), "fen-d")
	if err != nil || got.CP != 5 {
		t.Fatalf("expected inner evaluation despite redis outage: %+v %v", got, err)
	}
}

func TestKeysSeparateBackendsAndDepths(t *testing.T) {
	a := NewStore(nil, "stockfish", 12, 0, nil)
	b := NewStore(nil, "stockfish", 18, 0, nil)
	c := NewStore(nil, "lichess", 12, 0, nil)
	fen := "8/8/8/8/8/8/8/k6K w - - 0 1"
	if a.key(fen) == b.key(fen) || a.key(fen) == c.key(fen) {
		t.Fatalf("keys must differ across backend and depth")
	}
	if a.ttl != DefaultTTL {
		t.Fatalf("default ttl not applied: %v", a.ttl)
	}
}
