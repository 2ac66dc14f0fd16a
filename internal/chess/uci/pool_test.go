package uci

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// fakeEngine answers the UCI handshake and scores every position 25cp, except that it
// never finishes a search of the position after 1. e4.
const fakeEngine = `#!/bin/sh
pos=""
while IFS= read -r line; do
  case "$line" in
    uci) echo "id name fakefish"; echo "uciok" ;;
    isready) echo "readyok" ;;
    "position fen "*) pos="${line#position fen }" ;;
    "position startpos") pos="startpos" ;;
    go*)
      case "$pos" in
        *"4P3/8/PPPP1PPP/RNBQKBNR b"*) ;;
        *) echo "info depth 1 score cp 25 pv a2a3"; echo "bestmove a2a3" ;;
      esac ;;
    quit) exit 0 ;;
  esac
done
`

const (
	quietFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	stuckFEN = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
)

func newFakePool(t *testing.T, capacity int) *Pool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a shell script")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fakefish")
	if err := os.WriteFile(path, []byte(fakeEngine), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	p, err := NewPool(PoolConfig{
		BinaryPath: path,
		Options:    Options{Threads: 1, HashMB: 16, MultiPV: 1},
		Capacity:   capacity,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPoolReusesReleasedSession(t *testing.T) {
	p := newFakePool(t, 1)
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(first, nil)

	second, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	defer p.Release(second, nil)
	if second != first {
		t.Fatalf("expected the idle session to be reused")
	}
	if live, retired := p.Stats(); live != 1 || retired != 0 {
		t.Fatalf("stats: live=%d retired=%d", live, retired)
	}
}

func TestPoolReplacesFailedSession(t *testing.T) {
	p := newFakePool(t, 1)
	ctx := context.Background()

	session, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	searchCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	_, searchErr := session.Search(searchCtx, SearchRequest{FEN: stuckFEN, Limits: Limits{Depth: 4}})
	cancel()
	if !errors.Is(searchErr, context.DeadlineExceeded) {
		t.Fatalf("expected the stuck search to time out, got %v", searchErr)
	}

	fresh, err := p.Replace(ctx, session, searchErr)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	defer p.Release(fresh, nil)
	if fresh == session {
		t.Fatalf("a failed session must not be handed out again")
	}
	resp, err := fresh.Search(ctx, SearchRequest{FEN: quietFEN, Limits: Limits{Depth: 4}})
	if err != nil {
		t.Fatalf("search on replacement: %v", err)
	}
	if resp.Score.Kind != ScoreCP || resp.Score.CP != 25 || resp.BestMove != "a2a3" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if live, retired := p.Stats(); live != 1 || retired != 1 {
		t.Fatalf("stats: live=%d retired=%d", live, retired)
	}
}

func TestPoolAcquireWaitsAtCapacity(t *testing.T) {
	p := newFakePool(t, 1)
	held, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(held, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while the only session is leased, got %v", err)
	}
}

func TestPoolClosedRejectsAcquire(t *testing.T) {
	p := newFakePool(t, 1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestNewPoolValidates(t *testing.T) {
	if _, err := NewPool(PoolConfig{}); err == nil {
		t.Fatalf("expected error without a binary path")
	}
	if _, err := NewPool(PoolConfig{BinaryPath: "/nonexistent/stockfish", Options: Options{HashMB: 16, MultiPV: 1}}); err == nil {
		t.Fatalf("expected error for a missing binary")
	}
}
