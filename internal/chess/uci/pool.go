package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/park285/bards-gambit/internal/obslog"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	BinaryPath string
	Options    Options
	// Capacity bounds live analysis processes. Zero picks a CPU-based default.
	Capacity int
}

// Pool keeps warm analysis processes that share one option set. A process whose search
// failed is never reused: Release with an error kills it and frees its slot.
type Pool struct {
	binaryPath string
	opt        Options
	capacity   int
	idle       chan *Session

	mu      sync.Mutex
	live    int
	leased  map[*Session]struct{}
	closed  bool
	retired int
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		opt:        cfg.Options,
		capacity:   capacity,
		idle:       make(chan *Session, capacity),
		leased:     make(map[*Session]struct{}),
	}, nil
}

// Acquire leases an idle process, starting a new one while under capacity. It blocks
// until a process is released or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		if s, ok := p.takeIdle(ctx); ok {
			return s, nil
		}

		session, err := p.spawn(ctx)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, errAtCapacity) {
			return nil, err
		}

		select {
		case s := <-p.idle:
			if p.ready(ctx, s) {
				return s, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release hands a leased process back. A non-nil cause kills the process instead,
// since a search that did not finish leaves the engine mid-output.
func (p *Pool) Release(session *Session, cause error) {
	if session == nil {
		return
	}
	p.mu.Lock()
	_, ok := p.leased[session]
	delete(p.leased, session)
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		_ = session.Close()
		return
	}
	if cause != nil || closed {
		p.retire(session, cause)
		return
	}
	select {
	case p.idle <- session:
	default:
		p.retire(session, nil)
	}
}

// Replace retires a failed process and leases a fresh one reset for a new game.
func (p *Pool) Replace(ctx context.Context, failed *Session, cause error) (*Session, error) {
	p.Release(failed, cause)
	session, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := session.NewGame(ctx); err != nil {
		p.Release(session, err)
		return nil, err
	}
	return session, nil
}

// Stats reports live processes and how many have been retired after a failure.
func (p *Pool) Stats() (live, retired int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live, p.retired
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			p.release()
		default:
			return errors.Join(errs...)
		}
	}
}

var errAtCapacity = errors.New("engine pool at capacity")

func (p *Pool) takeIdle(ctx context.Context) (*Session, bool) {
	for {
		select {
		case s := <-p.idle:
			if p.ready(ctx, s) {
				return s, true
			}
		default:
			return nil, false
		}
	}
}

// ready leases s if it still answers isready; otherwise the process is retired.
func (p *Pool) ready(ctx context.Context, s *Session) bool {
	if err := s.EnsureReady(ctx); err != nil {
		_ = s.Close()
		p.release()
		return false
	}
	p.lease(s)
	return true
}

func (p *Pool) spawn(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.live >= p.capacity {
		p.mu.Unlock()
		return nil, errAtCapacity
	}
	p.live++
	p.mu.Unlock()

	session, err := NewSession(ctx, p.binaryPath, p.opt)
	if err != nil {
		p.release()
		return nil, err
	}
	p.lease(session)
	return session, nil
}

func (p *Pool) lease(s *Session) {
	p.mu.Lock()
	p.leased[s] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) retire(s *Session, cause error) {
	if cause != nil {
		obslog.L().Debug("uci session retired", zap.Error(cause))
	}
	_ = s.Close()
	p.mu.Lock()
	if p.live > 0 {
		p.live--
	}
	if cause != nil {
		p.retired++
	}
	p.mu.Unlock()
}

func (p *Pool) release() {
	p.mu.Lock()
	if p.live > 0 {
		p.live--
	}
	p.mu.Unlock()
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
