package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/obslog"
)

var ErrPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	BinaryPath string
	// Capacity bounds the number of live engine processes across all options.
	Capacity int
}

type startFunc func(ctx context.Context, opt Options) (*Session, error)

// Pool leases engine processes to games. Idle processes are kept per option
// set and reused; when the pool is full an idle process with other options is
// closed to make room.
type Pool struct {
	start    startFunc
	slots    chan struct{}
	returned chan struct{}

	mu     sync.Mutex
	closed bool
	idle   map[string][]*Session
	leased map[*Session]string
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, errors.New("engine binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary: %w", err)
	}
	start := func(ctx context.Context, opt Options) (*Session, error) {
		return NewSession(ctx, cfg.BinaryPath, opt)
	}
	return newPool(cfg.Capacity, start), nil
}

func newPool(capacity int, start startFunc) *Pool {
	return &Pool{
		start:    start,
		slots:    make(chan struct{}, max(capacity, 1)),
		returned: make(chan struct{}, 1),
		idle:     make(map[string][]*Session),
		leased:   make(map[*Session]string),
	}
}

// Acquire leases a ready session configured with opt, waiting while the pool
// is at capacity and every process is leased.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	opt = opt.WithDefaults()
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	key := opt.key()

	for {
		s, victim, err := p.takeIdle(key)
		if err != nil {
			return nil, err
		}
		if s != nil {
			err := s.EnsureReady(ctx)
			if err == nil {
				return s, nil
			}
			obslog.L().Warn("uci_idle_session_dropped", zap.String("options", key), zap.Error(err))
			p.Release(s, err)
			continue
		}

		select {
		case p.slots <- struct{}{}:
			return p.launch(ctx, key, opt)
		default:
		}
		if victim != nil {
			p.retire(victim)
			continue
		}

		select {
		case p.slots <- struct{}{}:
			return p.launch(ctx, key, opt)
		case <-p.returned:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// takeIdle pops an idle session for key. When there is none it offers an idle
// session of another key as eviction victim, already removed from the pool.
func (p *Pool) takeIdle(key string) (s, victim *Session, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrPoolClosed
	}
	if list := p.idle[key]; len(list) > 0 {
		s = list[len(list)-1]
		p.idle[key] = list[:len(list)-1]
		p.leased[s] = key
		return s, nil, nil
	}
	for k, list := range p.idle {
		if len(list) > 0 {
			victim = list[0]
			p.idle[k] = list[1:]
			return nil, victim, nil
		}
	}
	return nil, nil, nil
}

func (p *Pool) launch(ctx context.Context, key string, opt Options) (*Session, error) {
	s, err := p.start(ctx, opt)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.mu.Lock()
	p.leased[s] = key
	p.mu.Unlock()
	return s, nil
}

func (p *Pool) retire(s *Session) {
	if err := s.Close(); err != nil {
		obslog.L().Debug("uci_session_close", zap.Error(err))
	}
	<-p.slots
}

// Release hands a leased session back. A non-nil err marks the process as
// unusable and it is closed instead of kept.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	key, ok := p.leased[s]
	delete(p.leased, s)
	keep := ok && err == nil && !p.closed
	if keep {
		p.idle[key] = append(p.idle[key], s)
	}
	p.mu.Unlock()

	switch {
	case keep:
		select {
		case p.returned <- struct{}{}:
		default:
		}
	case ok:
		p.retire(s)
	default:
		_ = s.Close()
	}
}

// Close shuts down idle processes; leased ones are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	var idle []*Session
	for k, list := range p.idle {
		idle = append(idle, list...)
		delete(p.idle, k)
	}
	p.mu.Unlock()

	var errs []error
	for _, s := range idle {
		errs = append(errs, s.Close())
		<-p.slots
	}
	return errors.Join(errs...)
}
