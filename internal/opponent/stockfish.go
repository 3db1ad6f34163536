package opponent

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/chess/uci"
)

const defaultDepth = 20

type StockfishConfig struct {
	Skill          int
	Depth          int
	MoveTimeMillis int
	Threads        int
	HashMB         int
}

func (c StockfishConfig) options() uci.Options {
	return uci.Options{Threads: c.Threads, SkillLevel: c.Skill, HashMB: c.HashMB}.WithDefaults()
}

// limits prefers a fixed move time when one is configured, depth otherwise.
func (c StockfishConfig) limits() uci.Limits {
	if c.MoveTimeMillis > 0 {
		return uci.Limits{MoveTimeMillis: c.MoveTimeMillis}
	}
	depth := c.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	return uci.Limits{Depth: depth}
}

// Searcher is the part of a UCI session the opponent drives.
type Searcher interface {
	NewGame(ctx context.Context) error
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error)
}

type Stockfish struct {
	cfg     StockfishConfig
	elo     int
	engine  Searcher
	release func(error)
	logger  *zap.Logger

	mu      sync.Mutex
	history []string
	lastErr error
	closed  bool
}

// NewStockfish takes a session from pool for the lifetime of one game.
func NewStockfish(ctx context.Context, pool *uci.Pool, cfg StockfishConfig, logger *zap.Logger) (*Stockfish, error) {
	if _, err := SkillElo(cfg.Skill); err != nil {
		return nil, err
	}
	session, err := pool.Acquire(ctx, cfg.options())
	if err != nil {
		return nil, fmt.Errorf("acquire engine: %w", err)
	}
	sf, err := NewStockfishWith(session, cfg, func(err error) { pool.Release(session, err) }, logger)
	if err != nil {
		pool.Release(session, err)
		return nil, err
	}
	if err := session.NewGame(ctx); err != nil {
		pool.Release(session, err)
		return nil, fmt.Errorf("engine new game: %w", err)
	}
	return sf, nil
}

// NewStockfishWith wraps an already prepared engine. release is called once on Close.
func NewStockfishWith(engine Searcher, cfg StockfishConfig, release func(error), logger *zap.Logger) (*Stockfish, error) {
	elo, err := SkillElo(cfg.Skill)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stockfish{cfg: cfg, elo: elo, engine: engine, release: release, logger: logger}, nil
}

func (s *Stockfish) Name() string { return StockfishName }

func (s *Stockfish) Elo() string { return strconv.Itoa(s.elo) }

func (s *Stockfish) SelectMove(ctx context.Context, pos Position) (string, error) {
	moves := pos.UCIMoves()
	resp, err := s.engine.Search(ctx, uci.SearchRequest{Moves: moves, Limits: s.cfg.limits()})
	if err != nil {
		s.fail(err)
		return "", fmt.Errorf("stockfish search: %w", err)
	}
	s.logger.Debug("stockfish_move",
		zap.Int("ply", len(moves)+1),
		zap.String("move", resp.BestMove),
		zap.Int("depth", resp.Depth),
		zap.Int("score_cp", resp.ScoreCP),
		zap.Int("mate", resp.Mate),
		zap.Int("skill", s.cfg.Skill))
	return resp.BestMove, nil
}

// Sync resets the engine when moves does not extend the previously synced history.
func (s *Stockfish) Sync(ctx context.Context, moves []string) error {
	s.mu.Lock()
	prev := s.history
	s.history = slices.Clone(moves)
	s.mu.Unlock()

	if len(moves) >= len(prev) && slices.Equal(moves[:len(prev)], prev) {
		return nil
	}
	if err := s.engine.NewGame(ctx); err != nil {
		s.fail(err)
		return fmt.Errorf("engine new game: %w", err)
	}
	return nil
}

func (s *Stockfish) Parameters() map[string]string { return s.cfg.options().Parameters() }

func (s *Stockfish) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.lastErr
	s.mu.Unlock()

	if s.release != nil {
		s.release(err)
	}
	return nil
}

func (s *Stockfish) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
