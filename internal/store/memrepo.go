package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/llm-chess-arena/internal/domain"
)

// memrepo keeps games in process, used when DATABASE_URL is unset.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	byUUID map[string]*domain.LLMGame
	byRun  map[string][]*domain.LLMGame
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byUUID: make(map[string]*domain.LLMGame),
		byRun:  make(map[string][]*domain.LLMGame),
	}
}

func (m *memrepo) InsertGame(_ context.Context, game *domain.LLMGame) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(game.GameUUID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUUID[key]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	stored := cloneGame(game)
	stored.ID = m.nextID

	m.byUUID[key] = stored
	m.byRun[game.RunID] = append(m.byRun[game.RunID], stored)
	return stored.ID, nil
}

func (m *memrepo) GetGame(_ context.Context, gameUUID string) (*domain.LLMGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.byUUID[strings.TrimSpace(gameUUID)]
	if !ok {
		return nil, nil
	}
	return cloneGame(g), nil
}

func (m *memrepo) ListRun(_ context.Context, runID string, limit int) ([]*domain.LLMGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byRun[runID]
	items := make([]*domain.LLMGame, 0, len(list))
	for _, g := range list {
		items = append(items, cloneGame(g))
	}
	// EndedAt desc, ID desc on ties
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) Summarize(_ context.Context, runID string) (*domain.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := &domain.RunSummary{RunID: runID, Outcomes: map[string]int{}}
	plies := 0
	for _, g := range m.byRun[runID] {
		sum.Games++
		sum.Outcomes[g.Outcome]++
		plies += g.PlyCount
	}
	if sum.Games > 0 {
		sum.AvgPlies = float64(plies) / float64(sum.Games)
	}
	return sum, nil
}

func (m *memrepo) Close() error { return nil }

func cloneGame(g *domain.LLMGame) *domain.LLMGame {
	c := *g
	c.MovesUCI = append([]string(nil), g.MovesUCI...)
	c.MovesSAN = append([]string(nil), g.MovesSAN...)
	return &c
}
