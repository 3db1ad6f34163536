// Package opponent supplies the non-model side of a game.
package opponent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/park285/llm-chess-arena/internal/chess/position"
)

var (
	ErrNoLegalMoves = errors.New("no legal moves")
	ErrSkillRange   = errors.New("skill level out of range")
)

const (
	RandomName    = "RANDOM chess engine"
	StockfishName = "Stockfish"
)

// Position is the read-only view of the game an opponent needs.
type Position interface {
	UCIMoves() []string
	LegalMoves() []position.Move
}

type Opponent interface {
	Name() string
	// Elo is the header value, "?" when unrated.
	Elo() string
	// SelectMove returns a coordinate move for the side to move.
	SelectMove(ctx context.Context, pos Position) (string, error)
	// Sync informs the opponent of the full move history after each accepted ply.
	Sync(ctx context.Context, uciMoves []string) error
	// Parameters describes the opponent's engine settings for the game record.
	Parameters() map[string]string
	Close() error
}

// Label names the opponent in log lines, e.g. "Stockfish1694ELO".
func Label(o Opponent) string {
	if elo := o.Elo(); elo != "" && elo != "?" {
		return o.Name() + elo + "ELO"
	}
	return o.Name()
}

// FormatParameters renders parameters as a sorted single-line map.
func FormatParameters(params map[string]string) string {
	if len(params) == 0 {
		return "None"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("'%s': %s", k, params[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

var skillElo = [...]int{
	1347, 1490, 1597, 1694, 1785, 1871, 1954, 2035, 2113, 2189,
	2264, 2337, 2409, 2480, 2550, 2619, 2686, 2754, 2820, 2886,
	3000,
}

// SkillElo maps a Stockfish skill level (0..20) to its approximate Elo.
func SkillElo(skill int) (int, error) {
	if skill < 0 || skill >= len(skillElo) {
		return 0, fmt.Errorf("%w: %d", ErrSkillRange, skill)
	}
	return skillElo[skill], nil
}

// Random plays a uniformly random legal move.
type Random struct {
	rand *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rand: rand.New(rand.NewSource(seed))}
}

func (r *Random) Name() string { return RandomName }
func (r *Random) Elo() string { return "?" }

func (r *Random) SelectMove(_ context.Context, pos Position) (string, error) {
	legal := pos.LegalMoves()
	if len(legal) == 0 {
		return "", ErrNoLegalMoves
	}
	return legal[r.rand.Intn(len(legal))].UCI, nil
}

func (r *Random) Sync(context.Context, []string) error { return nil }
func (r *Random) Parameters() map[string]string { return nil }
func (r *Random) Close() error { return nil }
