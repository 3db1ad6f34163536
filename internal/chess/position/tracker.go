// Package position keeps the authoritative board of one game on top of corentings/chess.
//
// A Tracker only changes through Apply/ApplyUCI; a rejected move leaves it untouched.
package position

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrNoMove      = errors.New("no move")
	ErrBadPGN      = errors.New("bad pgn")
)

// Status classifies an Apply call.
type Status int

const (
	Applied Status = iota + 1
	NoMove
	Illegal
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case NoMove:
		return "no_move"
	case Illegal:
		return "illegal"
	default:
		return "unknown"
	}
}

// Move is an applied or legal move in both notations.
type Move struct {
	UCI string
	SAN string
}

// ApplyResult is returned by Apply. Move is only set when Status is Applied.
type ApplyResult struct {
	Status Status
	Token  string
	Move   Move
}

// Err maps a failed result to a sentinel error, nil when applied.
func (r ApplyResult) Err() error {
	switch r.Status {
	case Applied:
		return nil
	case NoMove:
		return ErrNoMove
	default:
		return fmt.Errorf("%w: %q", ErrIllegalMove, r.Token)
	}
}

// Terminal is a rules-defined game end detected after a move.
type Terminal int

const (
	None Terminal = iota
	Checkmate
	Stalemate
	InsufficientMaterial
	FivefoldRepetition
	SeventyFiveMoveRule
)

func (t Terminal) String() string {
	switch t {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case InsufficientMaterial:
		return "insufficient_material"
	case FivefoldRepetition:
		return "fivefold_repetition"
	case SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	default:
		return "none"
	}
}

// Tracker is the board of one game plus the moves that reached it, in both
// notations. It is not safe for concurrent use.
type Tracker struct {
	game *nchess.Game
	uci  []string
	san  []string
}

// New returns a tracker at the standard starting position.
func New() *Tracker {
	return &Tracker{game: nchess.NewGame()}
}

// FromMoves replays moves (SAN or UCI) from the starting position.
func FromMoves(moves []string) (*Tracker, error) {
	t := New()
	for i, mv := range moves {
		res := t.Apply(mv)
		if res.Status != Applied {
			res = t.ApplyUCI(mv)
		}
		if res.Status != Applied {
			return nil, fmt.Errorf("replay ply %d: %w", i+1, res.Err())
		}
	}
	return t, nil
}

// FromPGN replays the main line of the first game in pgn. Games set up from a
// FEN tag are rejected since every tracker starts from the initial position.
func FromPGN(pgn string) (*Tracker, error) {
	opt, err := nchess.PGN(strings.NewReader(pgn))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPGN, err)
	}
	g := nchess.NewGame(opt)
	if g.GetTagPair("FEN") != "" {
		return nil, fmt.Errorf("%w: custom start position", ErrBadPGN)
	}

	t := New()
	for i, mv := range g.Moves() {
		res := t.ApplyUCI(nchess.UCINotation{}.Encode(nil, mv))
		if res.Status != Applied {
			return nil, fmt.Errorf("replay ply %d: %w", i+1, res.Err())
		}
	}
	return t, nil
}

// Apply interprets token as SAN against the legal moves of the side to move.
func (t *Tracker) Apply(token string) ApplyResult {
	token = strings.TrimSpace(token)
	if token == "" {
		return ApplyResult{Status: NoMove}
	}
	pos := t.game.Position()
	mv := resolveSAN(pos, token)
	if mv == nil {
		return ApplyResult{Status: Illegal, Token: token}
	}
	return t.push(pos, mv, token)
}

// ApplyUCI applies a coordinate move such as "e2e4" or "e7e8q".
func (t *Tracker) ApplyUCI(uci string) ApplyResult {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if uci == "" {
		return ApplyResult{Status: NoMove}
	}
	pos := t.game.Position()
	decoded, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return ApplyResult{Status: Illegal, Token: uci}
	}
	mv := findLegal(pos, decoded)
	if mv == nil {
		return ApplyResult{Status: Illegal, Token: uci}
	}
	return t.push(pos, mv, uci)
}

func (t *Tracker) push(pos *nchess.Position, mv *nchess.Move, token string) ApplyResult {
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	uci := strings.ToLower(nchess.UCINotation{}.Encode(pos, mv))
	if err := t.game.Move(mv, nil); err != nil {
		return ApplyResult{Status: Illegal, Token: token}
	}
	t.uci = append(t.uci, uci)
	t.san = append(t.san, san)
	return ApplyResult{Status: Applied, Token: token, Move: Move{UCI: uci, SAN: san}}
}

// LegalMoves lists every legal move for the side to move.
func (t *Tracker) LegalMoves() []Move {
	pos := t.game.Position()
	var out []Move
	for _, mv := range legalMoves(pos) {
		out = append(out, Move{
			UCI: strings.ToLower(nchess.UCINotation{}.Encode(pos, mv)),
			SAN: nchess.AlgebraicNotation{}.Encode(pos, mv),
		})
	}
	return out
}

// TerminalStatus reports the rules-defined end reached by the last move, if any.
func (t *Tracker) TerminalStatus() Terminal {
	if t.game.Outcome() == nchess.NoOutcome {
		return None
	}
	switch t.game.Method() {
	case nchess.Checkmate:
		return Checkmate
	case nchess.Stalemate:
		return Stalemate
	case nchess.InsufficientMaterial:
		return InsufficientMaterial
	case nchess.FivefoldRepetition:
		return FivefoldRepetition
	case nchess.SeventyFiveMoveRule:
		return SeventyFiveMoveRule
	default:
		return None
	}
}

// Turn is the side to move.
func (t *Tracker) Turn() nchess.Color { return t.game.Position().Turn() }

func (t *Tracker) WhiteToMove() bool { return t.Turn() == nchess.White }

func (t *Tracker) PlyCount() int { return len(t.uci) }

func (t *Tracker) FEN() string { return t.game.FEN() }

func (t *Tracker) UCIMoves() []string { return append([]string(nil), t.uci...) }

func (t *Tracker) SANMoves() []string { return append([]string(nil), t.san...) }

// Board exposes the current board for rendering.
func (t *Tracker) Board() *nchess.Board { return t.game.Position().Board() }

// asMove normalises the element type of ValidMoves, which is a value in some
// chess/v2 releases and a pointer in others.
func asMove(v any) *nchess.Move {
	switch m := v.(type) {
	case *nchess.Move:
		return m
	case nchess.Move:
		return &m
	default:
		return nil
	}
}

func legalMoves(pos *nchess.Position) []*nchess.Move {
	var out []*nchess.Move
	for _, v := range pos.ValidMoves() {
		if mv := asMove(v); mv != nil {
			out = append(out, mv)
		}
	}
	return out
}

// findLegal returns the legal move with the same squares and promotion as mv.
func findLegal(pos *nchess.Position, mv *nchess.Move) *nchess.Move {
	if mv == nil {
		return nil
	}
	for _, cand := range legalMoves(pos) {
		if cand.S1() == mv.S1() && cand.S2() == mv.S2() && cand.Promo() == mv.Promo() {
			return cand
		}
	}
	return nil
}
