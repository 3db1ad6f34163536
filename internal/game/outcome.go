package game

import (
	"github.com/park285/llm-chess-arena/internal/chess/position"
)

// State of the turn loop.
type State int

const (
	AwaitingModelMove State = iota + 1
	AwaitingOpponentMove
	GameOver
)

func (s State) String() string {
	switch s {
	case AwaitingModelMove:
		return "awaiting_model_move"
	case AwaitingOpponentMove:
		return "awaiting_opponent_move"
	case GameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

type Side string

const (
	White Side = "white"
	Black Side = "black"
)

func sideOf(white bool) Side {
	if white {
		return White
	}
	return Black
}

type Kind int

const (
	Ongoing Kind = iota
	WhiteWins
	BlackWins
	Draw
	IllegalMove
)

func (k Kind) String() string {
	switch k {
	case WhiteWins:
		return "white_wins"
	case BlackWins:
		return "black_wins"
	case Draw:
		return "draw"
	case IllegalMove:
		return "illegal_move"
	default:
		return "ongoing"
	}
}

// Outcome is decided once per game. Side is the winner for decisive games and
// the offending side for IllegalMove. RawToken is the rejected model output.
type Outcome struct {
	Kind     Kind
	Method   position.Terminal
	Side     Side
	RawToken string
}

// Result is the PGN result token. Games ended by an illegal move stay "*".
func (o Outcome) Result() string {
	switch o.Kind {
	case WhiteWins:
		return "1-0"
	case BlackWins:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// outcomeAfter classifies the position reached by mover's ply.
func outcomeAfter(t position.Terminal, mover Side) (Outcome, bool) {
	switch t {
	case position.None:
		return Outcome{}, false
	case position.Checkmate:
		if mover == White {
			return Outcome{Kind: WhiteWins, Method: t, Side: White}, true
		}
		return Outcome{Kind: BlackWins, Method: t, Side: Black}, true
	default:
		return Outcome{Kind: Draw, Method: t}, true
	}
}
