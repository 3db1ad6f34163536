package position

import (
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// qualifiedPattern matches moves that name both origin and target square,
// optionally with a piece letter: "e2e4", "Ng1f3", "e7-e8=Q", "g1xf3".
var qualifiedPattern = regexp.MustCompile(`^([NBKRQ])?([a-h][1-8])[\-x]?([a-h][1-8])(=?[nbrqNBRQ])?$`)

// resolveSAN finds the legal move denoted by token, or nil. A token matches
// when it equals the move's SAN up to a trailing check or mate sign. Zeros
// are read as castling letters and fully qualified origin-target moves are
// accepted; nothing else is guessed.
func resolveSAN(pos *nchess.Position, token string) *nchess.Move {
	core := strings.TrimRight(token, "+#")
	if core == "" {
		return nil
	}
	switch core {
	case "0-0":
		core = "O-O"
	case "0-0-0":
		core = "O-O-O"
	}

	moves := legalMoves(pos)
	for _, mv := range moves {
		if strings.TrimRight(nchess.AlgebraicNotation{}.Encode(pos, mv), "+#") == core {
			return mv
		}
	}
	return matchQualified(pos, moves, core)
}

func matchQualified(pos *nchess.Position, moves []*nchess.Move, core string) *nchess.Move {
	m := qualifiedPattern.FindStringSubmatch(core)
	if m == nil {
		return nil
	}
	pieceLetter, from, to := m[1], m[2], m[3]
	promo := nchess.NoPieceType
	if p := strings.TrimPrefix(m[4], "="); p != "" {
		promo = pieceTypeFromLetter(strings.ToUpper(p))
	}

	board := pos.Board()
	for _, mv := range moves {
		if mv.S1().String() != from || mv.S2().String() != to || mv.Promo() != promo {
			continue
		}
		if pieceLetter != "" && board.Piece(mv.S1()).Type() != pieceTypeFromLetter(pieceLetter) {
			return nil
		}
		return mv
	}
	return nil
}

func pieceTypeFromLetter(s string) nchess.PieceType {
	switch s {
	case "K":
		return nchess.King
	case "Q":
		return nchess.Queen
	case "R":
		return nchess.Rook
	case "B":
		return nchess.Bishop
	case "N":
		return nchess.Knight
	default:
		return nchess.NoPieceType
	}
}
