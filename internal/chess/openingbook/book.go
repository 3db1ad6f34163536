// Package openingbook chooses the starting line of a game and labels openings by ECO code.
package openingbook

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"

	"github.com/park285/llm-chess-arena/internal/chess/position"
)

var ErrBookRequired = errors.New("polyglot book required for book mode")

// Mode selects how the opening prefix of a game is produced.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeKnown  Mode = "known"
	ModeRandom Mode = "random"
	ModeBook   Mode = "book"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeKnown:
		return ModeKnown, nil
	case ModeRandom:
		return ModeRandom, nil
	case ModeBook:
		return ModeBook, nil
	default:
		return "", fmt.Errorf("unknown opening mode %q", s)
	}
}

// Known lists the fixed opening lines used to diversify games.
var Known = [][]string{
	{"e4", "e5"},
	{"d4", "Nf6"},
	{"e4", "c5"},
	{"d4", "d5"},
	{"e4", "e6"},
}

// Line is a replayed opening prefix.
type Line struct {
	UCI   []string
	SAN   []string
	ECO   string
	Title string
}

// NMove is the full-move number at which play continues after the line.
func (l Line) NMove() int { return len(l.UCI)/2 + 1 }

func (l Line) Empty() bool { return len(l.UCI) == 0 }

type Picker struct {
	mode  Mode
	plies int
	book  *chesslib.PolyglotBook

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPicker builds a picker. plies bounds random and book lines; book is only
// consulted in ModeBook.
func NewPicker(mode Mode, plies int, book *chesslib.PolyglotBook, seed int64) (*Picker, error) {
	if mode == ModeBook && book == nil {
		return nil, ErrBookRequired
	}
	if plies <= 0 {
		plies = 8
	}
	return &Picker{mode: mode, plies: plies, book: book, rand: rand.New(rand.NewSource(seed))}, nil
}

func (p *Picker) Mode() Mode { return p.mode }

// Pick returns a fresh opening line. Safe for concurrent use.
func (p *Picker) Pick() (Line, error) {
	p.mu.Lock()
	r := rand.New(rand.NewSource(p.rand.Int63()))
	p.mu.Unlock()

	switch p.mode {
	case ModeKnown:
		return Replay(Known[r.Intn(len(Known))])
	case ModeRandom:
		return RandomLine(p.plies, r)
	case ModeBook:
		return BookLine(p.book, p.plies, r)
	default:
		return Line{}, nil
	}
}

// Replay plays moves (SAN or UCI) from the start position and labels the result.
func Replay(moves []string) (Line, error) {
	tr, err := position.FromMoves(moves)
	if err != nil {
		return Line{}, fmt.Errorf("replay opening: %w", err)
	}
	return lineFrom(tr), nil
}

// RandomLine plays plies uniformly random legal moves, stopping early at a terminal position.
func RandomLine(plies int, r *rand.Rand) (Line, error) {
	tr := position.New()
	for i := 0; i < plies; i++ {
		legal := tr.LegalMoves()
		if len(legal) == 0 || tr.TerminalStatus() != position.None {
			break
		}
		mv := legal[r.Intn(len(legal))]
		if res := tr.ApplyUCI(mv.UCI); res.Status != position.Applied {
			return Line{}, fmt.Errorf("random opening: %w", res.Err())
		}
	}
	return lineFrom(tr), nil
}

// BookLine walks the polyglot book choosing moves in proportion to their weight.
func BookLine(book *chesslib.PolyglotBook, plies int, r *rand.Rand) (Line, error) {
	if book == nil {
		return Line{}, ErrBookRequired
	}
	hasher := chesslib.NewZobristHasher()
	tr := position.New()
	for i := 0; i < plies; i++ {
		hashStr, err := hasher.HashPosition(tr.FEN())
		if err != nil {
			return Line{}, fmt.Errorf("compute polyglot hash: %w", err)
		}
		entries := book.FindMoves(chesslib.ZobristHashToUint64(hashStr))
		entry, ok := pickWeighted(entries, r)
		if !ok {
			break
		}
		move := chesslib.DecodeMove(entry.Move).ToMove()
		uci := move.String()
		res := tr.ApplyUCI(uci)
		if res.Status != position.Applied {
			res = tr.ApplyUCI(polyglotCastle(uci))
		}
		if res.Status != position.Applied {
			return Line{}, fmt.Errorf("book move %q invalid for position: %w", uci, res.Err())
		}
	}
	return lineFrom(tr), nil
}

// Classify returns the ECO code and title of the deepest known opening matching moves.
func Classify(uciMoves []string) (code, title string) {
	if len(uciMoves) == 0 {
		return "", ""
	}
	game := chesslib.NewGame()
	for _, mv := range uciMoves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return "", ""
		}
	}
	if eco := ecoBook().Find(game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}

var (
	ecoOnce sync.Once
	eco     *opening.BookECO
)

func ecoBook() *opening.BookECO {
	ecoOnce.Do(func() { eco = opening.NewBookECO() })
	return eco
}

func LoadFromPath(bookPath string) (*chesslib.PolyglotBook, error) {
	if strings.TrimSpace(bookPath) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(bookPath)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", bookPath, err)
	}
	defer file.Close()

	book, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", bookPath, err)
	}
	return book, nil
}

func lineFrom(tr *position.Tracker) Line {
	line := Line{UCI: tr.UCIMoves(), SAN: tr.SANMoves()}
	line.ECO, line.Title = Classify(line.UCI)
	return line
}

func pickWeighted(entries []chesslib.PolyglotEntry, r *rand.Rand) (chesslib.PolyglotEntry, bool) {
	total := 0
	for _, e := range entries {
		total += int(e.Weight)
	}
	if total == 0 {
		return chesslib.PolyglotEntry{}, false
	}
	n := r.Intn(total)
	for _, e := range entries {
		n -= int(e.Weight)
		if n < 0 {
			return e, true
		}
	}
	return entries[len(entries)-1], true
}

// polyglotCastle maps the king-takes-rook castling encoding to the king's destination.
func polyglotCastle(uci string) string {
	switch uci {
	case "e1h1":
		return "e1g1"
	case "e1a1":
		return "e1c1"
	case "e8h8":
		return "e8g8"
	case "e8a8":
		return "e8c8"
	default:
		return uci
	}
}
