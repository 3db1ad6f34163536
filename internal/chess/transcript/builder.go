// Package transcript accumulates accepted plies and renders the PGN game record.
package transcript

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrAlreadyFinalized = errors.New("transcript already finalized")
	ErrResultMismatch   = errors.New("result does not match the final position")
)

// Mover identifies who produced a ply.
type Mover string

const (
	MoverModel    Mover = "model"
	MoverOpponent Mover = "opponent"
	MoverOpening  Mover = "opening"
)

// Ply is one accepted half-move. Label is "12." for White and "12..." for Black.
type Ply struct {
	Mover Mover
	SAN   string
	UCI   string
	Label string
}

// White reports whether the ply was played by White.
func (p Ply) White() bool { return !strings.HasSuffix(p.Label, "...") }

// Text renders the ply the way chat prompts show it: "3. Nf3" or "3... Nc6".
func (p Ply) Text() string { return p.Label + " " + p.SAN }

// Sides carries the participant headers.
type Sides struct {
	Event    string
	White    string
	Black    string
	WhiteElo string
	BlackElo string
}

// Final describes how the game ended. Result is a PGN result token checked
// against the replayed position; empty accepts whatever the position says.
// UnknownSAN is written as a header when HasUnknownSAN is set.
type Final struct {
	Result        string
	HasUnknownSAN bool
	UnknownSAN    string
}

type tag struct {
	name  string
	value string
}

type Builder struct {
	plies     []Ply
	extra     []tag
	finalized bool
	pgn       string
}

func New() *Builder { return &Builder{} }

// Append records a ply and returns it with its label filled in.
func (b *Builder) Append(mover Mover, san, uci string) Ply {
	p := Ply{Mover: mover, SAN: san, UCI: uci, Label: labelFor(len(b.plies))}
	b.plies = append(b.plies, p)
	return p
}

// Plies returns a copy of the recorded plies.
func (b *Builder) Plies() []Ply { return append([]Ply(nil), b.plies...) }

func (b *Builder) Len() int { return len(b.plies) }

// Label is the label of the ply to be played next.
func (b *Builder) Label() string { return labelFor(len(b.plies)) }

// SetTag adds or replaces an extra header written after the roster tags.
func (b *Builder) SetTag(name, value string) {
	for i := range b.extra {
		if b.extra[i].name == name {
			b.extra[i].value = value
			return
		}
	}
	b.extra = append(b.extra, tag{name: name, value: value})
}

// Movetext renders "1. e4 e5 2. Nf3" without a result token.
func (b *Builder) Movetext() string {
	var sb strings.Builder
	for i, p := range b.plies {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if p.White() {
			sb.WriteString(p.Label)
			sb.WriteByte(' ')
		}
		sb.WriteString(p.SAN)
	}
	return sb.String()
}

// PromptText renders preamble followed by the movetext. When White is to move
// the next move number is appended so a completion model continues with a move.
func (b *Builder) PromptText(preamble string) string {
	moves := b.Movetext()
	if len(b.plies)%2 == 0 {
		if moves != "" {
			moves += " "
		}
		moves += b.Label()
	}
	preamble = strings.TrimRight(preamble, " \t\r\n")
	if preamble == "" {
		return moves
	}
	return preamble + "\n\n" + moves
}

// Finalize replays the plies into a fresh game and renders its PGN with the
// roster, extra and UnknownSAN headers. It succeeds at most once. A Result that
// disagrees with the replayed position is rejected.
func (b *Builder) Finalize(final Final, sides Sides) (string, error) {
	if b.finalized {
		return "", ErrAlreadyFinalized
	}

	g := nchess.NewGame()
	for i, p := range b.plies {
		if err := g.PushNotationMove(p.UCI, nchess.UCINotation{}, nil); err != nil {
			return "", fmt.Errorf("replay ply %d %q: %w", i+1, p.UCI, err)
		}
	}
	result := g.Outcome().String()
	if r := strings.TrimSpace(final.Result); r != "" && r != result {
		return "", fmt.Errorf("%w: %s after %d plies, position says %s", ErrResultMismatch, r, len(b.plies), result)
	}

	for _, t := range []tag{
		{"Event", orUnknown(sides.Event)},
		{"Site", "?"},
		{"Date", "????.??.??"},
		{"Round", "?"},
		{"White", orUnknown(sides.White)},
		{"Black", orUnknown(sides.Black)},
		{"Result", result},
		{"WhiteElo", orUnknown(sides.WhiteElo)},
		{"BlackElo", orUnknown(sides.BlackElo)},
	} {
		g.AddTagPair(t.name, tagValue(t.value))
	}
	for _, t := range b.extra {
		g.AddTagPair(t.name, tagValue(t.value))
	}
	if final.HasUnknownSAN {
		g.AddTagPair("UnknownSAN", tagValue(final.UnknownSAN))
	}

	b.finalized = true
	b.pgn = g.String() + "\n"
	return b.pgn, nil
}

// PGN returns the finalized record, empty before Finalize.
func (b *Builder) PGN() string { return b.pgn }

func (b *Builder) Finalized() bool { return b.finalized }

func labelFor(plyIndex int) string {
	n := plyIndex/2 + 1
	if plyIndex%2 == 0 {
		return fmt.Sprintf("%d.", n)
	}
	return fmt.Sprintf("%d...", n)
}

// tagValue keeps a header on one line without quotes, which the PGN lexer
// cannot escape.
func tagValue(s string) string {
	return strings.ReplaceAll(strings.Join(strings.Fields(s), " "), `"`, "'")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}
