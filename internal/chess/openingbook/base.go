package openingbook

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/park285/llm-chess-arena/internal/chess/position"
)

var (
	movetextStart  = regexp.MustCompile(`^\d+\.`)
	danglingNumber = regexp.MustCompile(`\s*\d+\.\s*$`)
	fenTag         = regexp.MustCompile(`(?m)^\s*\[FEN\s`)
)

// Base is a prompt file split into the text shown before the moves and the
// moves themselves, replayed from the start position.
type Base struct {
	Header string
	Line   Line
}

// LoadBase reads a base PGN file. Everything before the first line opening
// with a move number is the header; the rest is decoded as PGN movetext. A
// file without movetext is all header.
func LoadBase(path string) (Base, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Base{}, fmt.Errorf("read base pgn: %w", err)
	}
	return ParseBase(string(raw))
}

// ParseBase splits text the way LoadBase does.
func ParseBase(text string) (Base, error) {
	header, moves := splitBase(text)
	base := Base{Header: strings.TrimRight(header, " \t\r\n")}

	moves = danglingNumber.ReplaceAllString(strings.TrimSpace(moves), "")
	if moves == "" {
		return base, nil
	}
	if fenTag.MatchString(header) {
		return Base{}, fmt.Errorf("base pgn: %w: custom start position", position.ErrBadPGN)
	}
	tr, err := position.FromPGN(moves)
	if err != nil {
		return Base{}, fmt.Errorf("base pgn: %w", err)
	}
	base.Line = lineFrom(tr)
	return base, nil
}

func splitBase(text string) (header, moves string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if movetextStart.MatchString(strings.TrimSpace(line)) {
			return strings.Join(lines[:i], "\n"), strings.Join(lines[i:], "\n")
		}
	}
	return text, ""
}
