// Package movetext pulls a single SAN-like move token out of free-form model output.
// It has no knowledge of the board; legality is checked by the position tracker.
package movetext

import (
	"fmt"
	"strings"
)

const (
	openTag  = "<played_move>"
	closeTag = "</played_move>"

	defaultPromotion = "Q"
)

// Result is the outcome of an extraction. OK is false when no move token could be derived.
type Result struct {
	Token string
	OK    bool
}

// Mode selects how a raw response is interpreted.
type Mode int

const (
	// ModePlain takes the first token after an optional move-number prefix.
	ModePlain Mode = iota
	// ModeTagged only accepts a move wrapped in <played_move>...</played_move>.
	ModeTagged
)

func (m Mode) String() string {
	switch m {
	case ModeTagged:
		return "tagged"
	default:
		return "plain"
	}
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain":
		return ModePlain, nil
	case "tagged", "tag":
		return ModeTagged, nil
	default:
		return ModePlain, fmt.Errorf("unknown extraction mode %q", s)
	}
}

// Extract runs the extractor selected by m.
func (m Mode) Extract(raw string) Result {
	if m == ModeTagged {
		return ExtractTagged(raw)
	}
	return Extract(raw)
}

// Extract returns the first move token of raw.
//
// Leading whitespace and a leading move number are dropped, then a "..." or "."
// separator, and the first whitespace-delimited token is kept. A token ending in a
// bare "=" gets a queen appended.
func Extract(raw string) Result {
	s := strings.TrimLeft(raw, " \t\r\n")
	s = strings.TrimLeft(s, "0123456789")

	switch {
	case strings.HasPrefix(s, "..."):
		s = s[3:]
	case strings.HasPrefix(s, "."):
		s = s[1:]
	}

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Result{}
	}
	return Result{Token: fixPromotion(fields[0]), OK: true}
}

// ExtractTagged returns the move inside the last <played_move> tag pair of raw.
// Text outside the tags is ignored; without a complete pair no move is found.
func ExtractTagged(raw string) Result {
	start := strings.LastIndex(raw, openTag)
	if start < 0 {
		return Result{}
	}
	inner := raw[start+len(openTag):]
	end := strings.Index(inner, closeTag)
	if end < 0 {
		return Result{}
	}
	return Extract(inner[:end])
}

func fixPromotion(token string) string {
	if strings.HasSuffix(token, "=") {
		return token + defaultPromotion
	}
	return token
}
