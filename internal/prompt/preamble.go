package prompt

import (
	"fmt"
	"strings"
)

// Style selects the preamble written before the move list.
type Style string

const (
	StyleFIDE    Style = "fide"
	StyleAltered Style = "altered"
	StyleHeaders Style = "headers"
	StyleEloOnly Style = "elo_only"
	StyleNone    Style = "none"
)

func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StyleFIDE, nil
	case StyleFIDE, StyleAltered, StyleHeaders, StyleEloOnly, StyleNone:
		return st, nil
	default:
		return "", fmt.Errorf("unknown prompt style %q", s)
	}
}

// HeaderData fills the headers and elo_only styles.
type HeaderData struct {
	White    string
	Black    string
	Result   string
	WhiteElo int
	BlackElo int
	Titles   bool
}

type Options struct {
	Style      Style
	// Base is the header of a base PGN file. It wins over the style when set.
	Base       string
	ModelWhite bool
	DeepSeek   bool
	Headers    HeaderData
}

// Preamble renders the text preceding the first move label. A trailing "1."
// in a base header is dropped since move labels are appended by the transcript.
func (c *Catalog) Preamble(opts Options) (string, error) {
	if strings.TrimSpace(opts.Base) != "" {
		return TrimMoveLabel(opts.Base), nil
	}
	if opts.DeepSeek {
		if opts.ModelWhite {
			return c.Render("preamble.deepseek_white", nil)
		}
		return "", nil
	}

	switch opts.Style {
	case StyleNone:
		return "", nil
	case StyleAltered:
		return c.Render("preamble.altered", nil)
	case StyleHeaders:
		return c.Render("preamble.headers", opts.Headers.withDefaults(opts.ModelWhite))
	case StyleEloOnly:
		return c.Render("preamble.elo_only", opts.Headers.withDefaults(opts.ModelWhite))
	default:
		if opts.ModelWhite {
			return c.Render("preamble.fide_white", nil)
		}
		return c.Render("preamble.fide_black", nil)
	}
}

func (h HeaderData) withDefaults(modelWhite bool) HeaderData {
	if h.White == "" {
		h.White = "Kramnik, Vladimir"
	}
	if h.Black == "" {
		h.Black = "Kasparov, Gary"
	}
	if h.Result == "" {
		h.Result = "1-0"
		if !modelWhite {
			h.Result = "0-1"
		}
	}
	if h.WhiteElo == 0 {
		h.WhiteElo = 2800
	}
	if h.BlackElo == 0 {
		h.BlackElo = 2800
	}
	return h
}

// SystemMessage returns override when set, otherwise the catalog default for
// the extraction mode.
func (c *Catalog) SystemMessage(tagged bool, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return override, nil
	}
	if tagged {
		return c.Render("system.tagged", nil)
	}
	return c.Render("system.default", nil)
}

// TrimMoveLabel removes a trailing "1." move label and surrounding whitespace.
func TrimMoveLabel(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if !strings.HasSuffix(s, "1.") {
		return s
	}
	rest := strings.TrimSuffix(s, "1.")
	if rest != "" && rest[len(rest)-1] >= '0' && rest[len(rest)-1] <= '9' {
		return s
	}
	return strings.TrimRight(rest, " \t\r\n")
}
