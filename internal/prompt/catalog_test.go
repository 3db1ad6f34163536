package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newCatalog(t *testing.T, dir string) *Catalog {
	t.Helper()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFIDEPreambleFollowsModelColour(t *testing.T) {
	c := newCatalog(t, "")
	white, err := c.Preamble(Options{Style: StyleFIDE, ModelWhite: true})
	if err != nil {
		t.Fatalf("white preamble: %v", err)
	}
	if !strings.Contains(white, `[White "Carlsen, Magnus"]`) || !strings.Contains(white, `[Result "1-0"]`) {
		t.Fatalf("white preamble:\n%s", white)
	}
	black, _ := c.Preamble(Options{Style: StyleFIDE})
	if !strings.Contains(black, `[Black "Carlsen, Magnus"]`) || !strings.Contains(black, `[Result "0-1"]`) {
		t.Fatalf("black preamble:\n%s", black)
	}
	if !strings.HasSuffix(white, "[Variant \"Standard\"]\n") {
		t.Fatalf("preamble should end with the last header: %q", white[len(white)-30:])
	}
}

func TestHeadersTemplate(t *testing.T) {
	c := newCatalog(t, "")
	got, err := c.Preamble(Options{Style: StyleHeaders, ModelWhite: false, Headers: HeaderData{White: "YYY", Black: "XXX", WhiteElo: 1000, BlackElo: 1000}})
	if err != nil {
		t.Fatalf("Preamble: %v", err)
	}
	for _, want := range []string{`[White "YYY"]`, `[Result "0-1"]`, `[WhiteElo "1000"]`} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Title") {
		t.Fatalf("titles rendered while disabled:\n%s", got)
	}
	titled, _ := c.Preamble(Options{Style: StyleHeaders, Headers: HeaderData{Titles: true}})
	if !strings.Contains(titled, `[WhiteTitle "GM"]`) {
		t.Fatalf("titles missing:\n%s", titled)
	}
}

func TestDeepSeekAndNone(t *testing.T) {
	c := newCatalog(t, "")
	if got, _ := c.Preamble(Options{DeepSeek: true, ModelWhite: true}); got != "Let's play a chess game. You start!" {
		t.Fatalf("deepseek white = %q", got)
	}
	if got, _ := c.Preamble(Options{DeepSeek: true}); got != "" {
		t.Fatalf("deepseek black = %q", got)
	}
	if got, _ := c.Preamble(Options{Style: StyleNone, ModelWhite: true}); got != "" {
		t.Fatalf("none = %q", got)
	}
}

func TestPreambleFromBaseHeader(t *testing.T) {
	c := newCatalog(t, "")
	got, err := c.Preamble(Options{Base: "It is your turn! You have white pieces. 1.\n", ModelWhite: true})
	if err != nil || got != "It is your turn! You have white pieces." {
		t.Fatalf("base preamble = %q, %v", got, err)
	}
	got, err = c.Preamble(Options{Base: "[Event \"x\"]", Style: StyleNone})
	if err != nil || got != "[Event \"x\"]" {
		t.Fatalf("base wins over style: %q, %v", got, err)
	}
}

func TestTrimMoveLabel(t *testing.T) {
	cases := map[string]string{
		"[A \"b\"]\n\n1.": "[A \"b\"]",
		"play 1. ":        "play",
		"after 11.":       "after 11.",
		"no label":        "no label",
	}
	for in, want := range cases {
		if got := TrimMoveLabel(in); got != want {
			t.Fatalf("TrimMoveLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSystemMessage(t *testing.T) {
	c := newCatalog(t, "")
	plain, _ := c.SystemMessage(false, "")
	if !strings.Contains(plain, "grand-master") {
		t.Fatalf("default system = %q", plain)
	}
	tagged, _ := c.SystemMessage(true, "")
	if !strings.Contains(tagged, "<played_move>") {
		t.Fatalf("tagged system = %q", tagged)
	}
	if got, _ := c.SystemMessage(true, "custom"); got != "custom" {
		t.Fatalf("override ignored: %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("system:\n  default: \"be brief\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := newCatalog(t, dir)
	if got, _ := c.SystemMessage(false, ""); got != "be brief" {
		t.Fatalf("override not applied: %q", got)
	}
	if _, err := c.Render("missing.key", nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("missing key err = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("system:\n  default: \"again\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("duplicate override accepted: %v", err)
	}
}

func TestParseStyle(t *testing.T) {
	if s, _ := ParseStyle(""); s != StyleFIDE {
		t.Fatalf("default style = %q", s)
	}
	if _, err := ParseStyle("fancy"); err == nil {
		t.Fatalf("unknown style accepted")
	}
}
