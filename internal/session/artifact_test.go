package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestCreateWritesMetadata(t *testing.T) {
	root := t.TempDir()
	a, err := Create(root, Meta{
		Model:            "gpt-3.5-turbo-instruct",
		SkillLevel:       3,
		WhitePiece:       true,
		EngineDepth:      15,
		BasePGN:          "[Event \"x\"]",
		NMove:            1,
		EngineParameters: "{'Threads': 1}",
		Temperature:      0,
		MaxTokens:        5,
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(a.Dir()), "game") || filepath.Dir(a.Dir()) != root {
		t.Fatalf("unexpected dir %s", a.Dir())
	}

	meta := readFile(t, filepath.Join(a.Dir(), MetaFile))
	var keys []string
	for _, line := range strings.Split(strings.TrimSpace(meta), "\n") {
		keys = append(keys, strings.SplitN(line, ":", 2)[0])
	}
	want := "model_gpt use_deepseek base_url skill_level random_engine white_piece engine_depth engine_time base_pgn nmove engine_parameters temperature max_tokens chat_gpt system_role_message reasoning_effort"
	if strings.Join(keys, " ") != want {
		t.Fatalf("key order = %v", keys)
	}
	for _, line := range []string{"white_piece: True", "use_deepseek: False", "base_url: None", "engine_time: None", "temperature: 0", "system_role_message: None"} {
		if !strings.Contains(meta, line+"\n") {
			t.Fatalf("metadata missing %q:\n%s", line, meta)
		}
	}
}

func TestTwoArtifactsNeverCollide(t *testing.T) {
	root := t.TempDir()
	a, _ := Create(root, Meta{}, nil)
	b, _ := Create(root, Meta{}, nil)
	if a.Dir() == b.Dir() || a.ID() == b.ID() {
		t.Fatalf("artifact dirs collide: %s", a.Dir())
	}
}

func TestLoggerAppends(t *testing.T) {
	a, _ := Create(t.TempDir(), Meta{}, nil)
	l := a.Logger()
	l.Exchange("", "1.", " e4")
	l.Exchange("sys", "1. e4 e5 2.", " Nf3")
	l.Log("SAN MOVE: e4 e4")
	l.Logf("unknown san: %s", "Ke3")

	session := readFile(t, filepath.Join(a.Dir(), SessionFile))
	want := "PROMPT: 1.\nRESPONSE:  e4\n\nSYSTEM: sys\nPROMPT: 1. e4 e5 2.\nRESPONSE:  Nf3\n\n"
	if session != want {
		t.Fatalf("session.txt = %q", session)
	}
	if got := readFile(t, filepath.Join(a.Dir(), LogFile)); got != "SAN MOVE: e4 e4\nunknown san: Ke3\n" {
		t.Fatalf("log.txt = %q", got)
	}
}

func TestFinalizeOnce(t *testing.T) {
	a, _ := Create(t.TempDir(), Meta{}, nil)
	if err := a.WritePGN("[Result \"*\"]\n\n*"); err != nil {
		t.Fatalf("WritePGN: %v", err)
	}
	if got := readFile(t, filepath.Join(a.Dir(), PGNFile)); got != "[Result \"*\"]\n\n*\n" {
		t.Fatalf("game.pgn = %q", got)
	}
	if err := a.WritePGN("again"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("second WritePGN err = %v", err)
	}
	if err := a.Abort(errors.New("late")); !errors.Is(err, ErrFinalized) {
		t.Fatalf("Abort after PGN err = %v", err)
	}
}

func TestAbortLeavesNoPGN(t *testing.T) {
	a, _ := Create(t.TempDir(), Meta{}, nil)
	if err := a.Abort(errors.New("OPENAI_API_KEY is required")); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Dir(), PGNFile)); !os.IsNotExist(err) {
		t.Fatalf("aborted artifact has a pgn: %v", err)
	}
	if got := readFile(t, filepath.Join(a.Dir(), LogFile)); got != "aborted: OPENAI_API_KEY is required\n" {
		t.Fatalf("log.txt = %q", got)
	}
}

func TestLoggerSwallowsWriteFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a, _ := Create(t.TempDir(), Meta{}, zap.New(core))
	if err := os.RemoveAll(a.Dir()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	a.Logger().Log("one")
	a.Logger().Log("two")
	a.Logger().Exchange("", "p", "r")
	if n := logs.FilterMessage("session_log_write_failed").Len(); n != 1 {
		t.Fatalf("expected one warning, got %d", n)
	}
}
