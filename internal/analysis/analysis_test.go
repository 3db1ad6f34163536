package analysis

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/park285/llm-chess-arena/internal/session"
)

func writeGame(t *testing.T, root, name, meta, pgn string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if meta != "" {
		if err := os.WriteFile(filepath.Join(dir, session.MetaFile), []byte(meta), 0o644); err != nil {
			t.Fatalf("write meta: %v", err)
		}
	}
	if pgn != "" {
		if err := os.WriteFile(filepath.Join(dir, session.PGNFile), []byte(pgn), 0o644); err != nil {
			t.Fatalf("write pgn: %v", err)
		}
	}
}

const illegalPGN = `[Event "gpt-4o vs Stockfish"]
[Result "*"]
[UnknownSAN "Ke3"]

1. e4 e5 2. Nf3 Nc6 *
`

const matePGN = `[Event "gpt-4o vs Stockfish"]
[Result "0-1"]

1. f3 e5 2. g4 Qh4# 0-1
`

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeGame(t, root, "gameB", "model_gpt: gpt-4o\nreasoning_effort: high\n", matePGN)
	writeGame(t, root, "gameA", "model_gpt: gpt-3.5-turbo-instruct\n", illegalPGN)
	writeGame(t, root, "gameC", "model_gpt: gpt-4o\n", "")
	writeGame(t, root, "gameD", "model_gpt: gpt-4o\nreasoning_effort: None\n", "[Result \"*\"]\n\n1. e4 *\n")
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	a, b, d := rows[0], rows[1], rows[2]
	if a.Subfolder != "gameA" || a.ReasoningEffort != "low" || !a.Illegal || a.IllegalDetail != "Ke3" || a.Result != ResultIllegal || a.Moves != 4 {
		t.Fatalf("gameA = %+v", a)
	}
	if b.ReasoningEffort != "high" || b.Illegal || b.Result != "0-1" || b.Moves != 4 {
		t.Fatalf("gameB = %+v", b)
	}
	if d.Result != ResultOngoing || d.ReasoningEffort != "None" || d.Moves != 1 {
		t.Fatalf("gameD = %+v", d)
	}
}

func TestCountMoves(t *testing.T) {
	cases := map[string]int{
		"":                            0,
		"1. e4 e5 2. Nf3 *":           3,
		"1. e4 c5 2. O-O-O 1/2-1/2":   3,
		"12. Qxf7+ Kd8 13. b8=Q# 1-0": 3,
		"1. d4 1... Nf6":              2,
	}
	for in, want := range cases {
		if got := CountMoves(in); got != want {
			t.Errorf("CountMoves(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestVerdictWithoutResult(t *testing.T) {
	g, err := ParsePGN(strings.NewReader("[Event \"x\"]\n\n1. e4\n"))
	if err != nil {
		t.Fatalf("ParsePGN: %v", err)
	}
	if g.Verdict() != ResultUnknown || g.Moves != 1 {
		t.Fatalf("summary = %+v", g)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []Row{{Subfolder: "g1", Model: "gpt-4o", ReasoningEffort: "low", Moves: 2, Illegal: true, IllegalDetail: "Ke3, really", Result: ResultIllegal}}
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "subfolder,gpt_model,reasoning_effort,number of moves played,illegal move,illegal_move_detail,result of the game,comments\n" +
		"g1,gpt-4o,low,2,yes,\"Ke3, really\",defeat (illegal move),\n"
	if buf.String() != want {
		t.Fatalf("csv = %q", buf.String())
	}
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.parquet")
	rows := []Row{
		{Subfolder: "g1", Model: "gpt-4o", ReasoningEffort: "low", Moves: 2, Illegal: true, IllegalDetail: "Ke3", Result: ResultIllegal},
		{Subfolder: "g2", Model: "gpt-4o", ReasoningEffort: "high", Moves: 40, Result: "1-0"},
	}
	if err := WriteParquet(path, rows, 1); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	got, err := ReadParquet(path, 1)
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if len(got) != 2 || got[0].IllegalDetail != "Ke3" || !got[0].Illegal || got[1].Moves != 40 || got[1].Result != "1-0" {
		t.Fatalf("records = %+v", got)
	}
}
