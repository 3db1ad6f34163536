package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/llm-chess-arena/internal/config"
	"github.com/park285/llm-chess-arena/internal/llm"
	"github.com/park285/llm-chess-arena/internal/prompt"
	"github.com/park285/llm-chess-arena/internal/scoreboard"
	"github.com/park285/llm-chess-arena/internal/session"
	"github.com/park285/llm-chess-arena/internal/store"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (m *scriptedModel) Name() string { return "test-model" }

func (m *scriptedModel) Chat() bool { return false }

func (m *scriptedModel) Respond(context.Context, llm.Context) (llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return llm.Response{}, m.err
	}
	if len(m.replies) == 0 {
		return llm.Response{}, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return llm.Response{Text: r}, nil
}

func newDeps(t *testing.T) (*Deps, *miniredis.Miniredis) {
	t.Helper()
	cat, err := prompt.New("")
	if err != nil {
		t.Fatalf("prompt.New: %v", err)
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Deps{Catalog: cat, Repo: store.NewMemoryRepository(), Redis: rdb}, mr
}

func testConfig(t *testing.T, run config.Run) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		OpenAIKey:   "sk-test",
		GamesDir:    t.TempDir(),
		MaxParallel: 2,
		RenderBoard: true,
		Defaults:    run,
		Runs:        []config.Run{run},
	}
}

func randomRun(games int) config.Run {
	return config.Run{
		Name:         "smoke",
		Games:        games,
		Model:        "test-model",
		MaxTokens:    5,
		RandomEngine: true,
		ModelWhite:   true,
		Seed:         7,
	}
}

func TestRunBatchFansOutToSinks(t *testing.T) {
	deps, _ := newDeps(t)
	cfg := testConfig(t, randomRun(3))
	r := New(cfg, deps, WithModelFactory(func(llm.Config, bool) (llm.Model, error) {
		// The king can never reach e3 on the second move.
		return &scriptedModel{replies: []string{" e4", " Ke3"}}, nil
	}))

	rep, err := r.RunBatch(context.Background(), cfg.Runs[0])
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if rep.Aborted != 0 || rep.Outcomes["illegal_move"] != 3 || len(rep.Games) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	for _, g := range rep.Games {
		if g.Plies != 2 {
			t.Fatalf("game %s plies = %d", g.GameID, g.Plies)
		}
		for _, name := range []string{session.MetaFile, session.PGNFile, session.BoardFile} {
			if _, err := os.Stat(filepath.Join(g.Dir, name)); err != nil {
				t.Fatalf("game %s: %v", g.GameID, err)
			}
		}
	}

	games, err := deps.Repo.ListRun(context.Background(), rep.RunID, 10)
	if err != nil {
		t.Fatalf("ListRun: %v", err)
	}
	if len(games) != 3 {
		t.Fatalf("stored games = %d", len(games))
	}
	for _, g := range games {
		if g.UnknownSAN != "Ke3" || g.PlyCount != 2 || g.MovesSAN[0] != "e4" || g.Result != "*" || g.RunName != "smoke" {
			t.Fatalf("stored game = %+v", g)
		}
		if g.Opponent != "RANDOM chess engine" || g.OpponentElo != "?" {
			t.Fatalf("opponent = %s/%s", g.Opponent, g.OpponentElo)
		}
	}

	st, err := scoreboard.LoadStatus(context.Background(), deps.Redis, rep.RunID)
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if st.Planned != 3 || st.Finished != 3 || st.Outcomes["illegal_move"] != 3 || st.Plies != 6 || len(st.Games) != 3 {
		t.Fatalf("status = %+v", st)
	}
}

func TestModelFailuresAreReportedAsAborted(t *testing.T) {
	deps, _ := newDeps(t)
	cfg := testConfig(t, randomRun(2))
	r := New(cfg, deps, WithModelFactory(func(llm.Config, bool) (llm.Model, error) {
		return &scriptedModel{err: errors.New("upstream 503")}, nil
	}))

	rep, err := r.RunBatch(context.Background(), cfg.Runs[0])
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if rep.Aborted != 2 || len(rep.Outcomes) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	for _, g := range rep.Games {
		if g.Err == nil {
			t.Fatal("aborted game without error")
		}
		if _, err := os.Stat(filepath.Join(g.Dir, session.PGNFile)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("aborted game wrote a pgn: %v", err)
		}
	}
	st, err := scoreboard.LoadStatus(context.Background(), deps.Redis, rep.RunID)
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if st.Aborted != 2 || st.Finished != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestRunAllWithoutOptionalSinks(t *testing.T) {
	cat, err := prompt.New("")
	if err != nil {
		t.Fatalf("prompt.New: %v", err)
	}
	run := randomRun(1)
	run.OpeningMode = "known"
	cfg := testConfig(t, run)
	cfg.RenderBoard = false

	var seen []llm.Config
	r := New(cfg, &Deps{Catalog: cat}, WithModelFactory(func(c llm.Config, _ bool) (llm.Model, error) {
		seen = append(seen, c)
		return &scriptedModel{replies: []string{" Ke3"}}, nil
	}))
	reports, err := r.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(reports) != 1 || reports[0].Outcomes["illegal_move"] != 1 {
		t.Fatalf("reports = %+v", reports)
	}
	g := reports[0].Games[0]
	if g.Plies != 2 {
		t.Fatalf("known opening plies = %d", g.Plies)
	}
	if _, err := os.Stat(filepath.Join(g.Dir, session.BoardFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("board rendered while disabled: %v", err)
	}
	if len(seen) != 1 || seen[0].Model != "test-model" || seen[0].APIKey != "sk-test" {
		t.Fatalf("model config = %+v", seen)
	}
}

func TestBookModeRequiresReadableBook(t *testing.T) {
	deps, _ := newDeps(t)
	run := randomRun(1)
	run.OpeningMode = "book"
	run.OpeningBook = filepath.Join(t.TempDir(), "missing.bin")
	cfg := testConfig(t, run)
	if _, err := New(cfg, deps).RunBatch(context.Background(), run); err == nil {
		t.Fatal("missing book accepted")
	}
}

func TestStockfishRunWithoutPool(t *testing.T) {
	deps, _ := newDeps(t)
	run := randomRun(1)
	run.RandomEngine = false
	cfg := testConfig(t, run)
	rep, err := New(cfg, deps).RunBatch(context.Background(), run)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if rep.Aborted != 1 || rep.Games[0].Err == nil {
		t.Fatalf("report = %+v", rep)
	}
}

func TestBasePGNMovesOpenEveryGame(t *testing.T) {
	deps, _ := newDeps(t)
	path := filepath.Join(t.TempDir(), "base.pgn")
	if err := os.WriteFile(path, []byte("[Event \"base\"]\n\n1. e4 e5 2.\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	run := randomRun(2)
	run.BasePGNFile = path
	run.OpeningMode = "random"
	cfg := testConfig(t, run)
	r := New(cfg, deps, WithModelFactory(func(llm.Config, bool) (llm.Model, error) {
		return &scriptedModel{replies: []string{" Ke3"}}, nil
	}))

	rep, err := r.RunBatch(context.Background(), run)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if rep.Aborted != 0 || rep.Outcomes["illegal_move"] != 2 {
		t.Fatalf("report = %+v", rep)
	}
	for _, g := range rep.Games {
		if g.Plies != 2 {
			t.Fatalf("game %s plies = %d", g.GameID, g.Plies)
		}
		pgn, err := os.ReadFile(filepath.Join(g.Dir, session.PGNFile))
		if err != nil || !strings.Contains(string(pgn), "\n1. e4 e5 *\n") {
			t.Fatalf("game %s pgn = %s, %v", g.GameID, pgn, err)
		}
		meta, err := os.ReadFile(filepath.Join(g.Dir, session.MetaFile))
		if err != nil || !strings.Contains(string(meta), "base_pgn: [Event \"base\"]\nnmove: 2\n") {
			t.Fatalf("game %s meta = %s, %v", g.GameID, meta, err)
		}
	}
}
