package scoreboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/llm-chess-arena/internal/chess/transcript"
	"github.com/park285/llm-chess-arena/internal/game"
)

func newTestBoard(t *testing.T) (*Board, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	b := New(rdb, "run-1", nil)
	b.now = func() time.Time { return time.Date(2024, 11, 25, 12, 0, 0, 0, time.UTC) }
	return b, mr
}

func TestRunLifecycle(t *testing.T) {
	b, mr := newTestBoard(t)
	ctx := context.Background()

	if err := b.Start(ctx, RunInfo{Name: "default", Model: "gpt-3.5-turbo-instruct", Opponent: "Stockfish", Planned: 3}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ply := transcript.Ply{Mover: transcript.MoverModel, SAN: "e4", UCI: "e2e4", Label: "1."}
	b.PlyApplied(ctx, game.PlyEvent{GameID: "g1", Ply: ply, Index: 1, FEN: "fen-1"})

	snap, err := b.Snapshot(ctx, "g1")
	if err != nil || snap == nil {
		t.Fatalf("Snapshot: %v %v", snap, err)
	}
	if snap.Last != "1. e4" || snap.LastUCI != "e2e4" || snap.Plies != 1 || snap.Result != "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	b.GameFinished(ctx, game.Result{GameID: "g1", Outcome: game.Outcome{Kind: game.IllegalMove}, Plies: []transcript.Ply{ply}, FEN: "fen-1"})
	b.GameFinished(ctx, game.Result{GameID: "g2", Outcome: game.Outcome{Kind: game.WhiteWins}})
	b.Aborted(ctx, "g3")

	st, err := b.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Planned != 3 || st.Finished != 2 || st.Aborted != 1 || st.Plies != 1 {
		t.Fatalf("status = %+v", st)
	}
	if st.Outcomes["illegal_move"] != 1 || st.Outcomes["white_wins"] != 1 {
		t.Fatalf("outcomes = %v", st.Outcomes)
	}
	if len(st.Games) != 2 || st.Games[0] != "g1" {
		t.Fatalf("games = %v", st.Games)
	}
	if !st.StartedAt.Equal(time.Date(2024, 11, 25, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("started_at = %v", st.StartedAt)
	}

	if snap, _ := b.Snapshot(ctx, "g1"); snap == nil || snap.Result != "*" {
		t.Fatalf("final snapshot = %+v", snap)
	}
	if ttl := mr.TTL(keyRun("run-1")); ttl != ttlRun {
		t.Fatalf("run ttl = %v", ttl)
	}

	runs, err := Runs(ctx, b.rdb)
	if err != nil || len(runs) != 1 || runs[0] != "run-1" {
		t.Fatalf("Runs = %v %v", runs, err)
	}
}

func TestStatusUnknownRun(t *testing.T) {
	b, _ := newTestBoard(t)
	if _, err := b.Status(context.Background()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v", err)
	}
	if snap, err := b.Snapshot(context.Background(), "missing"); snap != nil || err != nil {
		t.Fatalf("Snapshot = %v %v", snap, err)
	}
}

func TestWriteFailuresDoNotPanic(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	b := New(rdb, "run-1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.PlyApplied(ctx, game.PlyEvent{GameID: "g1"})
	b.GameFinished(ctx, game.Result{GameID: "g1"})
	b.Aborted(ctx, "g1")
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error")
	}
	var _ game.Observer = (*Board)(nil)
}
