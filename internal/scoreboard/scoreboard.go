// Package scoreboard keeps the live status of a batch run in Redis: one hash of
// outcome counters per run and a short-lived snapshot per game in progress.
package scoreboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/game"
)

const (
	ttlRun  = 7 * 24 * time.Hour
	ttlGame = 24 * time.Hour

	fieldPlanned  = "planned"
	fieldFinished = "finished"
	fieldAborted  = "aborted"
	fieldPlies    = "plies"
)

var ErrRunNotFound = errors.New("scoreboard run not found")

// RunInfo is written once when a run starts.
type RunInfo struct {
	Name     string
	Model    string
	Opponent string
	Planned  int
}

// Status is the aggregated view of one run.
type Status struct {
	RunID     string
	Name      string
	Model     string
	Opponent  string
	StartedAt time.Time
	Planned   int
	Finished  int
	Aborted   int
	Plies     int
	Outcomes  map[string]int
	Games     []string
}

// Snapshot is the last known position of a game in progress.
type Snapshot struct {
	GameID  string `json:"game_id"`
	Plies   int    `json:"plies"`
	LastUCI string `json:"last_uci"`
	Last    string `json:"last"`
	FEN     string `json:"fen"`
	Result  string `json:"result,omitempty"`
}

// Board records one run. It implements game.Observer; write failures are
// logged and never interrupt a game.
type Board struct {
	rdb   *redis.Client
	runID string
	zl    *zap.Logger
	now   func() time.Time
}

// Open connects to redisURL ("redis://host:port/db") and pings it.
func Open(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("REDIS_URL required for scoreboard")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func New(rdb *redis.Client, runID string, zl *zap.Logger) *Board {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Board{rdb: rdb, runID: runID, zl: zl.With(zap.String("run_id", runID)), now: time.Now}
}

func (b *Board) RunID() string { return b.runID }

func keyRun(runID string) string { return "arena:run:" + strings.TrimSpace(runID) }
func keyRunGames(runID string) string { return keyRun(runID) + ":games" }
func keyGame(gameID string) string { return "arena:game:" + strings.TrimSpace(gameID) }
func keyRuns() string { return "arena:runs" }

func outcomeField(k game.Kind) string { return "outcome:" + k.String() }

// Start registers the run and its planned game count.
func (b *Board) Start(ctx context.Context, info RunInfo) error {
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, keyRun(b.runID),
		"name", info.Name,
		"model", info.Model,
		"opponent", info.Opponent,
		"started_at", b.now().UTC().Format(time.RFC3339),
		fieldPlanned, info.Planned,
	)
	pipe.Expire(ctx, keyRun(b.runID), ttlRun)
	pipe.SAdd(ctx, keyRuns(), b.runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("scoreboard start: %w", err)
	}
	return nil
}

func (b *Board) PlyApplied(ctx context.Context, ev game.PlyEvent) {
	snap := Snapshot{GameID: ev.GameID, Plies: ev.Index, LastUCI: ev.Ply.UCI, Last: ev.Ply.Text(), FEN: ev.FEN}
	raw, err := json.Marshal(snap)
	if err != nil {
		b.zl.Warn("scoreboard_encode_failed", zap.Error(err))
		return
	}
	pipe := b.rdb.Pipeline()
	pipe.Set(ctx, keyGame(ev.GameID), raw, ttlGame)
	pipe.HIncrBy(ctx, keyRun(b.runID), fieldPlies, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		b.zl.Warn("scoreboard_ply_failed", zap.String("game_id", ev.GameID), zap.Error(err))
	}
}

func (b *Board) GameFinished(ctx context.Context, res game.Result) {
	snap := Snapshot{GameID: res.GameID, Plies: len(res.Plies), FEN: res.FEN, Result: res.Outcome.Result()}
	if n := len(res.Plies); n > 0 {
		snap.LastUCI = res.Plies[n-1].UCI
		snap.Last = res.Plies[n-1].Text()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		b.zl.Warn("scoreboard_encode_failed", zap.Error(err))
		return
	}
	pipe := b.rdb.TxPipeline()
	pipe.HIncrBy(ctx, keyRun(b.runID), fieldFinished, 1)
	pipe.HIncrBy(ctx, keyRun(b.runID), outcomeField(res.Outcome.Kind), 1)
	pipe.RPush(ctx, keyRunGames(b.runID), res.GameID)
	pipe.Expire(ctx, keyRunGames(b.runID), ttlRun)
	pipe.Set(ctx, keyGame(res.GameID), raw, ttlGame)
	if _, err := pipe.Exec(ctx); err != nil {
		b.zl.Warn("scoreboard_finish_failed", zap.String("game_id", res.GameID), zap.Error(err))
	}
}

// Aborted counts a game that ended on a collaborator failure.
func (b *Board) Aborted(ctx context.Context, gameID string) {
	pipe := b.rdb.TxPipeline()
	pipe.HIncrBy(ctx, keyRun(b.runID), fieldAborted, 1)
	pipe.Del(ctx, keyGame(gameID))
	if _, err := pipe.Exec(ctx); err != nil {
		b.zl.Warn("scoreboard_abort_failed", zap.String("game_id", gameID), zap.Error(err))
	}
}

// Snapshot returns the last stored position of gameID, nil when unknown.
func (b *Board) Snapshot(ctx context.Context, gameID string) (*Snapshot, error) {
	raw, err := b.rdb.Get(ctx, keyGame(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Status reads the counters of this board's run.
func (b *Board) Status(ctx context.Context) (*Status, error) {
	return LoadStatus(ctx, b.rdb, b.runID)
}

func LoadStatus(ctx context.Context, rdb *redis.Client, runID string) (*Status, error) {
	fields, err := rdb.HGetAll(ctx, keyRun(runID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrRunNotFound
	}
	games, err := rdb.LRange(ctx, keyRunGames(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	st := &Status{
		RunID:    runID,
		Name:     fields["name"],
		Model:    fields["model"],
		Opponent: fields["opponent"],
		Planned:  atoi(fields[fieldPlanned]),
		Finished: atoi(fields[fieldFinished]),
		Aborted:  atoi(fields[fieldAborted]),
		Plies:    atoi(fields[fieldPlies]),
		Outcomes: map[string]int{},
		Games:    games,
	}
	if ts, err := time.Parse(time.RFC3339, fields["started_at"]); err == nil {
		st.StartedAt = ts
	}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, "outcome:"); ok {
			st.Outcomes[name] = atoi(v)
		}
	}
	return st, nil
}

// Runs lists the ids of every registered run.
func Runs(ctx context.Context, rdb *redis.Client) ([]string, error) {
	return rdb.SMembers(ctx, keyRuns()).Result()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
