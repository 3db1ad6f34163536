// Package store persists finished games for cross-run analysis.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/llm-chess-arena/internal/domain"
)

var ErrDuplicateGame = errors.New("llm game already exists")

type Repository interface {
	InsertGame(ctx context.Context, game *domain.LLMGame) (int64, error)
	GetGame(ctx context.Context, gameUUID string) (*domain.LLMGame, error)
	ListRun(ctx context.Context, runID string, limit int) ([]*domain.LLMGame, error)
	Summarize(ctx context.Context, runID string) (*domain.RunSummary, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS llm_games (
	id              BIGSERIAL PRIMARY KEY,
	game_uuid       TEXT NOT NULL UNIQUE,
	run_id          TEXT NOT NULL,
	run_name        TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL,
	opponent        TEXT NOT NULL,
	opponent_elo    TEXT NOT NULL DEFAULT '?',
	model_white     BOOLEAN NOT NULL,
	result          TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	method          TEXT NOT NULL DEFAULT '',
	unknown_san     TEXT NOT NULL DEFAULT '',
	ply_count       INTEGER NOT NULL,
	moves_uci       JSONB NOT NULL,
	moves_san       JSONB NOT NULL,
	pgn             TEXT NOT NULL,
	eco             TEXT NOT NULL DEFAULT '',
	opening         TEXT NOT NULL DEFAULT '',
	artifact_dir    TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ NOT NULL,
	duration_ms     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS llm_games_run_idx ON llm_games (run_id, ended_at DESC);
`

type repository struct {
	db *sql.DB
}

// Open connects to Postgres and creates the llm_games table when missing.
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return NewRepository(db), nil
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *repository) InsertGame(ctx context.Context, game *domain.LLMGame) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil llm game payload")
	}
	movesUCI, err := json.Marshal(nonNil(game.MovesUCI))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(game.MovesSAN))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO llm_games (
			game_uuid,
			run_id,
			run_name,
			model,
			opponent,
			opponent_elo,
			model_white,
			result,
			outcome,
			method,
			unknown_san,
			ply_count,
			moves_uci,
			moves_san,
			pgn,
			eco,
			opening,
			artifact_dir,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (game_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		game.GameUUID,
		game.RunID,
		game.RunName,
		game.Model,
		game.Opponent,
		game.OpponentElo,
		game.ModelWhite,
		game.Result,
		game.Outcome,
		game.Method,
		game.UnknownSAN,
		game.PlyCount,
		movesUCI,
		movesSAN,
		game.PGN,
		game.ECO,
		game.Opening,
		game.ArtifactDir,
		game.StartedAt,
		game.EndedAt,
		game.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert llm game: %w", err)
	}
	return id.Int64, nil
}

const selectColumns = `
			id,
			game_uuid,
			run_id,
			run_name,
			model,
			opponent,
			opponent_elo,
			model_white,
			result,
			outcome,
			method,
			unknown_san,
			ply_count,
			moves_uci,
			moves_san,
			pgn,
			eco,
			opening,
			artifact_dir,
			started_at,
			ended_at,
			duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(s scanner) (*domain.LLMGame, error) {
	var (
		game         domain.LLMGame
		movesUCIJSON []byte
		movesSANJSON []byte
		durationMS   sql.NullInt64
	)
	if err := s.Scan(
		&game.ID,
		&game.GameUUID,
		&game.RunID,
		&game.RunName,
		&game.Model,
		&game.Opponent,
		&game.OpponentElo,
		&game.ModelWhite,
		&game.Result,
		&game.Outcome,
		&game.Method,
		&game.UnknownSAN,
		&game.PlyCount,
		&movesUCIJSON,
		&movesSANJSON,
		&game.PGN,
		&game.ECO,
		&game.Opening,
		&game.ArtifactDir,
		&game.StartedAt,
		&game.EndedAt,
		&durationMS,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(movesUCIJSON, &game.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &game.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	if durationMS.Valid {
		game.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	return &game, nil
}

func (r *repository) GetGame(ctx context.Context, gameUUID string) (*domain.LLMGame, error) {
	query := `SELECT` + selectColumns + `
		FROM llm_games
		WHERE game_uuid = $1`
	game, err := scanGame(r.db.QueryRowContext(ctx, query, gameUUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select llm game: %w", err)
	}
	return game, nil
}

func (r *repository) ListRun(ctx context.Context, runID string, limit int) ([]*domain.LLMGame, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT` + selectColumns + `
		FROM llm_games
		WHERE run_id = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("select llm games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.LLMGame, 0, limit)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan llm game: %w", err)
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate llm games: %w", err)
	}
	return games, nil
}

func (r *repository) Summarize(ctx context.Context, runID string) (*domain.RunSummary, error) {
	const query = `
		SELECT outcome, COUNT(*), COALESCE(SUM(ply_count), 0)
		FROM llm_games
		WHERE run_id = $1
		GROUP BY outcome`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run: %w", err)
	}
	defer rows.Close()

	sum := &domain.RunSummary{RunID: runID, Outcomes: map[string]int{}}
	var plies int
	for rows.Next() {
		var (
			outcome string
			count   int
			total   int
		)
		if err := rows.Scan(&outcome, &count, &total); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Outcomes[outcome] = count
		sum.Games += count
		plies += total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	if sum.Games > 0 {
		sum.AvgPlies = float64(plies) / float64(sum.Games)
	}
	return sum, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
