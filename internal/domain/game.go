package domain

import "time"

// LLMGame is the persisted record of one finished model-versus-opponent game.
type LLMGame struct {
	ID          int64
	GameUUID    string
	RunID       string
	RunName     string
	Model       string
	Opponent    string
	OpponentElo string
	ModelWhite  bool
	Result      string
	Outcome     string
	Method      string
	UnknownSAN  string
	PlyCount    int
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	ECO         string
	Opening     string
	ArtifactDir string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
}

// RunSummary aggregates the games of one run by outcome.
type RunSummary struct {
	RunID    string
	Games    int
	Outcomes map[string]int
	AvgPlies float64
}
