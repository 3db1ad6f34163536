// Package session owns the on-disk record of one game: a directory holding the
// run metadata, the model exchanges, an event log and the final PGN.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MetaFile    = "metainformation.txt"
	PGNFile     = "game.pgn"
	SessionFile = "session.txt"
	LogFile     = "log.txt"
	BoardFile   = "board.png"
)

var ErrFinalized = errors.New("session artifact already finalized")

// Meta is written once to metainformation.txt as "key: value" lines.
type Meta struct {
	Model            string
	UseDeepSeek      bool
	BaseURL          string
	SkillLevel       int
	RandomEngine     bool
	WhitePiece       bool
	EngineDepth      int
	EngineTimeMillis int
	BasePGN          string
	NMove            int
	EngineParameters string
	Temperature      float64
	MaxTokens        int
	Chat             bool
	SystemMessage    string
	ReasoningEffort  string
}

// Render keeps the key order and value spelling of existing game datasets.
func (m Meta) Render() string {
	engineTime := "None"
	if m.EngineTimeMillis > 0 {
		engineTime = strconv.Itoa(m.EngineTimeMillis)
	}
	params := m.EngineParameters
	if params == "" {
		params = "None"
	}
	effort := m.ReasoningEffort
	if effort == "" {
		effort = "None"
	}
	lines := []string{
		"model_gpt: " + m.Model,
		"use_deepseek: " + pyBool(m.UseDeepSeek),
		"base_url: " + orNone(m.BaseURL),
		"skill_level: " + strconv.Itoa(m.SkillLevel),
		"random_engine: " + pyBool(m.RandomEngine),
		"white_piece: " + pyBool(m.WhitePiece),
		"engine_depth: " + strconv.Itoa(m.EngineDepth),
		"engine_time: " + engineTime,
		"base_pgn: " + m.BasePGN,
		"nmove: " + strconv.Itoa(m.NMove),
		"engine_parameters: " + params,
		"temperature: " + strconv.FormatFloat(m.Temperature, 'f', -1, 64),
		"max_tokens: " + strconv.Itoa(m.MaxTokens),
		"chat_gpt: " + pyBool(m.Chat),
		"system_role_message: " + orNone(m.SystemMessage),
		"reasoning_effort: " + effort,
	}
	return strings.Join(lines, "\n") + "\n"
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

// Artifact is the directory of one game. It is created before the first move
// and finalized exactly once, either with a PGN or with an abort line.
type Artifact struct {
	id     string
	dir    string
	logger *Logger

	mu        sync.Mutex
	finalized bool
}

// Create allocates <root>/game<uuid> and writes the metadata file.
func Create(root string, meta Meta, zl *zap.Logger) (*Artifact, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	id := uuid.NewString()
	dir := filepath.Join(root, "game"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create game dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), []byte(meta.Render()), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", MetaFile, err)
	}
	zl = zl.With(zap.String("game_id", id))
	return &Artifact{id: id, dir: dir, logger: newLogger(dir, zl)}, nil
}

func (a *Artifact) ID() string { return a.id }

func (a *Artifact) Dir() string { return a.dir }

func (a *Artifact) Logger() *Logger { return a.logger }

// WritePGN stores the final game record and closes the artifact.
func (a *Artifact) WritePGN(pgn string) error {
	if err := a.finalize(); err != nil {
		return err
	}
	if !strings.HasSuffix(pgn, "\n") {
		pgn += "\n"
	}
	if err := os.WriteFile(filepath.Join(a.dir, PGNFile), []byte(pgn), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", PGNFile, err)
	}
	return nil
}

// Abort closes the artifact without a PGN so analyzers treat it as incomplete.
func (a *Artifact) Abort(cause error) error {
	if err := a.finalize(); err != nil {
		return err
	}
	a.logger.Logf("aborted: %v", cause)
	return nil
}

// WriteFile adds an auxiliary file such as the rendered board.
func (a *Artifact) WriteFile(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(a.dir, filepath.Base(name)), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (a *Artifact) Finalized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized
}

func (a *Artifact) finalize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return ErrFinalized
	}
	a.finalized = true
	return nil
}
