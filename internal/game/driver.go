// Package game runs one model-versus-opponent game as a turn state machine.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/chess/movetext"
	"github.com/park285/llm-chess-arena/internal/chess/openingbook"
	"github.com/park285/llm-chess-arena/internal/chess/position"
	"github.com/park285/llm-chess-arena/internal/chess/transcript"
	"github.com/park285/llm-chess-arena/internal/llm"
	"github.com/park285/llm-chess-arena/internal/opponent"
	"github.com/park285/llm-chess-arena/internal/session"
)

// ErrCollaborator wraps failures of the model, the opponent or the opening
// replay. They abort the game instead of producing an outcome.
var ErrCollaborator = errors.New("collaborator failure")

type Config struct {
	ModelWhite    bool
	Preamble      string
	SystemMessage string
	Extraction    movetext.Mode
	// Opening moves (SAN or UCI) replayed before the first turn.
	Opening []string
	// ClassifyOpening adds ECO and Opening headers to the final record.
	ClassifyOpening bool
}

// PlyEvent is published after every accepted ply.
type PlyEvent struct {
	GameID string
	Ply    transcript.Ply
	Index  int
	FEN    string
}

// Observer receives best-effort progress notifications.
type Observer interface {
	PlyApplied(ctx context.Context, ev PlyEvent)
	GameFinished(ctx context.Context, res Result)
}

type Result struct {
	GameID  string
	Dir     string
	Model   string
	Outcome Outcome
	PGN     string
	Plies   []transcript.Ply
	FEN     string
	ECO     string
	Title   string
}

type Driver struct {
	cfg      Config
	model    llm.Model
	opp      opponent.Opponent
	art      *session.Artifact
	log      *session.Logger
	zl       *zap.Logger
	observer Observer

	tracker    *position.Tracker
	transcript *transcript.Builder

	state      State
	moveNumber int
	outcome    Outcome
	exchanges  int
	abortErr   error
	result     Result
}

type Option func(*Driver)

func WithLogger(zl *zap.Logger) Option {
	return func(d *Driver) {
		if zl != nil {
			d.zl = zl
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observer = o }
}

// New prepares a game: the opening is replayed and the opponent synced. The
// initial state depends on who is to move after the opening; an opening that
// already ends the game yields a driver in GameOver.
func New(ctx context.Context, cfg Config, model llm.Model, opp opponent.Opponent, art *session.Artifact, opts ...Option) (*Driver, error) {
	d := &Driver{
		cfg:        cfg,
		model:      model,
		opp:        opp,
		art:        art,
		log:        art.Logger(),
		zl:         zap.NewNop(),
		tracker:    position.New(),
		transcript: transcript.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.zl = d.zl.With(zap.String("game_id", art.ID()), zap.String("model", model.Name()))

	for _, mv := range cfg.Opening {
		res := d.tracker.Apply(mv)
		if res.Status != position.Applied {
			res = d.tracker.ApplyUCI(mv)
		}
		if res.Status != position.Applied {
			return nil, d.abort(fmt.Errorf("%w: opening move %q: %w", ErrCollaborator, mv, res.Err()))
		}
		d.transcript.Append(transcript.MoverOpening, res.Move.SAN, res.Move.UCI)
	}
	d.moveNumber = d.tracker.PlyCount()/2 + 1

	if out, over := outcomeAfter(d.tracker.TerminalStatus(), sideOf(!d.tracker.WhiteToMove())); over {
		d.logTerminal(out)
		if err := d.finish(ctx, out); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := opp.Sync(ctx, d.tracker.UCIMoves()); err != nil {
		return nil, d.abort(fmt.Errorf("%w: opponent sync: %w", ErrCollaborator, err))
	}

	if d.tracker.WhiteToMove() == cfg.ModelWhite {
		d.state = AwaitingModelMove
	} else {
		d.state = AwaitingOpponentMove
	}
	return d, nil
}

func (d *Driver) State() State { return d.state }

// MoveNumber is the full-move number of the next move.
func (d *Driver) MoveNumber() int { return d.moveNumber }

func (d *Driver) Outcome() Outcome { return d.outcome }

func (d *Driver) Plies() []transcript.Ply { return d.transcript.Plies() }

func (d *Driver) FEN() string { return d.tracker.FEN() }

// Result is valid once the state is GameOver.
func (d *Driver) Result() Result { return d.result }

// Run steps until the game is over.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	for d.state != GameOver {
		if err := d.Step(ctx); err != nil {
			return Result{}, err
		}
	}
	return d.result, nil
}

// Step performs one transition. Once aborted, every call returns the abort error.
func (d *Driver) Step(ctx context.Context) error {
	if d.abortErr != nil {
		return d.abortErr
	}
	switch d.state {
	case AwaitingModelMove:
		return d.modelTurn(ctx)
	case AwaitingOpponentMove:
		return d.opponentTurn(ctx)
	default:
		return nil
	}
}

func (d *Driver) modelTurn(ctx context.Context) error {
	prompt := d.transcript.PromptText(d.cfg.Preamble)
	in := llm.Context{Prompt: prompt}
	if d.model.Chat() {
		in.Messages = d.chatMessages()
	}

	resp, err := d.model.Respond(ctx, in)
	if err != nil {
		return d.abort(fmt.Errorf("%w: model %s: %w", ErrCollaborator, d.model.Name(), err))
	}

	system := ""
	if d.model.Chat() && d.exchanges == 0 {
		system = d.cfg.SystemMessage
	}
	d.exchanges++
	d.log.Exchange(system, prompt, resp.Text)
	if resp.Reasoning != "" {
		d.log.Logf("Reasoning: %s", resp.Reasoning)
	}

	extracted := d.cfg.Extraction.Extract(resp.Text)
	d.log.Logf("SAN MOVE: %s %s", resp.Text, extracted.Token)

	mover := sideOf(d.cfg.ModelWhite)
	res := position.ApplyResult{Status: position.NoMove}
	if extracted.OK {
		res = d.tracker.Apply(extracted.Token)
	}
	if res.Status != position.Applied {
		raw := extracted.Token
		if !extracted.OK {
			raw = strings.Join(strings.Fields(resp.Text), " ")
		}
		d.log.Logf("unknown san: %s", raw)
		d.zl.Info("illegal_model_move", zap.String("token", raw), zap.String("status", res.Status.String()), zap.Int("move", d.moveNumber))
		return d.finish(ctx, Outcome{Kind: IllegalMove, Side: mover, RawToken: raw})
	}

	ply := d.recordPly(ctx, transcript.MoverModel, res.Move)
	if out, over := outcomeAfter(d.tracker.TerminalStatus(), mover); over {
		d.logTerminal(out)
		return d.finish(ctx, out)
	}
	if err := d.opp.Sync(ctx, d.tracker.UCIMoves()); err != nil {
		return d.abort(fmt.Errorf("%w: opponent sync: %w", ErrCollaborator, err))
	}
	d.advanceCounter(ply)
	d.state = AwaitingOpponentMove
	return nil
}

func (d *Driver) opponentTurn(ctx context.Context) error {
	uci, err := d.opp.SelectMove(ctx, d.tracker)
	if err != nil {
		return d.abort(fmt.Errorf("%w: opponent %s: %w", ErrCollaborator, d.opp.Name(), err))
	}
	res := d.tracker.ApplyUCI(uci)
	if res.Status != position.Applied {
		return d.abort(fmt.Errorf("%w: opponent %s played %q: %w", ErrCollaborator, d.opp.Name(), uci, res.Err()))
	}

	ply := d.recordPly(ctx, transcript.MoverOpponent, res.Move)
	if out, over := outcomeAfter(d.tracker.TerminalStatus(), sideOf(!d.cfg.ModelWhite)); over {
		d.logTerminal(out)
		return d.finish(ctx, out)
	}
	if err := d.opp.Sync(ctx, d.tracker.UCIMoves()); err != nil {
		return d.abort(fmt.Errorf("%w: opponent sync: %w", ErrCollaborator, err))
	}
	d.advanceCounter(ply)
	d.state = AwaitingModelMove
	return nil
}

func (d *Driver) recordPly(ctx context.Context, mover transcript.Mover, mv position.Move) transcript.Ply {
	ply := d.transcript.Append(mover, mv.SAN, mv.UCI)
	d.log.Log(d.transcript.PromptText(d.cfg.Preamble))
	if d.observer != nil {
		d.observer.PlyApplied(ctx, PlyEvent{GameID: d.art.ID(), Ply: ply, Index: d.transcript.Len(), FEN: d.tracker.FEN()})
	}
	return ply
}

// advanceCounter bumps the move number after Black's ply.
func (d *Driver) advanceCounter(ply transcript.Ply) {
	if !ply.White() {
		d.moveNumber++
	}
}

func (d *Driver) logTerminal(out Outcome) {
	switch {
	case out.Kind == Draw:
		d.log.Log("Draw!")
	case out.Side == sideOf(d.cfg.ModelWhite):
		d.log.Log(d.model.Name() + " won!")
	default:
		d.log.Log(opponent.Label(d.opp) + " won!")
	}
}

// chatMessages lays the game out as a conversation: the preamble as the first
// user message, the model's plies as assistant turns and every other ply as a
// user turn.
func (d *Driver) chatMessages() []llm.Message {
	var msgs []llm.Message
	if d.cfg.SystemMessage != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: d.cfg.SystemMessage})
	}
	plies := d.transcript.Plies()
	first := strings.TrimRight(d.cfg.Preamble, " \t\r\n")
	if len(plies) == 0 {
		first = d.transcript.PromptText(d.cfg.Preamble)
	}
	if first != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: first})
	}
	for _, p := range plies {
		role := llm.RoleUser
		if p.Mover == transcript.MoverModel {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: p.Text()})
	}
	return msgs
}

// finish seals the record. A record that cannot be rendered or stored aborts
// the game instead.
func (d *Driver) finish(ctx context.Context, out Outcome) error {
	final := transcript.Final{Result: out.Result()}
	if out.Kind == IllegalMove {
		final.HasUnknownSAN = true
		final.UnknownSAN = out.RawToken
	}
	var eco, title string
	if d.cfg.ClassifyOpening {
		if eco, title = openingbook.Classify(d.tracker.UCIMoves()); eco != "" {
			d.transcript.SetTag("ECO", eco)
			d.transcript.SetTag("Opening", title)
		}
	}

	pgn, err := d.transcript.Finalize(final, d.sides())
	if err != nil {
		return d.abort(fmt.Errorf("finalize record: %w", err))
	}
	if err := d.art.WritePGN(pgn); err != nil {
		return d.abort(fmt.Errorf("write pgn: %w", err))
	}
	d.outcome = out
	d.state = GameOver

	d.result = Result{
		GameID:  d.art.ID(),
		Dir:     d.art.Dir(),
		Model:   d.model.Name(),
		Outcome: out,
		PGN:     pgn,
		Plies:   d.transcript.Plies(),
		FEN:     d.tracker.FEN(),
		ECO:     eco,
		Title:   title,
	}
	d.zl.Info("game_over",
		zap.String("outcome", out.Kind.String()),
		zap.String("method", out.Method.String()),
		zap.String("result", out.Result()),
		zap.Int("plies", d.transcript.Len()))
	if d.observer != nil {
		d.observer.GameFinished(ctx, d.result)
	}
	return nil
}

func (d *Driver) abort(err error) error {
	d.abortErr = err
	if aerr := d.art.Abort(err); aerr != nil {
		d.zl.Warn("abort_failed", zap.Error(aerr))
	}
	d.zl.Error("game_aborted", zap.Error(err))
	return err
}

// sides fills the participant headers the way game datasets expect them.
func (d *Driver) sides() transcript.Sides {
	model, opp := d.model.Name(), d.opp.Name()
	s := transcript.Sides{Event: model + " vs " + opp}
	if d.cfg.ModelWhite {
		s.White, s.Black = model, opp
		s.WhiteElo, s.BlackElo = "?", d.opp.Elo()
	} else {
		s.White, s.Black = opp, model
		s.WhiteElo, s.BlackElo = d.opp.Elo(), "?"
		if opp == opponent.RandomName {
			s.Event = opp + " vs " + model
		}
	}
	return s
}
