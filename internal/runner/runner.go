// Package runner plays batches of games and fans their results out to the
// optional sinks: results store, scoreboard, live feed and board image.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/chess/openingbook"
	"github.com/park285/llm-chess-arena/internal/chess/position"
	"github.com/park285/llm-chess-arena/internal/config"
	"github.com/park285/llm-chess-arena/internal/domain"
	"github.com/park285/llm-chess-arena/internal/game"
	"github.com/park285/llm-chess-arena/internal/livefeed"
	"github.com/park285/llm-chess-arena/internal/llm"
	"github.com/park285/llm-chess-arena/internal/obslog"
	"github.com/park285/llm-chess-arena/internal/opponent"
	"github.com/park285/llm-chess-arena/internal/prompt"
	"github.com/park285/llm-chess-arena/internal/render"
	"github.com/park285/llm-chess-arena/internal/scoreboard"
	"github.com/park285/llm-chess-arena/internal/session"
	"github.com/park285/llm-chess-arena/internal/store"
)

type ModelFactory func(cfg llm.Config, chat bool) (llm.Model, error)

type OpponentFactory func(ctx context.Context, r config.Run, seed int64) (opponent.Opponent, error)

// GameReport is the outcome of one game slot. Err is set when the game could
// not be played to a result.
type GameReport struct {
	GameID  string
	Dir     string
	Outcome game.Outcome
	Plies   int
	Err     error
}

type RunReport struct {
	RunID    string
	Name     string
	Games    []GameReport
	Outcomes map[string]int
	Aborted  int
}

type Runner struct {
	cfg  *config.AppConfig
	deps *Deps
	zl   *zap.Logger
	now  func() time.Time

	newModel    ModelFactory
	newOpponent OpponentFactory
}

type Option func(*Runner)

func WithLogger(zl *zap.Logger) Option {
	return func(r *Runner) {
		if zl != nil {
			r.zl = zl
		}
	}
}

func WithModelFactory(f ModelFactory) Option {
	return func(r *Runner) { r.newModel = f }
}

func WithOpponentFactory(f OpponentFactory) Option {
	return func(r *Runner) { r.newOpponent = f }
}

func New(cfg *config.AppConfig, deps *Deps, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, deps: deps, zl: zap.NewNop(), now: time.Now}
	r.newModel = func(c llm.Config, chat bool) (llm.Model, error) {
		return llm.New(c, chat, llm.WithTimeout(cfg.LLMTimeout))
	}
	r.newOpponent = r.defaultOpponent
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) defaultOpponent(ctx context.Context, run config.Run, seed int64) (opponent.Opponent, error) {
	if run.RandomEngine {
		return opponent.NewRandom(seed), nil
	}
	if r.deps.Pool == nil {
		return nil, errors.New("engine pool not configured")
	}
	return opponent.NewStockfish(ctx, r.deps.Pool, run.Stockfish(), r.zl.Named("stockfish"))
}

// RunAll plays every configured run in order.
func (r *Runner) RunAll(ctx context.Context) ([]RunReport, error) {
	reports := make([]RunReport, 0, len(r.cfg.Runs))
	for _, run := range r.cfg.Runs {
		rep, err := r.RunBatch(ctx, run)
		if err != nil {
			return reports, fmt.Errorf("run %s: %w", run.Name, err)
		}
		reports = append(reports, rep)
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
	}
	return reports, nil
}

// batch holds what every game of one run shares.
type batch struct {
	runID    string
	run      config.Run
	llmCfg   llm.Config
	chat     bool
	preamble string
	system   string
	picker   *openingbook.Picker
	base     openingbook.Line
	seed     int64
	board    *scoreboard.Board
	feed     *livefeed.Publisher
	zl       *zap.Logger
}

// RunBatch plays run.Games games with at most MaxParallel in flight. Failures
// of single games are reported, not returned.
func (r *Runner) RunBatch(ctx context.Context, run config.Run) (RunReport, error) {
	b, err := r.prepare(ctx, run)
	if err != nil {
		return RunReport{}, err
	}
	if b.feed != nil {
		defer func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.feed.Close(cctx); err != nil {
				b.zl.Warn("livefeed_close_failed", zap.Error(err))
			}
		}()
	}

	games := max(run.Games, 1)
	parallel := max(r.cfg.MaxParallel, 1)
	reports := make([]GameReport, games)
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	for i := 0; i < games; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			reports[i] = GameReport{Err: ctx.Err()}
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			reports[i] = r.playGame(ctx, b, int64(i))
		}(i)
	}
	wg.Wait()

	rep := RunReport{RunID: b.runID, Name: run.Name, Games: reports, Outcomes: make(map[string]int)}
	for _, g := range reports {
		if g.Err != nil {
			rep.Aborted++
			continue
		}
		rep.Outcomes[g.Outcome.Kind.String()]++
	}
	b.zl.Info("run_finished",
		zap.Int("games", games),
		zap.Int("aborted", rep.Aborted),
		zap.Any("outcomes", rep.Outcomes))
	return rep, nil
}

func (r *Runner) prepare(ctx context.Context, run config.Run) (*batch, error) {
	b := &batch{runID: uuid.NewString(), run: run}
	b.zl = obslog.ForRun(r.zl, b.runID, run.Name)
	b.llmCfg, b.chat = r.cfg.LLM(run)

	var (
		base openingbook.Base
		err  error
	)
	if strings.TrimSpace(run.BasePGNFile) != "" {
		if base, err = openingbook.LoadBase(run.BasePGNFile); err != nil {
			return nil, err
		}
		b.base = base.Line
	}

	b.preamble, err = r.deps.Catalog.Preamble(prompt.Options{
		Style:      run.Style(),
		Base:       base.Header,
		ModelWhite: run.ModelWhite,
		DeepSeek:   run.UseDeepSeek,
	})
	if err != nil {
		return nil, err
	}
	if b.chat {
		if b.system, err = r.deps.Catalog.SystemMessage(run.Tagged, run.SystemMessage); err != nil {
			return nil, err
		}
	}

	b.seed = run.Seed
	if b.seed == 0 {
		b.seed = r.now().UnixNano()
	}
	mode := run.Opening()
	var book *nchess.PolyglotBook
	if mode == openingbook.ModeBook {
		if book, err = openingbook.LoadFromPath(run.OpeningBook); err != nil {
			return nil, err
		}
	}
	if b.picker, err = openingbook.NewPicker(mode, run.OpeningPlies, book, b.seed); err != nil {
		return nil, err
	}
	if !b.base.Empty() && mode != openingbook.ModeNone {
		b.zl.Warn("base_pgn_overrides_opening_mode", zap.String("mode", string(mode)), zap.Int("plies", len(b.base.UCI)))
	}

	oppName := opponent.StockfishName
	if run.RandomEngine {
		oppName = opponent.RandomName
	}
	if r.deps.Redis != nil {
		b.board = scoreboard.New(r.deps.Redis, b.runID, b.zl)
		if err := b.board.Start(ctx, scoreboard.RunInfo{Name: run.Name, Model: b.llmCfg.Model, Opponent: oppName, Planned: max(run.Games, 1)}); err != nil {
			b.zl.Warn("scoreboard_start_failed", zap.Error(err))
		}
	}
	if livefeed.IsWebsocketURL(r.cfg.LiveFeedURL) {
		b.feed = livefeed.New(r.cfg.LiveFeedURL, b.runID, livefeed.WithLogger(b.zl))
		if err := b.feed.Connect(ctx); err != nil {
			b.zl.Warn("livefeed_connect_failed", zap.Error(err))
		}
	}
	return b, nil
}

func (r *Runner) playGame(ctx context.Context, b *batch, slot int64) GameReport {
	started := r.now()
	zl := b.zl.With(zap.Int64("slot", slot))

	line, err := b.opening()
	if err != nil {
		zl.Error("opening_pick_failed", zap.Error(err))
		return GameReport{Err: err}
	}
	opp, err := r.newOpponent(ctx, b.run, b.seed+slot+1)
	if err != nil {
		zl.Error("opponent_init_failed", zap.Error(err))
		return GameReport{Err: err}
	}
	defer func() {
		if err := opp.Close(); err != nil {
			zl.Warn("opponent_close_failed", zap.Error(err))
		}
	}()
	model, err := r.newModel(b.llmCfg, b.chat)
	if err != nil {
		zl.Error("model_init_failed", zap.Error(err))
		return GameReport{Err: err}
	}

	meta := session.Meta{
		Model:            b.llmCfg.Model,
		UseDeepSeek:      b.run.UseDeepSeek,
		BaseURL:          b.llmCfg.BaseURL,
		SkillLevel:       b.run.Skill,
		RandomEngine:     b.run.RandomEngine,
		WhitePiece:       b.run.ModelWhite,
		EngineDepth:      b.run.Depth,
		EngineTimeMillis: b.run.TimeMillis,
		BasePGN:          b.preamble,
		NMove:            line.NMove(),
		EngineParameters: opponent.FormatParameters(opp.Parameters()),
		Temperature:      b.llmCfg.Temperature,
		MaxTokens:        b.llmCfg.MaxTokens,
		Chat:             b.chat,
		SystemMessage:    b.system,
		ReasoningEffort:  b.llmCfg.ReasoningEffort,
	}
	art, err := session.Create(r.cfg.GamesDir, meta, zl)
	if err != nil {
		zl.Error("artifact_create_failed", zap.Error(err))
		return GameReport{Err: err}
	}
	rep := GameReport{GameID: art.ID(), Dir: art.Dir()}

	var observers fanout
	if b.board != nil {
		observers = append(observers, b.board)
	}
	if b.feed != nil {
		observers = append(observers, b.feed)
	}
	drv, err := game.New(ctx, b.run.GameConfig(b.preamble, b.system, line.SAN), model, opp, art,
		game.WithLogger(zl), game.WithObserver(observers))
	if err == nil {
		var res game.Result
		if res, err = drv.Run(ctx); err == nil {
			rep.Outcome, rep.Plies = res.Outcome, len(res.Plies)
			r.persist(ctx, b, res, opp, started, zl)
			if r.cfg.RenderBoard {
				r.renderBoard(ctx, art, res, opp, zl)
			}
			return rep
		}
	}
	rep.Err = err
	if b.board != nil {
		b.board.Aborted(ctx, art.ID())
	}
	return rep
}

// opening is the base file's line when it has moves, a fresh pick otherwise.
func (b *batch) opening() (openingbook.Line, error) {
	if !b.base.Empty() {
		return b.base, nil
	}
	return b.picker.Pick()
}

// fanout forwards driver notifications to every configured sink.
type fanout []game.Observer

func (f fanout) PlyApplied(ctx context.Context, ev game.PlyEvent) {
	for _, o := range f {
		o.PlyApplied(ctx, ev)
	}
}

func (f fanout) GameFinished(ctx context.Context, res game.Result) {
	for _, o := range f {
		o.GameFinished(ctx, res)
	}
}

func (r *Runner) persist(ctx context.Context, b *batch, res game.Result, opp opponent.Opponent, started time.Time, zl *zap.Logger) {
	if r.deps.Repo == nil {
		return
	}
	rec := gameRecord(b, res, opp, started, r.now())
	if _, err := r.deps.Repo.InsertGame(ctx, rec); err != nil && !errors.Is(err, store.ErrDuplicateGame) {
		zl.Warn("store_insert_failed", zap.Error(err))
	}
}

func gameRecord(b *batch, res game.Result, opp opponent.Opponent, started, ended time.Time) *domain.LLMGame {
	rec := &domain.LLMGame{
		GameUUID:    res.GameID,
		RunID:       b.runID,
		RunName:     b.run.Name,
		Model:       res.Model,
		Opponent:    opp.Name(),
		OpponentElo: opp.Elo(),
		ModelWhite:  b.run.ModelWhite,
		Result:      res.Outcome.Result(),
		Outcome:     res.Outcome.Kind.String(),
		Method:      res.Outcome.Method.String(),
		PlyCount:    len(res.Plies),
		MovesUCI:    make([]string, 0, len(res.Plies)),
		MovesSAN:    make([]string, 0, len(res.Plies)),
		PGN:         res.PGN,
		ECO:         res.ECO,
		Opening:     res.Title,
		ArtifactDir: res.Dir,
		StartedAt:   started,
		EndedAt:     ended,
		Duration:    ended.Sub(started),
	}
	if res.Outcome.Kind == game.IllegalMove {
		rec.UnknownSAN = res.Outcome.RawToken
	}
	for _, p := range res.Plies {
		rec.MovesUCI = append(rec.MovesUCI, p.UCI)
		rec.MovesSAN = append(rec.MovesSAN, p.SAN)
	}
	return rec
}

func (r *Runner) renderBoard(ctx context.Context, art *session.Artifact, res game.Result, opp opponent.Opponent, zl *zap.Logger) {
	uciMoves := make([]string, 0, len(res.Plies))
	for _, p := range res.Plies {
		uciMoves = append(uciMoves, p.UCI)
	}
	tr, err := position.FromMoves(uciMoves)
	if err != nil {
		zl.Warn("render_replay_failed", zap.Error(err))
		return
	}
	opts := render.Options{Title: res.Model + " vs " + opp.Name(), Subtitle: res.Outcome.Result()}
	if n := len(uciMoves); n > 0 {
		if h, err := render.HighlightUCI(uciMoves[n-1]); err == nil {
			opts.Highlight = h
		}
	}
	png, err := render.RenderPNG(ctx, tr.Board(), opts)
	if err != nil {
		zl.Warn("render_failed", zap.Error(err))
		return
	}
	if err := art.WriteFile(session.BoardFile, png); err != nil {
		zl.Warn("render_write_failed", zap.Error(err))
	}
}
