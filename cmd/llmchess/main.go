package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/config"
	"github.com/park285/llm-chess-arena/internal/obslog"
	"github.com/park285/llm-chess-arena/internal/runner"
	"github.com/park285/llm-chess-arena/internal/scoreboard"
)

func main() {
	games := flag.Int("games", 0, "games per run (overrides GAMES_COUNT and the experiment file)")
	parallel := flag.Int("parallel", 0, "games in flight (overrides MAX_PARALLEL)")
	status := flag.Bool("status", false, "print scoreboard status of recorded runs and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	if *games > 0 {
		for i := range cfg.Runs {
			cfg.Runs[i].Games = *games
		}
	}
	if *parallel > 0 {
		cfg.MaxParallel = *parallel
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *status {
		if err := printStatus(ctx, cfg.RedisURL); err != nil {
			log.Fatalf("status error: %v", err)
		}
		return
	}

	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := runner.BuildDeps(ictx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalf("init error: %v", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close_failed", zap.Error(err))
		}
	}()

	r := runner.New(cfg, deps, runner.WithLogger(logger.Named("runner")))
	reports, err := r.RunAll(ctx)
	for _, rep := range reports {
		printReport(rep)
		if deps.Repo != nil {
			if sum, err := deps.Repo.Summarize(context.Background(), rep.RunID); err == nil {
				logger.Info("run_summary",
					zap.String("run_id", sum.RunID),
					zap.Int("games", sum.Games),
					zap.Float64("avg_plies", sum.AvgPlies))
			}
		}
	}
	if err != nil {
		logger.Error("run_failed", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func printReport(rep runner.RunReport) {
	fmt.Printf("run %s (%s): %d games, %d aborted\n", rep.Name, rep.RunID, len(rep.Games), rep.Aborted)
	kinds := make([]string, 0, len(rep.Outcomes))
	for k := range rep.Outcomes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-12s %d\n", k, rep.Outcomes[k])
	}
	for _, g := range rep.Games {
		if g.Err != nil {
			fmt.Printf("  aborted %s: %v\n", g.GameID, g.Err)
			continue
		}
		fmt.Printf("  %s %s %s\n", g.GameID, g.Outcome.Result(), g.Dir)
	}
}

func printStatus(ctx context.Context, redisURL string) error {
	rdb, err := scoreboard.Open(ctx, redisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	ids, err := scoreboard.Runs(ctx, rdb)
	if err != nil {
		return err
	}
	sort.Strings(ids)
	for _, id := range ids {
		st, err := scoreboard.LoadStatus(ctx, rdb, id)
		if err != nil {
			fmt.Printf("%s: %v\n", id, err)
			continue
		}
		fmt.Printf("%s %s model=%s opponent=%s planned=%d finished=%d aborted=%d plies=%d outcomes=%v\n",
			st.RunID, st.Name, st.Model, st.Opponent, st.Planned, st.Finished, st.Aborted, st.Plies, st.Outcomes)
	}
	return nil
}
