package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/chess/uci"
	"github.com/park285/llm-chess-arena/internal/config"
	"github.com/park285/llm-chess-arena/internal/prompt"
	"github.com/park285/llm-chess-arena/internal/scoreboard"
	"github.com/park285/llm-chess-arena/internal/store"
)

// Deps are the process-wide collaborators shared by every run. Pool, Repo and
// Redis are nil when the configuration does not ask for them.
type Deps struct {
	Catalog *prompt.Catalog
	Pool    *uci.Pool
	Repo    store.Repository
	Redis   *redis.Client
}

func BuildDeps(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := prompt.New(cfg.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("init prompts: %w", err)
	}
	deps := &Deps{Catalog: catalog}

	if needsEngine(cfg.Runs) {
		deps.Pool, err = uci.NewPool(uci.PoolConfig{BinaryPath: cfg.StockfishPath, Capacity: max(cfg.MaxParallel, 1)})
		if err != nil {
			return nil, fmt.Errorf("init engine pool: %w", err)
		}
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		deps.Repo, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
	} else {
		logger.Info("results_store_disabled", zap.String("reason", "DATABASE_URL not set"))
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		deps.Redis, err = scoreboard.Open(ctx, cfg.RedisURL)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
	} else {
		logger.Info("scoreboard_disabled", zap.String("reason", "REDIS_URL not set"))
	}
	return deps, nil
}

func needsEngine(runs []config.Run) bool {
	for _, r := range runs {
		if !r.RandomEngine {
			return true
		}
	}
	return false
}

func (d *Deps) Close() error {
	var errs []error
	if d.Pool != nil {
		errs = append(errs, d.Pool.Close())
	}
	if d.Repo != nil {
		errs = append(errs, d.Repo.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}
