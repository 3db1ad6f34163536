package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/park285/llm-chess-arena/internal/chess/movetext"
	"github.com/park285/llm-chess-arena/internal/chess/openingbook"
	"github.com/park285/llm-chess-arena/internal/game"
	"github.com/park285/llm-chess-arena/internal/llm"
	"github.com/park285/llm-chess-arena/internal/opponent"
	"github.com/park285/llm-chess-arena/internal/prompt"
)

var (
	ErrNoRuns = errors.New("experiment file lists no runs")
)

type AppConfig struct {
	OpenAIKey   string
	DeepSeekKey string

	StockfishPath string
	LLMTimeout    time.Duration

	GamesDir    string
	MaxParallel int

	RedisURL    string
	DatabaseURL string
	LiveFeedURL string
	RenderBoard bool

	PromptDir      string
	ExperimentFile string

	// Defaults is the run described by the environment alone.
	Defaults Run
	// Runs is Defaults unless EXPERIMENT_FILE lists runs.
	Runs []Run
}

// Run describes one batch of games with identical settings. Fields carry yaml
// tags so an experiment file can override any of them per run.
type Run struct {
	Name  string `yaml:"name"`
	Games int    `yaml:"games"`

	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"`
	Chat            bool    `yaml:"chat"`
	UseDeepSeek     bool    `yaml:"use_deepseek"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	SystemMessage   string  `yaml:"system_message"`
	ReasoningEffort string  `yaml:"reasoning_effort"`
	Tagged          bool    `yaml:"tagged"`

	RandomEngine bool  `yaml:"random_engine"`
	Skill        int   `yaml:"skill"`
	Depth        int   `yaml:"depth"`
	TimeMillis   int   `yaml:"time_ms"`
	Threads      int   `yaml:"threads"`
	HashMB       int   `yaml:"hash_mb"`
	Seed         int64 `yaml:"seed"`

	ModelWhite   bool   `yaml:"model_white"`
	BasePGNFile  string `yaml:"base_pgn_file"`
	PromptStyle  string `yaml:"prompt_style"`
	OpeningMode  string `yaml:"opening_mode"`
	OpeningPlies int    `yaml:"opening_plies"`
	OpeningBook  string `yaml:"opening_book"`
	ClassifyECO  bool   `yaml:"classify_eco"`
}

// Load reads an optional .env file, then the environment, then EXPERIMENT_FILE.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment without touching .env.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		LLMTimeout:  120 * time.Second,
		GamesDir:    "games",
		MaxParallel: 1,
	}

	cfg.OpenAIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.DeepSeekKey = strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY"))
	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("LLM_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLMTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("GAMES_DIR")); v != "" {
		cfg.GamesDir = v
	}
	if v := strings.TrimSpace(os.Getenv("MAX_PARALLEL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallel = n
		}
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.LiveFeedURL = strings.TrimSpace(os.Getenv("LIVEFEED_WS_URL"))
	cfg.RenderBoard = envBool("RENDER_BOARD", false)
	cfg.PromptDir = strings.TrimSpace(os.Getenv("PROMPT_DIR"))
	cfg.ExperimentFile = strings.TrimSpace(os.Getenv("EXPERIMENT_FILE"))

	cfg.Defaults = runFromEnv()

	cfg.Runs = []Run{cfg.Defaults}
	if cfg.ExperimentFile != "" {
		raw, err := os.ReadFile(cfg.ExperimentFile)
		if err != nil {
			return nil, fmt.Errorf("read experiment file: %w", err)
		}
		runs, err := ParseExperiment(raw, cfg.Defaults)
		if err != nil {
			return nil, err
		}
		cfg.Runs = runs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runFromEnv() Run {
	r := Run{
		Name:        "default",
		Games:       1,
		Model:       "gpt-3.5-turbo-instruct",
		MaxTokens:   5,
		Depth:       15,
		ModelWhite:  true,
		ClassifyECO: true,
	}
	if v := strings.TrimSpace(os.Getenv("GAMES_COUNT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			r.Games = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MODEL")); v != "" {
		r.Model = v
	}
	r.BaseURL = strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	r.Chat = envBool("LLM_CHAT", false)
	r.UseDeepSeek = envBool("LLM_USE_DEEPSEEK", false)
	if v := strings.TrimSpace(os.Getenv("LLM_TEMPERATURE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			r.Temperature = f
		}
	}
	r.MaxTokens = envInt("LLM_MAX_TOKENS", r.MaxTokens)
	r.SystemMessage = os.Getenv("LLM_SYSTEM_MESSAGE")
	r.ReasoningEffort = strings.TrimSpace(os.Getenv("LLM_REASONING_EFFORT"))
	r.Tagged = envBool("LLM_TAGGED", false)

	r.RandomEngine = envBool("RANDOM_ENGINE", false)
	r.Skill = envInt("ENGINE_SKILL", 0)
	r.Depth = envInt("ENGINE_DEPTH", r.Depth)
	r.TimeMillis = envInt("ENGINE_TIME_MS", 0)
	r.Threads = envInt("ENGINE_THREADS", 1)
	r.HashMB = envInt("ENGINE_HASH_MB", 16)
	if v := strings.TrimSpace(os.Getenv("ENGINE_SEED")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.Seed = n
		}
	}

	r.ModelWhite = envBool("MODEL_WHITE", true)
	r.BasePGNFile = strings.TrimSpace(os.Getenv("BASE_PGN_FILE"))
	r.PromptStyle = strings.TrimSpace(os.Getenv("PROMPT_STYLE"))
	r.OpeningMode = strings.TrimSpace(os.Getenv("OPENING_MODE"))
	r.OpeningPlies = envInt("OPENING_PLIES", 0)
	r.OpeningBook = strings.TrimSpace(os.Getenv("OPENING_BOOK_PATH"))
	r.ClassifyECO = envBool("CLASSIFY_ECO", true)
	return r
}

type experimentFile struct {
	Runs []yaml.Node `yaml:"runs"`
}

// ParseExperiment decodes the runs of an experiment file. Each run starts from
// defaults, so a run only needs the keys it changes.
func ParseExperiment(raw []byte, defaults Run) ([]Run, error) {
	var f experimentFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse experiment file: %w", err)
	}
	if len(f.Runs) == 0 {
		return nil, ErrNoRuns
	}
	runs := make([]Run, 0, len(f.Runs))
	for i := range f.Runs {
		r := defaults
		if err := f.Runs[i].Decode(&r); err != nil {
			return nil, fmt.Errorf("experiment run %d: %w", i+1, err)
		}
		if strings.TrimSpace(r.Name) == "" || r.Name == defaults.Name {
			r.Name = fmt.Sprintf("run%d", i+1)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// Validate checks every run against the collaborators it needs.
func (c *AppConfig) Validate() error {
	for _, r := range c.Runs {
		if err := c.validateRun(r); err != nil {
			return fmt.Errorf("run %s: %w", r.Name, err)
		}
	}
	return nil
}

func (c *AppConfig) validateRun(r Run) error {
	if r.UseDeepSeek {
		if c.DeepSeekKey == "" {
			return errors.New("DEEPSEEK_API_KEY is required")
		}
	} else if c.OpenAIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if !r.RandomEngine {
		if c.StockfishPath == "" {
			return errors.New("STOCKFISH_PATH is required unless RANDOM_ENGINE is set")
		}
		if _, err := opponent.SkillElo(r.Skill); err != nil {
			return err
		}
	}
	mode, err := openingbook.ParseMode(r.OpeningMode)
	if err != nil {
		return err
	}
	if mode == openingbook.ModeBook && r.OpeningBook == "" {
		return openingbook.ErrBookRequired
	}
	if _, err := prompt.ParseStyle(r.PromptStyle); err != nil {
		return err
	}
	return nil
}

// LLM returns the model settings of r, resolving the DeepSeek provider.
func (c *AppConfig) LLM(r Run) (cfg llm.Config, chat bool) {
	cfg = llm.Config{
		Model:           r.Model,
		BaseURL:         r.BaseURL,
		APIKey:          c.OpenAIKey,
		Temperature:     r.Temperature,
		MaxTokens:       r.MaxTokens,
		ReasoningEffort: r.ReasoningEffort,
	}
	chat = r.Chat
	if r.UseDeepSeek {
		cfg.Model = llm.DeepSeekModel
		cfg.BaseURL = llm.DeepSeekBaseURL
		cfg.APIKey = c.DeepSeekKey
		chat = true
	}
	return cfg, chat
}

func (r Run) Stockfish() opponent.StockfishConfig {
	return opponent.StockfishConfig{
		Skill:          r.Skill,
		Depth:          r.Depth,
		MoveTimeMillis: r.TimeMillis,
		Threads:        r.Threads,
		HashMB:         r.HashMB,
	}
}

func (r Run) Extraction() movetext.Mode {
	if r.Tagged {
		return movetext.ModeTagged
	}
	return movetext.ModePlain
}

// Opening is the parsed opening mode; Validate has already rejected bad values.
func (r Run) Opening() openingbook.Mode {
	m, _ := openingbook.ParseMode(r.OpeningMode)
	return m
}

func (r Run) Style() prompt.Style {
	s, _ := prompt.ParseStyle(r.PromptStyle)
	return s
}

// GameConfig assembles the driver settings once the prompt texts and the
// opening line are known.
func (r Run) GameConfig(preamble, system string, opening []string) game.Config {
	return game.Config{
		ModelWhite:      r.ModelWhite,
		Preamble:        preamble,
		SystemMessage:   system,
		Extraction:      r.Extraction(),
		Opening:         opening,
		ClassifyOpening: r.ClassifyECO,
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
