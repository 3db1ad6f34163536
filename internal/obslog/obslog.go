// Package obslog holds the process-wide zap logger.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger = zap.NewNop()

// L returns the global logger. It is a no-op logger until InitFromEnv succeeds.
func L() *zap.Logger { return globalLogger }

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger { return globalLogger.Named(component) }

// ForRun tags every entry with the batch it belongs to.
func ForRun(l *zap.Logger, runID, name string) *zap.Logger {
	return l.With(zap.String("run_id", runID), zap.String("run", name))
}

// Settings select where entries go and how they look.
type Settings struct {
	Level   zapcore.Level
	Format  string // text, json or console
	Console bool
	// File is appended to when non-empty.
	File   string
	Caller bool
}

// SettingsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE,
// LOG_FILE and LOG_CALLER.
func SettingsFromEnv() Settings {
	s := Settings{
		Level:   parseLevel(getenvDefault("LOG_LEVEL", "info")),
		Format:  normalizeFormat(getenvDefault("LOG_FORMAT", "text")),
		Console: envBool("LOG_TO_CONSOLE", true),
		Caller:  envBool("LOG_CALLER", false),
	}
	if envBool("LOG_TO_FILE", true) {
		s.File = strings.TrimSpace(getenvDefault("LOG_FILE", filepath.Join("logs", "llmchess.log")))
	}
	return s
}

// Build assembles a logger from s. With neither console nor file enabled
// entries still reach stdout.
func Build(s Settings) (*zap.Logger, error) {
	enc := encoderFor(s.Format)
	var cores []zapcore.Core
	if s.Console {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), s.Level))
	}
	if s.File != "" {
		if dir := filepath.Dir(s.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(s.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), s.Level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), s.Level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if s.Caller || s.Format == "text" {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// InitFromEnv installs the logger described by the LOG_* variables.
func InitFromEnv() error {
	l, err := Build(SettingsFromEnv())
	if err != nil {
		return err
	}
	globalLogger = l
	return nil
}

// Replace swaps the global logger, returning a func that restores the previous one.
func Replace(l *zap.Logger) func() {
	prev := globalLogger
	if l == nil {
		l = zap.NewNop()
	}
	globalLogger = l
	return func() { globalLogger = prev }
}

// Sync flushes buffered entries; errors from syncing stdout are ignored.
func Sync() { _ = globalLogger.Sync() }

func encoderFor(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	switch format {
	case "json":
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case "console":
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func normalizeFormat(s string) string {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "json", "console":
		return f
	default:
		return "text"
	}
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		if strings.EqualFold(strings.TrimSpace(s), "warning") {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	}
	return lvl
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
