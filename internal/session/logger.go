package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Logger appends to session.txt and log.txt. Every write opens, appends and
// closes the file. Failures never reach the caller; the first one is reported
// to the process logger.
type Logger struct {
	dir string
	zl  *zap.Logger

	mu       sync.Mutex
	warnOnce sync.Once
}

func newLogger(dir string, zl *zap.Logger) *Logger {
	return &Logger{dir: dir, zl: zl}
}

// Exchange records one model call. system is omitted when empty.
func (l *Logger) Exchange(system, prompt, response string) {
	var text string
	if system != "" {
		text = "SYSTEM: " + system + "\n"
	}
	text += "PROMPT: " + prompt + "\n" + "RESPONSE: " + response + "\n\n"
	l.appendTo(SessionFile, text)
}

func (l *Logger) Log(msg string) {
	l.appendTo(LogFile, msg+"\n")
}

func (l *Logger) Logf(format string, args ...any) {
	l.Log(fmt.Sprintf(format, args...))
}

func (l *Logger) appendTo(name, text string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.warn(name, err)
		return
	}
	_, werr := f.WriteString(text)
	cerr := f.Close()
	if werr != nil {
		l.warn(name, werr)
	} else if cerr != nil {
		l.warn(name, cerr)
	}
}

func (l *Logger) warn(name string, err error) {
	l.warnOnce.Do(func() {
		l.zl.Warn("session_log_write_failed", zap.String("file", name), zap.String("dir", l.dir), zap.Error(err))
	})
}
