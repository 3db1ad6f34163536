// Package uci drives a Stockfish-compatible engine process over the UCI protocol.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/llm-chess-arena/internal/obslog"
)

const (
	handshakeTimeout = 5 * time.Second
	moveOverhead     = 10
)

var (
	ErrNoBestMove    = errors.New("engine returned no best move")
	ErrNoLimits      = errors.New("search needs a depth or a move time")
	ErrEngineStopped = errors.New("engine output closed")
)

// Options are applied with setoption once per process; sessions with equal
// options are interchangeable.
type Options struct {
	Threads    int
	SkillLevel int
	HashMB     int
}

func (o Options) WithDefaults() Options {
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.HashMB <= 0 {
		o.HashMB = 16
	}
	return o
}

func (o Options) Validate() error {
	if o.SkillLevel < 0 || o.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", o.SkillLevel)
	}
	if o.HashMB <= 0 || o.Threads <= 0 {
		return fmt.Errorf("threads and hash must be positive: threads=%d hash=%d", o.Threads, o.HashMB)
	}
	return nil
}

func (o Options) key() string {
	return fmt.Sprintf("threads=%d/skill=%d/hash=%d", o.Threads, o.SkillLevel, o.HashMB)
}

// Parameters are the setoption values sent to the engine, recorded with every game.
func (o Options) Parameters() map[string]string {
	o = o.WithDefaults()
	return map[string]string{
		"Threads":           strconv.Itoa(o.Threads),
		"Hash":              strconv.Itoa(o.HashMB),
		"Skill Level":       strconv.Itoa(o.SkillLevel),
		"MultiPV":           "1",
		"Move Overhead":     strconv.Itoa(moveOverhead),
		"UCI_LimitStrength": "false",
	}
}

// Limits bound one search; depth and move time may be combined.
type Limits struct {
	Depth          int
	MoveTimeMillis int
}

func (l Limits) goCommand() (string, error) {
	var sb strings.Builder
	sb.WriteString("go")
	if l.Depth > 0 {
		sb.WriteString(" depth " + strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		sb.WriteString(" movetime " + strconv.Itoa(l.MoveTimeMillis))
	}
	if l.Depth <= 0 && l.MoveTimeMillis <= 0 {
		return "", ErrNoLimits
	}
	return sb.String(), nil
}

// deadline is how long to wait for bestmove before declaring the engine hung.
func (l Limits) deadline() time.Duration {
	if l.MoveTimeMillis > 0 {
		return time.Duration(l.MoveTimeMillis)*time.Millisecond + 10*time.Second
	}
	return min(max(time.Duration(l.Depth)*time.Second, 10*time.Second), 2*time.Minute)
}

type SearchRequest struct {
	// FEN is the root position; empty means the standard start.
	FEN    string
	Moves  []string
	Limits Limits
}

// SearchResponse carries the chosen move and the last principal-line report.
type SearchResponse struct {
	BestMove string
	Ponder   string
	Depth    int
	ScoreCP  int
	// Mate is the signed distance to mate in moves, 0 when no mate was reported.
	Mate int
}

type Session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines   chan string
	readErr error

	writeMu  sync.Mutex
	searchMu sync.Mutex
}

// NewSession starts binaryPath and completes the uci handshake with opt applied.
func NewSession(ctx context.Context, binaryPath string, opt Options) (*Session, error) {
	opt = opt.WithDefaults()
	if err := opt.Validate(); err != nil {
		return nil, err
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %q: %w", binaryPath, err)
	}

	s := newPipeSession(stdin, stdout)
	s.cmd = cmd
	if err := s.handshake(ctx, opt); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// newPipeSession starts the goroutine that turns engine output into lines.
func newPipeSession(w io.WriteCloser, r io.Reader) *Session {
	s := &Session{stdin: w, lines: make(chan string, 64)}
	go s.pump(r)
	return s
}

func (s *Session) pump(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			s.lines <- line
		}
	}
	s.readErr = sc.Err()
	close(s.lines)
}

func (s *Session) handshake(ctx context.Context, opt Options) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := s.send("uci"); err != nil {
		return err
	}
	if err := s.waitFor(ctx, "uciok"); err != nil {
		return fmt.Errorf("uci handshake: %w", err)
	}
	params := opt.Parameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.send("setoption name " + name + " value " + params[name]); err != nil {
			return err
		}
	}
	return s.EnsureReady(ctx)
}

// EnsureReady round-trips isready, used to check pooled processes.
func (s *Session) EnsureReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := s.send("isready"); err != nil {
		return err
	}
	if err := s.waitFor(ctx, "readyok"); err != nil {
		return fmt.Errorf("isready: %w", err)
	}
	return nil
}

// NewGame clears the engine's hash and history between games.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame"); err != nil {
		return err
	}
	return s.EnsureReady(ctx)
}

// Search plays out one position/go exchange and returns the engine's choice.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	goCmd, err := req.Limits.goCommand()
	if err != nil {
		return SearchResponse{}, err
	}

	s.searchMu.Lock()
	defer s.searchMu.Unlock()

	if err := s.send(positionCommand(req.FEN, req.Moves)); err != nil {
		return SearchResponse{}, err
	}
	if err := s.send(goCmd); err != nil {
		return SearchResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, req.Limits.deadline())
	defer cancel()

	var resp SearchResponse
	for {
		line, err := s.next(ctx)
		if err != nil {
			obslog.L().Warn("uci_search_failed",
				zap.String("go", goCmd),
				zap.Int("plies", len(req.Moves)),
				zap.Error(err))
			return SearchResponse{}, err
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "info":
			resp.applyInfo(fields[1:])
		case "bestmove":
			if len(fields) < 2 || fields[1] == "(none)" || fields[1] == "0000" {
				return SearchResponse{}, ErrNoBestMove
			}
			resp.BestMove = fields[1]
			if len(fields) >= 4 && fields[2] == "ponder" {
				resp.Ponder = fields[3]
			}
			return resp, nil
		}
	}
}

// applyInfo keeps depth and score from info lines about the main line.
func (r *SearchResponse) applyInfo(fields []string) {
	var (
		depth, cp, mate int
		scored          bool
	)
	for i := 0; i+1 < len(fields); i++ {
		switch fields[i] {
		case "multipv":
			if fields[i+1] != "1" {
				return
			}
		case "depth":
			depth, _ = strconv.Atoi(fields[i+1])
		case "score":
			if i+2 >= len(fields) {
				continue
			}
			v, err := strconv.Atoi(fields[i+2])
			if err != nil {
				continue
			}
			scored = true
			if fields[i+1] == "mate" {
				mate = v
			} else {
				cp = v
			}
		case "pv":
			i = len(fields)
		}
	}
	if !scored {
		return
	}
	r.Depth, r.ScoreCP, r.Mate = depth, cp, mate
}

func positionCommand(fen string, moves []string) string {
	cmd := "position startpos"
	if fen = strings.TrimSpace(fen); fen != "" && fen != "startpos" {
		cmd = "position fen " + fen
	}
	if len(moves) > 0 {
		cmd += " moves " + strings.Join(moves, " ")
	}
	return cmd
}

func (s *Session) Close() error {
	s.writeMu.Lock()
	if s.stdin != nil {
		_, _ = io.WriteString(s.stdin, "quit\n")
		_ = s.stdin.Close()
		s.stdin = nil
	}
	s.writeMu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		_ = s.cmd.Process.Kill()
		return <-done
	}
}

func (s *Session) send(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.stdin == nil {
		return ErrEngineStopped
	}
	if _, err := io.WriteString(s.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", strings.Fields(cmd)[0], err)
	}
	return nil
}

func (s *Session) waitFor(ctx context.Context, token string) error {
	for {
		line, err := s.next(ctx)
		if err != nil {
			return err
		}
		if line == token {
			return nil
		}
	}
}

func (s *Session) next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			if s.readErr != nil {
				return "", fmt.Errorf("%w: %w", ErrEngineStopped, s.readErr)
			}
			return "", ErrEngineStopped
		}
		return line, nil
	}
}
