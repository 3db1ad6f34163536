// Package analysis summarises a directory of game artifacts into one row per game.
package analysis

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/park285/llm-chess-arena/internal/session"
)

const defaultReasoningEffort = "low"

// Columns is the CSV header, in order.
var Columns = []string{
	"subfolder",
	"gpt_model",
	"reasoning_effort",
	"number of moves played",
	"illegal move",
	"illegal_move_detail",
	"result of the game",
	"comments",
}

const (
	ResultIllegal = "defeat (illegal move)"
	ResultOngoing = "ongoing"
	ResultUnknown = "unknown"
)

type Row struct {
	Subfolder       string
	Model           string
	ReasoningEffort string
	Moves           int
	Illegal         bool
	IllegalDetail   string
	Result          string
	Comments        string
}

func (r Row) record() []string {
	illegal := "no"
	if r.Illegal {
		illegal = "yes"
	}
	return []string{
		r.Subfolder,
		r.Model,
		r.ReasoningEffort,
		strconv.Itoa(r.Moves),
		illegal,
		r.IllegalDetail,
		r.Result,
		r.Comments,
	}
}

// Scan reads every subdirectory of dir holding both a metadata file and a
// PGN. Directories missing either, such as aborted games, are skipped. Rows
// are sorted by subfolder.
func Scan(dir string) ([]Row, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read games dir: %w", err)
	}
	var rows []Row
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		row, ok, err := ScanGame(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Subfolder < rows[j].Subfolder })
	return rows, nil
}

// ScanGame analyses one artifact directory; ok is false when it is incomplete.
func ScanGame(gameDir string) (Row, bool, error) {
	meta, err := os.Open(filepath.Join(gameDir, session.MetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	defer meta.Close()

	pgn, err := os.Open(filepath.Join(gameDir, session.PGNFile))
	if errors.Is(err, os.ErrNotExist) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	defer pgn.Close()

	row := Row{Subfolder: filepath.Base(gameDir)}
	if row.Model, row.ReasoningEffort, err = ParseMeta(meta); err != nil {
		return Row{}, false, fmt.Errorf("%s: %w", session.MetaFile, err)
	}
	g, err := ParsePGN(pgn)
	if err != nil {
		return Row{}, false, fmt.Errorf("%s: %w", session.PGNFile, err)
	}
	row.Moves, row.Illegal, row.IllegalDetail, row.Result = g.Moves, g.Illegal, g.IllegalDetail, g.Verdict()
	return row, true, nil
}

// ParseMeta extracts model_gpt and reasoning_effort by line prefix.
func ParseMeta(r io.Reader) (model, effort string, err error) {
	effort = defaultReasoningEffort
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "model_gpt:"):
			model = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		case strings.HasPrefix(line, "reasoning_effort:"):
			effort = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		}
	}
	return model, effort, sc.Err()
}

// GameSummary is what the analyzer reads from a PGN file.
type GameSummary struct {
	Result        string
	Moves         int
	Illegal       bool
	IllegalDetail string
}

// Verdict maps the summary to the result column.
func (g GameSummary) Verdict() string {
	switch {
	case g.Illegal:
		return ResultIllegal
	case g.Result == "*":
		return ResultOngoing
	case g.Result != "":
		return g.Result
	default:
		return ResultUnknown
	}
}

var (
	unknownSANTag = regexp.MustCompile(`^\[UnknownSAN\s+"([^"]+)"\]`)
	moveToken     = regexp.MustCompile(`\b[a-hRNBQKO0-9]\S*`)
	moveNumber    = regexp.MustCompile(`^\d+\.`)
)

// ParsePGN scans headers by prefix and counts the plies in the movetext.
func ParsePGN(r io.Reader) (GameSummary, error) {
	var (
		g     GameSummary
		moves strings.Builder
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "[Result ") {
			if parts := strings.Split(line, `"`); len(parts) > 1 {
				g.Result = parts[1]
			}
		}
		if strings.HasPrefix(line, "[UnknownSAN ") {
			g.Illegal = true
			if m := unknownSANTag.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				g.IllegalDetail = m[1]
			} else {
				g.IllegalDetail = strings.Trim(strings.SplitN(line, " ", 2)[1], `[]"`)
			}
		}
		if !strings.HasPrefix(line, "[") && strings.TrimSpace(line) != "" {
			moves.WriteByte(' ')
			moves.WriteString(strings.TrimSpace(line))
		}
	}
	if err := sc.Err(); err != nil {
		return GameSummary{}, err
	}
	g.Moves = CountMoves(moves.String())
	return g, nil
}

// CountMoves counts plies in movetext, ignoring move numbers and result tokens.
func CountMoves(movetext string) int {
	n := 0
	for _, tok := range moveToken.FindAllString(movetext, -1) {
		if moveNumber.MatchString(tok) {
			continue
		}
		switch tok {
		case "1-0", "0-1", "1/2-1/2", "*":
			continue
		}
		n++
	}
	return n
}

// WriteCSV writes the header and rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
