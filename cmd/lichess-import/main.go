package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/llm-chess-arena/internal/lichess"
	"github.com/park285/llm-chess-arena/internal/session"
)

// main uploads the PGN of one game directory (or a PGN file) to lichess.
func main() {
	path := flag.String("game", "", "game directory or PGN file")
	flag.Parse()

	if *path == "" {
		fatal(fmt.Errorf("-game is required"))
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal(err)
	}

	file := *path
	if info, err := os.Stat(file); err == nil && info.IsDir() {
		file = filepath.Join(file, session.PGNFile)
	}
	pgn, err := os.ReadFile(file)
	if err != nil {
		fatal(err)
	}

	client, err := lichess.NewClient(os.Getenv("LICHESS_TOKEN"))
	if err != nil {
		fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	url, err := client.Import(ctx, string(pgn))
	if err != nil {
		fatal(err)
	}
	fmt.Println(url)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
