package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/park285/llm-chess-arena/internal/analysis"
)

// main scans a games directory and writes one CSV row per finished game.
func main() {
	dir := flag.String("dir", "games", "directory holding game<uuid> subfolders")
	out := flag.String("out", "games_analysis.csv", "CSV output path, - for stdout")
	parquetPath := flag.String("parquet", "", "optional parquet output path")
	parallel := flag.Int64("parallel", 4, "parquet write parallelism")
	flag.Parse()

	rows, err := analysis.Scan(*dir)
	if err != nil {
		fatal(err)
	}

	w := os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		w = f
	}
	if err := analysis.WriteCSV(w, rows); err != nil {
		fatal(err)
	}
	if *parquetPath != "" {
		if err := analysis.WriteParquet(*parquetPath, rows, *parallel); err != nil {
			fatal(err)
		}
	}
	if *out != "-" {
		fmt.Fprintf(os.Stderr, "analyzed %d games into %s\n", len(rows), *out)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
