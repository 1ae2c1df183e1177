// Package main provides the tabular CLI: build and inspect CSV indexes.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nathanjrussell/TabularData/internal/header"
	"github.com/nathanjrussell/TabularData/internal/indexer"
)

const Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "index":
		runIndex(os.Args[2:])
	case "headers":
		runHeaders(os.Args[2:])
	case "version":
		fmt.Printf("tabular v%s\n", Version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func newLogger(verbose bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return logger
}

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	input := fs.String("input", "", "Path to the source CSV file")
	output := fs.String("output", "output", "Output directory for index artifacts")
	workers := fs.Int("workers", runtime.NumCPU(), "Number of parallel workers")
	bufferKB := fs.Int("buffer-kb", 1024, "Per-worker read buffer in KiB")
	slab := fs.Int("columns-per-slab", 32, "Maximum columns factorized per slab")
	delimiter := fs.String("delimiter", ",", "Field delimiter (single byte)")
	quote := fs.String("quote", `"`, "Quote character (single byte)")
	skipFaulty := fs.Bool("skip-faulty-rows", false, "Drop rows whose field count differs from the header")
	headerJSON := fs.Bool("header-json", false, "Also write column_headers.json")
	blooms := fs.Bool("blooms", true, "Write per-column token bloom filters")
	verbose := fs.Bool("v", false, "Verbose logging")
	_ = fs.Parse(args)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "index: -input is required")
		fs.Usage()
		os.Exit(1)
	}
	if len(*delimiter) != 1 || len(*quote) != 1 {
		fmt.Fprintln(os.Stderr, "index: -delimiter and -quote must be single bytes")
		os.Exit(1)
	}

	logger := newLogger(*verbose)

	ix, err := indexer.New(indexer.Config{
		InputFile:      *input,
		OutputDir:      *output,
		Workers:        *workers,
		BufferBytes:    *bufferKB * 1024,
		ColumnsPerSlab: *slab,
		Delimiter:      (*delimiter)[0],
		Quote:          (*quote)[0],
		SkipFaultyRows: *skipFaulty,
		EmitHeaderJSON: *headerJSON,
		EmitBlooms:     *blooms,
	}, logger, prometheus.NewRegistry())
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	res, err := ix.Run()
	if err != nil {
		level.Error(logger).Log("msg", "build failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("Indexed %d columns, %d rows (%d skipped) into %s\n", res.Columns, res.Rows, res.Skipped, *output)
}

func runHeaders(args []string) {
	fs := flag.NewFlagSet("headers", flag.ExitOnError)
	input := fs.String("input", "", "Path to the source CSV file")
	output := fs.String("output", "output", "Directory holding the header index")
	quote := fs.String("quote", `"`, "Quote character (single byte)")
	_ = fs.Parse(args)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "headers: -input is required")
		fs.Usage()
		os.Exit(1)
	}
	if len(*quote) != 1 {
		fmt.Fprintln(os.Stderr, "headers: -quote must be a single byte")
		os.Exit(1)
	}

	ixPath := filepath.Join(*output, indexer.HeaderIndexFile)
	hix, err := header.OpenIndex(ixPath, *input, (*quote)[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "headers: %v\n", err)
		os.Exit(1)
	}
	defer hix.Close()

	for i := 0; i < hix.ColumnCount(); i++ {
		h, err := hix.GetHeader(i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "headers: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d\t%s\n", i, h)
	}
}

func printUsage() {
	fmt.Println(`tabular - CSV index & factorization builder

Usage:
    tabular <command> [arguments]

Commands:
    index      Build header, row-offset, and factorization indexes
    headers    Print decoded column headers from an existing index
    version    Print version
    help       Show this help

Run 'tabular <command> -h' for command flags.`)
}
