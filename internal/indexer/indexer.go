// Package indexer orchestrates a full build: header index, row-offset
// index, then column factorization, all under one configuration.
package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nathanjrussell/TabularData/internal/common"
	"github.com/nathanjrussell/TabularData/internal/factor"
	"github.com/nathanjrussell/TabularData/internal/header"
	"github.com/nathanjrussell/TabularData/internal/rowindex"
)

// Artifact file names under the output directory.
const (
	HeaderIndexFile = "header_string_lookup_offsets.bin"
	HeadersJSONFile = "column_headers.json"
	BuildMetaFile   = "build_meta.json"
)

// Config holds the full build configuration.
type Config struct {
	InputFile string // path to the source CSV
	OutputDir string // created if absent

	Workers        int  // default runtime.NumCPU()
	BufferBytes    int  // per-worker read buffer; default 1 MiB
	ColumnsPerSlab int  // default 32
	Delimiter      byte // default ','
	Quote          byte // default '"'

	SkipFaultyRows bool // drop width-mismatched rows instead of failing
	EmitHeaderJSON bool // also write column_headers.json
	EmitBlooms     bool // write per-column token bloom filters
	BloomFPRate    float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.BufferBytes <= 0 {
		out.BufferBytes = 1 << 20
	}
	if out.ColumnsPerSlab <= 0 {
		out.ColumnsPerSlab = 32
	}
	if out.Delimiter == 0 {
		out.Delimiter = ','
	}
	if out.Quote == 0 {
		out.Quote = '"'
	}
	if out.BloomFPRate <= 0 {
		out.BloomFPRate = 0.01
	}
	return out
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file must be set")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory must be set")
	}
	if c.Delimiter == c.Quote && c.Delimiter != 0 {
		return fmt.Errorf("delimiter and quote must differ")
	}
	return nil
}

// Result summarizes a completed build.
type Result struct {
	Columns  int
	Rows     uint64
	Skipped  uint64
	Slabs    []common.SlabStats
	BuildID  string
	MetaPath string
}

// Indexer runs full builds.
type Indexer struct {
	cfg     Config
	logger  log.Logger
	metrics *common.Metrics
}

// New creates an indexer. logger may be nil; reg may be nil to disable
// metric registration.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var metrics *common.Metrics
	if reg != nil {
		metrics = common.NewMetrics(reg)
	}
	return &Indexer{cfg: cfg.withDefaults(), logger: logger, metrics: metrics}, nil
}

// Run executes the build: header index, row-offset index, factorization,
// build metadata. On failure, partial artifacts may exist and are invalid.
func (ix *Indexer) Run() (*Result, error) {
	cfg := ix.cfg

	if _, err := os.Stat(cfg.InputFile); err != nil {
		return nil, fmt.Errorf("input unavailable: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	level.Info(ix.logger).Log("msg", "build starting", "input", cfg.InputFile, "output", cfg.OutputDir, "workers", cfg.Workers)

	// Phase 1: header index.
	headerPath := filepath.Join(cfg.OutputDir, HeaderIndexFile)
	colCount, _, err := header.Build(cfg.InputFile, headerPath, header.Config{
		Delimiter:   cfg.Delimiter,
		Quote:       cfg.Quote,
		BufferBytes: cfg.BufferBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("header index: %w", err)
	}
	level.Info(ix.logger).Log("msg", "header indexed", "columns", colCount)

	if cfg.EmitHeaderJSON {
		hix, err := header.OpenIndex(headerPath, cfg.InputFile, cfg.Quote)
		if err != nil {
			return nil, err
		}
		err = header.WriteHeadersJSON(hix, filepath.Join(cfg.OutputDir, HeadersJSONFile))
		_ = hix.Close()
		if err != nil {
			return nil, fmt.Errorf("header json: %w", err)
		}
	}

	// Phase 2: row-offset index.
	rb := rowindex.NewBuilder(rowindex.Config{
		Workers:        cfg.Workers,
		BufferBytes:    cfg.BufferBytes,
		Delimiter:      cfg.Delimiter,
		Quote:          cfg.Quote,
		SkipFaultyRows: cfg.SkipFaultyRows,
	}, ix.logger, ix.metrics)
	rowRes, err := rb.Build(cfg.InputFile, cfg.OutputDir, colCount)
	if err != nil {
		return nil, fmt.Errorf("row offsets: %w", err)
	}

	// Phase 3: factorization.
	rowOffsets, err := common.LoadRowOffsets(filepath.Join(cfg.OutputDir, rowindex.RowOffsetsFile))
	if err != nil {
		return nil, err
	}
	fz := factor.New(factor.Config{
		Workers:        cfg.Workers,
		BufferBytes:    cfg.BufferBytes,
		ColumnsPerSlab: cfg.ColumnsPerSlab,
		Delimiter:      cfg.Delimiter,
		Quote:          cfg.Quote,
		EmitBlooms:     cfg.EmitBlooms,
		BloomFPRate:    cfg.BloomFPRate,
	}, ix.logger, ix.metrics)
	slabs, err := fz.Run(cfg.InputFile, cfg.OutputDir, colCount, rowOffsets)
	if err != nil {
		return nil, fmt.Errorf("factorize: %w", err)
	}

	// Build metadata sidecar.
	meta := common.NewBuildMeta()
	meta.Columns = colCount
	meta.Rows = rowRes.RowCount
	meta.Workers = cfg.Workers
	meta.ColumnsPerSlab = cfg.ColumnsPerSlab
	meta.Slabs = slabs
	if fp, err := common.Fingerprint(cfg.InputFile); err == nil {
		meta.Source = fp
	}
	metaPath := filepath.Join(cfg.OutputDir, BuildMetaFile)
	if err := meta.Save(metaPath); err != nil {
		level.Warn(ix.logger).Log("msg", "failed to save build metadata", "err", err)
	}

	level.Info(ix.logger).Log("msg", "build complete", "columns", colCount, "rows", rowRes.RowCount, "skipped", rowRes.Skipped, "slabs", len(slabs))

	return &Result{
		Columns:  colCount,
		Rows:     rowRes.RowCount,
		Skipped:  rowRes.Skipped,
		Slabs:    slabs,
		BuildID:  meta.BuildID,
		MetaPath: metaPath,
	}, nil
}
