// Package rowindex builds the row-offset index: the absolute byte offset of
// every well-formed data row, header excluded.
//
// The file is split into near-equal byte ranges, one per worker. Each worker
// first resynchronizes its nominal start to a true row boundary, then parses
// its range and appends accepted row starts to its own part file. Part files
// concatenate in worker order into the final index, which is sorted by
// construction.
package rowindex

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nathanjrussell/TabularData/internal/common"
	"github.com/nathanjrussell/TabularData/internal/scan"
)

// RowOffsetsFile is the name of the merged index artifact.
const RowOffsetsFile = "row_offsets.bin"

var (
	// Pooled buffered writers for part files.
	bufWriterPool = sync.Pool{
		New: func() interface{} {
			return bufio.NewWriterSize(io.Discard, 256*1024)
		},
	}
	// Pooled buffered readers for the merge.
	bufReaderPool = sync.Pool{
		New: func() interface{} {
			return bufio.NewReaderSize(nil, 64*1024)
		},
	}
)

// Config controls the build. Zero values select the defaults.
type Config struct {
	Workers        int  // parse and resync parallelism; default runtime.NumCPU()
	BufferBytes    int  // per-worker read buffer; default 1 MiB
	Delimiter      byte // default ','
	Quote          byte // default '"'
	SkipFaultyRows bool // drop width-mismatched rows instead of failing
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.BufferBytes <= 0 {
		out.BufferBytes = 1 << 20
	}
	if out.Delimiter == 0 {
		out.Delimiter = ','
	}
	if out.Quote == 0 {
		out.Quote = '"'
	}
	return out
}

// Builder runs the parallel row-offset build.
type Builder struct {
	cfg     Config
	logger  log.Logger
	metrics *common.Metrics
}

// NewBuilder creates a builder. logger may be nil; metrics may be nil.
func NewBuilder(cfg Config, logger log.Logger, metrics *common.Metrics) *Builder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Builder{cfg: cfg.withDefaults(), logger: logger, metrics: metrics}
}

// Result summarizes a completed build.
type Result struct {
	RowCount  uint64 // rows accepted into the index
	Skipped   uint64 // rows dropped for width mismatch (SkipFaultyRows only)
	FirstData uint64 // offset of the first data byte (one past the header terminator)
}

// Build locates every data row start in csvPath and writes the merged index
// into outDir. expectCols is the column count from the header index; every
// accepted row must have exactly that many fields.
func (b *Builder) Build(csvPath, outDir string, expectCols int) (*Result, error) {
	if expectCols <= 0 {
		return nil, fmt.Errorf("row offsets: header not indexed (expectCols=%d)", expectCols)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat csv: %w", err)
	}
	fileSize := uint64(stat.Size())
	_ = f.Close()

	firstData, err := FindFirstData(csvPath, b.cfg)
	if err != nil {
		return nil, err
	}

	n := b.cfg.Workers
	dataBytes := fileSize - firstData
	if dataBytes == 0 {
		// Header only (or empty file): emit an empty index.
		if err := os.WriteFile(filepath.Join(outDir, RowOffsetsFile), nil, 0644); err != nil {
			return nil, fmt.Errorf("write row offsets: %w", err)
		}
		return &Result{FirstData: firstData}, nil
	}

	// Nominal split: near-equal byte ranges over [firstData, fileSize).
	starts := make([]uint64, n)
	base := dataBytes / uint64(n)
	rem := dataBytes % uint64(n)
	off := firstData
	for t := 0; t < n; t++ {
		starts[t] = off
		size := base
		if uint64(t) < rem {
			size++
		}
		off += size
	}

	// Resync phase: each interior boundary advances to the next true row
	// start. Each slot is written by exactly one goroutine.
	handoff := make([]uint64, n+1)
	handoff[0] = firstData
	handoff[n] = fileSize
	resyncErrs := make([]error, n)

	var wg sync.WaitGroup
	for t := 1; t < n; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			handoff[t], resyncErrs[t] = resyncToNextRowStart(csvPath, starts[t], fileSize, b.cfg)
		}(t)
	}
	wg.Wait()
	for _, err := range resyncErrs {
		if err != nil {
			return nil, err
		}
	}
	level.Debug(b.logger).Log("msg", "resync complete", "workers", n, "firstData", firstData)

	// Parse phase: each worker emits accepted row starts to its part file.
	partPaths := make([]string, n)
	rowCounts := make([]uint64, n)
	skipCounts := make([]uint64, n)
	parseErrs := make([]error, n)

	for t := 0; t < n; t++ {
		partPaths[t] = filepath.Join(outDir, fmt.Sprintf("row_offsets_thread_%d.bin", t))
		start, end := handoff[t], handoff[t+1]
		wg.Add(1)
		go func(t int, start, end uint64) {
			defer wg.Done()
			rowCounts[t], skipCounts[t], parseErrs[t] = b.parseRange(csvPath, partPaths[t], start, end, expectCols)
		}(t, start, end)
	}
	wg.Wait()
	for _, err := range parseErrs {
		if err != nil {
			return nil, err
		}
	}

	var totalRows, totalSkipped uint64
	for t := 0; t < n; t++ {
		totalRows += rowCounts[t]
		totalSkipped += skipCounts[t]
	}

	if err := mergeParts(filepath.Join(outDir, RowOffsetsFile), partPaths, totalRows); err != nil {
		return nil, err
	}

	b.metrics.AddRowsIndexed(float64(totalRows))
	b.metrics.AddRowsSkipped(float64(totalSkipped))
	b.metrics.AddBytesScanned(float64(dataBytes))
	level.Info(b.logger).Log("msg", "row offsets built", "rows", totalRows, "skipped", totalSkipped)

	return &Result{RowCount: totalRows, Skipped: totalSkipped, FirstData: firstData}, nil
}

// FindFirstData scans from the start of the file (past a UTF-8 BOM, if any)
// until the header row's terminator and returns the offset of the byte that
// follows it. A file without any row terminator has no data rows and the
// file size is returned.
func FindFirstData(csvPath string, cfg Config) (uint64, error) {
	opt := cfg.withDefaults()

	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat csv: %w", err)
	}
	fileSize := uint64(stat.Size())

	var pos uint64
	bom := make([]byte, 3)
	if n, _ := f.ReadAt(bom, 0); n == 3 && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		pos = 3
	}
	if _, err := f.Seek(int64(pos), 0); err != nil {
		return 0, fmt.Errorf("seek csv: %w", err)
	}

	m := scan.NewMachine(opt.Delimiter, opt.Quote)
	buf := make([]byte, opt.BufferBytes)
	for {
		got, readErr := f.Read(buf)
		for i := 0; i < got; {
			act, consumed := m.Feed(buf[i])
			if act == scan.RowEnd {
				if consumed {
					return pos + 1, nil
				}
				return pos, nil
			}
			if consumed {
				i++
				pos++
			}
		}
		if readErr != nil || got == 0 {
			break
		}
	}
	// EOF: a trailing CR still terminates the header.
	if m.Finish() == scan.RowEnd {
		return fileSize, nil
	}
	return fileSize, nil
}

// mergeParts concatenates part files in worker order and removes them. The
// merged file is strictly sorted because handoffs are monotone and each
// worker emits in-range offsets in ascending order.
func mergeParts(outPath string, partPaths []string, totalRows uint64) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create row offsets: %w", err)
	}

	var written int64
	for _, part := range partPaths {
		in, err := os.Open(part)
		if err != nil {
			_ = out.Close()
			return fmt.Errorf("open part file: %w", err)
		}
		br := bufReaderPool.Get().(*bufio.Reader)
		br.Reset(in)
		n, err := io.Copy(out, br)
		bufReaderPool.Put(br)
		_ = in.Close()
		if err != nil {
			_ = out.Close()
			return fmt.Errorf("merge part file: %w", err)
		}
		written += n
		_ = os.Remove(part)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close row offsets: %w", err)
	}

	if written%common.RowOffsetSize != 0 || uint64(written) != totalRows*common.RowOffsetSize {
		return &common.InvariantError{Msg: fmt.Sprintf(
			"merged row offset file is %d bytes for %d rows (stride %d)",
			written, totalRows, common.RowOffsetSize)}
	}
	return nil
}
