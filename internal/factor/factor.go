// Package factor builds the column-wise integer factorization: for each
// column, a dense array of row-count integer codes where equal text gets
// equal code, globally within the file.
//
// Columns are processed in slabs to bound memory. Within a slab, workers
// each own a contiguous row range and build thread-local dictionaries
// lock-free; a single-threaded merge then unifies them into per-column
// global dictionaries, and the workers relabel their rows in place through a
// local-to-global lookup table. Iterating thread-local dictionaries in
// thread-index order (and in first-seen order within each thread) makes the
// global codes deterministic for a fixed worker count.
package factor

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nathanjrussell/TabularData/internal/common"
)

// MetaFile is the name of the per-slab metadata artifact.
const MetaFile = "column_chunk_meta.bin"

// unresolvedCode marks a matrix entry that never received a valid code.
const unresolvedCode = int32(-1)

// Config controls factorization. Zero values select the defaults.
type Config struct {
	Workers        int  // default runtime.NumCPU()
	BufferBytes    int  // per-worker read buffer; default 1 MiB
	ColumnsPerSlab int  // default 32
	Delimiter      byte // default ','
	Quote          byte // default '"'
	EmitBlooms     bool
	BloomFPRate    float64 // default 0.01
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

// Factorizer runs the slab-by-slab factorization.
type Factorizer struct {
	cfg     Config
	logger  log.Logger
	metrics *common.Metrics
}

// New creates a factorizer. logger and metrics may be nil.
func New(cfg Config, logger log.Logger, metrics *common.Metrics) *Factorizer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Factorizer{cfg: cfg.withDefaults(), logger: logger, metrics: metrics}
}

// localDicts is one worker's per-column dictionary state. order preserves
// first-seen insertion order; the map alone cannot, and the merge depends on
// it for determinism.
type localDicts struct {
	dict  []map[string]int32
	order [][]string
}

func newLocalDicts(ncols int) *localDicts {
	d := &localDicts{
		dict:  make([]map[string]int32, ncols),
		order: make([][]string, ncols),
	}
	for c := 0; c < ncols; c++ {
		d.dict[c] = make(map[string]int32)
	}
	return d
}

// Run factorizes all columns of csvPath slab by slab, writing the per-slab
// code matrices and appending slab metadata records. rowOffsets is the
// row-offset index produced by the row-offset builder.
func (fz *Factorizer) Run(csvPath, outDir string, colCount int, rowOffsets []uint64) ([]common.SlabStats, error) {
	metaPath := filepath.Join(outDir, MetaFile)
	metaOut, err := os.Create(metaPath)
	if err != nil {
		return nil, fmt.Errorf("create slab metadata: %w", err)
	}
	metaW := bufio.NewWriter(metaOut)

	// Row cursors persist across slabs: after slab k each cursor points at
	// the byte beginning that row's first field of slab k+1.
	cursors := make([]int64, len(rowOffsets))
	for i, off := range rowOffsets {
		cursors[i] = int64(off)
	}

	var stats []common.SlabStats
	slab := 0
	for colStart := 0; colStart < colCount; colStart += fz.cfg.ColumnsPerSlab {
		ncols := colCount - colStart
		if ncols > fz.cfg.ColumnsPerSlab {
			ncols = fz.cfg.ColumnsPerSlab
		}

		maxID, err := fz.buildSlab(csvPath, outDir, slab, colStart, ncols, cursors)
		if err != nil {
			_ = metaOut.Close()
			return nil, err
		}

		var rec [common.SlabMetaSize]byte
		common.PutSlabMeta(rec[:], common.SlabMeta{NCols: uint32(ncols), MaxGlobalID: maxID})
		if _, err := metaW.Write(rec[:]); err != nil {
			_ = metaOut.Close()
			return nil, fmt.Errorf("write slab metadata: %w", err)
		}

		stats = append(stats, common.SlabStats{Slab: slab, ColStart: colStart, NCols: ncols, MaxGlobalID: maxID})
		fz.metrics.AddSlabsBuilt(1)
		level.Debug(fz.logger).Log("msg", "slab factorized", "slab", slab, "colStart", colStart, "ncols", ncols, "maxGlobalId", maxID)
		slab++
	}

	if err := metaW.Flush(); err != nil {
		_ = metaOut.Close()
		return nil, fmt.Errorf("flush slab metadata: %w", err)
	}
	if err := metaOut.Close(); err != nil {
		return nil, fmt.Errorf("close slab metadata: %w", err)
	}
	return stats, nil
}

// buildSlab factorizes columns [colStart, colStart+ncols) and returns the
// largest global id assigned in the slab (0 when the slab saw no tokens).
func (fz *Factorizer) buildSlab(csvPath, outDir string, slab, colStart, ncols int, cursors []int64) (uint32, error) {
	rowCount := len(cursors)
	n := fz.cfg.Workers

	matrix := make([][]int32, ncols)
	for c := range matrix {
		col := make([]int32, rowCount)
		for r := range col {
			col[r] = unresolvedCode
		}
		matrix[c] = col
	}

	// Contiguous row blocks, one per worker.
	blockLo := func(t int) int { return t * rowCount / n }

	locals := make([]*localDicts, n)
	workerErrs := make([]error, n)

	var wg sync.WaitGroup
	for t := 0; t < n; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			locals[t], workerErrs[t] = fz.buildLocal(csvPath, blockLo(t), blockLo(t+1), colStart, ncols, cursors, matrix)
		}(t)
	}
	wg.Wait()
	for _, err := range workerErrs {
		if err != nil {
			return 0, err
		}
	}

	// Merge thread-local dictionaries into per-column global dictionaries,
	// in thread-index order: the sole source of code determinism.
	globalOrder := make([][]string, ncols)
	luts := make([][][]int32, n)
	for t := range luts {
		luts[t] = make([][]int32, ncols)
	}
	var maxID uint32
	var distinct int
	for c := 0; c < ncols; c++ {
		global := make(map[string]int32)
		var order []string
		for t := 0; t < n; t++ {
			localOrder := locals[t].order[c]
			lut := make([]int32, len(localOrder))
			for localID, tok := range localOrder {
				gid, ok := global[tok]
				if !ok {
					gid = int32(len(order))
					global[tok] = gid
					order = append(order, tok)
				}
				lut[localID] = gid
			}
			luts[t][c] = lut
		}
		globalOrder[c] = order
		distinct += len(order)
		if len(order) > 0 && uint32(len(order)-1) > maxID {
			maxID = uint32(len(order) - 1)
		}
	}

	// In-place relabel through the local-to-global tables.
	relabelErrs := make([]error, n)
	for t := 0; t < n; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			relabelErrs[t] = relabelBlock(matrix, luts[t], blockLo(t), blockLo(t+1))
		}(t)
	}
	wg.Wait()
	for _, err := range relabelErrs {
		if err != nil {
			return 0, err
		}
	}

	if err := writeSlabCodes(filepath.Join(outDir, fmt.Sprintf("column_codes_%d.bin", slab)), colStart, matrix, globalOrder); err != nil {
		return 0, err
	}

	if fz.cfg.EmitBlooms {
		for c := 0; c < ncols; c++ {
			bf := common.NewBloomFilter(len(globalOrder[c]), fz.cfg.BloomFPRate)
			for _, tok := range globalOrder[c] {
				bf.Add([]byte(tok))
			}
			path := filepath.Join(outDir, fmt.Sprintf("column_bloom_%d_%d.bloom", slab, colStart+c))
			if err := os.WriteFile(path, bf.Serialize(), 0644); err != nil {
				return 0, fmt.Errorf("write column bloom: %w", err)
			}
		}
	}

	fz.metrics.AddDistinctTokens(float64(distinct))
	return maxID, nil
}

// buildLocal reads the slab's tokens for rows [rlo, rhi), assigns
// thread-local dense ids, and stores them in the shared matrix (each worker
// writes only its own rows). Cursors advance past every consumed token.
func (fz *Factorizer) buildLocal(csvPath string, rlo, rhi, colStart, ncols int, cursors []int64, matrix [][]int32) (*localDicts, error) {
	d := newLocalDicts(ncols)
	if rlo >= rhi {
		return d, nil
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, fz.cfg.BufferBytes)

	for r := rlo; r < rhi; r++ {
		cur := cursors[r]
		colsDone := 0
		for colsDone < ncols {
			toks, newCur, rowEnded, err := readTokens(f, buf, cur, ncols-colsDone, fz.cfg.Delimiter, fz.cfg.Quote)
			var tooSmall *common.BufferTooSmallError
			if errors.As(err, &tooSmall) {
				// A token longer than the buffer: enlarge and retry.
				buf = make([]byte, len(buf)*2)
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, tok := range toks {
				c := colsDone
				id, ok := d.dict[c][tok]
				if !ok {
					id = int32(len(d.order[c]))
					d.dict[c][tok] = id
					d.order[c] = append(d.order[c], tok)
				}
				matrix[c][r] = id
				colsDone++
			}
			cur = newCur
			if rowEnded {
				break
			}
		}
		cursors[r] = cur
	}
	return d, nil
}

// relabelBlock rewrites rows [rlo, rhi) from thread-local to global codes.
// Any entry outside the table is forced to the unresolved sentinel, which a
// successful build never produces.
func relabelBlock(matrix [][]int32, lut [][]int32, rlo, rhi int) error {
	bad := false
	for c := range matrix {
		col := matrix[c]
		table := lut[c]
		for r := rlo; r < rhi; r++ {
			v := col[r]
			if v >= 0 && int(v) < len(table) {
				col[r] = table[v]
			} else {
				col[r] = unresolvedCode
				bad = true
			}
		}
	}
	if bad {
		return &common.InvariantError{Msg: "unresolved code after relabel"}
	}
	return nil
}
