package factor

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// MagicCodes is the magic header of slab code files.
const MagicCodes = "TCDX"

// CodeBlockMeta locates one column's compressed code block inside a slab
// code file.
type CodeBlockMeta struct {
	Col      int    `json:"col"` // absolute column index in the source file
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Rows     int64  `json:"rows"`
	Distinct int    `json:"distinct"` // global dictionary size for the column
	MaxID    uint32 `json:"maxId"`
}

// codesFooter is the JSON footer of a slab code file, followed by its own
// length as a trailing 8-byte little-endian integer.
type codesFooter struct {
	Blocks []CodeBlockMeta `json:"blocks"`
}

// writeSlabCodes persists one slab's code matrix: the magic header, one
// lz4-compressed block of little-endian int32 codes per column, then the
// JSON footer and its length.
func writeSlabCodes(path string, colStart int, matrix [][]int32, globalOrder [][]string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create slab codes: %w", err)
	}
	defer func() { _ = out.Close() }()

	n, err := out.Write([]byte(MagicCodes))
	if err != nil {
		return fmt.Errorf("write slab codes: %w", err)
	}
	offset := int64(n)

	lw := lz4.NewWriter(io.Discard)
	_ = lw.Apply(lz4.BlockSizeOption(lz4.Block64Kb))

	var footer codesFooter
	var rawBuf, compBuf bytes.Buffer

	for c, col := range matrix {
		rawBuf.Reset()
		rawBuf.Grow(len(col) * 4)
		var word [4]byte
		for _, v := range col {
			binary.LittleEndian.PutUint32(word[:], uint32(v))
			rawBuf.Write(word[:])
		}

		compBuf.Reset()
		lw.Reset(&compBuf)
		if _, err := lw.Write(rawBuf.Bytes()); err != nil {
			return fmt.Errorf("compress slab codes: %w", err)
		}
		if err := lw.Close(); err != nil {
			return fmt.Errorf("compress slab codes: %w", err)
		}

		written, err := out.Write(compBuf.Bytes())
		if err != nil {
			return fmt.Errorf("write slab codes: %w", err)
		}

		distinct := len(globalOrder[c])
		var maxID uint32
		if distinct > 0 {
			maxID = uint32(distinct - 1)
		}
		footer.Blocks = append(footer.Blocks, CodeBlockMeta{
			Col:      colStart + c,
			Offset:   offset,
			Length:   int64(written),
			Rows:     int64(len(col)),
			Distinct: distinct,
			MaxID:    maxID,
		})
		offset += int64(written)
	}

	footerBytes, err := json.Marshal(footer)
	if err != nil {
		return fmt.Errorf("encode slab codes footer: %w", err)
	}
	if _, err := out.Write(footerBytes); err != nil {
		return fmt.Errorf("write slab codes footer: %w", err)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(footerBytes)))
	if _, err := out.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write slab codes footer: %w", err)
	}
	return nil
}

// SlabCodes reads a slab code file written by writeSlabCodes.
type SlabCodes struct {
	f      *os.File
	Blocks []CodeBlockMeta
}

// OpenSlabCodes opens a slab code file and parses its footer.
func OpenSlabCodes(path string) (*SlabCodes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open slab codes: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := stat.Size()
	if size < int64(len(MagicCodes))+8 {
		_ = f.Close()
		return nil, fmt.Errorf("slab code file too small: %d bytes", size)
	}

	magic := make([]byte, len(MagicCodes))
	if _, err := f.ReadAt(magic, 0); err != nil || string(magic) != MagicCodes {
		_ = f.Close()
		return nil, fmt.Errorf("slab code file: bad magic")
	}

	var lenBuf [8]byte
	if _, err := f.ReadAt(lenBuf[:], size-8); err != nil {
		_ = f.Close()
		return nil, err
	}
	footerLen := int64(binary.LittleEndian.Uint64(lenBuf[:]))
	footerStart := size - 8 - footerLen
	if footerStart < int64(len(MagicCodes)) {
		_ = f.Close()
		return nil, fmt.Errorf("slab code file: invalid footer start %d", footerStart)
	}

	footerBytes := make([]byte, footerLen)
	if _, err := f.ReadAt(footerBytes, footerStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	var footer codesFooter
	if err := json.Unmarshal(footerBytes, &footer); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("slab code file: decode footer: %w", err)
	}

	return &SlabCodes{f: f, Blocks: footer.Blocks}, nil
}

// ReadColumn decompresses the codes for block i.
func (sc *SlabCodes) ReadColumn(i int) ([]int32, error) {
	if i < 0 || i >= len(sc.Blocks) {
		return nil, fmt.Errorf("slab code block %d out of range (have %d)", i, len(sc.Blocks))
	}
	meta := sc.Blocks[i]

	compData := make([]byte, meta.Length)
	if _, err := sc.f.ReadAt(compData, meta.Offset); err != nil {
		return nil, fmt.Errorf("read slab codes: %w", err)
	}

	lr := lz4.NewReader(bytes.NewReader(compData))
	raw := make([]byte, meta.Rows*4)
	if _, err := io.ReadFull(lr, raw); err != nil {
		return nil, fmt.Errorf("decompress slab codes: %w", err)
	}

	codes := make([]int32, meta.Rows)
	for r := range codes {
		codes[r] = int32(binary.LittleEndian.Uint32(raw[r*4:]))
	}
	return codes, nil
}

// Close releases the underlying file.
func (sc *SlabCodes) Close() error { return sc.f.Close() }
