// Package common holds the on-disk record codecs, typed failures, and small
// shared utilities used by the header indexer, row-offset builder, and
// column factorizer.
//
// All integers are little-endian on disk. The header index, row-offset and
// slab-metadata files carry no magic or version prefix; they are rebuilt
// from scratch on every run and consumed in-process.
package common

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	// HeaderEntrySize is the fixed stride of header index records:
	// u32 start + u16 length.
	HeaderEntrySize = 4 + 2

	// RowOffsetSize is the stride of row-offset records (u64).
	RowOffsetSize = 8

	// SlabMetaSize is the stride of per-slab metadata records:
	// u32 ncols + u32 maxGlobalId.
	SlabMetaSize = 4 + 4
)

// HeaderEntry locates one raw header token in the source file. Start is the
// absolute offset of the first content byte (past any opening quote); Length
// is the raw byte count, zero for an empty header.
type HeaderEntry struct {
	Start  uint32
	Length uint16
}

// PutHeaderEntry encodes e into buf, which must be at least HeaderEntrySize.
func PutHeaderEntry(buf []byte, e HeaderEntry) {
	binary.LittleEndian.PutUint32(buf[0:4], e.Start)
	binary.LittleEndian.PutUint16(buf[4:6], e.Length)
}

// GetHeaderEntry decodes one header entry from buf.
func GetHeaderEntry(buf []byte) HeaderEntry {
	return HeaderEntry{
		Start:  binary.LittleEndian.Uint32(buf[0:4]),
		Length: binary.LittleEndian.Uint16(buf[4:6]),
	}
}

// SlabMeta is one per-slab metadata record.
type SlabMeta struct {
	NCols       uint32
	MaxGlobalID uint32
}

// PutSlabMeta encodes m into buf, which must be at least SlabMetaSize.
func PutSlabMeta(buf []byte, m SlabMeta) {
	binary.LittleEndian.PutUint32(buf[0:4], m.NCols)
	binary.LittleEndian.PutUint32(buf[4:8], m.MaxGlobalID)
}

// GetSlabMeta decodes one slab metadata record from buf.
func GetSlabMeta(buf []byte) SlabMeta {
	return SlabMeta{
		NCols:       binary.LittleEndian.Uint32(buf[0:4]),
		MaxGlobalID: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// PutRowOffset encodes one row offset into buf (at least RowOffsetSize).
func PutRowOffset(buf []byte, off uint64) {
	binary.LittleEndian.PutUint64(buf[0:8], off)
}

// LoadRowOffsets maps the row-offset file and decodes it into a slice.
// The file size must be an exact multiple of the offset stride.
func LoadRowOffsets(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open row offsets: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := MmapFile(f)
	if err != nil {
		return nil, fmt.Errorf("map row offsets: %w", err)
	}
	defer func() { _ = MunmapFile(data) }()

	if len(data)%RowOffsetSize != 0 {
		return nil, &InvariantError{Msg: fmt.Sprintf("row offset file size %d not a multiple of %d", len(data), RowOffsetSize)}
	}

	offsets := make([]uint64, len(data)/RowOffsetSize)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(data[i*RowOffsetSize:])
	}
	return offsets, nil
}

// TrimASCIISpace trims leading and trailing ASCII whitespace without
// interpreting the bytes as UTF-8.
func TrimASCIISpace(b []byte) []byte {
	start := 0
	for start < len(b) && isASCIISpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isASCIISpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isASCIISpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f'
}
