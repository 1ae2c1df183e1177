// Package header builds and reads the header index: one fixed-stride record
// per column locating the raw header token inside the source file.
//
// Records are (u32 start, u16 length), so a header row must sit below 4 GiB
// and a single header token below 64 KiB; larger headers fail with a typed
// error rather than widening silently. Empty headers store an explicit zero
// length.
package header

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/nathanjrussell/TabularData/internal/common"
	"github.com/nathanjrussell/TabularData/internal/scan"
)

// Config controls header parsing. Zero values select the defaults.
type Config struct {
	Delimiter   byte // default ','
	Quote       byte // default '"'
	BufferBytes int  // default 1 MiB
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Delimiter == 0 {
		out.Delimiter = ','
	}
	if out.Quote == 0 {
		out.Quote = '"'
	}
	if out.BufferBytes <= 0 {
		out.BufferBytes = 1 << 20
	}
	return out
}

// utf8BOM is skipped when present at offset zero. Stored offsets remain
// absolute file offsets, so they account for the three BOM bytes.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Build scans the header row and writes the header index file. It returns
// the column count and the absolute offset of the first data byte (one past
// the header terminator; equal to the file size when the file has no
// terminator at all).
func Build(csvPath, indexPath string, cfg Config) (int, uint64, error) {
	opt := cfg.withDefaults()

	in, err := os.Open(csvPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = in.Close() }()

	stat, err := in.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat csv: %w", err)
	}
	fileSize := uint64(stat.Size())

	var pos uint64
	bom := make([]byte, 3)
	if n, _ := in.ReadAt(bom, 0); n == 3 && bytes.Equal(bom, utf8BOM) {
		pos = 3
	}
	if _, err := in.Seek(int64(pos), 0); err != nil {
		return 0, 0, fmt.Errorf("seek csv: %w", err)
	}

	var (
		m          = scan.NewMachine(opt.Delimiter, opt.Quote)
		entries    []common.HeaderEntry
		anchor     = pos // where the current field begins (after prior delimiter)
		fieldStart uint64
		started    bool
		hasContent bool
		lastByte   uint64
		done       bool
		dataStart  = fileSize
	)

	closeField := func() error {
		start := anchor
		if started {
			start = fieldStart
		}
		var length uint64
		if hasContent {
			length = lastByte - fieldStart + 1
		}
		if start > math.MaxUint32 || length > math.MaxUint16 {
			return &common.HeaderTooLargeError{Offset: start, Length: length}
		}
		entries = append(entries, common.HeaderEntry{Start: uint32(start), Length: uint16(length)})
		started = false
		hasContent = false
		return nil
	}

	buf := make([]byte, opt.BufferBytes)
	for !done {
		got, readErr := in.Read(buf)
		if got == 0 {
			break
		}
		for i := 0; i < got && !done; {
			c := buf[i]
			act, consumed := m.Feed(c)
			switch act {
			case scan.Content:
				if !started {
					started = true
					fieldStart = pos
				}
				hasContent = true
				lastByte = pos
			case scan.QuoteOpen:
				started = true
				fieldStart = pos + 1
			case scan.FieldEnd:
				if err := closeField(); err != nil {
					return 0, 0, err
				}
				anchor = pos + 1
			case scan.RowEnd:
				if err := closeField(); err != nil {
					return 0, 0, err
				}
				done = true
				if consumed {
					dataStart = pos + 1
				} else {
					dataStart = pos
				}
			}
			if consumed {
				i++
				pos++
			}
		}
		if readErr != nil {
			break
		}
	}

	if !done {
		switch m.Finish() {
		case scan.RowEnd:
			// Trailing CR at EOF terminates the header.
			if err := closeField(); err != nil {
				return 0, 0, err
			}
		default:
			// No terminating newline: close the open field, or emit the
			// trailing empty field implied by a final delimiter.
			if started || hasContent || len(entries) > 0 {
				if err := closeField(); err != nil {
					return 0, 0, err
				}
			}
		}
		dataStart = fileSize
	}

	if err := writeIndex(indexPath, entries); err != nil {
		return 0, 0, err
	}
	return len(entries), dataStart, nil
}

func writeIndex(path string, entries []common.HeaderEntry) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create header index: %w", err)
	}
	w := bufio.NewWriter(out)
	var rec [common.HeaderEntrySize]byte
	for _, e := range entries {
		common.PutHeaderEntry(rec[:], e)
		if _, err := w.Write(rec[:]); err != nil {
			_ = out.Close()
			return fmt.Errorf("write header index: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("flush header index: %w", err)
	}
	return out.Close()
}

// Index provides O(1) header lookups over a built header index file. The
// index file is memory mapped; header text is read from the source file on
// demand so the header bytes are never duplicated on disk.
type Index struct {
	data  []byte
	src   *os.File
	quote byte
	count int
}

// OpenIndex maps the header index and opens the source CSV for lookups.
func OpenIndex(indexPath, csvPath string, quote byte) (*Index, error) {
	if quote == 0 {
		quote = '"'
	}

	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("open header index: %w", err)
	}
	data, err := common.MmapFile(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("map header index: %w", err)
	}
	if len(data)%common.HeaderEntrySize != 0 {
		_ = common.MunmapFile(data)
		return nil, &common.IndexOutOfRangeError{Index: 0, Count: len(data) / common.HeaderEntrySize}
	}

	src, err := os.Open(csvPath)
	if err != nil {
		_ = common.MunmapFile(data)
		return nil, fmt.Errorf("open csv: %w", err)
	}

	return &Index{
		data:  data,
		src:   src,
		quote: quote,
		count: len(data) / common.HeaderEntrySize,
	}, nil
}

// ColumnCount returns the number of indexed columns.
func (ix *Index) ColumnCount() int { return ix.count }

// Entry returns the raw index record for column i.
func (ix *Index) Entry(i int) (common.HeaderEntry, error) {
	if i < 0 || i >= ix.count {
		return common.HeaderEntry{}, &common.IndexOutOfRangeError{Index: i, Count: ix.count}
	}
	return common.GetHeaderEntry(ix.data[i*common.HeaderEntrySize:]), nil
}

// GetHeader returns the decoded header for column i: the raw bytes from the
// source file with doubled quotes collapsed and ASCII whitespace trimmed.
func (ix *Index) GetHeader(i int) (string, error) {
	e, err := ix.Entry(i)
	if err != nil {
		return "", err
	}
	if e.Length == 0 {
		return "", nil
	}
	raw := make([]byte, e.Length)
	if _, err := ix.src.ReadAt(raw, int64(e.Start)); err != nil {
		return "", fmt.Errorf("read header %d: %w", i, err)
	}
	return string(common.TrimASCIISpace(Unescape(raw, ix.quote))), nil
}

// Headers decodes every header in column order.
func (ix *Index) Headers() ([]string, error) {
	out := make([]string, ix.count)
	for i := range out {
		h, err := ix.GetHeader(i)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// Close releases the mapping and the source handle.
func (ix *Index) Close() error {
	err := common.MunmapFile(ix.data)
	if cerr := ix.src.Close(); err == nil {
		err = cerr
	}
	return err
}

// Unescape collapses doubled quote bytes into single quotes. When raw holds
// no doubled quote it is returned as is; otherwise a new slice is returned.
// The input is not modified.
func Unescape(raw []byte, quote byte) []byte {
	if !bytes.Contains(raw, []byte{quote, quote}) {
		return raw
	}
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		out = append(out, raw[i])
		if raw[i] == quote && i+1 < len(raw) && raw[i+1] == quote {
			i++
		}
	}
	return out
}

// WriteHeadersJSON renders the decoded header row as a JSON string array,
// matching the layout of the legacy column_headers.json artifact.
func WriteHeadersJSON(ix *Index, path string) error {
	headers, err := ix.Headers()
	if err != nil {
		return err
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
