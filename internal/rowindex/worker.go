package rowindex

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/nathanjrussell/TabularData/internal/common"
	"github.com/nathanjrussell/TabularData/internal/simd"
)

// parseRange scans [start, end) and appends the offset of every accepted row
// to partPath. start is guaranteed to be a true row boundary (a handoff
// offset), so the scan begins in a clean unquoted state.
//
// The hot loop walks structural-byte bitmaps instead of individual bytes.
// The deferred decisions of the byte machine (escaped quote vs closing
// quote, CRLF vs lone CR) are resolved by direct lookahead into the buffer,
// and carried as pending bits only when the buffer ends first.
func (b *Builder) parseRange(csvPath, partPath string, start, end uint64, expectCols int) (uint64, uint64, error) {
	if start >= end {
		// Still create an (empty) part file so the merge is uniform.
		if err := os.WriteFile(partPath, nil, 0644); err != nil {
			return 0, 0, fmt.Errorf("create part file: %w", err)
		}
		return 0, 0, nil
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	out, err := os.Create(partPath)
	if err != nil {
		return 0, 0, fmt.Errorf("create part file: %w", err)
	}
	w := bufWriterPool.Get().(*bufio.Writer)
	w.Reset(out)
	defer func() {
		w.Reset(io.Discard)
		bufWriterPool.Put(w)
		_ = out.Close()
	}()

	delim, quote := b.cfg.Delimiter, b.cfg.Quote
	bufSize := b.cfg.BufferBytes
	chunkBuf := make([]byte, bufSize)
	words := simd.BitmapWords(bufSize)
	quoteBits := make([]uint64, words)
	delimBits := make([]uint64, words)
	lfBits := make([]uint64, words)
	crBits := make([]uint64, words)

	var (
		inQuotes     bool
		pendingQuote bool
		pendingCR    bool
		rowStart     = start
		fieldStart   = start
		commaCount   int
		notBlank     bool
		rows         uint64
		skipped      uint64
		rec          [common.RowOffsetSize]byte
	)

	// endRow accepts or drops the row ending before nextStart.
	endRow := func(nextStart uint64) error {
		if notBlank {
			cols := commaCount + 1
			if cols == expectCols {
				common.PutRowOffset(rec[:], rowStart)
				if _, err := w.Write(rec[:]); err != nil {
					return fmt.Errorf("write part file: %w", err)
				}
				rows++
			} else if b.cfg.SkipFaultyRows {
				skipped++
			} else {
				return &common.WidthMismatchError{Offset: rowStart, Expected: expectCols, Found: cols}
			}
		}
		rowStart = nextStart
		fieldStart = nextStart
		commaCount = 0
		notBlank = false
		return nil
	}

	pos := start
	for pos < end {
		n := bufSize
		if remaining := end - pos; remaining < uint64(n) {
			n = int(remaining)
		}
		chunk := chunkBuf[:n]
		if got, err := f.ReadAt(chunk, int64(pos)); got < n {
			return 0, 0, fmt.Errorf("read csv at %d: %w", pos, err)
		}
		base := pos

		// Resolve decisions deferred across the previous buffer boundary.
		skipUntil := 0
		if pendingQuote {
			pendingQuote = false
			if chunk[0] == quote {
				skipUntil = 1 // escaped quote, still inside the field
			} else {
				inQuotes = false // previous quote closed the field
			}
		} else if pendingCR {
			pendingCR = false
			if chunk[0] == '\n' {
				if err := endRow(base + 1); err != nil {
					return 0, 0, err
				}
				skipUntil = 1
			} else {
				if err := endRow(base); err != nil {
					return 0, 0, err
				}
			}
		}

		nw := simd.BitmapWords(n)
		for i := 0; i < nw; i++ {
			quoteBits[i], delimBits[i], lfBits[i], crBits[i] = 0, 0, 0, 0
		}
		simd.Classify(chunk, delim, quote, quoteBits, delimBits, lfBits, crBits)

		for wi := 0; wi < nw; wi++ {
			combined := quoteBits[wi] | delimBits[wi] | lfBits[wi] | crBits[wi]
			for combined != 0 {
				tz := bits.TrailingZeros64(combined)
				combined &^= 1 << uint(tz)
				p := wi*64 + tz
				if p < skipUntil {
					continue
				}
				c := chunk[p]
				abs := base + uint64(p)

				if inQuotes {
					if c != quote {
						continue // data inside quotes
					}
					if p+1 < n {
						if chunk[p+1] == quote {
							skipUntil = p + 2 // escaped quote
						} else {
							inQuotes = false
							skipUntil = p + 1
						}
					} else {
						pendingQuote = true
						skipUntil = p + 1
					}
					continue
				}

				switch c {
				case quote:
					if abs == fieldStart {
						inQuotes = true
					}
					// A stray quote mid-field is literal content.
					notBlank = true
				case delim:
					commaCount++
					notBlank = true
					fieldStart = abs + 1
				case '\n':
					if !notBlank {
						notBlank = rowSpanNotBlank(chunk, rowStart, base, p)
					}
					if err := endRow(abs + 1); err != nil {
						return 0, 0, err
					}
				case '\r':
					if p+1 < n {
						if !notBlank {
							notBlank = rowSpanNotBlank(chunk, rowStart, base, p)
						}
						if chunk[p+1] == '\n' {
							if err := endRow(abs + 2); err != nil {
								return 0, 0, err
							}
							skipUntil = p + 2
						} else {
							if err := endRow(abs + 1); err != nil {
								return 0, 0, err
							}
						}
					} else {
						pendingCR = true
						skipUntil = p + 1
					}
				}
			}
		}

		// Fold the chunk's plain bytes into the blank-row decision before the
		// row continues into the next buffer.
		if !notBlank {
			notBlank = rowSpanNotBlank(chunk, rowStart, base, n)
		}

		pos += uint64(n)
	}

	// Range finalization. Interior workers end exactly on a row boundary, so
	// at most a lone CR closing their last row is still pending; only the
	// worker that owns the file tail can arrive here with a pending quote or
	// an unterminated row.
	if pendingQuote {
		pendingQuote = false
		inQuotes = false
	}
	if pendingCR {
		if err := endRow(end); err != nil {
			return 0, 0, err
		}
	} else if rowStart < end {
		if commaCount > 0 || notBlank {
			if err := endRow(end); err != nil {
				return 0, 0, err
			}
		}
	}

	if err := w.Flush(); err != nil {
		return 0, 0, fmt.Errorf("flush part file: %w", err)
	}
	return rows, skipped, nil
}

// rowSpanNotBlank reports whether the current row's bytes inside this chunk,
// up to (not including) limit, contain anything other than ASCII whitespace.
// Bytes of the row that lived in earlier chunks were folded when those
// chunks ended.
func rowSpanNotBlank(chunk []byte, rowStart, base uint64, limit int) bool {
	lo := 0
	if rowStart > base {
		lo = int(rowStart - base)
	}
	if lo > limit {
		lo = limit
	}
	for _, c := range chunk[lo:limit] {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			return true
		}
	}
	return false
}
