package rowindex

import (
	"fmt"
	"io"
	"os"

	"github.com/nathanjrussell/TabularData/internal/scan"
)

// resyncToNextRowStart advances from an arbitrary byte offset s to the first
// byte of the next true row boundary at or after s.
//
// The only ambiguous landing byte is the quote: it can close a quoted field
// that began before s, open a new one, or (doubled) be an escaped quote or
// an empty quoted field. A lookahead of at most three bytes disambiguates
// every case; afterwards a plain scan to the next unquoted terminator
// finishes the job.
func resyncToNextRowStart(csvPath string, s, fileSize uint64, cfg Config) (uint64, error) {
	opt := cfg.withDefaults()
	if s >= fileSize {
		return fileSize, nil
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	peek := func(off uint64) (byte, bool) {
		if off >= fileSize {
			return 0, false
		}
		var b [1]byte
		if _, err := f.ReadAt(b[:], int64(off)); err != nil {
			return 0, false
		}
		return b[0], true
	}

	// afterTerminator resolves a terminator whose first byte sits at off and
	// returns the offset of the byte following it (CRLF spans two bytes).
	afterTerminator := func(off uint64, c byte) uint64 {
		if c == '\r' {
			if nb, ok := peek(off + 1); ok && nb == '\n' {
				return off + 2
			}
		}
		return off + 1
	}

	m := scan.NewMachine(opt.Delimiter, opt.Quote)
	pos := s

	b0, ok := peek(s)
	if !ok {
		return fileSize, nil
	}
	if b0 == opt.Quote {
		b1, ok := peek(s + 1)
		switch {
		case !ok:
			// Quote at EOF closes the previous quoted field.
			return fileSize, nil
		case b1 == opt.Delimiter:
			// Closing quote of the previous field; keep scanning unquoted
			// past the delimiter.
			pos = s + 2
		case b1 == '\n' || b1 == '\r':
			return afterTerminator(s+1, b1), nil
		case b1 == opt.Quote:
			b2, ok := peek(s + 2)
			switch {
			case !ok:
				// An empty quoted field at EOF.
				return fileSize, nil
			case b2 == opt.Delimiter:
				pos = s + 3
			case b2 == '\n' || b2 == '\r':
				return afterTerminator(s+2, b2), nil
			default:
				// Escaped quote inside a quoted field that began before s.
				m.EnterQuotes()
				pos = s + 2
			}
		default:
			// The quote opens a new quoted field.
			m.EnterQuotes()
			pos = s + 1
		}
	}

	return scanToRowStart(f, m, pos, fileSize, opt.BufferBytes)
}

// scanToRowStart feeds bytes from pos into the machine until it reports a
// row terminator and returns the offset of the byte that follows it.
func scanToRowStart(f *os.File, m *scan.Machine, pos, fileSize uint64, bufferBytes int) (uint64, error) {
	buf := make([]byte, bufferBytes)
	for pos < fileSize {
		got, readErr := f.ReadAt(buf, int64(pos))
		if got == 0 {
			break
		}
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
		if readErr != nil && readErr != io.EOF {
			return 0, fmt.Errorf("resync read: %w", readErr)
		}
		if readErr == io.EOF {
			break
		}
	}
	// EOF: the range ends without another terminator.
	return fileSize, nil
}
