package factor

import (
	"fmt"
	"io"
	"os"

	"github.com/nathanjrussell/TabularData/internal/common"
	"github.com/nathanjrussell/TabularData/internal/scan"
)

// readTokens parses up to maxTokens complete fields from one bounded read at
// cursor. It returns the decoded tokens (quotes stripped, doubled quotes
// collapsed, ASCII whitespace trimmed) and the advanced cursor:
//
//   - maxTokens reached: cursor lands one past the delimiter that closed the
//     last returned token.
//   - row terminator: cursor lands one past the terminator (both bytes of a
//     CRLF); rowEnded is true.
//   - buffer exhausted mid-field: cursor lands one past the last completed
//     delimiter so the partial field is re-read by the next call. If not even
//     one field fit, BufferTooSmallError is returned and the caller must
//     enlarge the buffer.
//
// Quote state is local to each call: cursor always points at a field start,
// so the machine starts clean.
func readTokens(f *os.File, buf []byte, cursor int64, maxTokens int, delim, quote byte) (tokens []string, newCursor int64, rowEnded bool, err error) {
	n, rerr := f.ReadAt(buf, cursor)
	if n == 0 {
		// Cursor at EOF: the row ended with the file.
		return nil, cursor, true, nil
	}
	if rerr != nil && rerr != io.EOF {
		return nil, cursor, false, fmt.Errorf("read csv at %d: %w", cursor, rerr)
	}
	atEOF := rerr == io.EOF

	m := scan.NewMachine(delim, quote)
	content := make([]byte, 0, 64)
	afterLastDelim := -1

	closeToken := func() {
		tokens = append(tokens, string(common.TrimASCIISpace(content)))
		content = content[:0]
	}

	for i := 0; i < n; {
		act, consumed := m.Feed(buf[i])
		switch act {
		case scan.Content:
			content = append(content, buf[i])
		case scan.FieldEnd:
			closeToken()
			afterLastDelim = i + 1
			if len(tokens) == maxTokens {
				return tokens, cursor + int64(i+1), false, nil
			}
		case scan.RowEnd:
			closeToken()
			if consumed {
				return tokens, cursor + int64(i+1), true, nil
			}
			return tokens, cursor + int64(i), true, nil
		}
		if consumed {
			i++
		}
	}

	if atEOF {
		// No terminator before EOF: the final field (possibly empty, as
		// after a trailing delimiter) still belongs to the row.
		m.Finish()
		closeToken()
		return tokens, cursor + int64(n), true, nil
	}

	if len(tokens) > 0 {
		return tokens, cursor + int64(afterLastDelim), false, nil
	}
	return nil, cursor, false, &common.BufferTooSmallError{Offset: uint64(cursor), BufferBytes: len(buf)}
}
