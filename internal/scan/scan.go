// Package scan implements the byte-level CSV state machine shared by the
// header indexer, the row-offset builder, and the column factorizer.
//
// The machine is deliberately tiny: a handful of booleans that survive
// arbitrary buffer boundaries. Feeding the same byte stream in different
// chunk sizes always produces the same event sequence, which is what lets
// the callers suspend parsing between buffer fills.
package scan

// Action describes what one input byte meant to the parser.
type Action uint8

const (
	// None: the byte was consumed for state bookkeeping only (a quote whose
	// meaning is not yet decided, or a CR awaiting a possible LF).
	None Action = iota
	// Content: the byte belongs to the current field. For escaped quotes the
	// machine reports Content exactly once, on the second quote byte, so
	// accumulating Content bytes yields the unescaped field text.
	Content
	// QuoteOpen: the byte opens a quoted field; field content starts at the
	// following byte.
	QuoteOpen
	// FieldEnd: an unquoted delimiter closed the current field.
	FieldEnd
	// RowEnd: the current row is complete. If Feed additionally reported the
	// byte as not consumed, the terminator ended before this byte (lone CR)
	// and the byte must be fed again as the first byte of the next row.
	RowEnd
)

// Machine is the suspendable CSV parser state. The zero value is not usable;
// construct with NewMachine.
type Machine struct {
	delim byte
	quote byte

	inQuotes     bool
	pendingQuote bool
	pendingCR    bool
	atFieldStart bool
}

// NewMachine returns a machine for the given delimiter and quote bytes,
// positioned at the start of a field.
func NewMachine(delim, quote byte) *Machine {
	return &Machine{delim: delim, quote: quote, atFieldStart: true}
}

// InQuotes reports whether the machine is currently inside a quoted field.
func (m *Machine) InQuotes() bool { return m.inQuotes }

// EnterQuotes forces the machine into the in-quotes state. Used by the
// resynchronization logic when it has already disambiguated a leading quote.
func (m *Machine) EnterQuotes() {
	m.inQuotes = true
	m.atFieldStart = false
}

// Feed advances the machine by one byte. The returned bool reports whether c
// was consumed; when false the caller must feed c again (the byte resolved a
// deferred decision and still belongs to the next parsing step).
func (m *Machine) Feed(c byte) (Action, bool) {
	if m.pendingQuote {
		m.pendingQuote = false
		if c == m.quote {
			// Escaped quote: both bytes stay inside the quoted field.
			return Content, true
		}
		// The previous quote closed the field; reprocess c unquoted.
		m.inQuotes = false
		return None, false
	}

	if m.inQuotes {
		if c == m.quote {
			m.pendingQuote = true
			return None, true
		}
		// Commas, CR and LF are plain data inside quotes.
		return Content, true
	}

	if m.pendingCR {
		m.pendingCR = false
		m.atFieldStart = true
		if c == '\n' {
			return RowEnd, true // CRLF
		}
		return RowEnd, false // lone CR; c starts the next row
	}

	switch c {
	case '\r':
		m.pendingCR = true
		return None, true
	case '\n':
		m.atFieldStart = true
		return RowEnd, true
	case m.delim:
		m.atFieldStart = true
		return FieldEnd, true
	case m.quote:
		if m.atFieldStart {
			m.atFieldStart = false
			m.inQuotes = true
			return QuoteOpen, true
		}
		// Stray quote in an unquoted field: literal content.
		return Content, true
	default:
		m.atFieldStart = false
		return Content, true
	}
}

// Finish resolves deferred state at end of input. A pending quote, or a
// quoted field still open, gets an implicit closing quote; a pending CR
// counts as a row terminator and Finish reports RowEnd. Otherwise it reports
// None and the caller decides whether a trailing unterminated field should
// be closed.
func (m *Machine) Finish() Action {
	if m.pendingQuote || m.inQuotes {
		m.pendingQuote = false
		m.inQuotes = false
	}
	if m.pendingCR {
		m.pendingCR = false
		m.atFieldStart = true
		return RowEnd
	}
	return None
}
