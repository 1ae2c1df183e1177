package common

import "fmt"

// WidthMismatchError reports a data row whose field count does not match the
// header. Offset is the absolute byte offset of the row's first byte.
type WidthMismatchError struct {
	Offset   uint64
	Expected int
	Found    int
}

func (e *WidthMismatchError) Error() string {
	return fmt.Sprintf("csv row at byte %d has %d columns; expected %d", e.Offset, e.Found, e.Expected)
}

// IndexOutOfRangeError reports a header lookup outside the indexed column
// range, or a header index file whose size is not a whole number of entries.
type IndexOutOfRangeError struct {
	Index int
	Count int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("header index %d out of range (have %d columns)", e.Index, e.Count)
}

// BufferTooSmallError reports a field too long for the current read buffer to
// make progress on. The caller may enlarge the buffer and retry.
type BufferTooSmallError struct {
	Offset      uint64
	BufferBytes int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("field at byte %d exceeds read buffer of %d bytes", e.Offset, e.BufferBytes)
}

// InvariantError reports an internal inconsistency (an unresolved code after
// relabeling, a merged index whose size is not a multiple of its stride).
// It always indicates a bug, never bad input.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Msg
}

// HeaderTooLargeError reports a header row that exceeds the fixed-width
// limits of the header index schema (u32 offsets, u16 lengths).
type HeaderTooLargeError struct {
	Offset uint64
	Length uint64
}

func (e *HeaderTooLargeError) Error() string {
	return fmt.Sprintf("header field at byte %d (length %d) exceeds index schema limits", e.Offset, e.Length)
}
