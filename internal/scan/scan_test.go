package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// event is a flattened trace entry: the action plus the byte it applied to.
type event struct {
	act Action
	b   byte
}

// trace feeds the whole input and records every non-None action. Unconsumed
// bytes are re-fed, mirroring how callers drive the machine.
func trace(t *testing.T, m *Machine, input string) []event {
	t.Helper()
	var out []event
	for i := 0; i < len(input); {
		act, consumed := m.Feed(input[i])
		if act != None {
			out = append(out, event{act, input[i]})
		}
		if consumed {
			i++
		}
	}
	return out
}

func TestSimpleFieldsAndRow(t *testing.T) {
	m := NewMachine(',', '"')
	got := trace(t, m, "a,b\n")
	want := []event{
		{Content, 'a'},
		{FieldEnd, ','},
		{Content, 'b'},
		{RowEnd, '\n'},
	}
	assert.Equal(t, want, got)
}

func TestQuotedFieldWithDelimiterAndNewlines(t *testing.T) {
	m := NewMachine(',', '"')
	got := trace(t, m, "\"a,\nb\",c\n")
	want := []event{
		{QuoteOpen, '"'},
		{Content, 'a'},
		{Content, ','},
		{Content, '\n'},
		{Content, 'b'},
		{FieldEnd, ','},
		{Content, 'c'},
		{RowEnd, '\n'},
	}
	assert.Equal(t, want, got)
}

func TestEscapedQuoteYieldsSingleContentByte(t *testing.T) {
	m := NewMachine(',', '"')
	got := trace(t, m, "\"He said \"\"hi\"\"\"\n")
	var content []byte
	for _, e := range got {
		if e.act == Content {
			content = append(content, e.b)
		}
	}
	// Accumulated content is already unescaped.
	assert.Equal(t, `He said "hi"`, string(content))
	assert.Equal(t, RowEnd, got[len(got)-1].act)
}

func TestCRLFTerminator(t *testing.T) {
	m := NewMachine(',', '"')
	got := trace(t, m, "a\r\nb")
	want := []event{
		{Content, 'a'},
		{RowEnd, '\n'}, // reported on the LF of CRLF
		{Content, 'b'},
	}
	assert.Equal(t, want, got)
}

func TestLoneCRTerminatorReprocessesNextByte(t *testing.T) {
	m := NewMachine(',', '"')

	var got []event
	input := "a\rb"
	for i := 0; i < len(input); {
		act, consumed := m.Feed(input[i])
		if act != None {
			got = append(got, event{act, input[i]})
		}
		if !consumed {
			// The byte after the lone CR starts the next row.
			require.Equal(t, RowEnd, act)
			require.Equal(t, byte('b'), input[i])
			continue
		}
		i++
	}
	want := []event{
		{Content, 'a'},
		{RowEnd, 'b'},
		{Content, 'b'},
	}
	assert.Equal(t, want, got)
}

func TestStrayQuoteMidFieldIsContent(t *testing.T) {
	m := NewMachine(',', '"')
	got := trace(t, m, "ab\"cd,")
	want := []event{
		{Content, 'a'},
		{Content, 'b'},
		{Content, '"'},
		{Content, 'c'},
		{Content, 'd'},
		{FieldEnd, ','},
	}
	assert.Equal(t, want, got)
}

func TestFinishResolvesPendingQuote(t *testing.T) {
	m := NewMachine(',', '"')
	trace(t, m, "\"abc\"")
	require.True(t, m.InQuotes()) // trailing quote not yet resolved
	assert.Equal(t, None, m.Finish())
	assert.False(t, m.InQuotes())
}

func TestFinishResolvesPendingCRAsRowEnd(t *testing.T) {
	m := NewMachine(',', '"')
	trace(t, m, "abc\r")
	assert.Equal(t, RowEnd, m.Finish())
}

func TestUnterminatedQuotedFieldAtEOF(t *testing.T) {
	m := NewMachine(',', '"')
	got := trace(t, m, "\"abc")
	want := []event{
		{QuoteOpen, '"'},
		{Content, 'a'},
		{Content, 'b'},
		{Content, 'c'},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, None, m.Finish())
	assert.False(t, m.InQuotes())
}

// Feeding the same stream through different chunkings must be a no-op: the
// machine state is per byte and pending decisions are explicit.
func TestChunkBoundaryNeutrality(t *testing.T) {
	input := "x,\"a\"\"b\r\n\",\"\"\r\ny,z\rq,\"tail"

	run := func(chunks []string) []event {
		m := NewMachine(',', '"')
		var out []event
		for _, chunk := range chunks {
			for i := 0; i < len(chunk); {
				act, consumed := m.Feed(chunk[i])
				if act != None {
					out = append(out, event{act, chunk[i]})
				}
				if consumed {
					i++
				}
			}
		}
		if act := m.Finish(); act != None {
			out = append(out, event{act, 0})
		}
		return out
	}

	whole := run([]string{input})
	for split := 1; split < len(input); split++ {
		parts := []string{input[:split], input[split:]}
		assert.Equal(t, whole, run(parts), "split at %d", split)
	}
}

func TestCustomDelimiterAndQuote(t *testing.T) {
	m := NewMachine(';', '\'')
	got := trace(t, m, "'a;b';c\n")
	want := []event{
		{QuoteOpen, '\''},
		{Content, 'a'},
		{Content, ';'},
		{Content, 'b'},
		{FieldEnd, ';'},
		{Content, 'c'},
		{RowEnd, '\n'},
	}
	assert.Equal(t, want, got)
}
