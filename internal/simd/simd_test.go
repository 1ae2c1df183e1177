package simd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bitSet(bm []uint64, i int) bool {
	return bm[i/64]&(1<<uint(i%64)) != 0
}

func classify(t *testing.T, data []byte, delim, quote byte) (q, d, n, r []uint64) {
	t.Helper()
	words := BitmapWords(len(data))
	q = make([]uint64, words)
	d = make([]uint64, words)
	n = make([]uint64, words)
	r = make([]uint64, words)
	Classify(data, delim, quote, q, d, n, r)
	return
}

func TestClassifyMatchesScalarScan(t *testing.T) {
	data := []byte("a,\"b\"\r\nlonger line, with \"quotes\" and, commas\r\n\"multi\nline\"")
	q, d, n, r := classify(t, data, ',', '"')

	for i, b := range data {
		assert.Equal(t, b == '"', bitSet(q, i), "quote bit %d", i)
		assert.Equal(t, b == ',', bitSet(d, i), "delim bit %d", i)
		assert.Equal(t, b == '\n', bitSet(n, i), "lf bit %d", i)
		assert.Equal(t, b == '\r', bitSet(r, i), "cr bit %d", i)
	}
}

func TestClassifyCustomBytes(t *testing.T) {
	data := []byte("a;'b';c,d")
	q, d, _, _ := classify(t, data, ';', '\'')

	assert.True(t, bitSet(d, 1))
	assert.True(t, bitSet(q, 2))
	assert.True(t, bitSet(q, 4))
	assert.False(t, bitSet(d, 7)) // ',' is not the delimiter here
}

func TestClassifySpansWordBoundary(t *testing.T) {
	// A delimiter and an LF on either side of the 64-byte word boundary, and
	// a quote in the third word.
	data := make([]byte, 130)
	for i := range data {
		data[i] = 'x'
	}
	data[63] = ','
	data[64] = '\n'
	data[129] = '"'

	q, d, n, _ := classify(t, data, ',', '"')
	require.Equal(t, 3, BitmapWords(len(data)))
	assert.True(t, bitSet(d, 63))
	assert.True(t, bitSet(n, 64))
	assert.True(t, bitSet(q, 129))
}

func TestBitmapWords(t *testing.T) {
	assert.Equal(t, 0, BitmapWords(0))
	assert.Equal(t, 1, BitmapWords(1))
	assert.Equal(t, 1, BitmapWords(64))
	assert.Equal(t, 2, BitmapWords(65))
}
