package common

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEntryRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderEntrySize)
	in := HeaderEntry{Start: 0xDEADBEEF, Length: 0xBEEF}
	PutHeaderEntry(buf, in)
	assert.Equal(t, in, GetHeaderEntry(buf))

	// Little-endian layout.
	assert.Equal(t, uint32(0xDEADBEEF), binary.LittleEndian.Uint32(buf[0:4]))
}

func TestSlabMetaRoundTrip(t *testing.T) {
	buf := make([]byte, SlabMetaSize)
	in := SlabMeta{NCols: 32, MaxGlobalID: 12345}
	PutSlabMeta(buf, in)
	assert.Equal(t, in, GetSlabMeta(buf))
}

func TestLoadRowOffsets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "row_offsets.bin")

	want := []uint64{6, 12, 999999}
	data := make([]byte, len(want)*RowOffsetSize)
	for i, off := range want {
		PutRowOffset(data[i*RowOffsetSize:], off)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	got, err := LoadRowOffsets(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadRowOffsetsRejectsPartialRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "row_offsets.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 12), 0644))

	_, err := LoadRowOffsets(path)
	var inv *InvariantError
	assert.ErrorAs(t, err, &inv)
}

func TestTrimASCIISpace(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  abc  ", "abc"},
		{"\t a b \r\n", "a b"},
		{"", ""},
		{"   ", ""},
		{"x", "x"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, string(TrimASCIISpace([]byte(tc.in))), "%q", tc.in)
	}
}

func TestBloomFilterMembership(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 1000; i++ {
		bf.Add([]byte(fmt.Sprintf("token_%d", i)))
	}

	for i := 0; i < 1000; i++ {
		assert.True(t, bf.MayContain([]byte(fmt.Sprintf("token_%d", i))))
	}

	// False positives are allowed but should stay near the configured rate.
	fp := 0
	for i := 0; i < 1000; i++ {
		if bf.MayContain([]byte(fmt.Sprintf("absent_%d", i))) {
			fp++
		}
	}
	assert.Less(t, fp, 100)
}

func TestBloomFilterSerializeRoundTrip(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)
	bf.Add([]byte("alpha"))
	bf.Add([]byte("beta"))

	clone, err := DeserializeBloom(bf.Serialize())
	require.NoError(t, err)
	assert.Equal(t, bf.Count(), clone.Count())
	assert.True(t, clone.MayContain([]byte("alpha")))
	assert.True(t, clone.MayContain([]byte("beta")))
	assert.False(t, clone.MayContain([]byte("definitely-not-there")))
}

func TestDeserializeBloomRejectsGarbage(t *testing.T) {
	_, err := DeserializeBloom([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&WidthMismatchError{Offset: 42, Expected: 3, Found: 2}).Error(), "byte 42")
	assert.Contains(t, (&IndexOutOfRangeError{Index: 9, Count: 3}).Error(), "9")
	assert.Contains(t, (&BufferTooSmallError{Offset: 7, BufferBytes: 16}).Error(), "16")
	assert.Contains(t, (&InvariantError{Msg: "boom"}).Error(), "boom")
}

func TestFingerprintStableForSameContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0644))

	fp1, err := Fingerprint(path)
	require.NoError(t, err)
	fp2, err := Fingerprint(path)
	require.NoError(t, err)

	assert.Equal(t, fp1.Hash, fp2.Hash)
	assert.Equal(t, int64(8), fp1.Size)
}
