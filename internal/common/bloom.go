package common

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// BloomFilter is a space-efficient probabilistic token set. It answers "is
// this token definitely absent?" with no false negatives. The factorizer
// writes one per column so consumers can probe membership without loading
// the column dictionary.
type BloomFilter struct {
	bits      []byte
	size      int // size in bits
	hashCount int
	count     int
}

// NewBloomFilter sizes a filter for n expected elements at the given false
// positive rate (0.01 = 1%).
func NewBloomFilter(n int, fpRate float64) *BloomFilter {
	if n < 1 {
		n = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}

	m := int(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	m = ((m + 7) / 8) * 8

	k := int(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}

	return &BloomFilter{
		bits:      make([]byte, m/8),
		size:      m,
		hashCount: k,
	}
}

// hashPair derives the two base hashes for double hashing.
func hashPair(key []byte) (uint64, uint64) {
	h := fnv.New64a()
	_, _ = h.Write(key)
	h1 := h.Sum64()
	h.Reset()
	_, _ = h.Write(key)
	_, _ = h.Write([]byte{0x9e})
	return h1, h.Sum64() | 1
}

// Add inserts a key.
func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := hashPair(key)
	for i := 0; i < bf.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % uint64(bf.size)
		bf.bits[bit/8] |= 1 << (bit % 8)
	}
	bf.count++
}

// MayContain reports whether the key might be in the set. False means
// definitely absent.
func (bf *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := hashPair(key)
	for i := 0; i < bf.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % uint64(bf.size)
		if bf.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of keys added.
func (bf *BloomFilter) Count() int { return bf.count }

const bloomHeaderSize = 4 + 4 + 4

// Serialize encodes the filter: size(bits) u32, hashCount u32, count u32,
// then the bit array. Little-endian like every other artifact.
func (bf *BloomFilter) Serialize() []byte {
	out := make([]byte, bloomHeaderSize+len(bf.bits))
	binary.LittleEndian.PutUint32(out[0:4], uint32(bf.size))
	binary.LittleEndian.PutUint32(out[4:8], uint32(bf.hashCount))
	binary.LittleEndian.PutUint32(out[8:12], uint32(bf.count))
	copy(out[bloomHeaderSize:], bf.bits)
	return out
}

// DeserializeBloom decodes a filter produced by Serialize.
func DeserializeBloom(data []byte) (*BloomFilter, error) {
	if len(data) < bloomHeaderSize {
		return nil, fmt.Errorf("bloom filter truncated: %d bytes", len(data))
	}
	size := int(binary.LittleEndian.Uint32(data[0:4]))
	hashCount := int(binary.LittleEndian.Uint32(data[4:8]))
	count := int(binary.LittleEndian.Uint32(data[8:12]))
	if size%8 != 0 || len(data)-bloomHeaderSize != size/8 {
		return nil, fmt.Errorf("bloom filter size mismatch: %d bits, %d payload bytes", size, len(data)-bloomHeaderSize)
	}
	bits := make([]byte, size/8)
	copy(bits, data[bloomHeaderSize:])
	return &BloomFilter{bits: bits, size: size, hashCount: hashCount, count: count}, nil
}
