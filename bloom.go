package bonsai

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// BloomFilter implements a space-efficient probabilistic data structure
// used to short-circuit lookups of absent keys.
type BloomFilter struct {
	bitArray []uint64
	size     uint64
	hashFunc []func([]byte) uint64
}

// NewBloomFilter creates a new Bloom filter
func NewBloomFilter(expectedElements int, falsePositiveRate float64) *BloomFilter {
	size := optimalBloomFilterSize(expectedElements, falsePositiveRate)
	hashCount := optimalHashFunctions(expectedElements, int(size))

	bf := &BloomFilter{
		bitArray: make([]uint64, (size+63)/64), // Round up to uint64 boundaries
		size:     size,
		hashFunc: make([]func([]byte) uint64, hashCount),
	}

	// Initialize hash functions
	for i := 0; i < hashCount; i++ {
		salt := uint64(i)
		bf.hashFunc[i] = func(data []byte) uint64 {
			h := fnv.New64a()
			h.Write(data)
			binary.Write(h, binary.LittleEndian, salt)
			return h.Sum64()
		}
	}

	return bf
}

// Add adds an element to the Bloom filter
func (bf *BloomFilter) Add(data []byte) {
	for _, hash := range bf.hashFunc {
		index := hash(data) % bf.size
		wordIndex := index / 64
		bitIndex := index % 64
		bf.bitArray[wordIndex] |= 1 << bitIndex
	}
}

// MightContain checks if an element might be in the set
func (bf *BloomFilter) MightContain(data []byte) bool {
	for _, hash := range bf.hashFunc {
		index := hash(data) % bf.size
		wordIndex := index / 64
		bitIndex := index % 64
		if bf.bitArray[wordIndex]&(1<<bitIndex) == 0 {
			return false
		}
	}
	return true
}

// m = -(n * ln(p)) / (ln(2)^2)
func optimalBloomFilterSize(n int, p float64) uint64 {
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 64 {
		m = 64
	}
	return uint64(math.Ceil(m))
}

// k = (m/n) * ln(2)
func optimalHashFunctions(n int, m int) int {
	if n <= 0 {
		return 1
	}
	k := float64(m) / float64(n) * math.Ln2
	if k < 1 {
		return 1
	}
	return int(k + 0.5) // Round to nearest integer
}
