// Package cls implements a compact label store: a chunk-partitioned mapping
// from node positions to variable-length label suffixes plus an inline value
// slot. Each chunk packs its entries into one contiguous byte buffer framed
// by variable-byte length prefixes, indexed through a per-chunk presence
// bitmap.
package cls

import (
	"errors"
	"math"
	"math/bits"
	"unsafe"
)

// NilPos marks a dead position in the map passed to Expand.
const NilPos = math.MaxUint64

var errChunkSize = errors.New("bonsai/cls: chunk size must be 8, 16, 32 or 64")

// Store maps positions to (label suffix, value) associations. V must be a
// fixed-size plain-data type; values are read and written by byte copy
// through Ref handles.
//
// Keys handed to Compare and Insert carry a trailing NUL terminator and are
// NUL-free otherwise. The terminator itself is not stored.
type Store[V any] struct {
	bufs      [][]byte
	chunks    []bitChunk
	chunkSize uint32
	valSize   int
	size      uint64
	maxLength uint64
	sumLength uint64
}

// Ref is a borrowed view of one value slot. It stays valid until the next
// mutation of the containing chunk or any expansion of the store; callers
// must not retain it across mutations.
type Ref[V any] struct {
	buf []byte
	off int
}

// Valid reports whether the ref points at a value slot.
func (r Ref[V]) Valid() bool {
	return r.buf != nil
}

// Load reads the value out of the slot.
func (r Ref[V]) Load() V {
	var v V
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), int(unsafe.Sizeof(v))), r.buf[r.off:])
	return v
}

// Store writes v into the slot.
func (r Ref[V]) Store(v V) {
	copy(r.buf[r.off:], unsafe.Slice((*byte)(unsafe.Pointer(&v)), int(unsafe.Sizeof(v))))
}

// New returns a store covering 2^capaBits positions grouped into chunks of
// chunkSize positions each.
func New[V any](capaBits, chunkSize uint32) (*Store[V], error) {
	switch chunkSize {
	case 8, 16, 32, 64:
	default:
		return nil, errChunkSize
	}
	return newStore[V](capaBits, chunkSize), nil
}

func newStore[V any](capaBits, chunkSize uint32) *Store[V] {
	n := (uint64(1) << capaBits) / uint64(chunkSize)
	var v V
	return &Store[V]{
		bufs:      make([][]byte, n),
		chunks:    make([]bitChunk, n),
		chunkSize: chunkSize,
		valSize:   int(unsafe.Sizeof(v)),
	}
}

func (s *Store[V]) decompose(pos uint64) (uint64, uint32) {
	return pos / uint64(s.chunkSize), uint32(pos % uint64(s.chunkSize))
}

// Compare locates the entry stored at pos and matches key against its label.
// With an empty key it returns the value ref directly. On a full match
// (label exhausted and the next key byte is the terminator) it returns the
// value ref and the matched length including the terminator. On a mismatch
// it returns an invalid ref and the mismatch offset, which the caller uses
// to decide where the trie branches.
//
// pos must be marked present in its chunk bitmap.
func (s *Store[V]) Compare(pos uint64, key []byte) (Ref[V], int, bool) {
	chunkID, within := s.decompose(pos)
	if s.bufs[chunkID] == nil || !s.chunks[chunkID].get(within) {
		panic("bonsai/cls: compare at vacant position")
	}

	buf := s.bufs[chunkID]
	offset := s.chunks[chunkID].popcntPrefix(within)

	p := 0
	var alloc uint64
	for i := 0; i < offset; i++ {
		a, n := vbyteDecode(buf[p:])
		p += n + int(a)
	}
	a, n := vbyteDecode(buf[p:])
	p += n
	alloc = a

	if len(key) == 0 {
		return Ref[V]{buf: buf, off: p + int(alloc) - s.valSize}, 0, true
	}

	length := int(alloc) - s.valSize
	for i := 0; i < length; i++ {
		if key[i] != buf[p+i] {
			return Ref[V]{}, i, false
		}
	}
	if key[length] != 0 {
		return Ref[V]{}, length, false
	}
	// +1 covers the terminator.
	return Ref[V]{buf: buf, off: p + length}, length + 1, true
}

// Insert stores key's label (minus the terminator) at pos with a zeroed
// value slot and returns a ref to the slot. The bit at pos must be clear.
func (s *Store[V]) Insert(pos uint64, key []byte) Ref[V] {
	chunkID, within := s.decompose(pos)
	if s.chunks[chunkID].get(within) {
		panic("bonsai/cls: insert at occupied position")
	}
	s.chunks[chunkID].set(within)

	s.size++
	if l := uint64(len(key)); l > s.maxLength {
		s.maxLength = l
	}
	s.sumLength += uint64(len(key))

	length := 0
	if len(key) > 0 {
		length = len(key) - 1
	}
	alloc := uint64(length + s.valSize)

	if s.bufs[chunkID] == nil {
		// First association in the chunk.
		buf := make([]byte, vbyteSize(alloc)+length+s.valSize)
		n := vbyteEncode(buf, alloc)
		copy(buf[n:], key[:length])
		s.bufs[chunkID] = buf
		return Ref[V]{buf: buf, off: n + length}
	}

	front, back := s.allocs(chunkID, within)
	buf := make([]byte, front+vbyteSize(alloc)+length+s.valSize+back)
	old := s.bufs[chunkID]

	copy(buf, old[:front])
	n := front + vbyteEncode(buf[front:], alloc)
	copy(buf[n:], key[:length])
	copy(buf[n+length+s.valSize:], old[front:])

	s.bufs[chunkID] = buf
	return Ref[V]{buf: buf, off: n + length}
}

// allocs sums the framed entry lengths before and after the entry at within.
// The bit at within is already set, hence the -1 on the entry count.
func (s *Store[V]) allocs(chunkID uint64, within uint32) (int, int) {
	buf := s.bufs[chunkID]
	num := s.chunks[chunkID].popcnt() - 1
	offset := s.chunks[chunkID].popcntPrefix(within)

	var front, back int
	p := 0
	for i := 0; i < num; i++ {
		a, n := vbyteDecode(buf[p:])
		step := n + int(a)
		if i < offset {
			front += step
		} else {
			back += step
		}
		p += step
	}
	return front, back
}

// Expand rebuilds the store at double capacity, relocating every live entry
// through posMap (old position → new position, NilPos for dead positions).
// Old chunk buffers are released as soon as their last position has been
// processed.
func (s *Store[V]) Expand(posMap []uint64) {
	ns := newStore[V](uint32(bits.Len64(s.CapaSize())), s.chunkSize)

	for pos := uint64(0); pos < uint64(len(posMap)); pos++ {
		chunkID, within := s.decompose(pos)
		if newPos := posMap[pos]; newPos != NilPos {
			if slice := s.slice(chunkID, within); slice != nil {
				nc, nw := ns.decompose(newPos)
				ns.setSlice(nc, nw, slice)
			}
		}
		if within == s.chunkSize-1 {
			s.bufs[chunkID] = nil
		}
	}

	ns.size = s.size
	ns.maxLength = s.maxLength
	ns.sumLength = s.sumLength
	*s = *ns
}

// slice returns the framed bytes (header, label, value) of the entry at the
// given position, or nil for a step position.
func (s *Store[V]) slice(chunkID uint64, within uint32) []byte {
	if !s.chunks[chunkID].get(within) {
		return nil
	}
	buf := s.bufs[chunkID]
	offset := s.chunks[chunkID].popcntPrefix(within)

	p := 0
	for i := 0; i < offset; i++ {
		a, n := vbyteDecode(buf[p:])
		p += n + int(a)
	}
	a, n := vbyteDecode(buf[p:])
	return buf[p : p+n+int(a)]
}

// setSlice installs pre-framed bytes at a clear position, mirroring Insert's
// front/back reallocation without re-framing.
func (s *Store[V]) setSlice(chunkID uint64, within uint32, slice []byte) {
	if s.chunks[chunkID].get(within) {
		panic("bonsai/cls: set slice at occupied position")
	}
	s.chunks[chunkID].set(within)

	if s.bufs[chunkID] == nil {
		buf := make([]byte, len(slice))
		copy(buf, slice)
		s.bufs[chunkID] = buf
		return
	}

	front, back := s.allocs(chunkID, within)
	buf := make([]byte, front+len(slice)+back)
	old := s.bufs[chunkID]

	copy(buf, old[:front])
	copy(buf[front:], slice)
	copy(buf[front+len(slice):], old[front:])
	s.bufs[chunkID] = buf
}

// Size returns the number of stored associations.
func (s *Store[V]) Size() uint64 {
	return s.size
}

// CapaSize returns the number of addressable positions.
func (s *Store[V]) CapaSize() uint64 {
	return uint64(len(s.bufs)) * uint64(s.chunkSize)
}

// ChunkSize returns the number of positions per chunk.
func (s *Store[V]) ChunkSize() uint32 {
	return s.chunkSize
}

// MaxLength returns the longest key seen by Insert, terminator included.
func (s *Store[V]) MaxLength() uint64 {
	return s.maxLength
}

// AveLength returns the mean key length, terminator included.
func (s *Store[V]) AveLength() float64 {
	if s.size == 0 {
		return 0
	}
	return float64(s.sumLength) / float64(s.size)
}
