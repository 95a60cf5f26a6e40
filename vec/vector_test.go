package vec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorZeroInit(t *testing.T) {
	v := New(100, 7)
	for i := uint64(0); i < v.Len(); i++ {
		require.Zero(t, v.Get(i))
	}
}

func TestVectorDefaultFill(t *testing.T) {
	fill := uint64(1)<<16 - 1
	v := NewWithDefault(50, 16, fill)
	for i := uint64(0); i < v.Len(); i++ {
		require.Equal(t, fill, v.Get(i))
	}
}

func TestVectorSetGet(t *testing.T) {
	v := New(64, 13)
	v.Set(0, 0x1abc)
	v.Set(63, 0x0fff)
	require.Equal(t, uint64(0x1abc), v.Get(0))
	require.Equal(t, uint64(0x0fff), v.Get(63))

	// Overwriting must clear the previous cell contents.
	v.Set(0, 1)
	require.Equal(t, uint64(1), v.Get(0))
}

func TestVectorTruncatesToCellWidth(t *testing.T) {
	v := New(8, 5)
	v.Set(3, 0xffff)
	require.Equal(t, uint64(31), v.Get(3))
	require.Zero(t, v.Get(2))
	require.Zero(t, v.Get(4))
}

func TestVectorWordStraddlingCells(t *testing.T) {
	// 13-bit cells hit every word-boundary alignment over 64 cells.
	for _, bits := range []uint32{3, 7, 13, 31, 33, 63, 64} {
		rng := rand.New(rand.NewSource(int64(bits)))
		mask := ^uint64(0)
		if bits < 64 {
			mask = uint64(1)<<bits - 1
		}
		v := New(257, bits)
		want := make([]uint64, v.Len())
		for i := range want {
			want[i] = rng.Uint64() & mask
			v.Set(uint64(i), want[i])
		}
		for i, w := range want {
			require.Equal(t, w, v.Get(uint64(i)), "width %d cell %d", bits, i)
		}
	}
}

func TestVectorNeighborIsolation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := NewWithDefault(200, 11, 0x7ff)
	idx := rng.Perm(200)
	for _, i := range idx {
		v.Set(uint64(i), uint64(i))
	}
	for i := uint64(0); i < v.Len(); i++ {
		require.Equal(t, i, v.Get(i))
	}
}

func TestVectorRejectsBadWidth(t *testing.T) {
	require.Panics(t, func() { New(1, 0) })
	require.Panics(t, func() { New(1, 65) })
}
