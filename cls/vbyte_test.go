package cls

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVbyteRoundTrip(t *testing.T) {
	cases := []struct {
		v    uint64
		size int
	}{
		{0, 1},
		{1, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{math.MaxUint32, 5},
	}
	for _, tc := range cases {
		require.Equal(t, tc.size, vbyteSize(tc.v))
		buf := make([]byte, 10)
		n := vbyteEncode(buf, tc.v)
		require.Equal(t, tc.size, n)
		got, m := vbyteDecode(buf)
		require.Equal(t, tc.v, got)
		require.Equal(t, n, m)
	}
}

func TestVbyteRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	buf := make([]byte, 10)
	for i := 0; i < 10000; i++ {
		v := rng.Uint64() >> uint(rng.Intn(64))
		n := vbyteEncode(buf, v)
		require.Equal(t, vbyteSize(v), n)
		got, m := vbyteDecode(buf)
		require.Equal(t, v, got)
		require.Equal(t, n, m)
	}
}
