package bonsai

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesLambda(t *testing.T) {
	_, err := New[uint64](WithLambda(3))
	require.Error(t, err)
	_, err = New[uint64](WithLambda(512))
	require.Error(t, err)
	_, err = New[uint64](WithLambda(1))
	require.Error(t, err)
}

func TestMapRejectsEmbeddedNUL(t *testing.T) {
	m, err := New[uint64]()
	require.NoError(t, err)
	require.Panics(t, func() { m.Set([]byte("a\x00b"), 1) })
}

func TestMapBasicInsertLookup(t *testing.T) {
	m, err := New[uint64]()
	require.NoError(t, err)

	_, ok := m.Get([]byte("missing"))
	require.False(t, ok)

	require.True(t, m.Set([]byte("hello"), 42))
	require.False(t, m.Set([]byte("hello"), 43))

	v, ok := m.Get([]byte("hello"))
	require.True(t, ok)
	require.Equal(t, uint64(43), v)

	_, ok = m.Get([]byte("hell"))
	require.False(t, ok)
	_, ok = m.Get([]byte("hello!"))
	require.False(t, ok)

	require.Equal(t, uint64(1), m.Size())
}

func TestMapEmptyKey(t *testing.T) {
	m, err := New[uint64]()
	require.NoError(t, err)

	m.Set(nil, 7)
	v, ok := m.Get([]byte{})
	require.True(t, ok)
	require.Equal(t, uint64(7), v)
}

func TestMapPrefixKeys(t *testing.T) {
	m, err := New[uint64]()
	require.NoError(t, err)

	keys := []string{"a", "ab", "abc", "abcd", "b", ""}
	for i, k := range keys {
		require.True(t, m.Set([]byte(k), uint64(i+1)), k)
	}
	for i, k := range keys {
		v, ok := m.Get([]byte(k))
		require.True(t, ok, k)
		require.Equal(t, uint64(i+1), v, k)
	}
	require.Equal(t, uint64(len(keys)), m.Size())
}

func TestMapLongSharedPrefixes(t *testing.T) {
	// Common prefixes past lambda force step symbols into the trie walk.
	m, err := New[uint64](WithLambda(16))
	require.NoError(t, err)

	base := strings.Repeat("x", 50)
	keys := []string{
		base,
		base + "y",
		base + "z",
		base[:40] + "Q",
		base + strings.Repeat("y", 30),
	}
	for i, k := range keys {
		require.True(t, m.Set([]byte(k), uint64(i+100)), k)
	}
	for i, k := range keys {
		v, ok := m.Get([]byte(k))
		require.True(t, ok, k)
		require.Equal(t, uint64(i+100), v, k)
	}
}

func TestMapUpdateFindRefs(t *testing.T) {
	m, err := New[uint32]()
	require.NoError(t, err)

	ref, inserted := m.Update([]byte("key"))
	require.True(t, inserted)
	require.True(t, ref.Valid())
	require.Zero(t, ref.Load())
	ref.Store(77)

	ref2, inserted := m.Update([]byte("key"))
	require.False(t, inserted)
	require.Equal(t, uint32(77), ref2.Load())

	ref3, ok := m.Find([]byte("key"))
	require.True(t, ok)
	require.Equal(t, uint32(77), ref3.Load())

	_, ok = m.Find([]byte("other"))
	require.False(t, ok)
}

func TestMapRandomKeysAcrossExpansions(t *testing.T) {
	pm := NewPerformanceMonitor()
	m, err := New[uint64](WithMonitor(pm))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(61))
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	want := make(map[string]uint64)
	for len(want) < 60000 {
		n := rng.Intn(30)
		var sb strings.Builder
		for j := 0; j < n; j++ {
			sb.WriteByte(letters[rng.Intn(len(letters))])
		}
		k := sb.String()
		if _, dup := want[k]; dup {
			continue
		}
		v := uint64(len(want) + 1)
		want[k] = v
		require.True(t, m.Set([]byte(k), v), k)
	}

	require.Equal(t, uint64(len(want)), m.Size())

	for k, v := range want {
		got, ok := m.Get([]byte(k))
		require.True(t, ok, "key %q lost", k)
		require.Equal(t, v, got, "key %q", k)
	}

	metrics := pm.GetMetrics()
	require.Greater(t, metrics["expansions"].(int64), int64(0))
	require.Contains(t, metrics, "avg_insert_latency")
}

func TestMapKeyFolding(t *testing.T) {
	m, err := New[uint64](WithKeyFolding())
	require.NoError(t, err)

	m.Set([]byte("Hello"), 1)
	v, ok := m.Get([]byte("hELLO"))
	require.True(t, ok)
	require.Equal(t, uint64(1), v)

	unfolded, err := New[uint64]()
	require.NoError(t, err)
	unfolded.Set([]byte("Hello"), 1)
	_, ok = unfolded.Get([]byte("hELLO"))
	require.False(t, ok)
}

func TestMapCache(t *testing.T) {
	pm := NewPerformanceMonitor()
	m, err := New[uint64](
		WithCacheCapacity(8),
		WithCacheExpiry(time.Minute),
		WithMonitor(pm))
	require.NoError(t, err)

	m.Set([]byte("k"), 1)
	v, ok := m.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, uint64(1), v)

	// The second read is served out of the cache.
	v, ok = m.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, uint64(1), v)
	require.Greater(t, pm.GetMetrics()["cache_hits"].(int64), int64(0))

	// Overwrites must not serve stale values.
	m.Set([]byte("k"), 2)
	v, ok = m.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, uint64(2), v)

	// Eviction under pressure keeps reads correct.
	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		m.Set(k, uint64(i))
	}
	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		v, ok := m.Get(k)
		require.True(t, ok)
		require.Equal(t, uint64(i), v)
	}
}

func TestMapBloomFilter(t *testing.T) {
	m, err := New[uint64](WithBloomFilter(1000, 0.01))
	require.NoError(t, err)

	_, ok := m.Get([]byte("nope"))
	require.False(t, ok)

	m.Set([]byte("yes"), 5)
	v, ok := m.Get([]byte("yes"))
	require.True(t, ok)
	require.Equal(t, uint64(5), v)
}

func TestMapStructValues(t *testing.T) {
	type entry struct {
		Count uint32
		Score float64
	}
	m, err := New[entry]()
	require.NoError(t, err)

	m.Set([]byte("doc"), entry{Count: 9, Score: 1.5})
	v, ok := m.Get([]byte("doc"))
	require.True(t, ok)
	require.Equal(t, entry{Count: 9, Score: 1.5}, v)
}

func TestMapStats(t *testing.T) {
	m, err := New[uint64](WithID("stats-map"), WithChunkSize(32))
	require.NoError(t, err)
	m.Set([]byte("alpha"), 1)
	m.Set([]byte("beta"), 2)

	st := m.Stats()
	require.Equal(t, "stats-map", st.ID)
	require.Equal(t, uint64(2), st.Keys)
	require.Equal(t, uint32(32), st.Labels.ChunkSize)
	require.GreaterOrEqual(t, st.Nodes, st.Keys)

	payload, err := st.JSON()
	require.NoError(t, err)
	require.Contains(t, string(payload), "stats-map")

	sum1, err := st.Checksum()
	require.NoError(t, err)
	m.Set([]byte("gamma"), 3)
	sum2, err := m.Stats().Checksum()
	require.NoError(t, err)
	require.NotEqual(t, sum1, sum2)
}

func TestManagerRegistry(t *testing.T) {
	mg := NewManager[uint64]()

	m1, err := New[uint64]()
	require.NoError(t, err)
	m2, err := New[uint64]()
	require.NoError(t, err)

	require.Equal(t, "first", mg.AddMap("first", m1))
	generated := mg.AddMap("", m2)
	require.NotEmpty(t, generated)

	got, ok := mg.GetMap("first")
	require.True(t, ok)
	require.Same(t, m1, got)

	require.Len(t, mg.ListMaps(), 2)

	m1.Set([]byte("k"), 1)
	st, err := mg.Stats("first")
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Keys)

	_, err = mg.Stats("ghost")
	require.Error(t, err)

	mg.DeleteMap("first")
	_, ok = mg.GetMap("first")
	require.False(t, ok)
}

func TestValueCacheLRU(t *testing.T) {
	c := newValueCache[int](2, time.Minute)
	c.Put(1, 10)
	c.Put(2, 20)

	// Touch 1 so 2 becomes the eviction candidate.
	_, ok := c.Get(1)
	require.True(t, ok)

	c.Put(3, 30)
	_, ok = c.Get(2)
	require.False(t, ok)
	v, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, 10, v)

	c.Delete(1)
	_, ok = c.Get(1)
	require.False(t, ok)
}

func TestValueCacheExpiry(t *testing.T) {
	c := newValueCache[int](4, time.Nanosecond)
	c.Put(1, 10)
	time.Sleep(time.Millisecond)
	_, ok := c.Get(1)
	require.False(t, ok)
}

func TestBloomFilterBehavior(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 500; i++ {
		bf.Add([]byte(fmt.Sprintf("member-%d", i)))
	}
	for i := 0; i < 500; i++ {
		require.True(t, bf.MightContain([]byte(fmt.Sprintf("member-%d", i))))
	}
	falsePositives := 0
	for i := 0; i < 1000; i++ {
		if bf.MightContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	require.Less(t, falsePositives, 100)
}
