// Package bonsai provides a memory-compact associative map keyed by
// arbitrary byte strings. Keys live in a trie whose topology is held by a
// compact hash trie (cht) and whose compressed edge labels and values are
// held by a compact label store (cls); node ids issued by the trie double as
// positions in the store.
package bonsai

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"

	"github.com/oarkflow/filters"

	"github.com/oarkflow/bonsai/cht"
	"github.com/oarkflow/bonsai/cls"
	"github.com/oarkflow/bonsai/utils"
)

var errLambda = errors.New("bonsai: lambda must be a power of two in [2,256]")

// Map associates NUL-free byte-string keys with fixed-size plain-data
// values. All mutating operations must be serialized by the caller; the
// optional cache and monitor guard their own state, while the optional bloom
// filter has no lock of its own.
type Map[V any] struct {
	ID string

	trie   *cht.Table
	labels *cls.Store[V]

	// One trie symbol carries the branch byte plus the label offset the
	// branch happened at; offsets of lambda or more are consumed by
	// dedicated step symbols first.
	lambda   uint64
	stepSymb uint64

	foldKeys bool
	cache    *valueCache[V]
	bloom    *BloomFilter
	monitor  *PerformanceMonitor

	loadFilter *filters.Rule
	keyField   string
	valueField string
}

// New constructs an empty map.
func New[V any](opts ...Options) (*Map[V], error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(s)
	}
	if s.lambda < 2 || s.lambda > 256 || s.lambda&(s.lambda-1) != 0 {
		return nil, errLambda
	}

	symbBits := uint32(bits.Len64(s.lambda << 8))
	trie, err := cht.New(s.capaBits, symbBits,
		cht.WithMaxFactor(s.maxFactor),
		cht.WithDsp1Bits(s.dsp1Bits))
	if err != nil {
		return nil, err
	}
	labels, err := cls.New[V](trie.CapaBits(), s.chunkSize)
	if err != nil {
		return nil, err
	}

	m := &Map[V]{
		ID:         s.id,
		trie:       trie,
		labels:     labels,
		lambda:     s.lambda,
		stepSymb:   s.lambda << 8,
		foldKeys:   s.foldKeys,
		monitor:    s.monitor,
		loadFilter: s.loadFilter,
		keyField:   s.keyField,
		valueField: s.valueField,
	}
	if m.ID == "" {
		m.ID = utils.NewID().String()
	}
	if s.cacheCapacity > 0 {
		m.cache = newValueCache[V](s.cacheCapacity, s.cacheExpiry)
	}
	if s.bloomExpected > 0 {
		m.bloom = NewBloomFilter(s.bloomExpected, s.bloomFPRate)
	}
	return m, nil
}

// terminate validates key, applies folding, and appends the NUL terminator
// every internal path works with. Embedded NUL bytes are a contract
// violation.
func (m *Map[V]) terminate(key []byte) []byte {
	kv := make([]byte, len(key)+1)
	for i, c := range key {
		if c == 0 {
			panic(fmt.Sprintf("bonsai: key %q contains NUL byte", key))
		}
		if m.foldKeys && c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		kv[i] = c
	}
	return kv
}

func makeSymb(c byte, matched uint64) uint64 {
	return uint64(c) | matched<<8
}

// expandIfNeeded keeps the trie and the label store in lockstep: the trie
// rebuilds itself and hands back the position map the store relocates by.
func (m *Map[V]) expandIfNeeded() {
	if !m.trie.NeedsToExpand() {
		return
	}
	posMap := m.trie.Expand()
	m.labels.Expand(posMap)
	if m.monitor != nil {
		m.monitor.RecordExpansion()
	}
}

// Update inserts key and returns a ref to its zeroed value slot with true,
// or a ref to the existing slot with false. Refs are borrowed and expire on
// the next mutation. Callers using a cache or bloom filter should prefer
// Set, which keeps both coherent.
func (m *Map[V]) Update(key []byte) (cls.Ref[V], bool) {
	kv := m.terminate(key)
	ref, inserted := m.update(kv)
	if m.bloom != nil && inserted {
		m.bloom.Add(kv)
	}
	if m.cache != nil {
		m.cache.Delete(xxhash.Sum64(kv))
	}
	return ref, inserted
}

func (m *Map[V]) update(kv []byte) (cls.Ref[V], bool) {
	if m.trie.Size() == 0 {
		m.trie.AddRoot()
		return m.labels.Insert(m.trie.RootID(), kv), true
	}

	nodeID := m.trie.RootID()
	for len(kv) > 0 {
		ref, matched, found := m.labels.Compare(nodeID, kv)
		if found {
			return ref, false
		}
		kv = kv[matched:]

		steps := uint64(matched)
		for m.lambda <= steps {
			m.expandIfNeeded()
			nodeID, _ = m.trie.AddChild(nodeID, m.stepSymb)
			steps -= m.lambda
		}
		m.expandIfNeeded()
		child, inserted := m.trie.AddChild(nodeID, makeSymb(kv[0], steps))
		nodeID = child
		kv = kv[1:]
		if inserted {
			return m.labels.Insert(nodeID, kv), true
		}
	}

	// The branch byte was the terminator and the child already existed, so
	// its label is empty and holds this key's value.
	ref, _, _ := m.labels.Compare(nodeID, nil)
	return ref, false
}

// Find returns a borrowed ref to key's value slot.
func (m *Map[V]) Find(key []byte) (cls.Ref[V], bool) {
	return m.find(m.terminate(key))
}

func (m *Map[V]) find(kv []byte) (cls.Ref[V], bool) {
	if m.trie.Size() == 0 {
		return cls.Ref[V]{}, false
	}

	nodeID := m.trie.RootID()
	for len(kv) > 0 {
		ref, matched, found := m.labels.Compare(nodeID, kv)
		if found {
			return ref, true
		}
		kv = kv[matched:]

		steps := uint64(matched)
		for m.lambda <= steps {
			if nodeID = m.trie.FindChild(nodeID, m.stepSymb); nodeID == cht.NilID {
				return cls.Ref[V]{}, false
			}
			steps -= m.lambda
		}
		if nodeID = m.trie.FindChild(nodeID, makeSymb(kv[0], steps)); nodeID == cht.NilID {
			return cls.Ref[V]{}, false
		}
		kv = kv[1:]
	}

	ref, _, found := m.labels.Compare(nodeID, nil)
	return ref, found
}

// Get returns the value stored for key. The bloom filter short-circuits
// misses and the cache short-circuits repeated hits when configured.
func (m *Map[V]) Get(key []byte) (V, bool) {
	var zero V
	done := m.observeLookup()

	kv := m.terminate(key)
	if m.bloom != nil && !m.bloom.MightContain(kv) {
		done()
		return zero, false
	}

	var h uint64
	if m.cache != nil {
		h = xxhash.Sum64(kv)
		if v, ok := m.cache.Get(h); ok {
			if m.monitor != nil {
				m.monitor.RecordCacheHit()
			}
			done()
			return v, true
		}
		if m.monitor != nil {
			m.monitor.RecordCacheMiss()
		}
	}

	ref, ok := m.find(kv)
	if !ok {
		done()
		return zero, false
	}
	v := ref.Load()
	if m.cache != nil {
		m.cache.Put(h, v)
	}
	done()
	return v, true
}

// Set associates key with v, reporting whether the key is new.
func (m *Map[V]) Set(key []byte, v V) bool {
	done := m.observeInsert()

	kv := m.terminate(key)
	ref, inserted := m.update(kv)
	ref.Store(v)

	if m.bloom != nil {
		m.bloom.Add(kv)
	}
	if m.cache != nil {
		m.cache.Put(xxhash.Sum64(kv), v)
	}
	done()
	return inserted
}

// Size returns the number of stored keys.
func (m *Map[V]) Size() uint64 {
	return m.labels.Size()
}

func (m *Map[V]) observeLookup() func() {
	if m.monitor == nil {
		return func() {}
	}
	return m.monitor.startLookup()
}

func (m *Map[V]) observeInsert() func() {
	if m.monitor == nil {
		return func() {}
	}
	return m.monitor.startInsert()
}
