package cht

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/oarkflow/bonsai/vec"
)

// auxMaxFactor caps the aux table load before it doubles.
const auxMaxFactor = 90

// auxTable is a small open-addressed hash table holding second-tier
// displacements keyed by trie slot id. The all-ones value over valBits is
// the absence sentinel, so stored values must stay below it.
type auxTable struct {
	keys     *vec.Vector
	vals     *vec.Vector
	keyBits  uint32
	valBits  uint32
	capaBits uint32
	valMask  uint64
	mask     uint64
	size     uint64
	maxSize  uint64
}

func newAuxTable(keyBits, valBits, capaBits uint32) *auxTable {
	capa := uint64(1) << capaBits
	valMask := (uint64(1) << valBits) - 1
	return &auxTable{
		keys:     vec.New(capa, keyBits),
		vals:     vec.NewWithDefault(capa, valBits, valMask),
		keyBits:  keyBits,
		valBits:  valBits,
		capaBits: capaBits,
		valMask:  valMask,
		mask:     capa - 1,
		maxSize:  capa * auxMaxFactor / 100,
	}
}

func (t *auxTable) slot(key uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return xxhash.Sum64(b[:]) & t.mask
}

// get returns the value stored for key, if any.
func (t *auxTable) get(key uint64) (uint64, bool) {
	for i := t.slot(key); ; i = (i + 1) & t.mask {
		v := t.vals.Get(i)
		if v == t.valMask {
			return 0, false
		}
		if t.keys.Get(i) == key {
			return v, true
		}
	}
}

// set stores val for key, growing the table when it fills.
func (t *auxTable) set(key, val uint64) {
	if val >= t.valMask {
		panic("bonsai/cht: aux value collides with the absence sentinel")
	}
	if t.size >= t.maxSize {
		t.grow()
	}
	for i := t.slot(key); ; i = (i + 1) & t.mask {
		v := t.vals.Get(i)
		if v == t.valMask {
			t.keys.Set(i, key)
			t.vals.Set(i, val)
			t.size++
			return
		}
		if t.keys.Get(i) == key {
			t.vals.Set(i, val)
			return
		}
	}
}

func (t *auxTable) grow() {
	nt := newAuxTable(t.keyBits, t.valBits, t.capaBits+1)
	for i := uint64(0); i < t.vals.Len(); i++ {
		if v := t.vals.Get(i); v != t.valMask {
			nt.set(t.keys.Get(i), v)
		}
	}
	*t = *nt
}
