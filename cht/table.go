// Package cht implements a compact hash trie: a power-of-two open-addressed
// table resolving (parent node, symbol) pairs to dense child ids. Slots hold
// only the quotient of a bijective hash plus a split-coded displacement, so
// the table rebuilds itself on growth by inverting the hash to recover the
// original keys from slot contents alone.
package cht

import (
	"errors"
	"fmt"
	"math"

	"github.com/oarkflow/bonsai/bijective"
	"github.com/oarkflow/bonsai/vec"
)

// NilID is the not-found sentinel at the API boundary.
const NilID = math.MaxUint64

// MinCapaBits lower-bounds the initial slot-count exponent.
const MinCapaBits = 16

var (
	errSymbBits  = errors.New("bonsai/cht: symbol width must be in [1,64]")
	errMaxFactor = errors.New("bonsai/cht: max factor must be in [1,99]")
	errDspBits   = errors.New("bonsai/cht: displacement widths must be in [1,63]")
	errSlotWidth = errors.New("bonsai/cht: symbol plus tier-1 displacement exceeds 64 bits")
)

type config struct {
	dsp1Bits    uint32
	dsp2Bits    uint32
	auxCapaBits uint32
	maxFactor   uint32
	treeOrder   int
}

// Option configures a Table.
type Option func(*config)

// WithDsp1Bits sets the tier-1 displacement width stored in each slot.
func WithDsp1Bits(bits uint32) Option {
	return func(c *config) {
		c.dsp1Bits = bits
	}
}

// WithDsp2Bits sets the aux-table value width for tier-2 displacements.
func WithDsp2Bits(bits uint32) Option {
	return func(c *config) {
		c.dsp2Bits = bits
	}
}

// WithAuxCapaBits sets the aux table's initial capacity exponent.
func WithAuxCapaBits(bits uint32) Option {
	return func(c *config) {
		c.auxCapaBits = bits
	}
}

// WithMaxFactor sets the load percentage that triggers a rebuild.
func WithMaxFactor(factor uint32) Option {
	return func(c *config) {
		c.maxFactor = factor
	}
}

// Table is the compact hash trie. Node ids are issued sequentially starting
// at 0 (the root, which owns no slot). All operations are single-threaded.
type Table struct {
	hasher   bijective.Hasher
	table    *vec.Vector // quotient | tier-1 displacement, zero-initialized
	ids      *vec.Vector // child ids, all-ones-initialized
	aux      *auxTable   // tier-2 displacements
	overflow *dspTree    // tier-3 displacements
	cfg      config

	size     uint64
	maxSize  uint64
	capaBits uint32
	symbBits uint32
	capaMask uint64
	dsp1Mask uint64
	dsp2Mask uint64
}

// New returns an empty trie with 2^capaBits slots (lower-bounded by
// MinCapaBits) over an alphabet of 2^symbBits symbols.
func New(capaBits, symbBits uint32, opts ...Option) (*Table, error) {
	cfg := config{
		dsp1Bits:    3,
		dsp2Bits:    7,
		auxCapaBits: 8,
		maxFactor:   80,
		treeOrder:   32,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if symbBits == 0 || symbBits > 64 {
		return nil, errSymbBits
	}
	if cfg.maxFactor == 0 || cfg.maxFactor > 99 {
		return nil, errMaxFactor
	}
	if cfg.dsp1Bits == 0 || cfg.dsp1Bits > 63 || cfg.dsp2Bits == 0 || cfg.dsp2Bits > 63 {
		return nil, errDspBits
	}
	if symbBits+cfg.dsp1Bits > 64 {
		return nil, errSlotWidth
	}
	if capaBits < MinCapaBits {
		capaBits = MinCapaBits
	}

	hasher, err := bijective.New(capaBits + symbBits)
	if err != nil {
		return nil, fmt.Errorf("bonsai/cht: %w", err)
	}

	capa := uint64(1) << capaBits
	t := &Table{
		hasher:   hasher,
		table:    vec.New(capa, symbBits+cfg.dsp1Bits),
		ids:      vec.NewWithDefault(capa, capaBits, capa-1),
		aux:      newAuxTable(capaBits, cfg.dsp2Bits, cfg.auxCapaBits),
		overflow: newDspTree(cfg.treeOrder),
		cfg:      cfg,
		maxSize:  capa * uint64(cfg.maxFactor) / 100,
		capaBits: capaBits,
		symbBits: symbBits,
		capaMask: capa - 1,
		dsp1Mask: (uint64(1) << cfg.dsp1Bits) - 1,
		dsp2Mask: (uint64(1) << cfg.dsp2Bits) - 1,
	}
	return t, nil
}

// RootID returns the root node id. The root must have been added.
func (t *Table) RootID() uint64 {
	if t.size == 0 {
		panic("bonsai/cht: root not added")
	}
	return 0
}

// AddRoot materializes node 0. It must be called exactly once, before any
// lookup or insertion. The root owns no slot in the table.
func (t *Table) AddRoot() {
	if t.size != 0 {
		panic("bonsai/cht: root already added")
	}
	t.size = 1
}

// FindChild returns the id of nodeID's child along symb, or NilID.
func (t *Table) FindChild(nodeID, symb uint64) uint64 {
	if t.size == 0 {
		return NilID
	}
	quo, mod := t.decompose(t.hasher.Hash(t.makeKey(nodeID, symb)))

	for i, cnt := mod, uint64(0); ; i, cnt = t.right(i), cnt+1 {
		childID := t.ids.Get(i)
		if childID == t.capaMask {
			// empty slot terminates the probe
			return NilID
		}
		if t.compareDsp(i, cnt) && quo == t.quoAt(i) {
			return childID
		}
	}
}

// AddChild inserts a child of nodeID along symb, returning its id and true.
// If the child already exists its id is returned with false. The table
// rebuilds itself at double capacity when full.
func (t *Table) AddChild(nodeID, symb uint64) (uint64, bool) {
	if t.size == 0 {
		panic("bonsai/cht: root not added")
	}
	if nodeID > t.capaMask {
		panic("bonsai/cht: node id out of range")
	}
	if symb >= t.SymbSize() {
		panic("bonsai/cht: symbol out of range")
	}

	if t.maxSize <= t.size {
		t.Expand()
	}

	quo, mod := t.decompose(t.hasher.Hash(t.makeKey(nodeID, symb)))

	for i, cnt := mod, uint64(0); ; i, cnt = t.right(i), cnt+1 {
		childID := t.ids.Get(i)
		if childID == t.capaMask {
			t.updateSlot(i, quo, cnt, t.size)
			childID = t.size
			t.size++
			return childID, true
		}
		if t.compareDsp(i, cnt) && quo == t.quoAt(i) {
			return childID, false
		}
	}
}

// NeedsToExpand reports whether the next AddChild would trigger a rebuild.
func (t *Table) NeedsToExpand() bool {
	return t.maxSize <= t.size
}

// Expand rebuilds the trie with doubled capacity and returns the position
// map (old node id → new node id, NilID for dead positions) the label store
// consumes. Keys are recovered from slot contents via the inverse hash, so
// no original keys are needed; each node id moves with its slot entry.
func (t *Table) Expand() []uint64 {
	nt, err := New(t.capaBits+1, t.symbBits,
		WithDsp1Bits(t.cfg.dsp1Bits),
		WithDsp2Bits(t.cfg.dsp2Bits),
		WithAuxCapaBits(t.cfg.auxCapaBits),
		WithMaxFactor(t.cfg.maxFactor))
	if err != nil {
		panic(fmt.Sprintf("bonsai/cht: expand: %v", err))
	}

	posMap := make([]uint64, t.CapaSize())
	for i := range posMap {
		posMap[i] = NilID
	}
	if t.size > 0 {
		posMap[0] = 0
	}

	for i := uint64(0); i < t.CapaSize(); i++ {
		nodeID := t.ids.Get(i)
		if nodeID == t.capaMask {
			continue
		}

		dsp := t.dspAt(i)
		init := i - dsp
		if dsp > i {
			init = t.CapaSize() - (dsp - i)
		}
		key := t.hasher.HashInv(t.quoAt(i)<<t.capaBits | init)

		quo, mod := nt.decompose(nt.hasher.Hash(key))
		for ni, cnt := mod, uint64(0); ; ni, cnt = nt.right(ni), cnt+1 {
			if nt.ids.Get(ni) == nt.capaMask {
				// rehashing distinct keys cannot collide, so no existence check
				nt.updateSlot(ni, quo, cnt, nodeID)
				break
			}
		}
		posMap[nodeID] = nodeID
	}

	nt.size = t.size
	*t = *nt
	return posMap
}

func (t *Table) makeKey(nodeID, symb uint64) uint64 {
	return nodeID<<t.symbBits | symb
}

func (t *Table) decompose(h uint64) (uint64, uint64) {
	return h >> t.capaBits, h & t.capaMask
}

func (t *Table) right(i uint64) uint64 {
	return (i + 1) & t.capaMask
}

func (t *Table) quoAt(slot uint64) uint64 {
	return t.table.Get(slot) >> t.cfg.dsp1Bits
}

// dspAt materializes the full displacement of an occupied slot through the
// tier representation.
func (t *Table) dspAt(slot uint64) uint64 {
	dsp := t.table.Get(slot) & t.dsp1Mask
	if dsp < t.dsp1Mask {
		return dsp
	}
	if d, ok := t.aux.get(slot); ok {
		return d + t.dsp1Mask
	}
	d, ok := t.overflow.search(slot)
	if !ok {
		panic("bonsai/cht: displacement missing from overflow map")
	}
	return d
}

// compareDsp checks the slot's displacement against a probe counter without
// materializing the full value unless the tiers force it: a slot whose
// tier-1 field is below the cap can only match a counter below the cap, and
// vice versa.
func (t *Table) compareDsp(slot, cnt uint64) bool {
	lhs := t.table.Get(slot) & t.dsp1Mask
	if lhs < t.dsp1Mask {
		return lhs == cnt
	}
	if cnt < t.dsp1Mask {
		return false
	}
	if d, ok := t.aux.get(slot); ok {
		return d+t.dsp1Mask == cnt
	}
	if cnt < t.dsp1Mask+t.dsp2Mask {
		return false
	}
	d, ok := t.overflow.search(slot)
	if !ok {
		panic("bonsai/cht: displacement missing from overflow map")
	}
	return d == cnt
}

// updateSlot writes a fresh entry into an empty slot, spilling the
// displacement into the aux table or the overflow tree as its size demands.
func (t *Table) updateSlot(slot, quo, dsp, nodeID uint64) {
	v := quo << t.cfg.dsp1Bits
	if dsp < t.dsp1Mask {
		v |= dsp
	} else {
		v |= t.dsp1Mask
		if d := dsp - t.dsp1Mask; d < t.dsp2Mask {
			t.aux.set(slot, d)
		} else {
			t.overflow.insert(slot, dsp)
		}
	}
	t.table.Set(slot, v)
	t.ids.Set(slot, nodeID)
}

// Size returns the number of registered nodes, the root included.
func (t *Table) Size() uint64 {
	return t.size
}

// MaxSize returns the node count that triggers the next rebuild.
func (t *Table) MaxSize() uint64 {
	return t.maxSize
}

// CapaSize returns the slot count.
func (t *Table) CapaSize() uint64 {
	return t.capaMask + 1
}

// CapaBits returns log2 of the slot count.
func (t *Table) CapaBits() uint32 {
	return t.capaBits
}

// SymbSize returns the alphabet size.
func (t *Table) SymbSize() uint64 {
	return uint64(1) << t.symbBits
}

// SymbBits returns the alphabet width.
func (t *Table) SymbBits() uint32 {
	return t.symbBits
}

// Stats describes the trie's shape for introspection.
type Stats struct {
	Size         uint64  `json:"size"`
	CapaSize     uint64  `json:"capa_size"`
	CapaBits     uint32  `json:"capa_bits"`
	SymbSize     uint64  `json:"symb_size"`
	SymbBits     uint32  `json:"symb_bits"`
	Factor       float64 `json:"factor"`
	MaxFactor    uint32  `json:"max_factor"`
	Dsp1Bits     uint32  `json:"dsp1st_bits"`
	Dsp2Bits     uint32  `json:"dsp2nd_bits"`
	AuxSize      uint64  `json:"aux_size"`
	OverflowSize uint64  `json:"overflow_size"`
}

// Stats returns a snapshot of the trie's shape.
func (t *Table) Stats() Stats {
	return Stats{
		Size:         t.size,
		CapaSize:     t.CapaSize(),
		CapaBits:     t.capaBits,
		SymbSize:     t.SymbSize(),
		SymbBits:     t.symbBits,
		Factor:       float64(t.size) / float64(t.CapaSize()) * 100,
		MaxFactor:    t.cfg.maxFactor,
		Dsp1Bits:     t.cfg.dsp1Bits,
		Dsp2Bits:     t.cfg.dsp2Bits,
		AuxSize:      t.aux.size,
		OverflowSize: t.overflow.len(),
	}
}
