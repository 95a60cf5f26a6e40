package bonsai

import (
	"time"

	"github.com/oarkflow/filters"
)

type settings struct {
	id            string
	capaBits      uint32
	lambda        uint64
	chunkSize     uint32
	maxFactor     uint32
	dsp1Bits      uint32
	cacheCapacity int
	cacheExpiry   time.Duration
	bloomExpected int
	bloomFPRate   float64
	foldKeys      bool
	loadFilter    *filters.Rule
	keyField      string
	valueField    string
	monitor       *PerformanceMonitor
}

func defaultSettings() *settings {
	return &settings{
		capaBits:    16,
		lambda:      16,
		chunkSize:   16,
		maxFactor:   80,
		dsp1Bits:    3,
		cacheExpiry: time.Minute,
		keyField:    "key",
		valueField:  "value",
	}
}

// Options mutates map construction settings.
type Options func(*settings)

// WithID overrides the generated map identifier.
func WithID(id string) Options {
	return func(s *settings) {
		s.id = id
	}
}

// WithCapaBits sets the initial trie capacity exponent (lower bound 16).
func WithCapaBits(bits uint32) Options {
	return func(s *settings) {
		s.capaBits = bits
	}
}

// WithLambda sets how many label positions one step symbol spans. Must be a
// power of two in [2,256].
func WithLambda(lambda uint64) Options {
	return func(s *settings) {
		s.lambda = lambda
	}
}

// WithChunkSize sets the label-store chunk width (8, 16, 32 or 64).
func WithChunkSize(size uint32) Options {
	return func(s *settings) {
		s.chunkSize = size
	}
}

// WithMaxFactor sets the trie load percentage that triggers expansion.
func WithMaxFactor(factor uint32) Options {
	return func(s *settings) {
		s.maxFactor = factor
	}
}

// WithDsp1Bits sets the tier-1 displacement width per trie slot.
func WithDsp1Bits(bits uint32) Options {
	return func(s *settings) {
		s.dsp1Bits = bits
	}
}

// WithCacheCapacity enables the read cache with room for capacity entries.
func WithCacheCapacity(capacity int) Options {
	return func(s *settings) {
		s.cacheCapacity = capacity
	}
}

// WithCacheExpiry sets how long cached values stay fresh.
func WithCacheExpiry(dur time.Duration) Options {
	return func(s *settings) {
		s.cacheExpiry = dur
	}
}

// WithBloomFilter enables a negative-lookup filter sized for the expected
// number of keys at the given false-positive rate.
func WithBloomFilter(expectedElements int, falsePositiveRate float64) Options {
	return func(s *settings) {
		s.bloomExpected = expectedElements
		s.bloomFPRate = falsePositiveRate
	}
}

// WithKeyFolding lowercases ASCII letters in keys before every operation.
func WithKeyFolding() Options {
	return func(s *settings) {
		s.foldKeys = true
	}
}

// WithLoadFilter drops records that do not match the rule during bulk loads.
func WithLoadFilter(rule *filters.Rule) Options {
	return func(s *settings) {
		s.loadFilter = rule
	}
}

// WithKeyField selects the record field holding the key during bulk loads.
func WithKeyField(field string) Options {
	return func(s *settings) {
		s.keyField = field
	}
}

// WithValueField selects the record field holding the value during bulk loads.
func WithValueField(field string) Options {
	return func(s *settings) {
		s.valueField = field
	}
}

// WithMonitor attaches a performance monitor that records operation
// latencies, cache traffic and expansions.
func WithMonitor(pm *PerformanceMonitor) Options {
	return func(s *settings) {
		s.monitor = pm
	}
}
