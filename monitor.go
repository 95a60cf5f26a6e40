package bonsai

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PerformanceMonitor collects operation latencies, cache traffic, expansion
// counts and process memory for a map it is attached to via WithMonitor.
type PerformanceMonitor struct {
	mu              sync.RWMutex
	lookupLatencies []time.Duration
	insertLatencies []time.Duration
	buildTimes      []time.Duration
	cacheHitRate    float64
	cacheHits       int64
	cacheMisses     int64
	expansions      int64
	startTime       time.Time
}

// NewPerformanceMonitor creates a new performance monitor
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{
		startTime: time.Now(),
	}
}

func (pm *PerformanceMonitor) startLookup() func() {
	start := time.Now()
	return func() {
		pm.RecordLookupLatency(time.Since(start))
	}
}

func (pm *PerformanceMonitor) startInsert() func() {
	start := time.Now()
	return func() {
		pm.RecordInsertLatency(time.Since(start))
	}
}

// RecordLookupLatency records one lookup latency.
func (pm *PerformanceMonitor) RecordLookupLatency(latency time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.lookupLatencies = append(pm.lookupLatencies, latency)
	// Keep only last 1000 measurements
	if len(pm.lookupLatencies) > 1000 {
		pm.lookupLatencies = pm.lookupLatencies[len(pm.lookupLatencies)-1000:]
	}
}

// RecordInsertLatency records one insert latency.
func (pm *PerformanceMonitor) RecordInsertLatency(latency time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.insertLatencies = append(pm.insertLatencies, latency)
	if len(pm.insertLatencies) > 1000 {
		pm.insertLatencies = pm.insertLatencies[len(pm.insertLatencies)-1000:]
	}
}

// RecordBuildTime records the duration of one bulk load.
func (pm *PerformanceMonitor) RecordBuildTime(duration time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.buildTimes = append(pm.buildTimes, duration)
	if len(pm.buildTimes) > 100 {
		pm.buildTimes = pm.buildTimes[len(pm.buildTimes)-100:]
	}
}

// RecordCacheHit records a cache hit
func (pm *PerformanceMonitor) RecordCacheHit() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.cacheHits++
	pm.updateCacheHitRate()
}

// RecordCacheMiss records a cache miss
func (pm *PerformanceMonitor) RecordCacheMiss() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.cacheMisses++
	pm.updateCacheHitRate()
}

// RecordExpansion records one trie/store doubling.
func (pm *PerformanceMonitor) RecordExpansion() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.expansions++
}

func (pm *PerformanceMonitor) updateCacheHitRate() {
	total := pm.cacheHits + pm.cacheMisses
	if total > 0 {
		pm.cacheHitRate = float64(pm.cacheHits) / float64(total)
	}
}

// GetMetrics returns performance metrics
func (pm *PerformanceMonitor) GetMetrics() map[string]interface{} {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	metrics := map[string]interface{}{
		"uptime":         time.Since(pm.startTime),
		"cache_hit_rate": pm.cacheHitRate,
		"cache_hits":     pm.cacheHits,
		"cache_misses":   pm.cacheMisses,
		"expansions":     pm.expansions,
		"heap_alloc":     mem.HeapAlloc,
		"heap_objects":   mem.HeapObjects,
	}
	if len(pm.lookupLatencies) > 0 {
		metrics["avg_lookup_latency"] = averageDuration(pm.lookupLatencies)
	}
	if len(pm.insertLatencies) > 0 {
		metrics["avg_insert_latency"] = averageDuration(pm.insertLatencies)
	}
	if len(pm.buildTimes) > 0 {
		metrics["avg_build_time"] = averageDuration(pm.buildTimes)
	}

	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err == nil {
		metrics["max_rss_kb"] = usage.Maxrss
	}
	return metrics
}

func averageDuration(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}
