package go_netdbreq

import (
	"sync"
	"sync/atomic"
)

// exclusionPool recycles the exclusion snapshots handed to the peer
// selector on every attempt. One snapshot is taken per attempt, so under a
// high lookup rate this is the allocation that churns.
//
// Lookup handles themselves are never recycled: callers keep them after
// completion and read their exclusion set and result.
//
// The free list is bounded and dropped wholesale by CleanUp, which the
// request manager runs every REQUESTED_DESTINATIONS_POOL_CLEANUP_INTERVAL.
type exclusionPool struct {
	mu       sync.Mutex
	free     []ExclusionSet
	maxFree  int
	disabled bool

	// Metrics for monitoring pool effectiveness
	gets     uint64
	puts     uint64
	news     uint64
	released uint64
}

func newExclusionPool(maxFree int) *exclusionPool {
	if maxFree <= 0 {
		maxFree = 64
	}
	return &exclusionPool{maxFree: maxFree}
}

// Get returns an empty set, reusing a pooled one when available.
func (p *exclusionPool) Get() ExclusionSet {
	atomic.AddUint64(&p.gets, 1)
	p.mu.Lock()
	if n := len(p.free); n > 0 && !p.disabled {
		set := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return set
	}
	p.mu.Unlock()
	atomic.AddUint64(&p.news, 1)
	return make(ExclusionSet, MAX_NUM_REQUEST_ATTEMPTS)
}

// Put empties set and keeps it for reuse. The caller must not touch set afterwards.
func (p *exclusionPool) Put(set ExclusionSet) {
	if set == nil {
		return
	}
	clear(set)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled || len(p.free) >= p.maxFree {
		return // Let GC handle it
	}
	atomic.AddUint64(&p.puts, 1)
	p.free = append(p.free, set)
}

// CleanUp drops every pooled set and returns how many were released.
func (p *exclusionPool) CleanUp() int {
	p.mu.Lock()
	n := len(p.free)
	p.free = nil
	p.mu.Unlock()
	atomic.AddUint64(&p.released, uint64(n))
	return n
}

// SetEnabled switches pooling on or off. Disabling drops the free list.
func (p *exclusionPool) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.disabled = !enabled
	if !enabled {
		p.free = nil
	}
	p.mu.Unlock()
}

// PoolStats reports exclusion snapshot pool usage.
type PoolStats struct {
	Gets     uint64 // Snapshots requested
	Puts     uint64 // Snapshots returned and kept
	News     uint64 // Snapshots freshly allocated
	Released uint64 // Snapshots dropped by cleanup passes
	Pooled   int    // Snapshots currently on the free list
}

func (p *exclusionPool) Stats() PoolStats {
	p.mu.Lock()
	pooled := len(p.free)
	p.mu.Unlock()
	return PoolStats{
		Gets:     atomic.LoadUint64(&p.gets),
		Puts:     atomic.LoadUint64(&p.puts),
		News:     atomic.LoadUint64(&p.news),
		Released: atomic.LoadUint64(&p.released),
		Pooled:   pooled,
	}
}
