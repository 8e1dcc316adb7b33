package mempool

import (
	"fmt"
	"log/slog"

	humanize "github.com/dustin/go-humanize"
)

// ArenaMetrics is a snapshot of arena statistics.
type ArenaMetrics struct {
	Used        int     // bytes handed out since the last reset
	Capacity    int     // aligned capacity in bytes
	Allocs      uint64  // successful allocations over the arena's lifetime
	Failures    uint64  // allocations refused for lack of space
	InFlight    int64   // allocations in progress when the snapshot was taken
	Utilization float64 // Used / Capacity, 0.0 to 1.0
}

// Metrics returns a snapshot of the arena's statistics.
func (a *Arena) Metrics() ArenaMetrics {
	used := a.Used()
	return ArenaMetrics{
		Used:        used,
		Capacity:    a.capacity,
		Allocs:      a.allocs.Load(),
		Failures:    a.failures.Load(),
		InFlight:    a.gate.inflight(),
		Utilization: ratio(used, a.capacity),
	}
}

func (m ArenaMetrics) String() string {
	return fmt.Sprintf("arena{used: %s, capacity: %s, allocs: %s, failures: %s, usage: %.1f%%}",
		humanize.IBytes(uint64(m.Used)), humanize.IBytes(uint64(m.Capacity)),
		humanize.Comma(int64(m.Allocs)), humanize.Comma(int64(m.Failures)), m.Utilization*100)
}

// LogValue implements slog.LogValuer.
func (m ArenaMetrics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("used", m.Used),
		slog.Int("capacity", m.Capacity),
		slog.Uint64("allocs", m.Allocs),
		slog.Uint64("failures", m.Failures),
		slog.Float64("utilization", m.Utilization),
	)
}

// SlabMetrics is a snapshot of slab statistics.
type SlabMetrics struct {
	BlockSize   int
	NumBlocks   int
	Used        int
	Free        int
	Utilization float64 // Used / NumBlocks
}

// Metrics returns a snapshot of the slab's statistics.
func (s *Slab) Metrics() SlabMetrics {
	free := int(s.freeCount.Load())
	used := s.numBlocks - free
	return SlabMetrics{
		BlockSize:   s.blockSize,
		NumBlocks:   s.numBlocks,
		Used:        used,
		Free:        free,
		Utilization: ratio(used, s.numBlocks),
	}
}

// Bytes returns the size of the slab's data region.
func (m SlabMetrics) Bytes() int {
	return m.BlockSize * m.NumBlocks
}

func (m SlabMetrics) String() string {
	return fmt.Sprintf("slab{blocks: %s x %s, used: %s, free: %s, usage: %.1f%%}",
		humanize.Comma(int64(m.NumBlocks)), humanize.IBytes(uint64(m.BlockSize)),
		humanize.Comma(int64(m.Used)), humanize.Comma(int64(m.Free)), m.Utilization*100)
}

// LogValue implements slog.LogValuer.
func (m SlabMetrics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("block_size", m.BlockSize),
		slog.Int("blocks", m.NumBlocks),
		slog.Int("used", m.Used),
		slog.Int("free", m.Free),
	)
}

// PoolMetrics is a snapshot of pool statistics. Cached blocks are included
// in Slab.Used.
type PoolMetrics struct {
	Slab            SlabMetrics
	BlocksPerThread int
	Caches          int    // live Locals
	Cached          int    // blocks parked in Locals and shared caches
	Hits            uint64 // allocations served from a cache
	Misses          uint64 // allocations that went to the slab
	Spills          uint64 // frees that went to the slab because the cache was full
}

// Metrics returns a snapshot of the pool's statistics. Counters of live
// caches are read while their owners may still be running, so the snapshot
// is not atomic.
func (p *Pool) Metrics() PoolMetrics {
	m := PoolMetrics{
		Slab:            p.slab.Metrics(),
		BlocksPerThread: p.perThread,
		Hits:            p.retiredHits.Load(),
		Misses:          p.retiredMisses.Load(),
		Spills:          p.retiredSpills.Load(),
	}
	add := func(c *localCache) {
		m.Cached += int(c.count.Load())
		m.Hits += c.hits.Load()
		m.Misses += c.misses.Load()
		m.Spills += c.spills.Load()
	}
	p.forEachShard(add)
	p.forEachLocal(func(c *localCache) {
		m.Caches++
		add(c)
	})
	return m
}

// HitRate returns the fraction of allocations served from caches.
func (m PoolMetrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

func (m PoolMetrics) String() string {
	return fmt.Sprintf("pool{%v, caches: %d, cached: %s, hits: %s, misses: %s, spills: %s, hit rate: %.1f%%}",
		m.Slab, m.Caches, humanize.Comma(int64(m.Cached)),
		humanize.Comma(int64(m.Hits)), humanize.Comma(int64(m.Misses)),
		humanize.Comma(int64(m.Spills)), m.HitRate()*100)
}

// LogValue implements slog.LogValuer.
func (m PoolMetrics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("slab", m.Slab),
		slog.Int("caches", m.Caches),
		slog.Int("cached", m.Cached),
		slog.Uint64("hits", m.Hits),
		slog.Uint64("misses", m.Misses),
		slog.Uint64("spills", m.Spills),
	)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
