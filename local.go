package mempool

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"unsafe"
)

// Local is one goroutine's block cache on a Pool. It must only be used by one
// goroutine at a time.
type Local struct {
	pool  *Pool
	cache *localCache
}

// localCache is a bounded stack of parked blocks. It is the part of a Local
// that outlives it, so the pool's cleanup hook can spill it once the Local is
// collected; pool shards embed one directly.
type localCache struct {
	id    uint64
	slots []unsafe.Pointer
	count atomic.Int64 // read by Pool.Metrics from other goroutines

	hits     atomic.Uint64
	misses   atomic.Uint64
	spills   atomic.Uint64
	detached atomic.Bool
}

// pop takes the most recently parked block out of the cache.
func (c *localCache) pop(s *Slab) (unsafe.Pointer, bool) {
	n := c.count.Load()
	if n == 0 {
		return nil, false
	}
	ptr := c.slots[n-1]
	c.slots[n-1] = nil
	c.count.Store(n - 1)
	s.unpark(ptr)
	c.hits.Add(1)
	return ptr, true
}

// push parks ptr, which the caller has marked with Slab.park. It reports
// false when the cache is full.
func (c *localCache) push(ptr unsafe.Pointer) bool {
	n := c.count.Load()
	if n == int64(len(c.slots)) {
		return false
	}
	c.slots[n] = ptr
	c.count.Store(n + 1)
	return true
}

// put parks ptr in the cache or frees it to s when the cache is full.
func (c *localCache) put(s *Slab, ptr unsafe.Pointer) error {
	if err := s.park(ptr); err != nil {
		return err
	}
	if c.push(ptr) {
		return nil
	}
	s.unpark(ptr)
	c.spills.Add(1)
	return s.Free(ptr)
}

// spill frees every cached block to s.
func (c *localCache) spill(s *Slab) (int, error) {
	n := int(c.count.Swap(0))
	var errs []error
	for i := n - 1; i >= 0; i-- {
		s.unpark(c.slots[i])
		if err := s.Free(c.slots[i]); err != nil {
			errs = append(errs, err)
		}
		c.slots[i] = nil
	}
	return n, errors.Join(errs...)
}

func (l *Local) check() error {
	if !l.pool.initialized.Load() {
		return ErrReleased
	}
	if l.cache.detached.Load() {
		return ErrDetached
	}
	return nil
}

// Alloc returns the most recently cached block, or a block from the shared
// slab when the cache is empty.
func (l *Local) Alloc() (unsafe.Pointer, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	if ptr, ok := l.cache.pop(l.pool.slab); ok {
		return ptr, nil
	}
	l.cache.misses.Add(1)
	return l.pool.slab.Alloc()
}

// Free parks ptr in the cache, or frees it to the shared slab when the cache
// is full. Pointers that the slab does not consider allocated are rejected
// on both paths, and so is a pointer that already sits in any cache of the
// pool.
func (l *Local) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return ErrNilPointer
	}
	if err := l.check(); err != nil {
		return err
	}
	return l.cache.put(l.pool.slab, ptr)
}

// Detach returns every cached block to the shared slab and retires the
// cache. The Local cannot be used afterwards.
func (l *Local) Detach() error {
	c, p := l.cache, l.pool
	if !c.detached.CompareAndSwap(false, true) {
		return ErrDetached
	}
	p.locals.Delete(c.id)
	p.retire(c)
	if !p.initialized.Load() {
		c.count.Store(0)
		clear(c.slots)
		return ErrReleased
	}
	n, err := c.spill(p.slab)
	p.logger.Debug("pool cache detached", slog.Uint64("cache", c.id), slog.Int("blocks", n))
	return err
}

// Len returns the number of blocks parked in the cache.
func (l *Local) Len() int {
	return int(l.cache.count.Load())
}

// Cap returns the cache capacity.
func (l *Local) Cap() int {
	return len(l.cache.slots)
}

// BlockSize returns the aligned block size of the pool.
func (l *Local) BlockSize() int {
	return l.pool.slab.BlockSize()
}
