package mempool

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
	"weak"

	"golang.org/x/sys/cpu"
)

// Pool layers per-goroutine block caches over one shared Slab. A block freed
// into a cache stays allocated as far as the slab is concerned and is handed
// straight back by the next allocation from the same cache, so steady
// alloc/free traffic never touches the slab's shared free list.
//
// Attach gives a goroutine a Local cache of its own that no other goroutine
// draws from. Pool.Alloc and Pool.Free instead share GOMAXPROCS caches among
// all callers: Free parks a block in a shared cache with room, and Alloc
// takes a block from any shared cache before it goes to the slab, so blocks
// parked there are never stranded. Pool is safe for concurrent use; a Local
// is not.
type Pool struct {
	slab      *Slab
	blockSize int
	perThread int
	logger    *slog.Logger

	initialized atomic.Bool
	nextID      atomic.Uint64
	locals      sync.Map // cache id -> weak.Pointer[Local]
	shards      []shard
	freeing     atomic.Int64 // Pool.Free calls moving a block

	// counters of caches that have been detached or collected
	retiredHits   atomic.Uint64
	retiredMisses atomic.Uint64
	retiredSpills atomic.Uint64
}

// NewPool creates a pool of totalBlocks blocks of blockSize bytes, where
// every cache holds at most blocksPerThread blocks.
func NewPool(blockSize, blocksPerThread, totalBlocks int, opts ...Option) (*Pool, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("pool block size %d: %w", blockSize, ErrInvalidSize)
	}
	if blocksPerThread <= 0 {
		return nil, fmt.Errorf("pool blocks per thread %d: %w", blocksPerThread, ErrInvalidCount)
	}
	if totalBlocks <= 0 {
		return nil, fmt.Errorf("pool total blocks %d: %w", totalBlocks, ErrInvalidCount)
	}
	slab, err := NewSlab(blockSize, totalBlocks, opts...)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		slab:      slab,
		blockSize: blockSize,
		perThread: blocksPerThread,
		logger:    slab.logger,
		shards:    make([]shard, runtime.GOMAXPROCS(0)),
	}
	for i := range p.shards {
		p.shards[i].cache.slots = make([]unsafe.Pointer, blocksPerThread)
	}
	p.initialized.Store(true)
	p.logger.Debug("pool created",
		slog.Int("block_size", slab.BlockSize()), slog.Int("per_thread", blocksPerThread),
		slog.Int("blocks", totalBlocks))
	return p, nil
}

// Attach creates a cache for the calling goroutine. The Local must not be
// shared; call Detach when the goroutine is done with the pool to return
// its cached blocks. A Local that is dropped without Detach returns them
// once the garbage collector finds it unreachable.
func (p *Pool) Attach() (*Local, error) {
	if !p.initialized.Load() {
		return nil, ErrReleased
	}
	l := p.newLocal()
	runtime.AddCleanup(l, p.reclaim, l.cache)
	p.logger.Debug("pool cache attached", slog.Uint64("cache", l.cache.id))
	return l, nil
}

func (p *Pool) newLocal() *Local {
	c := &localCache{
		id:    p.nextID.Add(1),
		slots: make([]unsafe.Pointer, p.perThread),
	}
	l := &Local{pool: p, cache: c}
	p.locals.Store(c.id, weak.Make(l))
	return l
}

// reclaim runs after a Local became unreachable without being detached.
func (p *Pool) reclaim(c *localCache) {
	p.locals.Delete(c.id)
	if !c.detached.CompareAndSwap(false, true) {
		return
	}
	p.retire(c)
	n, err := c.spill(p.slab)
	p.logger.Debug("pool cache reclaimed",
		slog.Uint64("cache", c.id), slog.Int("blocks", n), slog.Any("error", err))
}

func (p *Pool) retire(c *localCache) {
	p.retiredHits.Add(c.hits.Load())
	p.retiredMisses.Add(c.misses.Load())
	p.retiredSpills.Add(c.spills.Load())
}

// shard is a cache shared by Pool.Alloc and Pool.Free callers, one at a
// time.
type shard struct {
	busy  atomic.Bool
	cache localCache
	_     cpu.CacheLinePad
}

// claim takes sh without waiting.
func (sh *shard) claim() bool {
	return sh.busy.CompareAndSwap(false, true)
}

func (sh *shard) release() {
	sh.busy.Store(false)
}

// takeShared pops a block from the first shared cache, starting at start,
// that holds one and is not in use.
func (p *Pool) takeShared(start int) (unsafe.Pointer, bool) {
	n := len(p.shards)
	for i := range n {
		sh := &p.shards[(start+i)%n]
		if sh.cache.count.Load() == 0 || !sh.claim() {
			continue
		}
		ptr, ok := sh.cache.pop(p.slab)
		sh.release()
		if ok {
			return ptr, true
		}
	}
	return nil, false
}

// sharedCached reports whether any shared cache holds a block, or a
// Pool.Free is about to put one there or on the slab.
func (p *Pool) sharedCached() bool {
	if p.freeing.Load() > 0 {
		return true
	}
	for i := range p.shards {
		if p.shards[i].cache.count.Load() > 0 {
			return true
		}
	}
	return false
}

// Alloc returns a block parked in a shared cache, or one from the slab when
// every shared cache is empty. It returns ErrExhausted only when the slab is
// out of blocks and no shared cache holds one.
func (p *Pool) Alloc() (unsafe.Pointer, error) {
	if !p.initialized.Load() {
		return nil, ErrReleased
	}
	start := rand.IntN(len(p.shards))
	for {
		if ptr, ok := p.takeShared(start); ok {
			return ptr, nil
		}
		ptr, err := p.slab.Alloc()
		if err == nil {
			p.shards[start].cache.misses.Add(1)
			return ptr, nil
		}
		// a shard that was busy or empty during the scan may have been
		// refilled since, or a free may still be in flight
		if !errors.Is(err, ErrExhausted) || !p.sharedCached() {
			return nil, err
		}
	}
}

// Free parks ptr in one of two randomly probed shared caches, or frees it to
// the slab when both are full or in use. Pointers the slab does not consider
// allocated, and pointers already parked in any cache, are rejected.
func (p *Pool) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return ErrNilPointer
	}
	if !p.initialized.Load() {
		return ErrReleased
	}
	p.freeing.Add(1)
	defer p.freeing.Add(-1)
	if err := p.slab.park(ptr); err != nil {
		return err
	}
	n := len(p.shards)
	start := rand.IntN(n)
	for probe := range min(n, 2) {
		sh := &p.shards[(start+probe)%n]
		if !sh.claim() {
			continue
		}
		ok := sh.cache.push(ptr)
		sh.release()
		if ok {
			return nil
		}
	}
	p.slab.unpark(ptr)
	p.shards[start].cache.spills.Add(1)
	return p.slab.Free(ptr)
}

// Release releases the shared slab. Every Local of the pool fails with
// ErrReleased afterwards, and blocks still sitting in caches are never
// handed out again.
func (p *Pool) Release() error {
	if !p.initialized.CompareAndSwap(true, false) {
		return ErrReleased
	}
	p.locals.Clear()
	p.logger.Debug("pool released", slog.Int("block_size", p.slab.BlockSize()))
	return p.slab.Release()
}

// Stats returns the slab's view: blocks allocated (including blocks parked in
// caches) and blocks free.
func (p *Pool) Stats() (allocated, free int, err error) {
	if !p.initialized.Load() {
		return 0, 0, ErrReleased
	}
	return p.slab.Stats()
}

// BlockSize returns the aligned block size in bytes.
func (p *Pool) BlockSize() int {
	return p.slab.BlockSize()
}

// BlocksPerThread returns the capacity of each cache.
func (p *Pool) BlocksPerThread() int {
	return p.perThread
}

// BlockOf returns the slab handle of the allocated block at ptr.
func (p *Pool) BlockOf(ptr unsafe.Pointer) (Block, error) {
	if !p.initialized.Load() {
		return Block{}, ErrReleased
	}
	return p.slab.BlockOf(ptr)
}

// Validate checks the shared slab. Blocks parked in caches count as
// allocated. It must only be called while the pool is idle.
func (p *Pool) Validate() error {
	if !p.initialized.Load() {
		return ErrReleased
	}
	return p.slab.Validate()
}

// Caches returns the number of live Locals.
func (p *Pool) Caches() int {
	n := 0
	p.forEachLocal(func(*localCache) { n++ })
	return n
}

func (p *Pool) forEachShard(fn func(*localCache)) {
	for i := range p.shards {
		fn(&p.shards[i].cache)
	}
}

func (p *Pool) forEachLocal(fn func(*localCache)) {
	p.locals.Range(func(_, v any) bool {
		if l := v.(weak.Pointer[Local]).Value(); l != nil {
			fn(l.cache)
		}
		return true
	})
}
