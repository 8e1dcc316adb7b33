package mempool

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"unsafe"
)

// Arena is a fixed-capacity bump allocator. Allocation is a lock-free
// compare-and-swap on a single offset; memory is only reclaimed wholesale
// by Reset. Arena is safe for concurrent use.
type Arena struct {
	region   *region
	capacity int
	logger   *slog.Logger

	gate     gate
	offset   atomic.Int64
	allocs   atomic.Uint64
	failures atomic.Uint64
}

// NewArena creates an arena holding capacity bytes, rounded up to a multiple
// of CacheLineSize.
func NewArena(capacity int, opts ...Option) (*Arena, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("arena capacity %d: %w", capacity, ErrInvalidSize)
	}
	if capacity > maxRegion {
		return nil, fmt.Errorf("arena capacity %d exceeds %d: %w", capacity, maxRegion, ErrInvalidSize)
	}
	cfg := newConfig(opts)
	capacity = AlignSize(capacity)

	r, err := newRegion(cfg.backing, capacity)
	if err != nil {
		return nil, err
	}
	a := &Arena{region: r, capacity: capacity, logger: cfg.logger}
	a.logger.Debug("arena created",
		slog.Int("capacity", capacity), slog.String("backing", cfg.backing.String()))
	return a, nil
}

// Alloc reserves size bytes, rounded up to a multiple of CacheLineSize, and
// returns a cache line aligned pointer to them. The memory is not zeroed.
// When the request does not fit, Alloc returns ErrArenaFull and the arena is
// left unchanged.
func (a *Arena) Alloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("arena alloc %d: %w", size, ErrInvalidSize)
	}
	if err := a.gate.enter(); err != nil {
		return nil, err
	}
	defer a.gate.exit()

	if size > a.capacity {
		a.failures.Add(1)
		return nil, fmt.Errorf("arena alloc %d of %d: %w", size, a.capacity, ErrArenaFull)
	}
	n := int64(AlignSize(size))
	limit := int64(a.capacity)
	for {
		old := a.offset.Load()
		next := old + n
		if next > limit {
			a.failures.Add(1)
			return nil, fmt.Errorf("arena alloc %d at offset %d of %d: %w", n, old, limit, ErrArenaFull)
		}
		if a.offset.CompareAndSwap(old, next) {
			a.allocs.Add(1)
			return unsafe.Add(a.region.base, old), nil
		}
	}
}

// AllocBytes returns an n byte slice backed by the arena, or nil if n <= 0 or
// the arena cannot satisfy the request.
func (a *Arena) AllocBytes(n int) []byte {
	p, err := a.Alloc(n)
	if err != nil {
		return nil
	}
	return bytesAt(p, n)
}

// Reset rewinds the arena to empty. It does not clear memory, and every
// pointer handed out before the reset becomes invalid. Reset returns ErrBusy
// without changing anything if an allocation is in flight.
func (a *Arena) Reset() error {
	if err := a.gate.lock(); err != nil {
		return err
	}
	a.offset.Store(0)
	a.gate.unlock()
	return nil
}

// Release returns the arena's memory. Further calls fail with ErrReleased.
func (a *Arena) Release() error {
	if err := a.gate.close(); err != nil {
		return err
	}
	a.logger.Debug("arena released", slog.Int("capacity", a.capacity))
	return a.region.free()
}

// Stats returns the bytes in use and the arena capacity.
func (a *Arena) Stats() (used, capacity int, err error) {
	if a.gate.closed() {
		return 0, 0, ErrReleased
	}
	return int(a.offset.Load()), a.capacity, nil
}

// Used returns the number of bytes handed out since the last reset.
func (a *Arena) Used() int {
	return int(a.offset.Load())
}

// Capacity returns the aligned capacity in bytes.
func (a *Arena) Capacity() int {
	return a.capacity
}

// maxRegion bounds a single region so that alignment padding and offset
// arithmetic cannot overflow int.
const maxRegion = math.MaxInt >> 1
