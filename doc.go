// Package mempool implements cache line aware memory allocators for Go: a
// fixed-capacity bump arena, a fixed-size block slab with a lock-free free
// list, and a pool that puts per-goroutine block caches in front of a slab.
//
// # Overview
//
// Every allocator owns one contiguous region, taken from the Go heap or from
// an anonymous memory mapping, and aligned to CacheLineSize. Sizes and block
// strides are rounded up to CacheLineSize so that no two allocations share a
// cache line.
//
//   - Arena: bump allocation, wholesale Reset, no individual frees
//   - Slab: fixed-size blocks, individual frees, corruption detection
//   - Pool: a Slab plus per-goroutine caches for contention-free reuse
//
// # Basic Usage
//
//	a, err := mempool.NewArena(64 << 10)
//	if err != nil {
//		return err
//	}
//	defer a.Release()
//
//	buf := a.AllocBytes(1024)
//	hdr, err := mempool.New[Header](a)
//	a.Reset()
//
// Slabs hand out blocks as raw pointers or as Block handles:
//
//	s, _ := mempool.NewSlab(64, 1024)
//	p, _ := s.Alloc()
//	_ = s.Free(p)
//
//	b, _ := s.AllocBlock()
//	mem, _ := s.Bytes(b)
//	_ = s.FreeBlock(b)
//
// # Thread Safety
//
// Arena, Slab and Pool are safe for concurrent use. A Local, the cache
// returned by Pool.Attach, belongs to one goroutine at a time:
//
//	l, _ := pool.Attach()
//	defer l.Detach()
//
//	p, _ := l.Alloc()
//	_ = l.Free(p)
//
// Pool.Alloc and Pool.Free share GOMAXPROCS caches among all callers. Alloc
// takes a parked block from any of them before it goes to the slab, so a
// block freed through Pool.Free is never stranded in a cache.
//
// # Error Detection
//
// Slab.Free rejects nil pointers, pointers outside the slab, pointers into
// the middle of a block, blocks that were never allocated and blocks that
// are already free, without changing any state. Block handles carry a
// generation, so freeing a handle whose block has since been reallocated is
// caught too. Use Classify to sort errors into broad kinds.
//
// # Important Notes
//
//   - Memory is only valid until Reset or Release
//   - Allocator memory is not scanned by the garbage collector, so do not
//     store the only reference to a Go object in it
//   - Alloc does not zero memory; New, MakeSlice and NewBlock do
//
// # Metrics and Monitoring
//
// Metrics returns a snapshot for each allocator. Snapshots print in human
// readable form and implement slog.LogValuer:
//
//	logger.Info("pool", "metrics", pool.Metrics())
package mempool
