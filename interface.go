package mempool

import "unsafe"

// BlockAllocator hands out fixed-size blocks. *Slab, *Pool and *Local
// implement it.
type BlockAllocator interface {
	// Alloc returns a cache line aligned block of BlockSize bytes.
	Alloc() (unsafe.Pointer, error)

	// Free returns a block obtained from Alloc on the same allocator.
	Free(ptr unsafe.Pointer) error

	// BlockSize returns the usable size of every block.
	BlockSize() int
}

var (
	_ BlockAllocator = (*Slab)(nil)
	_ BlockAllocator = (*Pool)(nil)
	_ BlockAllocator = (*Local)(nil)
)
