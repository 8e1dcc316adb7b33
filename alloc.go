package mempool

import (
	"fmt"
	"runtime"
	"unsafe"
)

// New returns a zeroed T allocated from the arena. T must not contain Go
// pointers that are the only reference to their target, since arena memory
// is not scanned by the garbage collector.
func New[T any](a *Arena) (*T, error) {
	t, err := NewUninitialized[T](a)
	if err != nil {
		return nil, err
	}
	var zero T
	*t = zero
	return t, nil
}

// NewUninitialized is New without zeroing. The contents are whatever the
// arena held before, possibly data from before the last Reset.
func NewUninitialized[T any](a *Arena) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		size = 1
	}
	p, err := a.Alloc(size)
	if err != nil {
		return nil, err
	}
	return (*T)(p), nil
}

// MakeSlice allocates a zeroed slice of n elements from the arena.
func MakeSlice[T any](a *Arena, n int) ([]T, error) {
	if n <= 0 {
		return nil, fmt.Errorf("slice of %d elements: %w", n, ErrInvalidSize)
	}
	var zero T
	elem := int(unsafe.Sizeof(zero))
	if elem > 0 && n > maxRegion/elem {
		return nil, fmt.Errorf("slice of %d x %d bytes: %w", n, elem, ErrArenaFull)
	}
	total := max(elem*n, 1)
	p, err := a.Alloc(total)
	if err != nil {
		return nil, err
	}
	s := unsafe.Slice((*T)(p), n)
	clear(s)
	return s, nil
}

// NewBlock allocates a block from b and returns it as a zeroed T. It fails
// with ErrTooLarge if T does not fit in one block.
func NewBlock[T any](b BlockAllocator) (*T, error) {
	var zero T
	if size := int(unsafe.Sizeof(zero)); size > b.BlockSize() {
		return nil, fmt.Errorf("%T is %d bytes, block is %d: %w", zero, size, b.BlockSize(), ErrTooLarge)
	}
	p, err := b.Alloc()
	if err != nil {
		return nil, err
	}
	t := (*T)(p)
	*t = zero
	return t, nil
}

// FreeBlock returns t, obtained from NewBlock on the same allocator, to b.
func FreeBlock[T any](b BlockAllocator, t *T) error {
	return b.Free(unsafe.Pointer(t))
}

// KeepAlive returns t and keeps owner reachable until this call, for code
// that holds only a derived pointer into owner's memory.
func KeepAlive[T any](owner any, t *T) *T {
	runtime.KeepAlive(owner)
	return t
}
