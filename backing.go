package mempool

import (
	"fmt"
	"strings"
	"unsafe"
)

// Backing selects where an allocator obtains its memory region.
//
// Blocks handed out by any allocator in this package live in memory that the
// garbage collector does not scan for pointers. A block must never hold the
// only reference to a Go heap object.
type Backing int

const (
	// HeapBacking carves the region out of a Go byte slice. The region is
	// reclaimed by the garbage collector once the allocator and every
	// pointer into it are unreachable.
	HeapBacking Backing = iota
	// MmapBacking uses an anonymous private mapping that is unmapped on
	// Release. Pointers into it must not be used after Release.
	MmapBacking
)

func (b Backing) String() string {
	switch b {
	case HeapBacking:
		return "heap"
	case MmapBacking:
		return "mmap"
	}
	return fmt.Sprintf("Backing(%d)", int(b))
}

// MarshalText implements encoding.TextMarshaler.
func (b Backing) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Backing) UnmarshalText(text []byte) error {
	v, err := ParseBacking(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseBacking parses "heap" or "mmap".
func ParseBacking(s string) (Backing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heap":
		return HeapBacking, nil
	case "mmap":
		return MmapBacking, nil
	}
	return 0, fmt.Errorf("mempool: unknown backing %q", s)
}

// region is one contiguous, cache line aligned span of memory owned by a
// single allocator.
type region struct {
	backing Backing
	buf     []byte         // whole reservation, kept to hold heap memory alive
	base    unsafe.Pointer // first aligned byte within buf
	size    int
}

func newRegion(backing Backing, size int) (*region, error) {
	r := &region{backing: backing, size: size}
	switch backing {
	case HeapBacking:
		r.buf = make([]byte, size+CacheLineSize)
		r.base = alignPointer(unsafe.Pointer(unsafe.SliceData(r.buf)))
	case MmapBacking:
		buf, err := mapRegion(size)
		if err != nil {
			return nil, &BackingError{Op: "map", Backing: backing, Size: size, Err: err}
		}
		r.buf = buf
		// mappings are page aligned, which implies cache line alignment
		r.base = unsafe.Pointer(unsafe.SliceData(buf))
	default:
		return nil, fmt.Errorf("mempool: unknown backing %d", int(backing))
	}
	return r, nil
}

// contains reports whether p falls within [base, base+size).
func (r *region) contains(p unsafe.Pointer) bool {
	off := uintptr(p) - uintptr(r.base)
	return uintptr(p) >= uintptr(r.base) && off < uintptr(r.size)
}

// bytesAt returns n bytes starting at p as a slice.
func bytesAt(p unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(p), n)
}

func (r *region) free() error {
	if r.backing == MmapBacking && r.buf != nil {
		buf := r.buf
		r.buf = nil
		if err := unmapRegion(buf); err != nil {
			return &BackingError{Op: "unmap", Backing: r.backing, Size: r.size, Err: err}
		}
	}
	return nil
}
