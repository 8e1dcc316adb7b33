package mempool

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is the cache line size of the target architecture in bytes.
// Every allocation size and every region base is rounded up to it so that
// independently used blocks never share a line.
const CacheLineSize = int(unsafe.Sizeof(cpu.CacheLinePad{}))

// Compile-time checks: CacheLineSize is positive and a power of two.
var (
	_ [CacheLineSize - 1]byte
	_ = [1]struct{}{}[CacheLineSize&(CacheLineSize-1)]
)

const lineMask = uintptr(CacheLineSize - 1)

// AlignAddr returns the smallest address >= addr that is a multiple of
// CacheLineSize.
func AlignAddr(addr uintptr) uintptr {
	return (addr + lineMask) &^ lineMask
}

// AlignSize returns the smallest size >= size that is a multiple of
// CacheLineSize. Negative sizes are returned unchanged.
func AlignSize(size int) int {
	if size <= 0 {
		return size
	}
	return int(AlignAddr(uintptr(size)))
}

// PaddingFor returns the number of bytes needed to move addr to the next
// cache line boundary, 0 if it is already aligned.
func PaddingFor(addr uintptr) uintptr {
	if m := addr & lineMask; m != 0 {
		return uintptr(CacheLineSize) - m
	}
	return 0
}

// IsAligned reports whether addr sits on a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr&lineMask == 0
}

// alignPointer is AlignAddr for pointers into a live buffer.
func alignPointer(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(p, PaddingFor(uintptr(p)))
}
