package mempool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestCacheLineSize(t *testing.T) {
	assert.Positive(t, CacheLineSize)
	assert.Zero(t, CacheLineSize&(CacheLineSize-1), "CacheLineSize = %d, want a power of two", CacheLineSize)
}

func TestAlignSize(t *testing.T) {
	l := CacheLineSize
	tests := []struct {
		name string
		size int
		want int
	}{
		{"zero", 0, 0},
		{"negative", -5, -5},
		{"one", 1, l},
		{"line minus one", l - 1, l},
		{"exact line", l, l},
		{"line plus one", l + 1, 2 * l},
		{"many lines", 10 * l, 10 * l},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlignSize(tt.size); got != tt.want {
				t.Errorf("AlignSize(%d) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

func TestAlignAddr(t *testing.T) {
	l := uintptr(CacheLineSize)
	tests := []struct {
		addr uintptr
		want uintptr
	}{
		{0, 0},
		{1, l},
		{l - 1, l},
		{l, l},
		{3*l + 7, 4 * l},
	}

	for _, tt := range tests {
		if got := AlignAddr(tt.addr); got != tt.want {
			t.Errorf("AlignAddr(%#x) = %#x, want %#x", tt.addr, got, tt.want)
		}
	}
}

func TestAlignProperties(t *testing.T) {
	for addr := uintptr(0); addr < uintptr(4*CacheLineSize); addr++ {
		aligned := AlignAddr(addr)
		if !IsAligned(aligned) {
			t.Fatalf("AlignAddr(%#x) = %#x, not aligned", addr, aligned)
		}
		if aligned < addr || aligned-addr >= uintptr(CacheLineSize) {
			t.Fatalf("AlignAddr(%#x) = %#x, want within one line above", addr, aligned)
		}
		if pad := PaddingFor(addr); addr+pad != aligned {
			t.Fatalf("PaddingFor(%#x) = %d, want %d", addr, pad, aligned-addr)
		}
		if IsAligned(addr) != (addr%uintptr(CacheLineSize) == 0) {
			t.Fatalf("IsAligned(%#x) = %v", addr, IsAligned(addr))
		}
	}
}

func TestAlignPointer(t *testing.T) {
	buf := make([]byte, 3*CacheLineSize)
	base := unsafe.Pointer(unsafe.SliceData(buf))
	for i := 0; i < CacheLineSize; i++ {
		p := alignPointer(unsafe.Add(base, i))
		assert.True(t, IsAligned(uintptr(p)))
		assert.Less(t, uintptr(p)-uintptr(base), uintptr(2*CacheLineSize))
	}
}
