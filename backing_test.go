package mempool

import (
	"log/slog"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBacking(t *testing.T) {
	tests := []struct {
		in      string
		want    Backing
		wantErr bool
	}{
		{"heap", HeapBacking, false},
		{"mmap", MmapBacking, false},
		{" MMAP ", MmapBacking, false},
		{"shm", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseBacking(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseBacking(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestBackingText(t *testing.T) {
	text, err := MmapBacking.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "mmap", string(text))

	var b Backing
	require.NoError(t, b.UnmarshalText([]byte("mmap")))
	assert.Equal(t, MmapBacking, b)
	assert.Error(t, b.UnmarshalText([]byte("disk")))
	assert.Equal(t, MmapBacking, b, "failed unmarshal keeps the old value")

	assert.Equal(t, "Backing(7)", Backing(7).String())
}

func TestRegionHeap(t *testing.T) {
	r, err := newRegion(HeapBacking, 4*CacheLineSize)
	require.NoError(t, err)

	assert.True(t, IsAligned(uintptr(r.base)))
	assert.True(t, r.contains(r.base))
	assert.True(t, r.contains(unsafe.Add(r.base, 4*CacheLineSize-1)))
	assert.False(t, r.contains(unsafe.Add(r.base, 4*CacheLineSize)))

	b := bytesAt(r.base, 4*CacheLineSize)
	b[len(b)-1] = 1
	require.NoError(t, r.free())
}

func TestRegionUnknownBacking(t *testing.T) {
	_, err := newRegion(Backing(9), 64)
	assert.Error(t, err)
}

func TestMmapBacking(t *testing.T) {
	s, err := NewSlab(4096, 16, WithBacking(MmapBacking))
	if err != nil {
		require.ErrorIs(t, err, ErrMmapUnsupported)
		assert.Equal(t, KindBacking, Classify(err))
		t.Skip("mmap backing not available")
	}

	b, err := s.AllocBlock()
	require.NoError(t, err)
	mem, err := s.Bytes(b)
	require.NoError(t, err)
	for i := range mem {
		mem[i] = byte(i)
	}
	assert.Equal(t, byte(255), mem[255])
	require.NoError(t, s.FreeBlock(b))
	require.NoError(t, s.Validate())

	require.NoError(t, s.Release())
	assert.ErrorIs(t, s.Release(), ErrReleased)
}

func TestOptions(t *testing.T) {
	cfg := newConfig(nil)
	assert.Equal(t, HeapBacking, cfg.backing)
	require.NotNil(t, cfg.logger)

	logger := slog.Default()
	cfg = newConfig([]Option{nil, WithBacking(MmapBacking), WithLogger(logger)})
	assert.Equal(t, MmapBacking, cfg.backing)
	assert.Same(t, logger, cfg.logger)

	cfg = newConfig([]Option{WithLogger(nil)})
	assert.NotNil(t, cfg.logger, "a nil logger is replaced by a discarding one")
}
