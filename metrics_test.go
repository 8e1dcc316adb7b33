package mempool

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaMetrics(t *testing.T) {
	a, err := NewArena(1000)
	require.NoError(t, err)
	defer a.Release()

	m := a.Metrics()
	assert.Zero(t, m.Used)
	assert.Equal(t, a.Capacity(), m.Capacity)
	assert.Zero(t, m.Utilization)

	a.AllocBytes(100)
	a.AllocBytes(200)
	a.AllocBytes(1 << 20)

	m = a.Metrics()
	if m.Used != a.Used() {
		t.Errorf("Metrics.Used = %d, want %d", m.Used, a.Used())
	}
	assert.Equal(t, uint64(2), m.Allocs)
	assert.Equal(t, uint64(1), m.Failures)
	assert.Zero(t, m.InFlight)
	assert.InDelta(t, float64(m.Used)/float64(m.Capacity), m.Utilization, 1e-9)

	s := m.String()
	assert.Contains(t, s, "arena{")
	assert.Contains(t, s, "failures: 1")
}

func TestSlabMetrics(t *testing.T) {
	s := newTestSlab(t, 64, 2000)

	for i := 0; i < 1500; i++ {
		_, err := s.Alloc()
		require.NoError(t, err)
	}

	m := s.Metrics()
	assert.Equal(t, 1500, m.Used)
	assert.Equal(t, 500, m.Free)
	assert.Equal(t, s.NumBlocks(), m.Used+m.Free)
	assert.InDelta(t, 0.75, m.Utilization, 1e-9)
	assert.Equal(t, 2000*s.BlockSize(), m.Bytes())
	assert.Contains(t, m.String(), "used: 1,500")
}

func TestPoolMetrics(t *testing.T) {
	p := newTestPool(t, 32, 2, 8)

	l1, err := p.Attach()
	require.NoError(t, err)
	l2, err := p.Attach()
	require.NoError(t, err)

	// l1: miss, free to cache, hit
	ptr, err := l1.Alloc()
	require.NoError(t, err)
	require.NoError(t, l1.Free(ptr))
	ptr, err = l1.Alloc()
	require.NoError(t, err)
	require.NoError(t, l1.Free(ptr))

	// l2: three misses, each freed to the cache and taken back by a hit
	for i := 0; i < 3; i++ {
		p2, err := l2.Alloc()
		require.NoError(t, err)
		require.NoError(t, l2.Free(p2))
		_, err = l2.Alloc()
		require.NoError(t, err)
	}

	m := p.Metrics()
	assert.Equal(t, 2, m.Caches)
	assert.Equal(t, 2, m.BlocksPerThread)
	assert.Equal(t, uint64(1+3), m.Misses)
	assert.Equal(t, uint64(1+3), m.Hits)
	assert.Equal(t, l1.Len()+l2.Len(), m.Cached)
	assert.InDelta(t, 0.5, m.HitRate(), 1e-9)

	require.NoError(t, l2.Detach())
	m2 := p.Metrics()
	assert.Equal(t, 1, m2.Caches)
	assert.Equal(t, m.Hits, m2.Hits, "detached counters are kept")
	assert.Equal(t, m.Misses, m2.Misses)

	assert.Contains(t, m2.String(), "caches: 1")
	require.NoError(t, l1.Detach())
}

func TestPoolMetricsEmpty(t *testing.T) {
	var m PoolMetrics
	assert.Zero(t, m.HitRate())
	assert.Zero(t, ratio(3, 0))
}

func TestMetricsLogValue(t *testing.T) {
	p := newTestPool(t, 64, 4, 16)
	l, err := p.Attach()
	require.NoError(t, err)
	defer l.Detach()
	_, err = l.Alloc()
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("stats", "pool", p.Metrics())

	var rec struct {
		Pool struct {
			Slab struct {
				Used   int `json:"used"`
				Blocks int `json:"blocks"`
			} `json:"slab"`
			Caches int    `json:"caches"`
			Misses uint64 `json:"misses"`
		} `json:"pool"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), buf.String())
	assert.Equal(t, 1, rec.Pool.Slab.Used)
	assert.Equal(t, 16, rec.Pool.Slab.Blocks)
	assert.Equal(t, 1, rec.Pool.Caches)
	assert.Equal(t, uint64(1), rec.Pool.Misses)

	buf.Reset()
	a, err := NewArena(128)
	require.NoError(t, err)
	defer a.Release()
	logger.Info("stats", "arena", a.Metrics())
	assert.True(t, strings.Contains(buf.String(), `"capacity":`), buf.String())
}
