package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavanmanishd/mempool"
)

func testConfig() config {
	return config{
		Workers:    4,
		Iterations: 50,
		Hold:       4,
		BlockSize:  48,
		Blocks:     64,
		PerThread:  4,
		Capacity:   16 << 10,
	}
}

func TestRun(t *testing.T) {
	for _, mode := range []string{"arena", "slab", "pool"} {
		t.Run(mode, func(t *testing.T) {
			res, err := run(context.Background(), mode, testConfig())
			require.NoError(t, err)
			assert.NotZero(t, res.Ops)
			assert.Positive(t, res.Distinct)
			assert.NotEmpty(t, res.Metrics.String())
		})
	}
}

func TestRunExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.Blocks = 2
	cfg.Hold = 8

	res, err := run(context.Background(), "slab", cfg)
	require.NoError(t, err)
	assert.NotZero(t, res.Exhausted)
	assert.LessOrEqual(t, res.Distinct, 2)
}

func TestRunUnknownMode(t *testing.T) {
	_, err := run(context.Background(), "heap", testConfig())
	assert.Error(t, err)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Blocks = 0
	_, err := run(context.Background(), "pool", cfg)
	assert.Equal(t, mempool.KindInvalidArgument, mempool.Classify(err))
}

func TestStampCheck(t *testing.T) {
	b := make([]byte, 20)
	stamp(b, 3, 7)
	require.NoError(t, check(b, 3, 7))
	assert.Error(t, check(b, 3, 8))

	b[19] ^= 0xFF
	assert.Error(t, check(b, 3, 7))
}
