package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"unsafe"

	"github.com/kelindar/bitmap"
	"github.com/pavanmanishd/mempool"
	"golang.org/x/sync/errgroup"
)

type config struct {
	Workers    int
	Iterations int
	Hold       int
	BlockSize  int
	Blocks     int
	PerThread  int
	Capacity   int
	Options    []mempool.Option
}

type result struct {
	Ops       uint64
	Exhausted uint64
	Distinct  int // blocks touched by at least one worker
	Metrics   fmt.Stringer
}

// stamp fills b with a pattern unique to (worker, round), so a block shared
// by two owners shows up as a mismatch in check.
func stamp(b []byte, worker, round int) {
	var tag [8]byte
	binary.LittleEndian.PutUint32(tag[:4], uint32(worker))
	binary.LittleEndian.PutUint32(tag[4:], uint32(round))
	for i := 0; i < len(b); i += len(tag) {
		copy(b[i:], tag[:])
	}
}

func check(b []byte, worker, round int) error {
	var want [8]byte
	stamp(want[:], worker, round)
	for i := 0; i < len(b); i += len(want) {
		n := min(len(want), len(b)-i)
		if string(b[i:i+n]) != string(want[:n]) {
			return fmt.Errorf("worker %d round %d: block overwritten at byte %d", worker, round, i)
		}
	}
	return nil
}

// blockAllocator is the part of a slab or pool cache a worker drives.
type blockAllocator interface {
	Alloc() (unsafe.Pointer, error)
	Free(unsafe.Pointer) error
}

// worker runs rounds of alloc, stamp, check and free against a. It records
// every block index it held in touched.
func worker(ctx context.Context, id int, cfg config, a blockAllocator, index func(unsafe.Pointer) (int, error), touched *bitmap.Bitmap, ops, exhausted *atomic.Uint64) error {
	var held bitmap.Bitmap
	ptrs := make([]unsafe.Pointer, 0, cfg.Hold)
	size := mempool.AlignSize(cfg.BlockSize)

	for round := 0; round < cfg.Iterations; round++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		want := 1 + rand.IntN(cfg.Hold)
		for len(ptrs) < want {
			p, err := a.Alloc()
			if errors.Is(err, mempool.ErrExhausted) {
				exhausted.Add(1)
				break
			}
			if err != nil {
				return fmt.Errorf("worker %d: alloc: %w", id, err)
			}
			idx, err := index(p)
			if err != nil {
				return fmt.Errorf("worker %d: block of %p: %w", id, p, err)
			}
			if held.Contains(uint32(idx)) {
				return fmt.Errorf("worker %d: block %d handed out while already held", id, idx)
			}
			held.Set(uint32(idx))
			touched.Set(uint32(idx))
			stamp(unsafe.Slice((*byte)(p), size), id, round)
			ptrs = append(ptrs, p)
			ops.Add(1)
		}
		for _, p := range ptrs {
			if err := check(unsafe.Slice((*byte)(p), size), id, round); err != nil {
				return err
			}
		}
		// free a random suffix, keep the rest for the next round
		keep := rand.IntN(len(ptrs) + 1)
		for _, p := range ptrs[keep:] {
			idx, _ := index(p)
			held.Remove(uint32(idx))
			if err := a.Free(p); err != nil {
				return fmt.Errorf("worker %d: free block %d: %w", id, idx, err)
			}
			ops.Add(1)
		}
		ptrs = ptrs[:keep]
		for _, p := range ptrs {
			stamp(unsafe.Slice((*byte)(p), size), id, round+1)
		}
	}
	for _, p := range ptrs {
		if err := a.Free(p); err != nil {
			return fmt.Errorf("worker %d: free: %w", id, err)
		}
	}
	if n := held.Count(); n != len(ptrs) {
		return fmt.Errorf("worker %d: tracked %d held blocks, had %d", id, n, len(ptrs))
	}
	return nil
}

// fanOut runs fn on cfg.Workers goroutines and merges their touched bitmaps.
// It returns the number of distinct indices touched and the sum of the
// per-worker counts; the two differ when workers touched the same index.
func fanOut(ctx context.Context, cfg config, fn func(ctx context.Context, id int, touched *bitmap.Bitmap) error) (distinct, total int, err error) {
	touched := make([]bitmap.Bitmap, cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for id := range cfg.Workers {
		g.Go(func() error {
			return fn(ctx, id, &touched[id])
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	var all bitmap.Bitmap
	for _, t := range touched {
		all.Or(t)
		total += t.Count()
	}
	return all.Count(), total, nil
}

func stressSlab(ctx context.Context, cfg config) (result, error) {
	s, err := mempool.NewSlab(cfg.BlockSize, cfg.Blocks, cfg.Options...)
	if err != nil {
		return result{}, err
	}
	defer s.Release()

	index := func(p unsafe.Pointer) (int, error) {
		b, err := s.BlockOf(p)
		return b.Index(), err
	}
	var ops, exhausted atomic.Uint64
	distinct, _, err := fanOut(ctx, cfg, func(ctx context.Context, id int, touched *bitmap.Bitmap) error {
		return worker(ctx, id, cfg, s, index, touched, &ops, &exhausted)
	})
	if err != nil {
		return result{}, err
	}
	if err := s.Validate(); err != nil {
		return result{}, fmt.Errorf("validate: %w", err)
	}
	if used, _, _ := s.Stats(); used != 0 {
		return result{}, fmt.Errorf("%d blocks still allocated after all workers freed theirs", used)
	}
	return result{Ops: ops.Load(), Exhausted: exhausted.Load(), Distinct: distinct, Metrics: s.Metrics()}, nil
}

func stressPool(ctx context.Context, cfg config) (result, error) {
	p, err := mempool.NewPool(cfg.BlockSize, cfg.PerThread, cfg.Blocks, cfg.Options...)
	if err != nil {
		return result{}, err
	}
	defer p.Release()

	index := func(ptr unsafe.Pointer) (int, error) {
		b, err := p.BlockOf(ptr)
		return b.Index(), err
	}
	var ops, exhausted atomic.Uint64
	distinct, _, err := fanOut(ctx, cfg, func(ctx context.Context, id int, touched *bitmap.Bitmap) error {
		l, err := p.Attach()
		if err != nil {
			return err
		}
		defer l.Detach()
		return worker(ctx, id, cfg, l, index, touched, &ops, &exhausted)
	})
	if err != nil {
		return result{}, err
	}
	m := p.Metrics()
	slog.Debug("pool caches drained", "metrics", m)
	if err := p.Validate(); err != nil {
		return result{}, fmt.Errorf("validate: %w", err)
	}
	if m.Slab.Used != 0 {
		return result{}, fmt.Errorf("%d blocks still allocated after every cache detached", m.Slab.Used)
	}
	return result{Ops: ops.Load(), Exhausted: exhausted.Load(), Distinct: distinct, Metrics: m}, nil
}

// stressArena fills the arena from every worker, checks the regions they got
// are disjoint, then resets it for the next round. Rounds are separated by a
// barrier since Reset invalidates every allocation.
func stressArena(ctx context.Context, cfg config) (result, error) {
	a, err := mempool.NewArena(cfg.Capacity, cfg.Options...)
	if err != nil {
		return result{}, err
	}
	defer a.Release()

	// the first allocation after a reset sits at the arena base
	probe, err := a.Alloc(1)
	if err != nil {
		return result{}, err
	}
	base := uintptr(probe)
	if err := a.Reset(); err != nil {
		return result{}, err
	}

	var ops, exhausted atomic.Uint64
	lines := a.Capacity() / mempool.CacheLineSize
	distinct := 0
	for round := 0; round < cfg.Iterations; round++ {
		n, total, err := fanOut(ctx, config{Workers: cfg.Workers}, func(ctx context.Context, id int, touched *bitmap.Bitmap) error {
			var bufs [][]byte
			for ctx.Err() == nil {
				b := a.AllocBytes(cfg.BlockSize)
				if b == nil {
					exhausted.Add(1)
					break
				}
				line := int(uintptr(unsafe.Pointer(unsafe.SliceData(b)))-base) / mempool.CacheLineSize
				if line < 0 || line >= lines {
					return fmt.Errorf("worker %d: allocation at line %d outside the arena", id, line)
				}
				if touched.Contains(uint32(line)) {
					return fmt.Errorf("worker %d: line %d handed out twice", id, line)
				}
				touched.Set(uint32(line))
				stamp(b, id, round)
				bufs = append(bufs, b)
				ops.Add(1)
			}
			for _, b := range bufs {
				if err := check(b, id, round); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return result{}, err
		}
		if n != total {
			return result{}, fmt.Errorf("round %d: %d lines handed to more than one worker", round, total-n)
		}
		distinct = max(distinct, n)
		if a.Used() > a.Capacity() {
			return result{}, fmt.Errorf("arena used %d of %d", a.Used(), a.Capacity())
		}
		if err := a.Reset(); err != nil {
			return result{}, fmt.Errorf("reset: %w", err)
		}
	}
	return result{Ops: ops.Load(), Exhausted: exhausted.Load(), Distinct: distinct, Metrics: a.Metrics()}, nil
}
