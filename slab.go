package mempool

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/willf/bitset"
	"golang.org/x/sys/cpu"
)

// Block tags. A block's state word holds the tag in its upper half and the
// allocation generation in its lower half. Any other tag means the metadata
// was overwritten.
const (
	tagFree      uint32 = 0xDEADBEEF
	tagAllocated uint32 = 0xA110CA7E
)

// maxBlocks keeps block indices, and index+1 in the free list head, within
// 32 bits on every platform.
const maxBlocks = math.MaxInt32

func makeState(tag, gen uint32) uint64 {
	return uint64(tag)<<32 | uint64(gen)
}

func splitState(s uint64) (tag, gen uint32) {
	return uint32(s >> 32), uint32(s)
}

// stateError explains why a block in the given state cannot be freed.
func stateError(tag, gen uint32) error {
	switch tag {
	case tagAllocated:
		return nil
	case tagFree:
		if gen == 0 {
			return ErrNotAllocated
		}
		return ErrDoubleFree
	}
	return ErrCorrupted
}

// blockMeta is kept apart from the data region so a stray write into a
// block cannot forge its own state.
type blockMeta struct {
	state atomic.Uint64
	next   atomic.Uint32 // free list link, index+1 of the next free block, 0 ends
	cached atomic.Bool   // allocated, but parked in a pool cache
	index  uint32
}

var slabIDs atomic.Uint32

// Slab hands out fixed-size, cache line aligned blocks from one contiguous
// region. Free blocks sit on a lock-free stack; every block carries a tagged
// state word that catches double frees, frees of blocks that were never
// allocated, and pointers that do not land on a block boundary. Slab is safe
// for concurrent use.
type Slab struct {
	region    *region
	meta      []blockMeta
	blockSize int
	numBlocks int
	id        uint32
	logger    *slog.Logger

	_         cpu.CacheLinePad
	head      atomic.Uint64 // version<<32 | top index+1
	_         cpu.CacheLinePad
	freeCount atomic.Int64
	_         cpu.CacheLinePad
	released  atomic.Bool
}

// NewSlab creates a slab of numBlocks blocks of blockSize bytes each, with
// blockSize rounded up to a multiple of CacheLineSize. All blocks start free.
func NewSlab(blockSize, numBlocks int, opts ...Option) (*Slab, error) {
	if blockSize <= 0 || blockSize > maxRegion {
		return nil, fmt.Errorf("slab block size %d: %w", blockSize, ErrInvalidSize)
	}
	if numBlocks <= 0 || numBlocks > maxBlocks {
		return nil, fmt.Errorf("slab block count %d: %w", numBlocks, ErrInvalidCount)
	}
	aligned := AlignSize(blockSize)
	if aligned > maxRegion/numBlocks {
		return nil, fmt.Errorf("slab of %d x %d bytes: %w", numBlocks, aligned, ErrInvalidSize)
	}
	cfg := newConfig(opts)

	r, err := newRegion(cfg.backing, aligned*numBlocks)
	if err != nil {
		return nil, err
	}
	s := &Slab{
		region:    r,
		meta:      make([]blockMeta, numBlocks),
		blockSize: aligned,
		numBlocks: numBlocks,
		id:        slabIDs.Add(1),
		logger:    cfg.logger,
	}
	for i := range s.meta {
		m := &s.meta[i]
		m.index = uint32(i)
		m.state.Store(makeState(tagFree, 0))
		if i+1 < numBlocks {
			m.next.Store(uint32(i + 2))
		}
	}
	s.head.Store(1)
	s.freeCount.Store(int64(numBlocks))

	s.logger.Debug("slab created",
		slog.Int("block_size", aligned), slog.Int("blocks", numBlocks),
		slog.String("backing", cfg.backing.String()))
	return s, nil
}

//---- free list

// pop claims the block on top of the free list.
func (s *Slab) pop() (uint32, bool) {
	for {
		h := s.head.Load()
		top := uint32(h)
		if top == 0 {
			return 0, false
		}
		next := s.meta[top-1].next.Load()
		if s.head.CompareAndSwap(h, (h>>32+1)<<32|uint64(next)) {
			return top - 1, true
		}
	}
}

// push publishes idx on top of the free list. The link is written before the
// head CAS, so a concurrent pop can only ever see idx together with its
// final link.
func (s *Slab) push(idx uint32) {
	m := &s.meta[idx]
	for {
		h := s.head.Load()
		m.next.Store(uint32(h))
		if s.head.CompareAndSwap(h, (h>>32+1)<<32|uint64(idx+1)) {
			return
		}
	}
}

//---- allocation

// Alloc returns a free block, or ErrExhausted if none is left.
func (s *Slab) Alloc() (unsafe.Pointer, error) {
	b, err := s.AllocBlock()
	if err != nil {
		return nil, err
	}
	return s.pointer(b.index), nil
}

// AllocBlock is Alloc returning a Block handle instead of a raw pointer.
func (s *Slab) AllocBlock() (Block, error) {
	if s.released.Load() {
		return Block{}, ErrReleased
	}
	idx, ok := s.pop()
	if !ok {
		return Block{}, ErrExhausted
	}
	m := &s.meta[idx]
	_, gen := splitState(m.state.Load())
	if gen++; gen == 0 {
		gen = 1
	}
	m.state.Store(makeState(tagAllocated, gen))
	s.freeCount.Add(-1)
	return Block{slab: s.id, index: idx, gen: gen}, nil
}

// Free returns the block at p to the slab. p must be a pointer previously
// returned by Alloc and not freed since. Free rejects nil, foreign, interior,
// never-allocated and already freed pointers without changing any state.
//
// The check is best effort: a pointer to a block that was freed and then
// handed out again cannot be told apart from the current owner's pointer.
// Block handles carry a generation and do catch that case.
func (s *Slab) Free(p unsafe.Pointer) error {
	if p == nil {
		return ErrNilPointer
	}
	if s.released.Load() {
		return ErrReleased
	}
	idx, err := s.indexOf(p)
	if err != nil {
		return err
	}
	return s.release(idx, 0, false)
}

// FreeBlock returns b to the slab. Besides the checks done by Free it
// rejects handles issued by another slab and handles whose block has been
// freed and reallocated since.
func (s *Slab) FreeBlock(b Block) error {
	if s.released.Load() {
		return ErrReleased
	}
	if err := s.checkHandle(b); err != nil {
		return err
	}
	return s.release(b.index, b.gen, true)
}

func (s *Slab) release(idx, gen uint32, checkGen bool) error {
	m := &s.meta[idx]
	if m.index != idx {
		return fmt.Errorf("block %d records index %d: %w", idx, m.index, ErrCorrupted)
	}
	for {
		st := m.state.Load()
		tag, g := splitState(st)
		if checkGen && g != gen {
			return fmt.Errorf("block %d generation %d, handle has %d: %w", idx, g, gen, ErrStaleBlock)
		}
		if err := stateError(tag, g); err != nil {
			return fmt.Errorf("free block %d: %w", idx, err)
		}
		if m.cached.Load() {
			return fmt.Errorf("free block %d parked in a pool cache: %w", idx, ErrDoubleFree)
		}
		if s.freeCount.Load() >= int64(s.numBlocks) {
			return fmt.Errorf("free block %d: %w", idx, ErrFreeListOverflow)
		}
		if m.state.CompareAndSwap(st, makeState(tagFree, g)) {
			break
		}
	}
	s.push(idx)
	s.freeCount.Add(1)
	return nil
}

//---- addressing

func (s *Slab) pointer(idx uint32) unsafe.Pointer {
	return unsafe.Add(s.region.base, uintptr(idx)*uintptr(s.blockSize))
}

// indexOf maps p back to its block index.
func (s *Slab) indexOf(p unsafe.Pointer) (uint32, error) {
	if p == nil {
		return 0, ErrNilPointer
	}
	base, addr := uintptr(s.region.base), uintptr(p)
	if addr < base {
		return 0, fmt.Errorf("%#x below slab base %#x: %w", addr, base, ErrForeignPointer)
	}
	off := addr - base
	if off%uintptr(s.blockSize) != 0 {
		return 0, fmt.Errorf("%#x is %d bytes into a block: %w", addr, off%uintptr(s.blockSize), ErrMisaligned)
	}
	idx := off / uintptr(s.blockSize)
	if idx >= uintptr(s.numBlocks) {
		return 0, fmt.Errorf("%#x past the last block: %w", addr, ErrForeignPointer)
	}
	return uint32(idx), nil
}

// checkAllocated verifies, without mutating anything, that p is the start of
// a block this slab currently considers allocated.
func (s *Slab) checkAllocated(p unsafe.Pointer) (uint32, error) {
	idx, err := s.indexOf(p)
	if err != nil {
		return 0, err
	}
	m := &s.meta[idx]
	tag, gen := splitState(m.state.Load())
	if err := stateError(tag, gen); err != nil {
		return 0, fmt.Errorf("block %d: %w", idx, err)
	}
	if m.cached.Load() {
		return 0, fmt.Errorf("block %d parked in a pool cache: %w", idx, ErrDoubleFree)
	}
	return idx, nil
}

// park marks the allocated block at p as held by a pool cache. Until unpark,
// every free or lookup of p fails with ErrDoubleFree, so one block can never
// sit in two caches or in a cache and on the free list.
func (s *Slab) park(p unsafe.Pointer) error {
	idx, err := s.checkAllocated(p)
	if err != nil {
		return err
	}
	if !s.meta[idx].cached.CompareAndSwap(false, true) {
		return fmt.Errorf("block %d parked in a pool cache: %w", idx, ErrDoubleFree)
	}
	return nil
}

// unpark hands a parked block back to its owner. p must have been parked.
func (s *Slab) unpark(p unsafe.Pointer) {
	idx, err := s.indexOf(p)
	if err != nil {
		panic(err)
	}
	s.meta[idx].cached.Store(false)
}

func (s *Slab) checkHandle(b Block) error {
	if b.slab != s.id || b.index >= uint32(s.numBlocks) {
		return fmt.Errorf("block %v: %w", b, ErrForeignPointer)
	}
	return nil
}

// Contains reports whether p points into the slab's data region.
func (s *Slab) Contains(p unsafe.Pointer) bool {
	return s.region.contains(p)
}

// BlockOf returns the handle of the allocated block starting at p.
func (s *Slab) BlockOf(p unsafe.Pointer) (Block, error) {
	if s.released.Load() {
		return Block{}, ErrReleased
	}
	idx, err := s.checkAllocated(p)
	if err != nil {
		return Block{}, err
	}
	_, gen := splitState(s.meta[idx].state.Load())
	return Block{slab: s.id, index: idx, gen: gen}, nil
}

// Pointer returns the address of b, provided b is still the live allocation
// of its block.
func (s *Slab) Pointer(b Block) (unsafe.Pointer, error) {
	if s.released.Load() {
		return nil, ErrReleased
	}
	if err := s.checkHandle(b); err != nil {
		return nil, err
	}
	if st := s.meta[b.index].state.Load(); st != makeState(tagAllocated, b.gen) {
		tag, gen := splitState(st)
		if tag == tagFree || gen != b.gen {
			return nil, fmt.Errorf("block %v: %w", b, ErrStaleBlock)
		}
		return nil, fmt.Errorf("block %v: %w", b, ErrCorrupted)
	}
	return s.pointer(b.index), nil
}

// Bytes returns the memory of b as a slice of BlockSize bytes.
func (s *Slab) Bytes(b Block) ([]byte, error) {
	p, err := s.Pointer(b)
	if err != nil {
		return nil, err
	}
	return bytesAt(p, s.blockSize), nil
}

//---- lifecycle and statistics

// Release returns the slab's memory. Further calls fail with ErrReleased.
// Release must not race with other operations on the slab.
func (s *Slab) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	s.logger.Debug("slab released",
		slog.Int("block_size", s.blockSize), slog.Int("blocks", s.numBlocks),
		slog.Int64("free", s.freeCount.Load()))
	return s.region.free()
}

// Stats returns the number of allocated and free blocks. The two always sum
// to NumBlocks.
func (s *Slab) Stats() (used, free int, err error) {
	if s.released.Load() {
		return 0, 0, ErrReleased
	}
	free = int(s.freeCount.Load())
	return s.numBlocks - free, free, nil
}

// BlockSize returns the aligned block size in bytes.
func (s *Slab) BlockSize() int {
	return s.blockSize
}

// NumBlocks returns the number of blocks in the slab.
func (s *Slab) NumBlocks() int {
	return s.numBlocks
}

// Validate checks the slab's bookkeeping: the free list holds every free
// block exactly once and nothing else, the free count matches it, and no
// metadata entry is corrupted. It must only be called while no other
// goroutine is using the slab.
func (s *Slab) Validate() error {
	if s.released.Load() {
		return ErrReleased
	}
	n := uint32(s.numBlocks)
	listed := bitset.New(uint(n))
	count := 0
	for top := uint32(s.head.Load()); top != 0; {
		idx := top - 1
		if idx >= n {
			return fmt.Errorf("free list entry %d out of range: %w", idx, ErrCorrupted)
		}
		if listed.Test(uint(idx)) {
			return fmt.Errorf("block %d listed twice on the free list: %w", idx, ErrCorrupted)
		}
		listed.Set(uint(idx))
		count++
		top = s.meta[idx].next.Load()
	}
	for i := range s.meta {
		m := &s.meta[i]
		if m.index != uint32(i) {
			return fmt.Errorf("block %d records index %d: %w", i, m.index, ErrCorrupted)
		}
		tag, _ := splitState(m.state.Load())
		switch tag {
		case tagFree:
			if m.cached.Load() {
				return fmt.Errorf("free block %d marked as cached: %w", i, ErrCorrupted)
			}
			if !listed.Test(uint(i)) {
				return fmt.Errorf("free block %d missing from the free list: %w", i, ErrCorrupted)
			}
		case tagAllocated:
			if listed.Test(uint(i)) {
				return fmt.Errorf("allocated block %d on the free list: %w", i, ErrCorrupted)
			}
		default:
			return fmt.Errorf("block %d has tag %#x: %w", i, tag, ErrCorrupted)
		}
	}
	if fc := s.freeCount.Load(); fc != int64(count) {
		return fmt.Errorf("free count %d, free list holds %d: %w", fc, count, ErrCorrupted)
	}
	return nil
}
