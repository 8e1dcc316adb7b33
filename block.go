package mempool

import "fmt"

// Block is a capability for one allocated slab block: the issuing slab, the
// block index and the allocation generation. Unlike a raw pointer it stops
// being valid the moment its block is freed, even if the block is handed out
// again.
type Block struct {
	slab  uint32
	index uint32
	gen   uint32
}

// Index returns the block's position within its slab.
func (b Block) Index() int {
	return int(b.index)
}

// Generation returns the allocation count of the block at the time b was
// issued. Issued handles never have generation 0.
func (b Block) Generation() uint32 {
	return b.gen
}

// IsZero reports whether b is the zero Block, which no slab ever issues.
func (b Block) IsZero() bool {
	return b.gen == 0
}

func (b Block) String() string {
	return fmt.Sprintf("slab%d/%d@%d", b.slab, b.index, b.gen)
}
