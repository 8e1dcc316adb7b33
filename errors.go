package mempool

import "errors"

// Invalid arguments. Checked before any state is touched.
var (
	ErrInvalidSize  = errors.New("mempool: size must be positive")
	ErrInvalidCount = errors.New("mempool: count must be positive")
	ErrNilPointer   = errors.New("mempool: nil pointer")
	ErrTooLarge     = errors.New("mempool: type does not fit in a block")
)

// Resource exhaustion. Recoverable by resetting the arena or freeing blocks.
var (
	ErrArenaFull = errors.New("mempool: arena capacity exceeded")
	ErrExhausted = errors.New("mempool: no free blocks")
)

// Protocol violations: the caller handed back something this allocator did
// not issue, or handed it back twice.
var (
	ErrForeignPointer   = errors.New("mempool: pointer not owned by allocator")
	ErrMisaligned       = errors.New("mempool: pointer not on a block boundary")
	ErrNotAllocated     = errors.New("mempool: block was never allocated")
	ErrDoubleFree       = errors.New("mempool: double free")
	ErrStaleBlock       = errors.New("mempool: stale block handle")
	ErrCorrupted        = errors.New("mempool: block metadata corrupted")
	ErrFreeListOverflow = errors.New("mempool: free list overflow")
)

// ErrMmapUnsupported is returned when MmapBacking is requested on a
// platform without anonymous mappings.
var ErrMmapUnsupported = errors.New("mempool: mmap backing not supported on this platform")

// Lifecycle errors.
var (
	ErrReleased = errors.New("mempool: allocator released")
	ErrBusy     = errors.New("mempool: allocator busy")
	ErrDetached = errors.New("mempool: local cache detached")
)

// Kind groups errors returned by this package.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindExhausted
	KindProtocol
	KindBacking
	KindLifecycle
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	KindInvalidArgument: "invalid-argument",
	KindExhausted:       "exhausted",
	KindProtocol:        "protocol-violation",
	KindBacking:         "backing",
	KindLifecycle:       "lifecycle",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidSize, KindInvalidArgument},
	{ErrInvalidCount, KindInvalidArgument},
	{ErrNilPointer, KindInvalidArgument},
	{ErrTooLarge, KindInvalidArgument},
	{ErrArenaFull, KindExhausted},
	{ErrExhausted, KindExhausted},
	{ErrForeignPointer, KindProtocol},
	{ErrMisaligned, KindProtocol},
	{ErrNotAllocated, KindProtocol},
	{ErrDoubleFree, KindProtocol},
	{ErrStaleBlock, KindProtocol},
	{ErrCorrupted, KindProtocol},
	{ErrFreeListOverflow, KindProtocol},
	{ErrMmapUnsupported, KindBacking},
	{ErrReleased, KindLifecycle},
	{ErrBusy, KindLifecycle},
	{ErrDetached, KindLifecycle},
}

// Classify maps err onto its Kind. Errors from the backing memory source
// (a failed mmap, for instance) are wrapped in a *BackingError and classify
// as KindBacking.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var be *BackingError
	if errors.As(err, &be) {
		return KindBacking
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// BackingError reports that the memory region for an allocator could not be
// obtained or returned.
type BackingError struct {
	Op      string
	Backing Backing
	Size    int
	Err     error
}

func (e *BackingError) Error() string {
	return "mempool: " + e.Op + " " + e.Backing.String() + " region: " + e.Err.Error()
}

func (e *BackingError) Unwrap() error {
	return e.Err
}
