package mempool

import "log/slog"

// config collects the settings shared by Arena, Slab and Pool.
type config struct {
	backing Backing
	logger  *slog.Logger
}

// Option configures an allocator at construction time.
type Option func(*config)

// WithBacking selects the memory source. The default is HeapBacking.
func WithBacking(b Backing) Option {
	return func(c *config) {
		c.backing = b
	}
}

// WithLogger sets the logger that receives lifecycle events (creation,
// release, cache attach and detach) at debug level. Allocation failures are
// returned, never logged. A nil logger discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func newConfig(opts []Option) config {
	c := config{backing: HeapBacking}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}
