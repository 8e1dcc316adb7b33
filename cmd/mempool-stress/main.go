// Command mempool-stress hammers an arena, slab or pool from many goroutines
// and checks that no block is ever handed to two owners.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/pavanmanishd/mempool"
	"github.com/pavanmanishd/mempool/internal/pflagx"
	"github.com/spf13/pflag"
)

var (
	EnvPrefix  = "MEMPOOL_STRESS_"
	Mode       = pflag.StringP("mode", "m", "pool", "allocator to stress (arena, slab, pool)")
	BlockSize  = pflagx.BytesP("block-size", "b", 64, "block size, or allocation size in arena mode")
	Blocks     = pflag.IntP("blocks", "n", 1024, "number of blocks in slab and pool modes")
	PerThread  = pflag.IntP("per-thread", "t", 16, "cache capacity of each worker in pool mode")
	Capacity   = pflagx.BytesP("capacity", "c", 1<<20, "arena capacity in arena mode")
	Workers    = pflag.IntP("workers", "w", 8, "number of concurrent workers")
	Iterations = pflag.IntP("iterations", "i", 1000, "rounds per worker")
	Hold       = pflag.IntP("hold", "k", 8, "maximum blocks a worker holds at once")
	Backing    = new(mempool.Backing)
	LogLevel   = pflagx.LevelP("log-level", "L", slog.LevelInfo, "log level")
	LogJSON    = pflag.Bool("log-json", false, "use json logs")
	Help       = pflag.BoolP("help", "h", false, "show this help text")
)

func init() {
	pflag.TextVar(Backing, "backing", mempool.HeapBacking, "memory source (heap, mmap)")
}

func main() {
	pflagx.ParseEnv(EnvPrefix)
	pflag.Parse()

	if *Help || pflag.NArg() != 0 {
		fmt.Printf("usage: %s [options]\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if *Help {
			return
		}
		os.Exit(2)
	}

	if *Workers <= 0 || *Iterations <= 0 || *Hold <= 0 {
		fmt.Fprintf(os.Stderr, "error: workers, iterations and hold must be positive\n")
		os.Exit(2)
	}

	if *LogJSON {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: LogLevel,
		})))
	} else {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level: LogLevel,
		})))
	}
	slog.SetLogLoggerLevel(LogLevel.Level())

	cfg := config{
		Workers:    *Workers,
		Iterations: *Iterations,
		Hold:       *Hold,
		BlockSize:  int(*BlockSize),
		Blocks:     *Blocks,
		PerThread:  *PerThread,
		Capacity:   int(*Capacity),
		Options: []mempool.Option{
			mempool.WithBacking(*Backing),
			mempool.WithLogger(slog.Default()),
		},
	}

	start := time.Now()
	res, err := run(context.Background(), *Mode, cfg)
	if err != nil {
		slog.Error("stress run failed", "mode", *Mode, "kind", mempool.Classify(err), "error", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	slog.Info("stress run passed",
		"mode", *Mode,
		"ops", humanize.Comma(int64(res.Ops)),
		"exhausted", humanize.Comma(int64(res.Exhausted)),
		"distinct_blocks", res.Distinct,
		"elapsed", elapsed.Round(time.Millisecond),
		"rate", humanize.SIWithDigits(float64(res.Ops)/elapsed.Seconds(), 2, "op/s"),
	)
	fmt.Println(res.Metrics)
}

func run(ctx context.Context, mode string, cfg config) (result, error) {
	switch mode {
	case "arena":
		return stressArena(ctx, cfg)
	case "slab":
		return stressSlab(ctx, cfg)
	case "pool":
		return stressPool(ctx, cfg)
	}
	return result{}, errors.New("unknown mode " + mode)
}
