package paprika

import (
	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/paprikaerr"
)

// MaxCapacity is the largest store the 24-bit page address can span: 2^24
// pages * 4096 bytes = 64 GiB (spec.md §4.5 "Bounds").
const MaxCapacity = uint64(1<<24) * page.Size

// DefaultHistoryDepth is H, the number of root-ring slots (spec.md §6: "H
// typically 64").
const DefaultHistoryDepth = 64

// Config holds the options the core recognizes (spec.md §6 "Configuration
// options the core recognizes").
type Config struct {
	// CapacityBytes is the total store size, a multiple of page.Size, at
	// most MaxCapacity. Accepts human-readable sizes ("64GB") the way
	// erigon-derived tooling does.
	CapacityBytes datasize.ByteSize
	// HistoryDepth is the number of root slots retained; 0 means
	// DefaultHistoryDepth.
	HistoryDepth uint32
	// FlushToDisk controls whether FlushData/FlushRoot issue real syscalls.
	// Only meaningful for the memory-mapped backend: Open itself doesn't
	// construct the PageManager, so callers building one with
	// store.OpenMmapManager should pass this same value as its
	// flushToDisk argument (see cmd/paprikactl) to keep the two in sync.
	FlushToDisk bool
	// PreallocateFanout ensures all FanOutPages root buckets reference a
	// page on open, trading startup cost for avoiding first-write latency
	// spikes.
	PreallocateFanout bool
	// Logger receives structured batch/commit/abandonment diagnostics; a
	// nil Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// logger returns c.Logger, or a no-op logger if unset.
func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// historyDepth returns c.HistoryDepth, or DefaultHistoryDepth if unset.
func (c Config) historyDepth() uint32 {
	if c.HistoryDepth == 0 {
		return DefaultHistoryDepth
	}
	return c.HistoryDepth
}

// Validate enforces the page-alignment and bound invariants from spec.md §6.
func (c Config) Validate() error {
	capacity := uint64(c.CapacityBytes)
	if capacity == 0 || capacity%page.Size != 0 {
		return paprikaerr.New(paprikaerr.KindInvalidArgument,
			"capacity_bytes %d must be a nonzero multiple of %d", capacity, page.Size)
	}
	if capacity > MaxCapacity {
		return paprikaerr.New(paprikaerr.KindInvalidArgument,
			"capacity_bytes %d exceeds the 64 GiB addressable bound", capacity)
	}
	if c.historyDepth() < 1 {
		return paprikaerr.New(paprikaerr.KindInvalidArgument, "history_depth must be >= 1")
	}
	if uint64(c.historyDepth())*page.Size > capacity {
		return paprikaerr.New(paprikaerr.KindInvalidArgument,
			"capacity_bytes too small to hold the %d-slot root ring", c.historyDepth())
	}
	return nil
}
