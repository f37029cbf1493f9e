package buddy

import (
	"context"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/buddypool/memutils"
	"golang.org/x/exp/slog"
)

// VisitAllRegions calls handleBlock for every live allocation and every free block in address
// order. The reserved tree block is skipped. Iteration stops at the first error.
func (p *Pool) VisitAllRegions(handleBlock func(offset int, size int, free bool) error) error {
	if p.buffer == nil {
		return ErrPoolDestroyed
	}
	return p.visit(0, 0, handleBlock)
}

func (p *Pool) visit(n Node, depth int, handleBlock func(offset int, size int, free bool) error) error {
	switch p.status(n) {
	case StatusUnused:
		return handleBlock(p.nodeOffset(n, depth), p.blockSize(depth), true)
	case StatusUsed:
		if n == p.reserved {
			return nil
		}
		return handleBlock(p.nodeOffset(n, depth), p.blockSize(depth), false)
	}

	err := p.visit(n.left(), depth+1, handleBlock)
	if err != nil {
		return err
	}
	return p.visit(n.right(), depth+1, handleBlock)
}

// FreeRegionsCount is the number of free blocks. Adjacent free blocks that are not buddies are
// counted separately.
func (p *Pool) FreeRegionsCount() int {
	count := 0
	_ = p.VisitAllRegions(func(offset int, size int, free bool) error {
		if free {
			count++
		}
		return nil
	})
	return count
}

// AddStatistics sums this pool's counters into stats
func (p *Pool) AddStatistics(stats *memutils.Statistics) {
	stats.PoolCount++
	stats.PoolBytes += p.Size()
	stats.ReservedBytes += p.ReservedSize()
	stats.AllocationCount += p.allocCount
	stats.AllocationBytes += p.Size() - p.ReservedSize() - p.freeSize
}

// AddDetailedStatistics sums this pool's counters and block sizes into stats
func (p *Pool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.PoolCount++
	stats.PoolBytes += p.Size()
	stats.ReservedBytes += p.ReservedSize()

	_ = p.VisitAllRegions(func(offset int, size int, free bool) error {
		if free {
			stats.AddFreeBlock(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

// BlockJsonData populates a json object with summary information about this pool
func (p *Pool) BlockJsonData(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(p.Size())
	json.Name("ReservedBytes").Int(p.ReservedSize())
	json.Name("UnusedBytes").Int(p.SumFreeSize())
	json.Name("Allocations").Int(p.AllocationCount())
	json.Name("UnusedRanges").Int(p.FreeRegionsCount())
	json.Name("TotalLevel").Int(p.totalLevel)
	json.Name("MinLevel").Int(p.minLevel)
}

// PrintDetailedMap writes a json object describing the pool and each of its blocks
func (p *Pool) PrintDetailedMap(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	p.BlockJsonData(obj)

	arrayState := obj.Name("Blocks").Array()
	defer arrayState.End()

	_ = p.VisitAllRegions(func(offset int, size int, free bool) error {
		block := arrayState.Object()
		defer block.End()

		block.Name("Offset").Int(offset)
		block.Name("Size").Int(size)
		if free {
			block.Name("Type").String("FREE")
		} else {
			block.Name("Type").String("USED")
		}
		return nil
	})
}

// DebugLogAllAllocations calls logFunc once for every live allocation
func (p *Pool) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int)) {
	_ = p.VisitAllRegions(func(offset int, size int, free bool) error {
		if !free {
			logFunc(logger, offset, size)
		}
		return nil
	})
}

// LogAllocation is a logFunc for DebugLogAllAllocations that writes one debug record per allocation
func LogAllocation(log *slog.Logger, offset int, size int) {
	log.LogAttrs(context.Background(), slog.LevelDebug, "live allocation",
		slog.Int("offset", offset),
		slog.Int("size", size),
	)
}
