package buddy_test

import (
	"bytes"
	"math"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/buddypool/memutils"
	"github.com/vkngwrapper/buddypool/memutils/buddy"
	"golang.org/x/exp/slog"
)

func TestDetailedStatistics(t *testing.T) {
	pool := newPool(t, 10, 4)

	var stats memutils.DetailedStatistics
	stats.Clear()
	pool.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PoolCount:       1,
			AllocationCount: 0,
			PoolBytes:       1024,
			ReservedBytes:   32,
			AllocationBytes: 0,
		},
		FreeBlockCount:    5,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeBlockSizeMin:  32,
		FreeBlockSizeMax:  512,
	}, stats)
	require.Equal(t, 5, pool.FreeRegionsCount())

	_, ok := pool.Allocate(64)
	require.True(t, ok)
	_, ok = pool.Allocate(20)
	require.True(t, ok)

	stats.Clear()
	pool.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PoolCount:       1,
			AllocationCount: 2,
			PoolBytes:       1024,
			ReservedBytes:   32,
			AllocationBytes: 96,
		},
		FreeBlockCount:    3,
		AllocationSizeMin: 32,
		AllocationSizeMax: 64,
		FreeBlockSizeMin:  128,
		FreeBlockSizeMax:  512,
	}, stats)

	var summary memutils.Statistics
	pool.AddStatistics(&summary)
	require.Equal(t, stats.Statistics, summary)
	require.Equal(t, pool.SumFreeSize(), summary.FreeBytes())
}

func TestVisitAllRegionsInAddressOrder(t *testing.T) {
	pool := newPool(t, 10, 4)

	a, _ := pool.Allocate(64)
	_, _ = pool.Allocate(16)
	require.NoError(t, pool.Free(a))

	type region struct {
		Offset int
		Size   int
		Free   bool
	}
	var regions []region
	err := pool.VisitAllRegions(func(offset int, size int, free bool) error {
		regions = append(regions, region{offset, size, free})
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []region{
		{32, 16, false},
		{48, 16, true},
		{64, 64, true},
		{128, 128, true},
		{256, 256, true},
		{512, 512, true},
	}, regions)
}

func TestPrintDetailedMap(t *testing.T) {
	pool := newPool(t, 10, 4)
	_, ok := pool.Allocate(64)
	require.True(t, ok)

	writer := jwriter.NewWriter()
	pool.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	var out struct {
		TotalBytes    int
		ReservedBytes int
		UnusedBytes   int
		Allocations   int
		UnusedRanges  int
		TotalLevel    int
		MinLevel      int
		Blocks        []struct {
			Offset int
			Size   int
			Type   string
		}
	}
	require.NoError(t, jsoniter.Unmarshal(writer.Bytes(), &out))

	require.Equal(t, 1024, out.TotalBytes)
	require.Equal(t, 32, out.ReservedBytes)
	require.Equal(t, 1024-32-64, out.UnusedBytes)
	require.Equal(t, 1, out.Allocations)
	require.Equal(t, 4, out.UnusedRanges)
	require.Equal(t, 10, out.TotalLevel)
	require.Equal(t, 4, out.MinLevel)
	require.Len(t, out.Blocks, 5)
	require.Equal(t, 64, out.Blocks[1].Offset)
	require.Equal(t, "USED", out.Blocks[1].Type)
	require.Equal(t, "FREE", out.Blocks[0].Type)
}

func TestDebugLogAllAllocations(t *testing.T) {
	pool := newPool(t, 10, 4)
	_, ok := pool.Allocate(100)
	require.True(t, ok)

	var buf bytes.Buffer
	logger := slog.New(slog.HandlerOptions{Level: slog.LevelDebug}.NewTextHandler(&buf))
	pool.DebugLogAllAllocations(logger, buddy.LogAllocation)

	require.Contains(t, buf.String(), "live allocation")
	require.Contains(t, buf.String(), "offset=128")
	require.Contains(t, buf.String(), "size=128")
}

func TestCheckCorruption(t *testing.T) {
	pool := newPool(t, 10, 4)
	_, ok := pool.Allocate(100)
	require.True(t, ok)

	require.NoError(t, pool.CheckCorruption())
}
