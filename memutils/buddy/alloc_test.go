package buddy_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/buddypool/memutils/buddy"
)

func newPool(t *testing.T, totalLevel, minLevel int) *buddy.Pool {
	t.Helper()

	pool, err := buddy.NewFromBuffer(totalLevel, minLevel, make([]byte, 1<<totalLevel), nil)
	require.NoError(t, err)
	return pool
}

func TestAllocateFreeScenario(t *testing.T) {
	pool := newPool(t, 10, 4)

	first, ok := pool.Allocate(64)
	require.True(t, ok)
	require.Equal(t, 64, first)
	require.Zero(t, first%64)
	require.GreaterOrEqual(t, first, pool.ReservedSize())

	second, ok := pool.Allocate(64)
	require.True(t, ok)
	require.Equal(t, 128, second)

	require.NoError(t, pool.Free(first))
	require.NoError(t, pool.Validate())

	// The buddy of the freed block holds the status tree, so the first 128 block to its right is used
	third, ok := pool.Allocate(128)
	require.True(t, ok)
	require.Equal(t, 256, third)

	require.Equal(t, 2, pool.AllocationCount())
	require.NoError(t, pool.Validate())
}

func TestCoalesceRequiresBuddy(t *testing.T) {
	pool := newPool(t, 8, 4)

	a, ok := pool.Allocate(64)
	require.True(t, ok)
	require.Equal(t, 64, a)
	b, ok := pool.Allocate(64)
	require.True(t, ok)
	require.Equal(t, 128, b)
	c, ok := pool.Allocate(64)
	require.True(t, ok)
	require.Equal(t, 192, c)
	require.Equal(t, buddy.StatusFull, pool.Status(2))

	require.NoError(t, pool.Free(b))
	require.Equal(t, buddy.StatusSplit, pool.Status(2))

	_, ok = pool.Allocate(128)
	require.False(t, ok)

	require.NoError(t, pool.Free(c))
	require.Equal(t, buddy.StatusUnused, pool.Status(2))

	merged, ok := pool.Allocate(128)
	require.True(t, ok)
	require.Equal(t, 128, merged)
	require.NoError(t, pool.Validate())
}

func TestAllocateRoundsToMinimumBlock(t *testing.T) {
	pool := newPool(t, 10, 4)

	for _, size := range []int{0, 1, 15, 16} {
		offset, ok := pool.Allocate(size)
		require.True(t, ok)

		blockSize, err := pool.BlockSize(offset)
		require.NoError(t, err)
		require.Equal(t, 16, blockSize)
	}

	offset, ok := pool.Allocate(17)
	require.True(t, ok)
	blockSize, err := pool.BlockSize(offset)
	require.NoError(t, err)
	require.Equal(t, 32, blockSize)
}

func TestAllocateOversize(t *testing.T) {
	pool := newPool(t, 10, 4)

	_, ok := pool.Allocate(1025)
	require.False(t, ok)
	_, ok = pool.Allocate(-1)
	require.False(t, ok)

	// The root can never be handed out because it holds the status tree
	_, ok = pool.Allocate(1024)
	require.False(t, ok)

	offset, ok := pool.Allocate(512)
	require.True(t, ok)
	require.Equal(t, 512, offset)

	_, ok = pool.Allocate(512)
	require.False(t, ok)
	require.Equal(t, 1, pool.AllocationCount())
}

func TestExhaustion(t *testing.T) {
	pool := newPool(t, 10, 4)

	seen := map[int]bool{}
	for {
		offset, ok := pool.Allocate(16)
		if !ok {
			break
		}
		require.False(t, seen[offset])
		seen[offset] = true
	}

	require.Len(t, seen, (1024-32)/16)
	require.Equal(t, 0, pool.SumFreeSize())
	require.Equal(t, buddy.StatusFull, pool.Status(0))
	require.NoError(t, pool.Validate())

	_, ok := pool.Allocate(1)
	require.False(t, ok)

	require.NoError(t, pool.Free(1008))
	offset, ok := pool.Allocate(16)
	require.True(t, ok)
	require.Equal(t, 1008, offset)
}

func TestFreeInvalidOffsets(t *testing.T) {
	pool := newPool(t, 10, 4)

	offset, ok := pool.Allocate(64)
	require.True(t, ok)
	tree := pool.Tree()

	for _, bad := range []int{-1, 1024, 4096, 0, 16, offset + 16, 512} {
		err := pool.Free(bad)
		require.Error(t, err)
		require.True(t, errors.Is(err, buddy.ErrInvalidFree), "offset %d", bad)
	}
	require.Equal(t, tree, pool.Tree())

	require.NoError(t, pool.Free(offset))
	err := pool.Free(offset)
	require.True(t, errors.Is(err, buddy.ErrInvalidFree))
}

func TestMustFreePanicsOnDoubleFree(t *testing.T) {
	pool := newPool(t, 10, 4)

	offset, ok := pool.Allocate(32)
	require.True(t, ok)
	pool.MustFree(offset)

	require.Panics(t, func() {
		pool.MustFree(offset)
	})
}

func TestBytes(t *testing.T) {
	pool := newPool(t, 10, 4)

	offset, ok := pool.Allocate(40)
	require.True(t, ok)

	data, err := pool.Bytes(offset, 40)
	require.NoError(t, err)
	require.Len(t, data, 40)
	require.Equal(t, 64, cap(data))

	_, err = pool.Bytes(offset, 65)
	require.Error(t, err)

	_, err = pool.Bytes(offset+8, 8)
	require.True(t, errors.Is(err, buddy.ErrInvalidFree))
}

func TestFindFreeAndCommit(t *testing.T) {
	pool := newPool(t, 10, 4)
	tree := pool.Tree()

	node, ok := pool.FindFree(64)
	require.True(t, ok)
	require.Equal(t, buddy.Node(16), node)
	require.Equal(t, 4, node.Depth())
	require.Equal(t, 64, pool.NodeOffset(node))
	require.Equal(t, 64, pool.NodeSize(node))
	require.Equal(t, tree, pool.Tree())

	// A free node further right can be committed directly
	offset, err := pool.Commit(17)
	require.NoError(t, err)
	require.Equal(t, 128, offset)

	offset, err = pool.Commit(node)
	require.NoError(t, err)
	require.Equal(t, 64, offset)

	_, err = pool.Commit(node)
	require.True(t, errors.Is(err, buddy.ErrNodeNotFree))
	_, err = pool.Commit(8)
	require.True(t, errors.Is(err, buddy.ErrNodeNotFree))
	_, err = pool.Commit(10000)
	require.True(t, errors.Is(err, buddy.ErrNodeNotFree))

	require.Equal(t, 2, pool.AllocationCount())
	require.NoError(t, pool.Validate())
}

type span struct {
	offset int
	size   int
}

func randomSize(rng *rand.Rand) int {
	return rng.Intn(1<<uint(rng.Intn(9))) + 1
}

func TestRandomNonOverlapAndRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))

	for round := 0; round < 20; round++ {
		pool := newPool(t, 12, 4)
		fresh := pool.Tree()

		var live []span
		for i := 0; i < 300; i++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				index := rng.Intn(len(live))
				require.NoError(t, pool.Free(live[index].offset))
				live = append(live[:index], live[index+1:]...)
				continue
			}

			size := randomSize(rng)
			offset, ok := pool.Allocate(size)
			if !ok {
				continue
			}

			blockSize, err := pool.BlockSize(offset)
			require.NoError(t, err)
			require.GreaterOrEqual(t, blockSize, size)
			require.GreaterOrEqual(t, blockSize, pool.MinBlockSize())
			require.Zero(t, blockSize&(blockSize-1))
			require.Zero(t, offset%blockSize)
			require.GreaterOrEqual(t, offset, pool.ReservedSize())

			live = append(live, span{offset: offset, size: blockSize})
		}

		require.NoError(t, pool.Validate())
		require.Equal(t, len(live), pool.AllocationCount())

		sorted := append([]span(nil), live...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })
		for i := 1; i < len(sorted); i++ {
			require.LessOrEqual(t, sorted[i-1].offset+sorted[i-1].size, sorted[i].offset)
		}

		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
		for _, s := range live {
			require.NoError(t, pool.Free(s.offset))
		}

		require.True(t, pool.IsEmpty())
		require.Equal(t, pool.Size()-pool.ReservedSize(), pool.SumFreeSize())
		require.Equal(t, fresh, pool.Tree())
	}
}

func TestDeterminism(t *testing.T) {
	run := func() []int {
		pool := newPool(t, 11, 4)
		rng := rand.New(rand.NewSource(99))

		var offsets []int
		var live []int
		for i := 0; i < 200; i++ {
			if len(live) > 0 && rng.Intn(4) == 0 {
				index := rng.Intn(len(live))
				require.NoError(t, pool.Free(live[index]))
				live = append(live[:index], live[index+1:]...)
				offsets = append(offsets, -1)
				continue
			}

			offset, ok := pool.Allocate(randomSize(rng))
			if !ok {
				offsets = append(offsets, -2)
				continue
			}
			live = append(live, offset)
			offsets = append(offsets, offset)
		}
		return offsets
	}

	require.Equal(t, run(), run())
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "UNUSED", buddy.StatusUnused.String())
	require.Equal(t, "USED", buddy.StatusUsed.String())
	require.Equal(t, "SPLIT", buddy.StatusSplit.String())
	require.Equal(t, "FULL", buddy.StatusFull.String())
}
