package buddy

import (
	"math/bits"

	"github.com/vkngwrapper/buddypool/memutils"
)

func log2(value int) int {
	return bits.Len(uint(value)) - 1
}

// depthForSize rounds a request up to a block size and returns the tree depth holding blocks of
// that size. ok is false when no block in the pool could ever hold size bytes.
func (p *Pool) depthForSize(size int) (depth int, ok bool) {
	if size < 0 || size > p.Size() {
		return 0, false
	}

	blocks := 1
	if size > p.MinBlockSize() {
		blocks = memutils.NextPow2(size) >> p.minLevel
	}
	memutils.DebugCheckPow2(blocks, "block count")

	return p.depth - memutils.Log2(blocks), true
}

func (p *Pool) blockSize(depth int) int {
	return 1 << (p.totalLevel - depth)
}

// nodeOffset is the byte offset of the block n represents, measured from the start of the buffer
func (p *Pool) nodeOffset(n Node, depth int) int {
	return ((int(n) + 1) - (1 << depth)) << (p.depth - depth) << p.minLevel
}

func (p *Pool) nodeCount() int {
	return 1<<(p.depth+1) - 1
}

// treeSize is the number of bytes needed to hold 2 bits for every node
func treeSize(depth int) int {
	return 1 << (depth - 1)
}
