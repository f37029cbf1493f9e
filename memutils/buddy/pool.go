// Package buddy implements a fixed-size buddy allocator. A Pool manages one contiguous buffer of
// 2^totalLevel bytes, handing out power-of-two blocks no smaller than 2^minLevel bytes and merging
// freed blocks with their buddies.
//
// Allocation state lives in the buffer itself: a complete binary tree with 2 bits per node packed at
// the front of the buffer, reserved from the pool as its first allocation. Offsets returned by
// Allocate are byte offsets into that same buffer.
//
// A Pool performs no locking. Callers sharing a pool between goroutines must serialize every call.
package buddy

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/buddypool/memutils"
	"github.com/vkngwrapper/buddypool/memutils/rawmem"
)

const (
	// MinLevelLimit is the smallest permitted minLevel; blocks are never smaller than 16 bytes
	MinLevelLimit = 4
	// MinDepth is the smallest permitted difference between totalLevel and minLevel
	MinDepth = 2
	// MaxTotalLevel bounds pools to sizes addressable by int
	MaxTotalLevel = bits.UintSize - 2
)

var (
	// ErrInvalidLevels is returned when a pool is constructed with an unusable totalLevel/minLevel pair
	ErrInvalidLevels = errors.New("buddy: invalid pool levels")
	// ErrBufferTooSmall is returned when a caller-supplied buffer cannot hold the whole pool
	ErrBufferTooSmall = errors.New("buddy: buffer is smaller than the pool")
	// ErrInvalidFree is returned when an offset does not name the start of a live allocation
	ErrInvalidFree = errors.New("buddy: offset does not refer to a live allocation")
	// ErrNodeNotFree is returned from Commit when the requested node can no longer be allocated
	ErrNodeNotFree = errors.New("buddy: node is not free")
	// ErrCorruptTree is returned when the status tree violates its own invariants
	ErrCorruptTree = errors.New("buddy: status tree is corrupt")
	// ErrPoolDestroyed is returned by operations on a pool after Destroy
	ErrPoolDestroyed = errors.New("buddy: pool has been destroyed")
)

// ReleaseFunc is invoked once by Destroy with the buffer the pool was built over
type ReleaseFunc func(buffer []byte) error

// Pool is a buddy allocator over a single buffer. The zero value is not usable; build one with
// New, NewFromProvider, NewFromBuffer, or Attach.
type Pool struct {
	totalLevel int
	minLevel   int
	depth      int

	raw     []byte
	buffer  []byte
	tree    []byte
	release ReleaseFunc

	reserved      Node
	reservedDepth int

	allocCount int
	freeSize   int
}

var _ memutils.Validatable = &Pool{}

func checkLevels(totalLevel, minLevel int) error {
	if minLevel < MinLevelLimit {
		return cerrors.Wrapf(ErrInvalidLevels, "minLevel %d is below %d", minLevel, MinLevelLimit)
	}
	if totalLevel-minLevel < MinDepth {
		return cerrors.Wrapf(ErrInvalidLevels, "totalLevel %d must exceed minLevel %d by at least %d", totalLevel, minLevel, MinDepth)
	}
	if totalLevel > MaxTotalLevel {
		return cerrors.Wrapf(ErrInvalidLevels, "totalLevel %d is above %d", totalLevel, MaxTotalLevel)
	}
	return nil
}

// New creates a pool of 2^totalLevel bytes over memory acquired from rawmem.Default. Destroy
// returns the memory to the provider.
func New(totalLevel, minLevel int) (*Pool, error) {
	return NewFromProvider(totalLevel, minLevel, rawmem.Default)
}

// NewFromProvider creates a pool of 2^totalLevel bytes over memory acquired from provider. Nothing
// is acquired when the levels are invalid.
func NewFromProvider(totalLevel, minLevel int, provider rawmem.Provider) (*Pool, error) {
	err := checkLevels(totalLevel, minLevel)
	if err != nil {
		return nil, err
	}

	buffer, err := provider.Acquire(1 << totalLevel)
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to acquire %d bytes for pool", 1<<totalLevel)
	}

	pool, err := NewFromBuffer(totalLevel, minLevel, buffer, provider.Release)
	if err != nil {
		return nil, cerrors.CombineErrors(err, provider.Release(buffer))
	}

	return pool, nil
}

// NewFromBuffer creates a pool over caller-owned storage. The first 2^totalLevel bytes of buffer
// are used and the status tree at its front is reset. release may be nil, in which case Destroy
// leaves the buffer alone.
func NewFromBuffer(totalLevel, minLevel int, buffer []byte, release ReleaseFunc) (*Pool, error) {
	p, err := wrap(totalLevel, minLevel, buffer, release)
	if err != nil {
		return nil, err
	}

	for i := range p.tree {
		p.tree[i] = 0
	}
	p.allocCount = 0
	p.freeSize = p.Size()

	p.reserved = p.allocateAt(p.reservedDepth)
	p.freeSize -= p.ReservedSize()

	return p, nil
}

// Attach adopts a buffer that already holds a pool with the same levels, such as a file mapping
// written by an earlier process. The status tree is validated rather than reset.
func Attach(totalLevel, minLevel int, buffer []byte, release ReleaseFunc) (*Pool, error) {
	p, err := wrap(totalLevel, minLevel, buffer, release)
	if err != nil {
		return nil, err
	}

	p.reserved = Node(0).leftmost(p.reservedDepth)

	var walk treeWalk
	err = p.walk(0, 0, &walk)
	if err != nil {
		return nil, err
	}
	if !walk.reservedSeen {
		return nil, cerrors.Wrap(ErrCorruptTree, "the status tree block is not reserved")
	}

	p.allocCount = walk.allocCount
	p.freeSize = walk.freeSize
	return p, nil
}

func wrap(totalLevel, minLevel int, buffer []byte, release ReleaseFunc) (*Pool, error) {
	err := checkLevels(totalLevel, minLevel)
	if err != nil {
		return nil, err
	}

	size := 1 << totalLevel
	if len(buffer) < size {
		return nil, cerrors.Wrapf(ErrBufferTooSmall, "buffer holds %d bytes but the pool needs %d", len(buffer), size)
	}

	p := &Pool{
		totalLevel: totalLevel,
		minLevel:   minLevel,
		depth:      totalLevel - minLevel,
		raw:        buffer,
		buffer:     buffer[:size:size],
		release:    release,
	}
	p.tree = p.buffer[:treeSize(p.depth)]
	p.reservedDepth, _ = p.depthForSize(len(p.tree))

	return p, nil
}

// Destroy invokes the pool's release action, if any, exactly once. The pool cannot be used afterward.
func (p *Pool) Destroy() error {
	if p.buffer == nil {
		return ErrPoolDestroyed
	}

	raw, release := p.raw, p.release
	p.raw, p.buffer, p.tree, p.release = nil, nil, nil, nil

	if release == nil {
		return nil
	}
	return release(raw)
}

// Size is the total size of the pool in bytes, including the reserved status tree
func (p *Pool) Size() int { return 1 << p.totalLevel }

// TotalLevel is log2 of the pool size
func (p *Pool) TotalLevel() int { return p.totalLevel }

// MinLevel is log2 of the smallest block the pool hands out
func (p *Pool) MinLevel() int { return p.minLevel }

// MinBlockSize is the size of the smallest block the pool hands out
func (p *Pool) MinBlockSize() int { return 1 << p.minLevel }

// Depth is the depth of the deepest tree level; the root is depth 0
func (p *Pool) Depth() int { return p.depth }

// NodeCount is the number of nodes in the status tree
func (p *Pool) NodeCount() int { return p.nodeCount() }

// TreeSize is the number of bytes occupied by the packed status tree
func (p *Pool) TreeSize() int { return treeSize(p.depth) }

// ReservedSize is the size of the block at offset 0 that holds the status tree
func (p *Pool) ReservedSize() int { return p.blockSize(p.reservedDepth) }

// AllocationCount is the number of live allocations, not counting the reserved tree block
func (p *Pool) AllocationCount() int { return p.allocCount }

// SumFreeSize is the number of bytes in free blocks
func (p *Pool) SumFreeSize() int { return p.freeSize }

// IsEmpty reports whether the pool has no live allocations
func (p *Pool) IsEmpty() bool { return p.allocCount == 0 }

// Tree returns a copy of the packed status tree
func (p *Pool) Tree() []byte {
	tree := make([]byte, len(p.tree))
	copy(tree, p.tree)
	return tree
}

// Status reports the status of a node. Nodes beneath a USED or UNUSED node carry stale bits.
func (p *Pool) Status(n Node) Status {
	return p.status(n)
}

// Bytes returns a view of the first size bytes of the live allocation at offset
func (p *Pool) Bytes(offset, size int) ([]byte, error) {
	_, depth, err := p.locate(offset)
	if err != nil {
		return nil, err
	}

	blockSize := p.blockSize(depth)
	if size < 0 || size > blockSize-memutils.DebugMargin {
		return nil, errors.Errorf("buddy: %d bytes requested from the %d-byte block at offset %d", size, blockSize, offset)
	}

	return p.buffer[offset : offset+size : offset+blockSize], nil
}

// BlockSize returns the size of the live allocation at offset
func (p *Pool) BlockSize(offset int) (int, error) {
	_, depth, err := p.locate(offset)
	if err != nil {
		return 0, err
	}
	return p.blockSize(depth), nil
}
