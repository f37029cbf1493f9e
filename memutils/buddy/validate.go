package buddy

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/buddypool/memutils"
)

type treeWalk struct {
	allocCount   int
	freeSize     int
	reservedSeen bool
}

// Validate checks every reachable node of the status tree against its children and compares the
// totals against the pool's counters. Bits beneath USED and UNUSED nodes are not inspected.
func (p *Pool) Validate() error {
	if p.buffer == nil {
		return ErrPoolDestroyed
	}

	var walk treeWalk
	err := p.walk(0, 0, &walk)
	if err != nil {
		return err
	}

	if !walk.reservedSeen {
		return cerrors.Wrap(ErrCorruptTree, "the status tree block is not reserved")
	}

	if walk.allocCount != p.allocCount {
		return errors.Errorf("the allocation count of the pool is %d, but the tree holds %d used blocks", p.allocCount, walk.allocCount)
	}

	if walk.freeSize != p.freeSize {
		return errors.Errorf("the free size of the pool is %d, but the unused blocks add up to %d", p.freeSize, walk.freeSize)
	}

	if p.freeSize+p.ReservedSize() > p.Size() {
		return errors.New("invalid pool free size")
	}

	return nil
}

// walk validates the subtree rooted at n and returns whether it is fully consumed
func (p *Pool) walk(n Node, depth int, w *treeWalk) error {
	_, err := p.walkNode(n, depth, w)
	return err
}

func (p *Pool) walkNode(n Node, depth int, w *treeWalk) (consumed bool, err error) {
	status := p.status(n)

	switch status {
	case StatusUnused:
		w.freeSize += p.blockSize(depth)
		return false, nil
	case StatusUsed:
		if n == p.reserved {
			w.reservedSeen = true
		} else {
			w.allocCount++
		}
		return true, nil
	}

	if depth == p.depth {
		return false, cerrors.Wrapf(ErrCorruptTree, "leaf node %d is marked %s", n, status)
	}

	leftConsumed, err := p.walkNode(n.left(), depth+1, w)
	if err != nil {
		return false, err
	}
	rightConsumed, err := p.walkNode(n.right(), depth+1, w)
	if err != nil {
		return false, err
	}

	consumed = leftConsumed && rightConsumed
	if status == StatusFull && !consumed {
		return false, cerrors.Wrapf(ErrCorruptTree, "node %d is marked FULL but has free space beneath it", n)
	}
	if status == StatusSplit {
		if consumed {
			return false, cerrors.Wrapf(ErrCorruptTree, "node %d is marked SPLIT but has no free space beneath it", n)
		}
		if p.status(n.left()) == StatusUnused && p.status(n.right()) == StatusUnused {
			return false, cerrors.Wrapf(ErrCorruptTree, "node %d is marked SPLIT but both children are UNUSED", n)
		}
	}

	return consumed, nil
}

// CheckCorruption verifies the debug margin at the tail of every live allocation. It always
// succeeds unless memutils is built with the debug_mem_utils tag.
func (p *Pool) CheckCorruption() error {
	if p.buffer == nil {
		return ErrPoolDestroyed
	}
	if memutils.DebugMargin == 0 {
		return nil
	}

	return p.VisitAllRegions(func(offset, size int, free bool) error {
		if free {
			return nil
		}
		if !memutils.ValidateMagicValue(p.buffer, offset+size-memutils.DebugMargin) {
			return cerrors.Wrapf(memutils.CorruptionError, "allocation at offset %d", offset)
		}
		return nil
	})
}
