package buddy

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/buddypool/memutils"
)

// Free releases the allocation at offset and merges it with its buddy as far up the tree as
// possible. Offsets that are not the start of a live allocation, including the reserved tree
// block, fail with ErrInvalidFree and leave the pool unchanged.
func (p *Pool) Free(offset int) error {
	n, depth, err := p.locate(offset)
	if err != nil {
		return err
	}

	memutils.DebugValidate(p)

	p.combine(n)
	p.allocCount--
	p.freeSize += p.blockSize(depth)
	return nil
}

// MustFree is Free for callers that treat an invalid free as a fatal programming error
func (p *Pool) MustFree(offset int) {
	err := p.Free(offset)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
}

// locate descends from the root following offset until it reaches the USED node holding it
func (p *Pool) locate(offset int) (Node, int, error) {
	if p.buffer == nil {
		return 0, 0, ErrPoolDestroyed
	}
	if offset < 0 || offset >= p.Size() {
		return 0, 0, cerrors.Wrapf(ErrInvalidFree, "offset %d is outside the %d-byte pool", offset, p.Size())
	}

	n := Node(0)
	left := 0
	for depth := 0; depth <= p.depth; depth++ {
		switch p.status(n) {
		case StatusUsed:
			if n == p.reserved {
				return 0, 0, cerrors.Wrapf(ErrInvalidFree, "offset %d lies in the reserved status tree", offset)
			}
			if offset != left {
				return 0, 0, cerrors.Wrapf(ErrInvalidFree, "offset %d is inside the block at offset %d", offset, left)
			}
			return n, depth, nil
		case StatusUnused:
			return 0, 0, cerrors.Wrapf(ErrInvalidFree, "offset %d lies in a free block", offset)
		}

		half := p.blockSize(depth + 1)
		if offset < left+half {
			n = n.left()
		} else {
			left += half
			n = n.right()
		}
	}

	return 0, 0, cerrors.Wrapf(ErrCorruptTree, "descended below the leaves looking for offset %d", offset)
}

// combine frees n, collapsing each parent whose children are both UNUSED. Once a buddy is found
// in use, the FULL ancestors above the stopping point are demoted to SPLIT.
func (p *Pool) combine(n Node) {
	for {
		p.setStatus(n, StatusUnused)
		if n == 0 || p.status(n.buddy()) != StatusUnused {
			break
		}
		n = n.parent()
	}

	for n > 0 {
		n = n.parent()
		if p.status(n) != StatusFull {
			return
		}
		p.setStatus(n, StatusSplit)
	}
}
