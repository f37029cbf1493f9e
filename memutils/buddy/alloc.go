package buddy

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/buddypool/memutils"
)

// Allocate reserves a block of at least size bytes and returns its offset in the buffer. ok is
// false when no free block is large enough, which leaves the pool unchanged. Among candidate
// blocks the leftmost is always chosen, so a given sequence of calls always yields the same offsets.
func (p *Pool) Allocate(size int) (offset int, ok bool) {
	if p.buffer == nil || size < 0 {
		return 0, false
	}

	memutils.DebugValidate(p)

	node, ok := p.FindFree(size)
	if !ok {
		return 0, false
	}

	return p.commit(node), true
}

// FindFree returns the node Allocate would use for size bytes without modifying the pool
func (p *Pool) FindFree(size int) (Node, bool) {
	if p.buffer == nil || size < 0 {
		return 0, false
	}

	depth, ok := p.depthForSize(size + memutils.DebugMargin)
	if !ok {
		return 0, false
	}

	return p.search(depth)
}

// Commit allocates a node returned by FindFree and returns its offset. It fails with
// ErrNodeNotFree if the pool has changed so that the node is no longer available.
func (p *Pool) Commit(n Node) (int, error) {
	if p.buffer == nil {
		return 0, ErrPoolDestroyed
	}
	if n < 0 || int(n) >= p.nodeCount() {
		return 0, cerrors.Wrapf(ErrNodeNotFree, "node %d is outside the tree", n)
	}
	if !p.isFree(n) {
		return 0, cerrors.Wrapf(ErrNodeNotFree, "node %d", n)
	}

	return p.commit(n), nil
}

// NodeOffset is the offset of the block a node represents
func (p *Pool) NodeOffset(n Node) int {
	return p.nodeOffset(n, n.Depth())
}

// NodeSize is the size of the block a node represents
func (p *Pool) NodeSize(n Node) int {
	return p.blockSize(n.Depth())
}

func (p *Pool) commit(n Node) int {
	depth := n.Depth()
	p.markUsed(n)

	p.allocCount++
	p.freeSize -= p.blockSize(depth)

	offset := p.nodeOffset(n, depth)
	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(p.buffer, offset+p.blockSize(depth)-memutils.DebugMargin)
	}
	return offset
}

// search walks the tree depth-first, left to right, for the first free node at depth target. It
// never writes to the tree. An UNUSED node above target has never been split since it was last
// free, so its leftmost descendant at target is the answer.
func (p *Pool) search(target int) (Node, bool) {
	n := Node(0)
	depth := 0

	for {
		status := p.status(n)
		if depth == target {
			if status == StatusUnused {
				return n, true
			}
		} else {
			switch status {
			case StatusUnused:
				return n.leftmost(target - depth), true
			case StatusSplit:
				n = n.left()
				depth++
				continue
			}
		}

		// Back up to the nearest right sibling we have not tried yet
		for !n.isLeftChild() {
			if n == 0 {
				return 0, false
			}
			n = n.parent()
			depth--
		}
		n++
	}
}

// allocateAt marks the node at depth that search selects as USED, bypassing the allocation count
func (p *Pool) allocateAt(depth int) Node {
	n, ok := p.search(depth)
	if !ok {
		panic("buddy: allocating a node that search could not find")
	}

	p.markUsed(n)
	return n
}

// markUsed marks a free node as USED. Unused ancestors on the path are split on the way down, with
// their children starting out UNUSED.
func (p *Pool) markUsed(n Node) {
	for level := n.Depth(); level > 0; level-- {
		ancestor := n.ancestor(level)
		if p.status(ancestor) == StatusUnused {
			p.setStatus(ancestor, StatusSplit)
			p.setStatus(ancestor.left(), StatusUnused)
			p.setStatus(ancestor.right(), StatusUnused)
		}
	}

	p.setStatus(n, StatusUsed)
	p.markParent(n)
}

// markParent walks up from a newly USED node, marking parents FULL while the buddy is also consumed
func (p *Pool) markParent(n Node) {
	for n > 0 {
		buddy := p.status(n.buddy())
		if buddy != StatusUsed && buddy != StatusFull {
			return
		}
		n = n.parent()
		p.setStatus(n, StatusFull)
	}
}

// isFree reports whether search could return n
func (p *Pool) isFree(n Node) bool {
	depth := n.Depth()
	for level := depth; level > 0; level-- {
		switch p.status(n.ancestor(level)) {
		case StatusUnused:
			return true
		case StatusUsed, StatusFull:
			return false
		}
	}
	return p.status(n) == StatusUnused
}
