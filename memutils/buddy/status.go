package buddy

// Status is the 2-bit state of one node in the pool's status tree
type Status uint8

const (
	// StatusUnused marks a free block that has not been subdivided
	StatusUnused Status = iota
	// StatusUsed marks a block handed out whole
	StatusUsed
	// StatusSplit marks a subdivided block with free space somewhere beneath it
	StatusSplit
	// StatusFull marks a subdivided block with no free space beneath it
	StatusFull
)

var statusMapping = map[Status]string{
	StatusUnused: "UNUSED",
	StatusUsed:   "USED",
	StatusSplit:  "SPLIT",
	StatusFull:   "FULL",
}

func (s Status) String() string {
	return statusMapping[s]
}

// Node identifies a block by its implicit index in the status tree. The root is 0 and the children
// of node i are 2i+1 and 2i+2.
type Node int

// Depth is the node's distance from the root
func (n Node) Depth() int {
	return log2(int(n) + 1)
}

func (n Node) parent() Node {
	return (n+1)/2 - 1
}

func (n Node) left() Node {
	return n*2 + 1
}

func (n Node) right() Node {
	return n*2 + 2
}

// buddy is the sibling produced by the same split. The root's buddy is -1.
func (n Node) buddy() Node {
	return n - 1 + (n&1)*2
}

func (n Node) isLeftChild() bool {
	return n&1 == 1
}

// leftmost is the first descendant of n that lies levels further down the tree
func (n Node) leftmost(levels int) Node {
	return ((n + 1) << levels) - 1
}

// ancestor is the node levels above n
func (n Node) ancestor(levels int) Node {
	return ((n + 1) >> levels) - 1
}

func (p *Pool) status(n Node) Status {
	return Status(p.tree[n>>2]>>((n&3)*2)) & 3
}

func (p *Pool) setStatus(n Node, s Status) {
	shift := (n & 3) * 2
	p.tree[n>>2] = p.tree[n>>2]&^(3<<shift) | byte(s)<<shift
}
