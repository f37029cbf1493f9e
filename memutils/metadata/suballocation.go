package metadata

import "math"

// BlockAllocationHandle identifies a live allocation. For buddy metadata it is the allocation's
// offset, which is never 0 because the status tree occupies the start of the pool.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
