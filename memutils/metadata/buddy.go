package metadata

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/buddypool/memutils"
	"github.com/vkngwrapper/buddypool/memutils/buddy"
)

// BuddyBlockMetadata exposes a buddy.Pool through BlockMetadata. Allocation placement is entirely
// up to the pool; the metadata adds two-phase allocation and per-allocation user data.
type BuddyBlockMetadata struct {
	pool     *buddy.Pool
	userData *swiss.Map[int, any]
}

var _ BlockMetadata = &BuddyBlockMetadata{}

// NewBuddyBlockMetadata wraps pool. Allocations already live in the pool start without user data.
func NewBuddyBlockMetadata(pool *buddy.Pool) *BuddyBlockMetadata {
	return &BuddyBlockMetadata{
		pool:     pool,
		userData: swiss.NewMap[int, any](42),
	}
}

// Pool returns the wrapped pool
func (m *BuddyBlockMetadata) Pool() *buddy.Pool { return m.pool }

func (m *BuddyBlockMetadata) Size() int { return m.pool.Size() }

func (m *BuddyBlockMetadata) Validate() error {
	err := m.pool.Validate()
	if err != nil {
		return err
	}

	if m.userData.Count() > m.pool.AllocationCount() {
		return errors.Errorf("there is user data for %d allocations, but only %d are live", m.userData.Count(), m.pool.AllocationCount())
	}

	m.userData.Iter(func(offset int, userData any) bool {
		_, err = m.pool.BlockSize(offset)
		if err != nil {
			err = cerrors.Wrapf(err, "user data is held for offset %d", offset)
			return true
		}
		return false
	})

	return err
}

func (m *BuddyBlockMetadata) AllocationCount() int { return m.pool.AllocationCount() }

func (m *BuddyBlockMetadata) FreeRegionsCount() int { return m.pool.FreeRegionsCount() }

func (m *BuddyBlockMetadata) SumFreeSize() int { return m.pool.SumFreeSize() }

func (m *BuddyBlockMetadata) MayHaveFreeBlock(size int) bool {
	return size <= m.pool.SumFreeSize()
}

func (m *BuddyBlockMetadata) IsEmpty() bool { return m.pool.IsEmpty() }

func (m *BuddyBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	return m.pool.VisitAllRegions(func(offset int, size int, free bool) error {
		if free {
			return handleBlock(NoAllocation, offset, size, nil, true)
		}

		userData, _ := m.userData.Get(offset)
		return handleBlock(BlockAllocationHandle(offset), offset, size, userData, false)
	})
}

func (m *BuddyBlockMetadata) liveOffset(allocHandle BlockAllocationHandle) (int, error) {
	if allocHandle == NoAllocation {
		return 0, errors.New("received NoAllocation where a live allocation was expected")
	}

	offset := int(allocHandle)
	_, err := m.pool.BlockSize(offset)
	if err != nil {
		return 0, err
	}
	return offset, nil
}

func (m *BuddyBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	return m.liveOffset(allocHandle)
}

func (m *BuddyBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	offset, err := m.liveOffset(allocHandle)
	if err != nil {
		return nil, err
	}

	userData, _ := m.userData.Get(offset)
	return userData, nil
}

func (m *BuddyBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	offset, err := m.liveOffset(allocHandle)
	if err != nil {
		return err
	}

	m.setUserData(offset, userData)
	return nil
}

func (m *BuddyBlockMetadata) setUserData(offset int, userData any) {
	if userData == nil {
		m.userData.Delete(offset)
		return
	}
	m.userData.Put(offset, userData)
}

func (m *BuddyBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	m.pool.AddDetailedStatistics(stats)
}

func (m *BuddyBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	m.pool.AddStatistics(stats)
}

func (m *BuddyBlockMetadata) Clear() error {
	var offsets []int
	err := m.pool.VisitAllRegions(func(offset int, size int, free bool) error {
		if !free {
			offsets = append(offsets, offset)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, offset := range offsets {
		err = m.pool.Free(offset)
		if err != nil {
			return err
		}
	}

	m.userData = swiss.NewMap[int, any](42)
	return nil
}

func (m *BuddyBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.pool.BlockJsonData(json)
	json.Name("UserDataCount").Int(m.userData.Count())
}

func (m *BuddyBlockMetadata) CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("Invalid allocSize: %d", allocSize)
	}

	memutils.DebugValidate(m)

	// Is pool big enough?
	if allocSize > m.pool.SumFreeSize() {
		return false, allocRequest, nil
	}

	node, ok := m.pool.FindFree(allocSize)
	if !ok {
		return false, allocRequest, nil
	}

	offset := m.pool.NodeOffset(node)
	allocRequest.Type = AllocationRequestBuddy
	allocRequest.BlockAllocationHandle = BlockAllocationHandle(offset)
	allocRequest.Size = m.pool.NodeSize(node)
	allocRequest.Item = Suballocation{
		Offset: offset,
		Size:   allocSize,
	}
	allocRequest.AlgorithmData = uint64(node)

	return true, allocRequest, nil
}

func (m *BuddyBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	if request.Type != AllocationRequestBuddy {
		return errors.New("allocation request was received by an incompatible metadata")
	}

	if request.AlgorithmData >= uint64(m.pool.NodeCount()) {
		return errors.Errorf("allocation request had node %d, which is outside the status tree", request.AlgorithmData)
	}

	node := buddy.Node(request.AlgorithmData)
	if m.pool.NodeOffset(node) != request.Item.Offset {
		return errors.New("allocation request had a node that was incompatible with the requested offset")
	}

	offset, err := m.pool.Commit(node)
	if err != nil {
		return err
	}

	m.setUserData(offset, userData)
	return nil
}

func (m *BuddyBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	if allocHandle == NoAllocation {
		return errors.New("received NoAllocation where a live allocation was expected")
	}

	offset := int(allocHandle)
	err := m.pool.Free(offset)
	if err != nil {
		return err
	}

	m.userData.Delete(offset)
	return nil
}
