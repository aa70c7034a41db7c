package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/submem/memutils"
	"golang.org/x/exp/slices"
)

// FirstFitBlockMetadata is a BlockMetadata implementation that keeps its live suballocations
// in a vector sorted by offset and places new allocations in the lowest-offset free region
// that can hold them.
//
// Every offset and size handed out is a multiple of the granularity the metadata was created
// with. A suballocation is addressed by its offset: the BlockAllocationHandle of a suballocation
// is its offset within the block.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	suballocations []*Suballocation
	offsetKey      *swiss.Map[BlockAllocationHandle, *Suballocation]
	sumFreeSize    int
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

func NewFirstFitBlockMetadata(granularity uint) *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(granularity),
	}
}

func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.suballocations = nil
	m.offsetKey = swiss.NewMap[BlockAllocationHandle, *Suballocation](16)
	m.sumFreeSize = size
}

func (m *FirstFitBlockMetadata) AllocationCount() int {
	return len(m.suballocations)
}

func (m *FirstFitBlockMetadata) FreeRegionsCount() int {
	count := 0
	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			count++
		}
		return nil
	})
	return count
}

func (m *FirstFitBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

func (m *FirstFitBlockMetadata) IsEmpty() bool {
	return len(m.suballocations) == 0
}

func (m *FirstFitBlockMetadata) Validate() error {
	if m.offsetKey == nil {
		return errors.New("the metadata has not been initialized")
	}

	if m.offsetKey.Count() != len(m.suballocations) {
		return errors.Newf("the offset index holds %d entries, but there are %d suballocations", m.offsetKey.Count(), len(m.suballocations))
	}

	granularity := m.Granularity()
	lastEnd := 0
	usedBytes := 0
	for index, suballoc := range m.suballocations {
		if suballoc.Size <= 0 {
			return errors.Newf("suballocation %d at offset %d has an invalid size %d", index, suballoc.Offset, suballoc.Size)
		}
		if !memutils.IsAligned(suballoc.Offset, granularity) || !memutils.IsAligned(suballoc.Size, granularity) {
			return errors.Newf("suballocation %d at offset %d with size %d is not aligned to granularity %d", index, suballoc.Offset, suballoc.Size, granularity)
		}
		if suballoc.Offset < lastEnd {
			return errors.Newf("suballocation %d at offset %d overlaps the previous suballocation, which ends at %d", index, suballoc.Offset, lastEnd)
		}

		indexed, ok := m.offsetKey.Get(BlockAllocationHandle(suballoc.Offset))
		if !ok || indexed != suballoc {
			return errors.Newf("suballocation %d at offset %d is missing from the offset index", index, suballoc.Offset)
		}

		lastEnd = suballoc.End()
		usedBytes += suballoc.Size
	}

	if lastEnd > m.Size() {
		return errors.Newf("the last suballocation ends at %d, past the end of the block at %d", lastEnd, m.Size())
	}

	if m.Size()-usedBytes != m.sumFreeSize {
		return errors.Newf("the block should have %d free bytes, but it reports %d", m.Size()-usedBytes, m.sumFreeSize)
	}

	return nil
}

func (m *FirstFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	lastEnd := 0

	for _, suballoc := range m.suballocations {
		if lastEnd < suballoc.Offset {
			err := handleBlock(NoAllocation, lastEnd, suballoc.Offset-lastEnd, nil, true)
			if err != nil {
				return err
			}
		}

		err := handleBlock(BlockAllocationHandle(suballoc.Offset), suballoc.Offset, suballoc.Size, suballoc.UserData, false)
		if err != nil {
			return err
		}

		lastEnd = suballoc.End()
	}

	if lastEnd < m.Size() {
		return handleBlock(NoAllocation, lastEnd, m.Size()-lastEnd, nil, true)
	}

	return nil
}

func (m *FirstFitBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	suballoc, ok := m.offsetKey.Get(allocHandle)
	if !ok {
		return 0, errors.Newf("allocation handle %d does not map to a live allocation", allocHandle)
	}

	return suballoc.Offset, nil
}

func (m *FirstFitBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	suballoc, ok := m.offsetKey.Get(allocHandle)
	if !ok {
		return nil, errors.Newf("allocation handle %d does not map to a live allocation", allocHandle)
	}

	return suballoc.UserData, nil
}

func (m *FirstFitBlockMetadata) FindAllocation(offset int) BlockAllocationHandle {
	if offset < 0 {
		return NoAllocation
	}

	_, ok := m.offsetKey.Get(BlockAllocationHandle(offset))
	if !ok {
		return NoAllocation
	}

	return BlockAllocationHandle(offset)
}

func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.AddBlock(m.Size())

	_ = m.VisitAllRegions(
		func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				stats.AddUnusedRange(size)
			} else {
				stats.AddAllocation(size)
			}

			return nil
		})
}

func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.AddBlock(m.Size())
	stats.AllocationCount += len(m.suballocations)
	stats.AllocationBytes += m.Size() - m.sumFreeSize
}

func (m *FirstFitBlockMetadata) Clear() {
	m.Init(m.Size())
}

func (m *FirstFitBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	unusedRangeCount := m.FreeRegionsCount()
	m.WriteBlockJson(json, m.sumFreeSize, len(m.suballocations), unusedRangeCount)
}

// CreateAllocationRequest walks the live suballocations in ascending offset order and returns the
// first position at which the request fits: either a free region in front of a suballocation or the
// space behind the last one. The requested size is rounded up to the block granularity and the
// offset is aligned to the larger of the granularity and allocAlignment.
func (m *FirstFitBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error) {
	if allocSize < 1 {
		return false, AllocationRequest{}, errors.Newf("invalid allocation size %d: allocations must be at least one byte", allocSize)
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}
	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, AllocationRequest{}, err
	}

	granularity := m.Granularity()
	alignment := memutils.MaxAlignment(granularity, allocAlignment)
	size := memutils.AlignUp(allocSize, granularity)

	if size > m.sumFreeSize {
		return false, AllocationRequest{}, nil
	}

	lastEnd := 0
	for _, suballoc := range m.suballocations {
		candidate := memutils.AlignUp(lastEnd, alignment)
		if candidate+size <= suballoc.Offset {
			return true, m.request(candidate, size, AllocationRequestGap), nil
		}

		lastEnd = suballoc.End()
	}

	candidate := memutils.AlignUp(lastEnd, alignment)
	if candidate+size <= m.Size() {
		return true, m.request(candidate, size, AllocationRequestTail), nil
	}

	return false, AllocationRequest{}, nil
}

func (m *FirstFitBlockMetadata) request(offset, size int, requestType AllocationRequestType) AllocationRequest {
	return AllocationRequest{
		BlockAllocationHandle: BlockAllocationHandle(offset),
		Size:                  size,
		Item: Suballocation{
			Offset: offset,
			Size:   size,
		},
		Type: requestType,
	}
}

func (m *FirstFitBlockMetadata) searchOffset(offset int) (int, bool) {
	return slices.BinarySearchFunc(m.suballocations, offset, func(suballoc *Suballocation, target int) int {
		return suballoc.Offset - target
	})
}

func (m *FirstFitBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	offset := request.Item.Offset
	size := request.Size

	if offset < 0 || size < 1 || offset+size > m.Size() {
		return errors.Newf("allocation request at offset %d with size %d does not fit in a block of size %d", offset, size, m.Size())
	}

	index, found := m.searchOffset(offset)
	if found {
		return errors.Newf("allocation request at offset %d collides with a live allocation", offset)
	}

	if index > 0 && m.suballocations[index-1].End() > offset {
		return errors.Newf("allocation request at offset %d overlaps the allocation at offset %d", offset, m.suballocations[index-1].Offset)
	}
	if index < len(m.suballocations) && offset+size > m.suballocations[index].Offset {
		return errors.Newf("allocation request at offset %d with size %d overlaps the allocation at offset %d", offset, size, m.suballocations[index].Offset)
	}

	suballoc := &Suballocation{
		Offset:   offset,
		Size:     size,
		UserData: userData,
	}
	m.suballocations = slices.Insert(m.suballocations, index, suballoc)
	m.offsetKey.Put(BlockAllocationHandle(offset), suballoc)
	m.sumFreeSize -= size

	memutils.DebugValidate(m)
	return nil
}

func (m *FirstFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	suballoc, ok := m.offsetKey.Get(allocHandle)
	if !ok {
		return errors.Newf("allocation handle %d does not map to a live allocation", allocHandle)
	}

	index, found := m.searchOffset(suballoc.Offset)
	if !found {
		return errors.Newf("allocation at offset %d is indexed but missing from the suballocation list", suballoc.Offset)
	}

	m.suballocations = slices.Delete(m.suballocations, index, index+1)
	m.offsetKey.Delete(allocHandle)
	m.sumFreeSize += suballoc.Size

	memutils.DebugValidate(m)
	return nil
}
