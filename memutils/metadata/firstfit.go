package metadata

import (
	"fmt"
	"sync"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/tinykern/kcore/memutils"
	"golang.org/x/exp/slog"
)

var rangeAllocator = sync.Pool{
	New: func() any {
		return &firstFitRange{}
	},
}

// firstFitRange is one physical range of the region, either free or allocated. Physical neighbours
// are always linked; free ranges are additionally linked into an address-ordered free list.
type firstFitRange struct {
	offset       int
	size         int
	prevPhysical *firstFitRange
	nextPhysical *firstFitRange

	prevFree *firstFitRange
	nextFree *firstFitRange

	free     bool
	userData any
}

func (r *firstFitRange) end() int {
	return r.offset + r.size
}

// FirstFitBlockMetadata is a general purpose heap over a single region. It keeps every range
// in a physical chain and free ranges in an address-ordered list, which it searches from the lowest
// offset up. Freed ranges are merged with free physical neighbours immediately, so no two free ranges
// are ever adjacent.
//
// Handles are range offsets: an allocation's handle is the offset it was placed at.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	allocCount      int
	rangesFreeCount int
	rangesFreeSize  int

	handleKey     *swiss.Map[BlockAllocationHandle, *firstFitRange]
	firstPhysical *firstFitRange
	firstFree     *firstFitRange
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

func NewFirstFitBlockMetadata(allocationGranularity int) *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(allocationGranularity),
	}
}

func (m *FirstFitBlockMetadata) allocateRange(offset, size int) *firstFitRange {
	r := rangeAllocator.Get().(*firstFitRange)
	r.offset = offset
	r.size = size
	r.prevPhysical = nil
	r.nextPhysical = nil
	r.prevFree = nil
	r.nextFree = nil
	r.free = false
	r.userData = nil
	m.handleKey.Put(BlockAllocationHandle(offset), r)
	return r
}

func (m *FirstFitBlockMetadata) releaseRange(r *firstFitRange) {
	m.handleKey.Delete(BlockAllocationHandle(r.offset))
	r.prevPhysical = nil
	r.nextPhysical = nil
	r.userData = nil
	rangeAllocator.Put(r)
}

func (m *FirstFitBlockMetadata) getRange(handle BlockAllocationHandle) (*firstFitRange, error) {
	r, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.Errorf("received handle %d, which does not map to a range in this metadata", handle)
	}
	return r, nil
}

func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *firstFitRange](42)

	m.allocCount = 0
	m.rangesFreeCount = 0
	m.rangesFreeSize = 0
	m.firstFree = nil
	m.firstPhysical = nil

	if size > 0 {
		m.firstPhysical = m.allocateRange(0, size)
		m.insertFreeRange(m.firstPhysical)
	}
}

func (m *FirstFitBlockMetadata) Validate() error {
	if m.SumFreeSize() > m.Size() {
		return errors.New("invalid metadata free size")
	}

	var calculatedSize, calculatedFreeSize, allocCount, freeCount int
	nextOffset := 0

	for r := m.firstPhysical; r != nil; r = r.nextPhysical {
		if r.offset != nextOffset {
			return errors.Errorf("physical range at offset %d does not start at the previous range's end offset %d", r.offset, nextOffset)
		}
		if r.size <= 0 {
			return errors.Errorf("physical range at offset %d has invalid size %d", r.offset, r.size)
		}
		if r.nextPhysical != nil && r.nextPhysical.prevPhysical != r {
			return errors.Errorf("range at offset %d has a next physical range, but the reverse reference is broken", r.offset)
		}

		keyed, ok := m.handleKey.Get(BlockAllocationHandle(r.offset))
		if !ok || keyed != r {
			return errors.Errorf("range at offset %d is not registered under its own offset", r.offset)
		}

		calculatedSize += r.size
		nextOffset = r.end()

		if r.free {
			freeCount++
			calculatedFreeSize += r.size

			if r.nextPhysical != nil && r.nextPhysical.free {
				return errors.Errorf("free ranges at offsets %d and %d are adjacent but were not merged", r.offset, r.nextPhysical.offset)
			}
		} else {
			allocCount++
		}
	}

	// Check integrity of the free list
	var freeListCount int
	lastOffset := -1
	for r := m.firstFree; r != nil; r = r.nextFree {
		if !r.free {
			return errors.Errorf("range at offset %d is in the free list but is not free", r.offset)
		}
		if r.offset <= lastOffset {
			return errors.Errorf("free list is not address ordered at offset %d", r.offset)
		}
		if r.nextFree != nil && r.nextFree.prevFree != r {
			return errors.Errorf("range at offset %d lists the range at offset %d as its next free range, but the reverse reference is broken", r.offset, r.nextFree.offset)
		}

		lastOffset = r.offset
		freeListCount++
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free ranges in the physical chain and the number of ranges in the free list do not match! free list size: %d, physical chain free ranges: %d", freeListCount, freeCount)
	}

	if calculatedSize != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the ranges only added up to %d", m.size, calculatedSize)
	}

	if calculatedFreeSize != m.SumFreeSize() {
		return errors.Errorf("the free size of the metadata is %d, but the free ranges only added up to %d", m.SumFreeSize(), calculatedFreeSize)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken ranges only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.rangesFreeCount {
		return errors.Errorf("the free range count of the metadata is %d, but there were only %d free ranges", m.rangesFreeCount, freeCount)
	}

	if m.handleKey.Count() != allocCount+freeCount {
		return errors.Errorf("the metadata tracks %d handles, but there are %d physical ranges", m.handleKey.Count(), allocCount+freeCount)
	}

	return nil
}

func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.RegionCount++
	stats.RegionBytes += m.size

	for r := m.firstPhysical; r != nil; r = r.nextPhysical {
		if r.free {
			stats.AddUnusedRange(r.size)
		} else {
			stats.AddAllocation(r.size)
		}
	}
}

func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.RegionCount++
	stats.AllocationCount += m.allocCount
	stats.RegionBytes += m.size
	stats.AllocationBytes += m.size - m.SumFreeSize()
}

func (m *FirstFitBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *FirstFitBlockMetadata) FreeRegionsCount() int {
	return m.rangesFreeCount
}

func (m *FirstFitBlockMetadata) SumFreeSize() int {
	return m.rangesFreeSize
}

func (m *FirstFitBlockMetadata) MayHaveFreeBlock(size int) bool {
	return m.rangesFreeSize >= size
}

func (m *FirstFitBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

func (m *FirstFitBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	strategy AllocationStrategy,
) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, allocRequest, err
	}

	memutils.DebugValidate(m)

	allocSize = m.roundUpAllocSize(allocSize)
	rangeSize := allocSize + memutils.DebugMargin

	// Is the region big enough?
	if rangeSize > m.SumFreeSize() {
		return false, allocRequest, nil
	}

	var chosen *firstFitRange
	var chosenOffset int

	switch strategy {
	case AllocationStrategyBestFit:
		for r := m.firstFree; r != nil; r = r.nextFree {
			alignedOffset, fits := m.checkRange(r, rangeSize, allocAlignment)
			if fits && (chosen == nil || r.size < chosen.size) {
				chosen = r
				chosenOffset = alignedOffset
			}
		}
	default:
		for r := m.firstFree; r != nil; r = r.nextFree {
			alignedOffset, fits := m.checkRange(r, rangeSize, allocAlignment)
			if fits {
				chosen = r
				chosenOffset = alignedOffset
				break
			}
		}
	}

	if chosen == nil {
		return false, allocRequest, nil
	}

	allocRequest.Type = AllocationRequestFirstFit
	allocRequest.BlockAllocationHandle = BlockAllocationHandle(chosen.offset)
	allocRequest.Size = allocSize
	allocRequest.Item = Suballocation{
		Offset: chosenOffset,
		Size:   rangeSize,
	}

	return true, allocRequest, nil
}

func (m *FirstFitBlockMetadata) checkRange(r *firstFitRange, rangeSize int, allocAlignment uint) (int, bool) {
	if !r.free {
		panic(fmt.Sprintf("range at offset %d is in the free list but already taken", r.offset))
	}

	alignedOffset := memutils.AlignUp(r.offset, allocAlignment)
	return alignedOffset, alignedOffset+rangeSize <= r.end()
}

func (m *FirstFitBlockMetadata) Alloc(req AllocationRequest, userData any) error {
	if req.Type != AllocationRequestFirstFit {
		return errors.New("allocation request was received by an incompatible metadata")
	}

	current, err := m.getRange(req.BlockAllocationHandle)
	if err != nil {
		return err
	}
	if !current.free {
		return errors.Errorf("allocation request targets the range at offset %d, which is no longer free", current.offset)
	}

	offset := req.Item.Offset
	size := req.Item.Size
	if offset < current.offset || offset+size > current.end() {
		return errors.Errorf("allocation request [%d, %d) does not fit the free range [%d, %d)", offset, offset+size, current.offset, current.end())
	}

	m.removeFreeRange(current)

	// Split off the alignment padding in front as its own free range. The previous physical range
	// can never be free here, since free neighbours are always merged.
	if padding := offset - current.offset; padding > 0 {
		m.handleKey.Delete(BlockAllocationHandle(current.offset))
		front := m.allocateRange(current.offset, padding)

		front.prevPhysical = current.prevPhysical
		front.nextPhysical = current
		if front.prevPhysical != nil {
			front.prevPhysical.nextPhysical = front
		} else {
			m.firstPhysical = front
		}
		current.prevPhysical = front

		current.offset = offset
		current.size -= padding
		m.handleKey.Put(BlockAllocationHandle(current.offset), current)

		m.insertFreeRange(front)
	}

	// Split off the remainder behind
	if remainder := current.size - size; remainder > 0 {
		back := m.allocateRange(offset+size, remainder)

		back.prevPhysical = current
		back.nextPhysical = current.nextPhysical
		if back.nextPhysical != nil {
			back.nextPhysical.prevPhysical = back
		}
		current.nextPhysical = back
		current.size = size

		m.insertFreeRange(back)
	}

	current.userData = userData
	m.allocCount++

	return nil
}

func (m *FirstFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	r, err := m.getRange(allocHandle)
	if err != nil {
		return err
	}
	if r.free {
		return errors.Errorf("range at offset %d is already free", r.offset)
	}

	m.allocCount--
	r.userData = nil

	// Try merging
	next := r.nextPhysical
	if next != nil && next.free {
		m.removeFreeRange(next)
		m.mergeRange(r, next)
	}

	prev := r.prevPhysical
	if prev != nil && prev.free {
		// prev keeps its place in the free list since its offset does not change
		m.rangesFreeSize += r.size
		m.mergeRange(prev, r)
		return nil
	}

	m.insertFreeRange(r)
	return nil
}

func (m *FirstFitBlockMetadata) insertFreeRange(r *firstFitRange) {
	if r.free {
		panic(fmt.Sprintf("range at offset %d is already free", r.offset))
	}

	var prev *firstFitRange
	next := m.firstFree
	for next != nil && next.offset < r.offset {
		prev = next
		next = next.nextFree
	}

	r.prevFree = prev
	r.nextFree = next
	if prev != nil {
		prev.nextFree = r
	} else {
		m.firstFree = r
	}
	if next != nil {
		next.prevFree = r
	}

	r.free = true
	m.rangesFreeCount++
	m.rangesFreeSize += r.size
}

func (m *FirstFitBlockMetadata) removeFreeRange(r *firstFitRange) {
	if !r.free {
		panic(fmt.Sprintf("range at offset %d is not free", r.offset))
	}

	if r.prevFree != nil {
		r.prevFree.nextFree = r.nextFree
	} else {
		if m.firstFree != r {
			panic("range was not in the free list at the expected location")
		}
		m.firstFree = r.nextFree
	}
	if r.nextFree != nil {
		r.nextFree.prevFree = r.prevFree
	}

	r.prevFree = nil
	r.nextFree = nil
	r.free = false
	m.rangesFreeCount--
	m.rangesFreeSize -= r.size
}

// mergeRange grows r over next, which must directly follow it and must not be in the free list
func (m *FirstFitBlockMetadata) mergeRange(r *firstFitRange, next *firstFitRange) {
	if r.nextPhysical != next {
		panic("cannot merge separate physical ranges")
	}
	if next.free {
		panic("cannot merge a range that belongs to the free list")
	}

	r.size += next.size
	r.nextPhysical = next.nextPhysical
	if r.nextPhysical != nil {
		r.nextPhysical.prevPhysical = r
	}

	m.releaseRange(next)
}

func (m *FirstFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for r := m.firstPhysical; r != nil; r = r.nextPhysical {
		err := handleBlock(BlockAllocationHandle(r.offset), r.offset, r.size, r.userData, r.free)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FirstFitBlockMetadata) getAllocation(allocHandle BlockAllocationHandle) (*firstFitRange, error) {
	r, err := m.getRange(allocHandle)
	if err != nil {
		return nil, err
	}
	if r.free {
		return nil, errors.Errorf("range at offset %d is free, not a live allocation", r.offset)
	}
	return r, nil
}

func (m *FirstFitBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	r, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return r.offset, nil
}

// AllocationSize returns the size of a live allocation's range, including any debug margin
func (m *FirstFitBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	r, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return r.size, nil
}

func (m *FirstFitBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	r, err := m.getAllocation(allocHandle)
	if err != nil {
		return nil, err
	}

	return r.userData, nil
}

func (m *FirstFitBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	r, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	r.userData = userData
	return nil
}

// LargestFreeRange returns the size of the largest free range, which bounds the largest allocation
// that could currently succeed with alignment 1
func (m *FirstFitBlockMetadata) LargestFreeRange() int {
	largest := 0
	for r := m.firstFree; r != nil; r = r.nextFree {
		if r.size > largest {
			largest = r.size
		}
	}
	return largest
}

func (m *FirstFitBlockMetadata) Clear() {
	r := m.firstPhysical
	for r != nil {
		next := r.nextPhysical
		m.releaseRange(r)
		r = next
	}

	m.Init(m.size)
}

func (m *FirstFitBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	m.BlockMetadataBase.BlockJsonData(json, stats.FreeBytes(), stats.AllocationCount, stats.UnusedRangeCount)

	largest := stats.LargestUnusedRange()
	json.Name("LargestUnusedRange").Int(largest)
	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
}

func (m *FirstFitBlockMetadata) CheckCorruption(blockData []byte) error {
	if len(blockData) < m.size {
		return errors.Errorf("received %d bytes of memory for a region of %d bytes", len(blockData), m.size)
	}

	for r := m.firstPhysical; r != nil; r = r.nextPhysical {
		if !r.free {
			if !memutils.ValidateMagicValue(blockData, r.end()-memutils.DebugMargin) {
				return errors.Errorf("memory corruption detected after the allocation at offset %d", r.offset)
			}
		}
	}

	return nil
}

func (m *FirstFitBlockMetadata) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int, userData any)) {
	for r := m.firstPhysical; r != nil; r = r.nextPhysical {
		if !r.free {
			logFunc(logger, r.offset, r.size, r.userData)
		}
	}
}
