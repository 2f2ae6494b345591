package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tinykern/kcore/memutils"
)

// BlockMetadata represents a single contiguous region of memory within some system. It manages
// suballocations within the region, allowing allocations to be requested and freed, as well as
// enumerated and queried. Implementations only track offsets; they never touch the memory itself,
// except for CheckCorruption.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It gives the implementation an opportunity
	// to ensure that metadata structures are prepared for allocations, as well as allows the consumer
	// to inform the implementation of the size in bytes of the region of memory it will be managing,
	// via the size parameter.
	Init(size int)
	// Size retrieves the size in bytes that the region was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive, depending
	// on the implementation. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the implementation. This number
	// should generally be the number of successful allocations minus the number of successful frees.
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the block. Adjacent regions
	// of free memory are merged, so they are counted as a single region.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// MayHaveFreeBlock should return a heuristic indicating whether the region could possibly support a new
	// allocation of the provided size. False positives are ok, false negatives are not.
	MayHaveFreeBlock(size int) bool

	// IsEmpty will return true if this region has no live suballocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and free range in
	// the region, in address order.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset accepts a BlockAllocationHandle that maps to a live allocation within the region
	// and returns the offset in bytes within the region for that allocation.
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData accepts a BlockAllocationHandle that maps to a live allocation within the region
	// and returns the userdata value provided by the consumer for that allocation.
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)
	// SetAllocationUserData changes the userData of a live allocation
	SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error

	// AddDetailedStatistics sums this region's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this region's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this region
	BlockJsonData(json jwriter.ObjectState)

	// CheckCorruption accepts the memory that this metadata manages. It will return nil if anti-corruption
	// markers are present after every suballocation in the region. Markers are only written when memutils
	// is built with the build flag `debug_mem_utils`, and it is the responsibility of consumers to write
	// them after allocation by calling memutils.WriteMagicValue.
	CheckCorruption(blockData []byte) error

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place the requested memory. That object can be passed to Alloc to commit the allocation.
	//
	// allocSize - the size in bytes of the requested allocation
	// allocAlignment - the minimum alignment of the requested allocation, relative to offset 0
	// strategy - how to choose among free ranges that could hold the allocation
	//
	// The boolean return is false, with a nil error, when no free range can hold the request.
	CreateAllocationRequest(
		allocSize int, allocAlignment uint,
		strategy AllocationStrategy,
	) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, creating the suballocation within the region based
	// on the data described in the AllocationRequest. The implementation must return an error if the
	// allocation is no longer valid.
	Alloc(request AllocationRequest, userData any) error

	// Free frees a suballocation within the region, causing it to become a free range once again.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation
	// within this region.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size                  int
	allocationGranularity int
}

// NewBlockMetadata creates a new BlockMetadataBase. Every allocation size is rounded up to
// allocationGranularity, which must be a power of two; use the machine word size to keep every
// suballocation able to hold a pointer-sized value.
func NewBlockMetadata(allocationGranularity int) BlockMetadataBase {
	memutils.DebugCheckPow2(allocationGranularity, "allocationGranularity")

	return BlockMetadataBase{
		size:                  0,
		allocationGranularity: allocationGranularity,
	}
}

// Init prepares this structure for allocations and sizes the region in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the region in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// AllocationGranularity returns the value every allocation size is rounded up to
func (m *BlockMetadataBase) AllocationGranularity() int { return m.allocationGranularity }

func (m *BlockMetadataBase) roundUpAllocSize(size int) int {
	if m.allocationGranularity <= 1 {
		return size
	}
	return memutils.AlignUp(size, uint(m.allocationGranularity))
}

// BlockJsonData populates a json object with information about this region
func (m *BlockMetadataBase) BlockJsonData(json jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
