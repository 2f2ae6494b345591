package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFirstFit indicates that the allocation request was sourced from metadata.FirstFitBlockMetadata
	AllocationRequestFirstFit AllocationRequestType = iota
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFirstFit: "FirstFit",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to allocate new memory. It is committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free range the allocation will be carved out of
	BlockAllocationHandle BlockAllocationHandle
	// Size is the size the caller asked for, after rounding up to the allocation granularity
	Size int
	// Item is the suballocation that will be created: its offset is aligned and its size includes
	// any debug margin
	Item Suballocation
	// Type identifies the BlockMetadata implementation used to generate this request
	Type AllocationRequestType
}
