package metadata

import "math"

// BlockAllocationHandle identifies a range (free or allocated) inside a BlockMetadata
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
