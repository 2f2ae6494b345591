package heap

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory is returned when the fallback arena has no free range that can hold a request
	ErrOutOfMemory = errors.New("out of memory")
	// ErrNotInitialized is returned by every operation attempted before Init
	ErrNotInitialized = errors.New("allocator is not initialized")
	// ErrAlreadyInitialized is returned when Init is called a second time
	ErrAlreadyInitialized = errors.New("allocator is already initialized")
	// ErrAlignmentTooLarge is returned for alignments above RegionAlignment, which the region
	// base cannot guarantee
	ErrAlignmentTooLarge = errors.New("alignment exceeds region alignment")
	// ErrInvalidAddress is returned when an address handed back to the allocator cannot have come
	// from it
	ErrInvalidAddress = errors.New("invalid address")
	// ErrOwnership is returned when ownership tracking sees a block freed twice or freed while
	// never lent
	ErrOwnership = errors.New("block ownership violation")
)
