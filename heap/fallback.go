package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/tinykern/kcore/memutils"
	"github.com/tinykern/kcore/memutils/metadata"
)

// arenaTag is stored as user data on every arena allocation. class is the size class a minted
// block belongs to, or -1 for an oversized allocation made directly for a caller.
type arenaTag struct {
	class  int
	layout Layout
}

func (t arenaTag) minted() bool {
	return t.class >= 0
}

// fallbackArena is the general purpose heap over the whole region. It serves oversized
// allocations and mints new size-class blocks.
type fallbackArena struct {
	region   *Region
	metadata *metadata.FirstFitBlockMetadata
	strategy metadata.AllocationStrategy
}

func newFallbackArena(region *Region, strategy metadata.AllocationStrategy) *fallbackArena {
	md := metadata.NewFirstFitBlockMetadata(linkSize)
	md.Init(region.Size())

	return &fallbackArena{
		region:   region,
		metadata: md,
		strategy: strategy,
	}
}

func (a *fallbackArena) alloc(layout Layout, tag arenaTag) (Address, error) {
	if !a.metadata.MayHaveFreeBlock(layout.Size) {
		return NullAddress, errors.Wrapf(ErrOutOfMemory, "%d bytes requested, %d free", layout.Size, a.metadata.SumFreeSize())
	}

	success, request, err := a.metadata.CreateAllocationRequest(layout.Size, uint(layout.Align), a.strategy)
	if err != nil {
		return NullAddress, err
	}
	if !success {
		return NullAddress, errors.Wrapf(ErrOutOfMemory, "no free range holds %s", layout)
	}

	err = a.metadata.Alloc(request, tag)
	if err != nil {
		return NullAddress, err
	}

	memutils.WriteMagicValue(a.region.memory, request.Item.Offset+request.Size)
	return a.region.address(request.Item.Offset), nil
}

// tag returns the tag of the live arena allocation at addr
func (a *fallbackArena) tag(addr Address) (arenaTag, error) {
	userData, err := a.metadata.AllocationUserData(metadata.BlockAllocationHandle(a.region.offset(addr)))
	if err != nil {
		return arenaTag{}, errors.WithSecondaryError(errors.Wrapf(ErrInvalidAddress, "no arena allocation at %s", addr), err)
	}

	return userData.(arenaTag), nil
}

func (a *fallbackArena) free(addr Address) error {
	err := a.metadata.Free(metadata.BlockAllocationHandle(a.region.offset(addr)))
	if err != nil {
		return errors.WithSecondaryError(errors.Wrapf(ErrInvalidAddress, "freeing %s", addr), err)
	}
	return nil
}

func (a *fallbackArena) freeBytes() int {
	return a.metadata.SumFreeSize()
}

func (a *fallbackArena) checkCorruption() error {
	return a.metadata.CheckCorruption(a.region.memory)
}
