package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/tinykern/kcore/internal/utils"
	"github.com/tinykern/kcore/memutils"
	"github.com/tinykern/kcore/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Allocator is a segregated free-list allocator over a single Region. Requests that fit a size
// class are served from that class's intrusive free list, and the fallback arena mints blocks
// for empty classes and serves everything larger than MaxSizeClass.
//
// Size-class blocks never return to the arena and are never coalesced. Memory handed out is not
// zeroed.
type Allocator struct {
	logger       *slog.Logger
	createFlags  CreateFlags
	strategy     metadata.AllocationStrategy
	metrics      *Metrics
	errorHandler func(layout Layout, err error)

	mutex  utils.OptionalMutex
	region *Region
	arena  *fallbackArena
	lists  [sizeClassCount]freeList
	owners *swiss.Map[Address, blockState]
}

var _ memutils.Validatable = &Allocator{}

// Init hands the allocator its region: size bytes starting at base. It may only be called once.
func (a *Allocator) Init(base Address, size int) error {
	a.logger.Debug("Allocator::Init", slog.String("Base", base.String()), slog.Int("Size", size))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region != nil {
		return errors.Wrapf(ErrAlreadyInitialized, "region already at %s", a.region.Base())
	}

	region, err := NewRegion(base, size)
	if err != nil {
		return err
	}

	a.region = region
	a.arena = newFallbackArena(region, a.strategy)
	a.metrics.setFallbackFree(a.arena.freeBytes())
	return nil
}

// Initialized reports whether Init has succeeded
func (a *Allocator) Initialized() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.region != nil
}

// Region returns the region the allocator manages, or nil before Init
func (a *Allocator) Region() *Region {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.region
}

// Route reports where a layout would be served from, without allocating
func (a *Allocator) Route(layout Layout) Route {
	index := classIndex(layout)
	if index < 0 {
		return RouteFallback
	}
	return RouteSizeClass(index)
}

// Allocate returns the address of a block that holds layout.Size bytes aligned to layout.Align.
// On failure it returns NullAddress and an error; exhaustion is reported as ErrOutOfMemory.
func (a *Allocator) Allocate(layout Layout) (Address, error) {
	a.logger.Debug("Allocator::Allocate", slog.Int("Size", layout.Size), slog.Int("Align", layout.Align))

	if err := layout.Validate(); err != nil {
		a.metrics.recordFailure()
		return NullAddress, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region == nil {
		a.metrics.recordFailure()
		return NullAddress, ErrNotInitialized
	}

	addr, err := a.allocate(layout)
	if err != nil {
		a.metrics.recordFailure()
		a.logger.Debug("  Allocator::Allocate FAILED", slog.Any("error", err))
		return NullAddress, err
	}

	if a.owners != nil {
		a.owners.Put(addr, blockLent)
	}
	a.metrics.setFallbackFree(a.arena.freeBytes())
	return addr, nil
}

func (a *Allocator) allocate(layout Layout) (Address, error) {
	index := classIndex(layout)
	if index < 0 {
		addr, err := a.arena.alloc(layout, arenaTag{class: -1, layout: layout})
		if err != nil {
			return NullAddress, err
		}

		a.metrics.recordFallback()
		return addr, nil
	}

	list := &a.lists[index]
	if list.length > 0 {
		// a head that fails the ownership check stays on the list
		if a.owners != nil {
			if state, ok := a.owners.Get(list.head); !ok || state != blockFree {
				return NullAddress, errors.Wrapf(ErrOwnership, "free list of class %d holds %s, which is not free", list.classSize, list.head)
			}
		}
		addr := list.pop(a.region)

		a.metrics.recordHit(index)
		return addr, nil
	}

	// Mint exactly one block of the class size, aligned to the class size, so every block this
	// class ever recycles can serve any layout that maps to it.
	classLayout := Layout{Size: list.classSize, Align: list.classSize}
	addr, err := a.arena.alloc(classLayout, arenaTag{class: index, layout: classLayout})
	if err != nil {
		return NullAddress, err
	}

	list.minted++
	a.metrics.recordMint(index)
	return addr, nil
}

// MustAllocate is Allocate for callers that cannot handle failure: errors are passed to the
// allocator's error handler, which by default panics.
func (a *Allocator) MustAllocate(layout Layout) Address {
	addr, err := a.Allocate(layout)
	if err != nil {
		a.errorHandler(layout, err)
	}
	return addr
}

// Deallocate returns a block to the allocator. layout must be the one the block was allocated with;
// that is not checked. Only structural problems the allocator can see are reported: an address
// outside the region, misaligned for its class, unknown to the arena, or an ownership violation
// when ownership tracking is on.
func (a *Allocator) Deallocate(addr Address, layout Layout) error {
	a.logger.Debug("Allocator::Deallocate", slog.String("Address", addr.String()), slog.Int("Size", layout.Size))

	if err := layout.Validate(); err != nil {
		return err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region == nil {
		return ErrNotInitialized
	}

	route := a.Route(layout)
	if err := a.deallocate(addr, route); err != nil {
		return err
	}

	a.metrics.recordDeallocation(route)
	a.metrics.setFallbackFree(a.arena.freeBytes())
	return nil
}

func (a *Allocator) deallocate(addr Address, route Route) error {
	if route.IsFallback() {
		if !a.region.Contains(addr, 1) {
			return errors.Wrapf(ErrInvalidAddress, "%s is outside the region", addr)
		}

		tag, err := a.arena.tag(addr)
		if err != nil {
			return err
		}
		if tag.minted() {
			return errors.Wrapf(ErrInvalidAddress, "%s is a block of size class %d, not an oversized allocation", addr, SizeClasses[tag.class])
		}

		if err := a.arena.free(addr); err != nil {
			return err
		}
		if a.owners != nil {
			a.owners.Delete(addr)
		}
		return nil
	}

	list := &a.lists[route]
	if !a.region.Contains(addr, list.classSize) {
		return errors.Wrapf(ErrInvalidAddress, "%s is outside the region", addr)
	}
	if !memutils.IsAligned(uint64(addr), uint(list.classSize)) {
		return errors.Wrapf(ErrInvalidAddress, "%s is not aligned to its size class %d", addr, list.classSize)
	}

	if a.owners != nil {
		state, ok := a.owners.Get(addr)
		if !ok {
			return errors.Wrapf(ErrOwnership, "%s was never lent", addr)
		}
		if state != blockLent {
			return errors.Wrapf(ErrOwnership, "%s is already %s", addr, state)
		}
		a.owners.Put(addr, blockFree)
	}

	list.push(a.region, addr)
	return nil
}

// Bytes returns a view of n bytes of allocator memory starting at addr
func (a *Allocator) Bytes(addr Address, n int) ([]byte, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region == nil {
		return nil, ErrNotInitialized
	}
	return a.region.Slice(addr, n)
}

// FreeListLength returns the number of blocks on the free list of the size class at index class
func (a *Allocator) FreeListLength(class int) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if class < 0 || class >= sizeClassCount {
		return 0
	}
	return a.lists[class].length
}

// Validate checks the fallback arena's metadata and walks every free list. It is expensive and
// meant for tests and debugging.
func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region == nil {
		return ErrNotInitialized
	}

	if err := a.arena.metadata.Validate(); err != nil {
		return errors.Wrap(err, "fallback arena")
	}

	for i := range a.lists {
		list := &a.lists[i]
		if list.length > list.minted {
			return errors.Newf("size class %d has %d free blocks but only minted %d", list.classSize, list.length, list.minted)
		}

		count := 0
		err := list.visit(a.region, list.length+1, func(addr Address) error {
			count++
			if !a.region.Contains(addr, list.classSize) {
				return errors.Newf("size class %d free list links to %s, outside the region", list.classSize, addr)
			}
			if !memutils.IsAligned(uint64(addr), uint(list.classSize)) {
				return errors.Newf("size class %d free list holds misaligned block %s", list.classSize, addr)
			}

			tag, err := a.arena.tag(addr)
			if err != nil {
				return err
			}
			if tag.class != i {
				return errors.Newf("size class %d free list holds %s, which was minted for another class", list.classSize, addr)
			}

			if a.owners != nil {
				if state, ok := a.owners.Get(addr); !ok || state != blockFree {
					return errors.Newf("size class %d free list holds %s, which is not tracked as free", list.classSize, addr)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if count != list.length {
			return errors.Newf("size class %d free list has %d nodes but records a length of %d", list.classSize, count, list.length)
		}
	}

	return nil
}

// CheckCorruption verifies the debug margins behind every arena allocation. Margins are only
// written when built with the debug_mem_utils tag; otherwise this always succeeds.
func (a *Allocator) CheckCorruption() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region == nil {
		return ErrNotInitialized
	}
	return a.arena.checkCorruption()
}

// Destroy releases the region. It logs and reports an error for every allocation still live;
// the region is released either way, after which the allocator may be initialized again.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region == nil {
		return ErrNotInitialized
	}

	unreleased := 0
	for i := range a.lists {
		if lent := a.lists[i].lent(); lent > 0 {
			unreleased += lent
			a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] size class blocks still lent",
				slog.Int("class", a.lists[i].classSize),
				slog.Int("count", lent),
			)
		}
	}

	err := a.arena.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			return nil
		}

		tag := userData.(arenaTag)
		if tag.minted() {
			return nil
		}

		unreleased++
		a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
			slog.String("address", a.region.address(offset).String()),
			slog.Int("size", size),
			slog.Int("align", tag.layout.Align),
		)
		return nil
	})
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError,
			"[UNRELEASED MEMORY] error while iterating unreleased memory",
			slog.Any("error", err))
	}

	a.region = nil
	a.arena = nil
	for i := range a.lists {
		a.lists[i] = freeList{classSize: SizeClasses[i]}
	}
	if a.owners != nil {
		a.owners = swiss.NewMap[Address, blockState](64)
	}

	if unreleased > 0 {
		return errors.Newf("%d allocations were not freed before the allocator was destroyed", unreleased)
	}
	return nil
}
