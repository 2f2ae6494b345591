package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/tinykern/kcore/memutils"
)

// Address is a location inside the simulated address space. Addresses handed out by the
// allocator always lie inside its Region.
type Address uint64

// NullAddress is returned alongside an error when an allocation fails. No Region may start at 0,
// so it never names a valid block.
const NullAddress Address = 0

// RegionAlignment is the alignment every region base must have, and so the largest alignment an
// allocation may request.
const RegionAlignment = 4096

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

func (a Address) Add(n int) Address {
	return a + Address(n)
}

// Layout describes a request: a non-zero size and a power-of-two alignment. Deallocation must be
// given the same Layout as the allocation it releases.
type Layout struct {
	Size  int
	Align int
}

func NewLayout(size, align int) (Layout, error) {
	layout := Layout{Size: size, Align: align}
	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

func (l Layout) Validate() error {
	if l.Size < 0 {
		return errors.Newf("layout size %d is negative", l.Size)
	}
	if l.Align < 0 {
		return errors.Newf("layout alignment %d is negative", l.Align)
	}
	if err := memutils.CheckNonZero(l.Size, "size"); err != nil {
		return err
	}
	if err := memutils.CheckPow2(l.Align, "alignment"); err != nil {
		return err
	}
	if l.Align > RegionAlignment {
		return errors.Wrapf(ErrAlignmentTooLarge, "alignment %d", l.Align)
	}
	return nil
}

// required is the number of bytes a size-classed block must span to hold this layout
func (l Layout) required() int {
	return max(l.Size, l.Align)
}

func (l Layout) String() string {
	return fmt.Sprintf("{size: %d, align: %d}", l.Size, l.Align)
}
