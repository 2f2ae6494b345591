package heap

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/tinykern/kcore/memutils"
)

// linkSize is the width of the word an intrusive free-list node stores
const linkSize = 8

// Region is the contiguous, writable range of memory the allocator manages. It is handed over
// once at Init and never resized.
type Region struct {
	base   Address
	memory []byte
}

// NewRegion maps size bytes of fresh memory at base. base must be non-zero and aligned to
// RegionAlignment.
func NewRegion(base Address, size int) (*Region, error) {
	if base == NullAddress {
		return nil, errors.New("region base must be non-zero")
	}
	if !memutils.IsAligned(uint64(base), RegionAlignment) {
		return nil, errors.Newf("region base %s is not aligned to %d", base, RegionAlignment)
	}
	if size < linkSize {
		return nil, errors.Newf("region size %d is too small", size)
	}
	if uint64(base)+uint64(size) < uint64(base) {
		return nil, errors.Newf("region [%s, +%d) wraps the address space", base, size)
	}

	return &Region{
		base:   base,
		memory: make([]byte, size),
	}, nil
}

func (r *Region) Base() Address { return r.base }
func (r *Region) Size() int     { return len(r.memory) }
func (r *Region) End() Address  { return r.base.Add(len(r.memory)) }

// Contains reports whether [addr, addr+n) lies entirely inside the region
func (r *Region) Contains(addr Address, n int) bool {
	if n < 0 || addr < r.base || addr >= r.End() {
		return false
	}
	return uint64(r.End()-addr) >= uint64(n)
}

func (r *Region) offset(addr Address) int {
	return int(addr - r.base)
}

func (r *Region) address(offset int) Address {
	return r.base.Add(offset)
}

// Slice returns the n bytes of region memory starting at addr. Writes through the slice write the
// region.
func (r *Region) Slice(addr Address, n int) ([]byte, error) {
	if !r.Contains(addr, n) {
		return nil, errors.Wrapf(ErrInvalidAddress, "[%s, +%d) is outside region [%s, %s)", addr, n, r.base, r.End())
	}

	offset := r.offset(addr)
	return r.memory[offset : offset+n : offset+n], nil
}

// ReadWord reads the little-endian link word stored at addr
func (r *Region) ReadWord(addr Address) uint64 {
	offset := r.offset(addr)
	return binary.LittleEndian.Uint64(r.memory[offset : offset+linkSize])
}

// WriteWord stores a little-endian link word at addr
func (r *Region) WriteWord(addr Address, value uint64) {
	offset := r.offset(addr)
	binary.LittleEndian.PutUint64(r.memory[offset:offset+linkSize], value)
}
