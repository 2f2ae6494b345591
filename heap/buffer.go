package heap

import (
	"github.com/cockroachdb/errors"
)

const minBufferCapacity = 8

// Buffer is a growable byte buffer whose storage lives in allocator memory. The zero value is not
// usable; create one with NewBuffer. A Buffer is not safe for concurrent use.
type Buffer struct {
	allocator *Allocator
	addr      Address
	length    int
	capacity  int
}

func NewBuffer(allocator *Allocator) *Buffer {
	return &Buffer{allocator: allocator}
}

func (b *Buffer) Len() int { return b.length }
func (b *Buffer) Cap() int { return b.capacity }

func (b *Buffer) layout() Layout {
	return Layout{Size: b.capacity, Align: 1}
}

// reserve grows the backing block so that at least n bytes fit, doubling the capacity each time
func (b *Buffer) reserve(n int) error {
	if n <= b.capacity {
		return nil
	}

	capacity := max(b.capacity, minBufferCapacity)
	for capacity < n {
		capacity *= 2
	}

	addr, err := b.allocator.Allocate(Layout{Size: capacity, Align: 1})
	if err != nil {
		return errors.Wrapf(err, "growing buffer to %d bytes", capacity)
	}

	if b.length > 0 {
		dst, err := b.allocator.Bytes(addr, b.length)
		if err != nil {
			return err
		}
		src, err := b.allocator.Bytes(b.addr, b.length)
		if err != nil {
			return err
		}
		copy(dst, src)
	}

	if b.addr != NullAddress {
		if err := b.allocator.Deallocate(b.addr, b.layout()); err != nil {
			return err
		}
	}

	b.addr = addr
	b.capacity = capacity
	return nil
}

// Append adds data to the end of the buffer
func (b *Buffer) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := b.reserve(b.length + len(data)); err != nil {
		return err
	}

	dst, err := b.allocator.Bytes(b.addr.Add(b.length), len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	b.length += len(data)
	return nil
}

// Set replaces the content of the buffer, keeping its storage when it is large enough. On failure
// the previous content is left intact.
func (b *Buffer) Set(data []byte) error {
	if err := b.reserve(len(data)); err != nil {
		return err
	}
	b.length = 0
	return b.Append(data)
}

// Bytes returns a copy of the content
func (b *Buffer) Bytes() ([]byte, error) {
	out := make([]byte, b.length)
	if b.length == 0 {
		return out, nil
	}

	src, err := b.allocator.Bytes(b.addr, b.length)
	if err != nil {
		return nil, err
	}
	copy(out, src)
	return out, nil
}

// Release returns the storage to the allocator and empties the buffer
func (b *Buffer) Release() error {
	if b.addr == NullAddress {
		return nil
	}

	err := b.allocator.Deallocate(b.addr, b.layout())
	b.addr = NullAddress
	b.length = 0
	b.capacity = 0
	return err
}
