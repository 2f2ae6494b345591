package heap

// freeBlockView reinterprets a free size-class block as a list node holding only the address of
// the next free block. A view is valid only under the allocator lock and only while the block is
// on a free list; once popped, the bytes belong to the caller.
type freeBlockView struct {
	region *Region
	addr   Address
}

func (v freeBlockView) Next() Address {
	return Address(v.region.ReadWord(v.addr))
}

func (v freeBlockView) SetNext(next Address) {
	v.region.WriteWord(v.addr, uint64(next))
}

// freeList is the LIFO stack of free blocks for one size class
type freeList struct {
	classSize int

	head   Address
	length int
	// minted counts blocks ever carved from the fallback arena for this class. Blocks never
	// return to the arena, so minted - length is the number currently lent out.
	minted int
}

func (l *freeList) push(region *Region, addr Address) {
	freeBlockView{region: region, addr: addr}.SetNext(l.head)
	l.head = addr
	l.length++
}

func (l *freeList) pop(region *Region) Address {
	if l.head == NullAddress {
		return NullAddress
	}

	addr := l.head
	l.head = freeBlockView{region: region, addr: addr}.Next()
	l.length--
	return addr
}

func (l *freeList) lent() int {
	return l.minted - l.length
}

// visit walks the list from the head, stopping after limit nodes so a corrupted link cannot loop
// forever
func (l *freeList) visit(region *Region, limit int, visitor func(addr Address) error) error {
	addr := l.head
	for i := 0; i < limit && addr != NullAddress; i++ {
		if err := visitor(addr); err != nil {
			return err
		}
		addr = freeBlockView{region: region, addr: addr}.Next()
	}
	return nil
}

// blockState is the ownership of a block while ownership tracking is enabled. A block moves
// blockFree -> blockLent on allocation and back on deallocation; fallback blocks are simply
// forgotten when freed.
type blockState uint8

const (
	blockFree blockState = iota
	blockLent
)

var blockStateMapping = map[blockState]string{
	blockFree: "free",
	blockLent: "lent",
}

func (s blockState) String() string {
	return blockStateMapping[s]
}
