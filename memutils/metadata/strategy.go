package metadata

// AllocationStrategy chooses among the free ranges that could hold a new allocation.
type AllocationStrategy uint32

const (
	// AllocationStrategyFirstFit selects the free range with the lowest offset that can hold the
	// allocation. This is the default, and keeps allocations packed towards the start of the region.
	AllocationStrategyFirstFit AllocationStrategy = iota
	// AllocationStrategyBestFit selects the smallest free range that can hold the allocation, to
	// minimize fragmentation at the expense of a full scan of the free list
	AllocationStrategyBestFit
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyFirstFit: "first-fit",
	AllocationStrategyBestFit:  "best-fit",
}

func (s AllocationStrategy) String() string {
	return allocationStrategyMapping[s]
}

// ParseAllocationStrategy maps a strategy name produced by String back to its value
func ParseAllocationStrategy(name string) (AllocationStrategy, bool) {
	for strategy, strategyName := range allocationStrategyMapping {
		if strategyName == name {
			return strategy, true
		}
	}

	return AllocationStrategyFirstFit, false
}
