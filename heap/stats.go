package heap

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tinykern/kcore/memutils"
	"github.com/tinykern/kcore/memutils/metadata"
)

// SizeClassStatistics describes the blocks belonging to one size class
type SizeClassStatistics struct {
	ClassSize int
	// Minted is the number of blocks ever carved from the fallback arena for this class
	Minted int
	// Free is the number of blocks waiting on the class's free list
	Free int
	// Lent is the number of blocks currently held by callers
	Lent int
}

// CalculateStatistics sums the fallback arena's view of the region into stats. Minted size-class
// blocks count as arena allocations whether they are lent or free; see SizeClassStatistics for the
// split.
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.region == nil {
		return
	}
	a.arena.metadata.AddDetailedStatistics(stats)
}

// SizeClassStatistics returns one entry per size class, smallest first
func (a *Allocator) SizeClassStatistics() []SizeClassStatistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stats := make([]SizeClassStatistics, 0, sizeClassCount)
	for i := range a.lists {
		list := &a.lists[i]
		stats = append(stats, SizeClassStatistics{
			ClassSize: list.classSize,
			Minted:    list.minted,
			Free:      list.length,
			Lent:      list.lent(),
		})
	}
	return stats
}

// BuildStatsString renders allocator statistics as JSON. With detailed set, every range of the
// fallback arena is listed as well.
func (a *Allocator) BuildStatsString(detailed bool) string {
	var total memutils.DetailedStatistics
	total.Clear()
	a.CalculateStatistics(&total)
	classes := a.SizeClassStatistics()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	writer := jwriter.NewWriter()
	root := writer.Object()

	root.Name("Flags").String(a.createFlags.String())

	if a.region == nil {
		root.Name("Initialized").Bool(false)
		root.End()
		return string(writer.Bytes())
	}
	root.Name("Initialized").Bool(true)

	regionObj := root.Name("Region").Object()
	regionObj.Name("Base").String(a.region.Base().String())
	regionObj.Name("Size").Int(a.region.Size())
	regionObj.End()

	totalObj := root.Name("Total").Object()
	printStatistics(&totalObj, &total)
	totalObj.End()

	classArray := root.Name("SizeClasses").Array()
	for _, class := range classes {
		classObj := classArray.Object()
		classObj.Name("ClassSize").Int(class.ClassSize)
		classObj.Name("Minted").Int(class.Minted)
		classObj.Name("Free").Int(class.Free)
		classObj.Name("Lent").Int(class.Lent)
		classObj.End()
	}
	classArray.End()

	fallbackObj := root.Name("Fallback").Object()
	fallbackObj.Name("Strategy").String(a.strategy.String())
	a.arena.metadata.BlockJsonData(fallbackObj)
	if detailed {
		a.printDetailedMap(fallbackObj)
	}
	fallbackObj.End()

	root.End()
	return string(writer.Bytes())
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("RegionCount").Int(stats.RegionCount)
	json.Name("RegionBytes").Int(stats.RegionBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

func (a *Allocator) printDetailedMap(json jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = a.arena.metadata.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Address").String(a.region.address(offset).String())
			obj.Name("Size").Int(size)

			if free {
				obj.Name("Type").String("FREE")
				return nil
			}

			tag := userData.(arenaTag)
			if tag.minted() {
				obj.Name("Type").String(fmt.Sprintf("SIZE_CLASS_%d", SizeClasses[tag.class]))
			} else {
				obj.Name("Type").String("FALLBACK")
				obj.Name("Align").Int(tag.layout.Align)
			}
			return nil
		})
}
