package heap

import "fmt"

// SizeClasses are the block sizes served from segregated free lists. Every class is at least
// linkSize bytes so a free block can hold its own list link.
var SizeClasses = [...]int{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

const sizeClassCount = len(SizeClasses)

// MaxSizeClass is the largest request, counting alignment, that is served from a size class
var MaxSizeClass = SizeClasses[sizeClassCount-1]

// classIndex returns the index of the smallest class that can hold the layout, or -1 when the
// layout must go to the fallback arena
func classIndex(layout Layout) int {
	required := layout.required()
	for i, size := range SizeClasses {
		if required <= size {
			return i
		}
	}
	return -1
}

// Route describes where the allocator serves a layout from: a size class index, or RouteFallback
type Route int

const RouteFallback Route = -1

func RouteSizeClass(index int) Route {
	return Route(index)
}

func (r Route) IsFallback() bool {
	return r < 0
}

// ClassSize returns the block size of a size class route, or 0 for the fallback route
func (r Route) ClassSize() int {
	if r.IsFallback() || int(r) >= sizeClassCount {
		return 0
	}
	return SizeClasses[r]
}

func (r Route) String() string {
	if r.IsFallback() {
		return "fallback"
	}
	return fmt.Sprintf("size-class[%d]", r.ClassSize())
}
