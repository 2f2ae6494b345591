package heap

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/tinykern/kcore/internal/utils"
	"github.com/tinykern/kcore/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateExternallySynchronized turns off the allocator's internal spinlock. The consumer
	// must guarantee the allocator is only used from one goroutine at a time, and that no interrupt
	// handler can reach it while it is in use.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateTrackOwnership records the ownership state of every block, so that double
	// frees and frees of blocks that were never lent are reported instead of corrupting the free
	// lists.
	AllocatorCreateTrackOwnership
)

var createFlagsMapping = map[CreateFlags]string{
	AllocatorCreateExternallySynchronized: "AllocatorCreateExternallySynchronized",
	AllocatorCreateTrackOwnership:         "AllocatorCreateTrackOwnership",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}
		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}
	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// Strategy chooses how the fallback arena picks among free ranges. The zero value is first-fit.
	Strategy metadata.AllocationStrategy
	// Metrics is optional. Create it with NewMetrics.
	Metrics *Metrics
	// Interrupts is masked for as long as the allocator lock is held. Set it to the line of any
	// interrupt whose handler can allocate.
	Interrupts utils.InterruptMask
	// ErrorHandler is called by MustAllocate when an allocation fails. The default panics.
	ErrorHandler func(layout Layout, err error)
}

func defaultErrorHandler(layout Layout, err error) {
	panic(errors.Wrapf(err, "allocation error: %s", layout))
}

// New creates an empty Allocator. It serves no requests until Init hands it a region.
func New(logger *slog.Logger, options CreateOptions) *Allocator {
	allocator := &Allocator{
		logger:       logger,
		createFlags:  options.Flags,
		strategy:     options.Strategy,
		metrics:      options.Metrics,
		errorHandler: options.ErrorHandler,
		mutex: utils.OptionalMutex{
			UseMutex:   options.Flags&AllocatorCreateExternallySynchronized == 0,
			Interrupts: options.Interrupts,
		},
	}

	if allocator.errorHandler == nil {
		allocator.errorHandler = defaultErrorHandler
	}

	for i := range allocator.lists {
		allocator.lists[i].classSize = SizeClasses[i]
	}

	if options.Flags&AllocatorCreateTrackOwnership != 0 {
		allocator.owners = swiss.NewMap[Address, blockState](64)
	}

	logger.Debug("Allocator::New",
		slog.String("Flags", options.Flags.String()),
		slog.String("Strategy", options.Strategy.String()),
	)

	return allocator
}
