// Package kernel wires the allocator, the filesystem, the interrupt controller and the shell into
// one Context and delivers typed lines to the shell from the keyboard interrupt handler.
package kernel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinykern/kcore/config"
	"github.com/tinykern/kcore/heap"
	"github.com/tinykern/kcore/internal/irq"
	"github.com/tinykern/kcore/internal/utils"
	"github.com/tinykern/kcore/memfs"
	"github.com/tinykern/kcore/shell"
	"golang.org/x/exp/slog"
)

type options struct {
	clock func() time.Time
}

type Option func(*options)

// WithClock sets the clock used for filesystem timestamps
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Context owns every subsystem of a booted kernel. Nothing is shared between Contexts.
type Context struct {
	logger  *slog.Logger
	display io.Writer

	interrupts *irq.Controller
	registry   *prometheus.Registry
	allocator  *heap.Allocator
	fs         *memfs.FileSystem
	shell      *shell.Shell

	// inputMutex guards input and halted. It masks the keyboard line, so TypeLine never races
	// the handler that drains the queue.
	inputMutex utils.OptionalMutex
	input      []string
	halted     bool
	shutDown   bool
}

// Boot brings up a kernel from cfg: the heap region, the filesystem on top of it and the shell,
// then prints the first prompt to display.
func Boot(logger *slog.Logger, cfg *config.Config, display io.Writer, opts ...Option) (*Context, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	strategy, err := cfg.Heap.AllocationStrategy()
	if err != nil {
		return nil, err
	}

	k := &Context{
		logger:     logger,
		display:    display,
		interrupts: irq.NewController(logger),
	}
	keyboard := k.interrupts.Line(irq.LineKeyboard)

	var metrics *heap.Metrics
	if cfg.Metrics.Enabled {
		k.registry = prometheus.NewRegistry()
		metrics = heap.NewMetrics(k.registry)
	}

	k.allocator = heap.New(logger, heap.CreateOptions{
		Flags:      cfg.Heap.CreateFlags(),
		Strategy:   strategy,
		Metrics:    metrics,
		Interrupts: keyboard,
	})
	if err := k.allocator.Init(cfg.Heap.Base, cfg.Heap.Size.Int()); err != nil {
		return nil, errors.Wrap(err, "failed to initialize heap")
	}

	k.fs = memfs.New(logger, k.allocator, memfs.Options{
		RootAnchoredIO: cfg.FS.RootAnchoredIO,
		Interrupts:     keyboard,
		Clock:          o.clock,
	})
	k.shell = shell.New(logger, k.fs, k.allocator, shell.Options{
		Clock:          o.clock,
		TimezoneOffset: cfg.Shell.TimezoneOffset,
	})
	k.inputMutex = utils.OptionalMutex{UseMutex: true, Interrupts: keyboard}

	if err := k.interrupts.Register(irq.LineKeyboard, k.handleKeyboard); err != nil {
		return nil, err
	}

	logger.Info("kernel booted",
		slog.String("heap_base", cfg.Heap.Base.String()),
		slog.String("heap_size", cfg.Heap.Size.String()),
		slog.String("strategy", strategy.String()),
		slog.String("flags", cfg.Heap.CreateFlags().String()),
	)

	k.write(k.shell.Prompt())
	return k, nil
}

// TypeLine queues a decoded line of keyboard input and raises the keyboard interrupt. If the line
// is masked because a lock is held, the line runs as soon as the lock is released.
func (k *Context) TypeLine(line string) {
	k.inputMutex.Lock()
	if k.halted {
		k.inputMutex.Unlock()
		k.logger.Debug("Kernel::TypeLine ignored after halt", slog.String("line", line))
		return
	}
	k.input = append(k.input, line)
	k.inputMutex.Unlock()

	k.interrupts.Raise(irq.LineKeyboard)
}

func (k *Context) handleKeyboard(irq.Line) {
	for {
		k.inputMutex.Lock()
		if len(k.input) == 0 || k.halted {
			k.inputMutex.Unlock()
			return
		}
		line := k.input[0]
		k.input = k.input[1:]
		k.inputMutex.Unlock()

		k.write(line + "\n")
		k.write(k.shell.Execute(line))

		if k.shell.Exited() {
			k.inputMutex.Lock()
			k.halted = true
			k.input = nil
			k.inputMutex.Unlock()

			k.logger.Info("kernel halted")
			return
		}
		k.write(k.shell.Prompt())
	}
}

func (k *Context) write(text string) {
	if text == "" {
		return
	}
	if _, err := io.WriteString(k.display, text); err != nil {
		k.logger.LogAttrs(context.Background(), slog.LevelWarn, "display write failed", slog.Any("error", err))
	}
}

// Halted reports whether the shell has executed exit
func (k *Context) Halted() bool {
	k.inputMutex.Lock()
	defer k.inputMutex.Unlock()

	return k.halted
}

// Shutdown releases every file and then the heap region, reporting memory that was still live.
// Calling it again does nothing.
func (k *Context) Shutdown() error {
	k.inputMutex.Lock()
	if k.shutDown {
		k.inputMutex.Unlock()
		return nil
	}
	k.shutDown = true
	k.halted = true
	k.input = nil
	k.inputMutex.Unlock()

	var errs error
	if err := k.fs.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "closing filesystem"))
	}
	if err := k.allocator.Destroy(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "destroying heap"))
	}
	return errs
}

func (k *Context) Allocator() *heap.Allocator    { return k.allocator }
func (k *Context) FileSystem() *memfs.FileSystem { return k.fs }
func (k *Context) Shell() *shell.Shell           { return k.shell }
func (k *Context) Interrupts() *irq.Controller   { return k.interrupts }

// Registry holds the allocator metrics, or is nil when metrics are disabled
func (k *Context) Registry() *prometheus.Registry { return k.registry }

func (k *Context) String() string {
	region := k.allocator.Region()
	if region == nil {
		return "kernel(shut down)"
	}
	return fmt.Sprintf("kernel(heap %d bytes at %s)", region.Size(), region.Base())
}
