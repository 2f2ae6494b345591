// Package irq models the interrupt controller of a single core: handlers registered per line,
// nested masking, and interrupts held pending while their line is masked.
//
// Delivery is synchronous. Raise runs the handler on the caller's goroutine, the way an interrupt
// borrows whatever the core was executing, and a line stays masked while its own handler runs.
package irq

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

type Line int

const (
	LineTimer Line = iota
	LineKeyboard

	lineCount
)

var lineMapping = map[Line]string{
	LineTimer:    "timer",
	LineKeyboard: "keyboard",
}

func (l Line) String() string {
	name, ok := lineMapping[l]
	if !ok {
		return "unknown"
	}
	return name
}

func (l Line) valid() bool {
	return l >= 0 && l < lineCount
}

type Handler func(line Line)

type lineState struct {
	handler   Handler
	maskDepth int
	pending   int
	delivered int
	spurious  int
}

// Controller is the interrupt controller. It is safe to call from any goroutine.
type Controller struct {
	logger *slog.Logger

	mutex sync.Mutex
	lines [lineCount]lineState
}

func NewController(logger *slog.Logger) *Controller {
	return &Controller{logger: logger}
}

// Register installs the handler for a line, replacing any previous handler
func (c *Controller) Register(line Line, handler Handler) error {
	if !line.valid() {
		return errors.Newf("invalid interrupt line %d", int(line))
	}
	if handler == nil {
		return errors.Newf("nil handler for interrupt line %s", line)
	}

	c.mutex.Lock()
	c.lines[line].handler = handler
	c.mutex.Unlock()

	c.logger.Debug("irq::Register", slog.String("line", line.String()))
	return nil
}

// Mask disables delivery on a line until the returned restore func is called. Masks nest; the line
// is only unmasked once every restore has run. Interrupts raised while masked are delivered when
// the last restore runs, on the goroutine that calls it.
func (c *Controller) Mask(line Line) (restore func()) {
	if !line.valid() {
		panic(errors.Newf("invalid interrupt line %d", int(line)))
	}

	c.mutex.Lock()
	c.lines[line].maskDepth++
	c.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mutex.Lock()
			c.lines[line].maskDepth--
			c.mutex.Unlock()

			c.drain(line)
		})
	}
}

// Raise signals an interrupt on a line. If the line is unmasked the handler runs before Raise
// returns; otherwise the interrupt is held pending.
func (c *Controller) Raise(line Line) {
	if !line.valid() {
		panic(errors.Newf("invalid interrupt line %d", int(line)))
	}

	c.mutex.Lock()
	c.lines[line].pending++
	c.mutex.Unlock()

	c.drain(line)
}

func (c *Controller) drain(line Line) {
	for {
		c.mutex.Lock()
		state := &c.lines[line]
		if state.maskDepth > 0 || state.pending == 0 {
			c.mutex.Unlock()
			return
		}

		state.pending--
		handler := state.handler
		if handler == nil {
			state.spurious++
			c.mutex.Unlock()
			c.logger.Warn("dropped interrupt on line with no handler", slog.String("line", line.String()))
			continue
		}

		state.maskDepth++
		state.delivered++
		c.mutex.Unlock()

		handler(line)

		c.mutex.Lock()
		state.maskDepth--
		c.mutex.Unlock()
	}
}

// Masked reports whether a line currently has delivery disabled
func (c *Controller) Masked(line Line) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lines[line].maskDepth > 0
}

// Pending returns the number of interrupts waiting on a line
func (c *Controller) Pending(line Line) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lines[line].pending
}

// Delivered returns the number of times the handler of a line has been invoked
func (c *Controller) Delivered(line Line) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lines[line].delivered
}

// Line returns a mask for a single line, suitable for utils.OptionalMutex
func (c *Controller) Line(line Line) LineMask {
	return LineMask{controller: c, line: line}
}

// LineMask masks one line of a controller
type LineMask struct {
	controller *Controller
	line       Line
}

func (m LineMask) Mask() (restore func()) {
	return m.controller.Mask(m.line)
}
