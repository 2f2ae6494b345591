package utils

import (
	"github.com/tinykern/kcore/internal/spin"
)

// InterruptMask disables one source of preemption until restore is called
type InterruptMask interface {
	Mask() (restore func())
}

// OptionalMutex is a spinlock that can be switched off for externally synchronized owners. When
// Interrupts is set, Lock masks it before spinning and Unlock restores it after releasing, so an
// interrupt handler that needs the same lock can never preempt its holder.
type OptionalMutex struct {
	Mutex      spin.Mutex
	UseMutex   bool
	Interrupts InterruptMask

	restore func()
}

func (m *OptionalMutex) Lock() {
	var restore func()
	if m.Interrupts != nil {
		restore = m.Interrupts.Mask()
	}

	if m.UseMutex {
		m.Mutex.Lock()
	}
	m.restore = restore
}

// TryLock masks and attempts the lock once, unmasking again on failure
func (m *OptionalMutex) TryLock() bool {
	var restore func()
	if m.Interrupts != nil {
		restore = m.Interrupts.Mask()
	}

	if m.UseMutex && !m.Mutex.TryLock() {
		if restore != nil {
			restore()
		}
		return false
	}

	m.restore = restore
	return true
}

func (m *OptionalMutex) Unlock() {
	restore := m.restore
	m.restore = nil

	if m.UseMutex {
		m.Mutex.Unlock()
	}
	if restore != nil {
		restore()
	}
}
