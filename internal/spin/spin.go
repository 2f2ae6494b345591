// Package spin provides a busy-wait lock for code that may not block or sleep.
package spin

import (
	"runtime"
	"sync/atomic"
)

// yieldEvery is the number of failed acquisition attempts between scheduler yields. On real
// hardware this is where a pause instruction would go.
const yieldEvery = 64

// Mutex is a spinlock. The zero value is unlocked. A Mutex must not be copied after first use.
//
// Lock never sleeps and has no bound on how long it spins, so a holder that is preempted by code
// trying to take the same lock deadlocks. Pair it with interrupt masking for anything an interrupt
// handler can reach.
type Mutex struct {
	state atomic.Int32
}

func (m *Mutex) Lock() {
	spins := 0
	for !m.state.CompareAndSwap(0, 1) {
		spins++
		if spins%yieldEvery == 0 {
			runtime.Gosched()
		}
	}
}

// TryLock acquires the lock only if it is currently free
func (m *Mutex) TryLock() bool {
	return m.state.CompareAndSwap(0, 1)
}

func (m *Mutex) Unlock() {
	if !m.state.CompareAndSwap(1, 0) {
		panic("spin: unlock of unlocked mutex")
	}
}

// Locked reports whether the lock is currently held by anyone
func (m *Mutex) Locked() bool {
	return m.state.Load() != 0
}
