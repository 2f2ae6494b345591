package spin_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinykern/kcore/internal/spin"
)

func TestTryLock(t *testing.T) {
	var m spin.Mutex

	require.False(t, m.Locked())
	require.True(t, m.TryLock())
	require.True(t, m.Locked())
	require.False(t, m.TryLock())

	m.Unlock()
	require.False(t, m.Locked())
	require.True(t, m.TryLock())
	m.Unlock()
}

func TestUnlockUnlocked(t *testing.T) {
	var m spin.Mutex
	require.Panics(t, func() { m.Unlock() })
}

func TestContention(t *testing.T) {
	var m spin.Mutex
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}

	wg.Wait()
	require.Equal(t, 8000, counter)
}
