package memutils_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tinykern/kcore/memutils"
)

func TestCheckPow2(t *testing.T) {
	for _, value := range []uint{1, 2, 4, 8, 4096} {
		require.NoError(t, memutils.CheckPow2(value, "alignment"))
	}

	for _, value := range []uint{0, 3, 6, 12, 4097} {
		err := memutils.CheckPow2(value, "alignment")
		require.Error(t, err)
		require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	}
}

func TestCheckNonZero(t *testing.T) {
	require.NoError(t, memutils.CheckNonZero(1, "size"))

	err := memutils.CheckNonZero(0, "size")
	require.True(t, errors.Is(err, memutils.ZeroValueError))
	require.Contains(t, err.Error(), "size is 0")
}

func TestAlign(t *testing.T) {
	require.Equal(t, 16, memutils.AlignUp(9, 8))
	require.Equal(t, 8, memutils.AlignUp(8, 8))
	require.Equal(t, 0, memutils.AlignUp(0, 8))
	require.Equal(t, uint64(0x2000), memutils.AlignUp(uint64(0x1001), 0x1000))

	require.True(t, memutils.IsAligned(64, 32))
	require.False(t, memutils.IsAligned(65, 2))
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	require.Equal(t, math.MaxInt, stats.AllocationSizeMin)
	require.Equal(t, 0, stats.LargestUnusedRange())

	stats.RegionCount = 1
	stats.RegionBytes = 1000
	stats.AddAllocation(100)
	stats.AddAllocation(300)
	stats.AddUnusedRange(600)

	var other memutils.DetailedStatistics
	other.Clear()
	other.AddAllocation(50)
	other.AddUnusedRange(10)

	stats.AddDetailedStatistics(&other)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     1,
			RegionBytes:     1000,
			AllocationCount: 3,
			AllocationBytes: 450,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  50,
		AllocationSizeMax:  300,
		UnusedRangeSizeMin: 10,
		UnusedRangeSizeMax: 600,
	}, stats)
	require.Equal(t, 550, stats.FreeBytes())
	require.Equal(t, 600, stats.LargestUnusedRange())
}
