package metadata_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinykern/kcore/memutils"
	"github.com/tinykern/kcore/memutils/metadata"
)

func allocate(t *testing.T, md *metadata.FirstFitBlockMetadata, size int, alignment uint, strategy metadata.AllocationStrategy, userData any) metadata.BlockAllocationHandle {
	success, request, err := md.CreateAllocationRequest(size, alignment, strategy)
	require.NoError(t, err)
	require.True(t, success)

	err = md.Alloc(request, userData)
	require.NoError(t, err)
	require.NoError(t, md.Validate())

	return metadata.BlockAllocationHandle(request.Item.Offset)
}

func TestFirstFitAlloc(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(1000)

	var stats memutils.DetailedStatistics
	stats.Clear()
	md.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     1,
			RegionBytes:     1000,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, stats)

	alloc1 := allocate(t, md, 100, 1, metadata.AllocationStrategyFirstFit, 1)
	offset, err := md.AllocationOffset(alloc1)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	stats.Clear()
	md.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     1,
			RegionBytes:     1000,
			AllocationCount: 1,
			AllocationBytes: 104,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  104,
		AllocationSizeMax:  104,
		UnusedRangeSizeMin: 896,
		UnusedRangeSizeMax: 896,
	}, stats)

	alloc2 := allocate(t, md, 50, 1, metadata.AllocationStrategyFirstFit, 2)
	offset, err = md.AllocationOffset(alloc2)
	require.NoError(t, err)
	require.Equal(t, 104, offset)

	stats.Clear()
	md.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     1,
			RegionBytes:     1000,
			AllocationCount: 2,
			AllocationBytes: 160,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  56,
		AllocationSizeMax:  104,
		UnusedRangeSizeMin: 840,
		UnusedRangeSizeMax: 840,
	}, stats)

	require.Equal(t, 2, md.AllocationCount())
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, 840, md.SumFreeSize())
	require.False(t, md.IsEmpty())
}

func TestFirstFitCoalesce(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(1024)

	first := allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	middle := allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	last := allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	require.Equal(t, 1, md.FreeRegionsCount())

	require.NoError(t, md.Free(middle))
	require.NoError(t, md.Validate())
	require.Equal(t, 2, md.FreeRegionsCount())
	require.Equal(t, 1024-128, md.SumFreeSize())

	// first merges forward into the freed middle range
	require.NoError(t, md.Free(first))
	require.NoError(t, md.Validate())
	require.Equal(t, 2, md.FreeRegionsCount())
	require.Equal(t, 1024-64, md.SumFreeSize())
	require.Equal(t, 1024-192, md.LargestFreeRange())

	// last merges on both sides, leaving a single range
	require.NoError(t, md.Free(last))
	require.NoError(t, md.Validate())
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, 1024, md.SumFreeSize())
	require.Equal(t, 1024, md.LargestFreeRange())
	require.True(t, md.IsEmpty())
}

func TestFirstFitReusesLowestRange(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(1024)

	first := allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	require.NoError(t, md.Free(first))

	again := allocate(t, md, 32, 1, metadata.AllocationStrategyFirstFit, nil)
	offset, err := md.AllocationOffset(again)
	require.NoError(t, err)
	require.Equal(t, 0, offset)
	require.Equal(t, 2, md.FreeRegionsCount())
}

func TestFirstFitAlignmentPadding(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(1024)

	small := allocate(t, md, 8, 1, metadata.AllocationStrategyFirstFit, nil)
	aligned := allocate(t, md, 16, 64, metadata.AllocationStrategyFirstFit, nil)

	offset, err := md.AllocationOffset(small)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	offset, err = md.AllocationOffset(aligned)
	require.NoError(t, err)
	require.Equal(t, 64, offset)

	// the padding in [8, 64) stays available
	require.Equal(t, 2, md.FreeRegionsCount())
	require.Equal(t, 1024-24, md.SumFreeSize())

	filler := allocate(t, md, 8, 8, metadata.AllocationStrategyFirstFit, nil)
	offset, err = md.AllocationOffset(filler)
	require.NoError(t, err)
	require.Equal(t, 8, offset)

	require.NoError(t, md.Free(aligned))
	require.NoError(t, md.Free(filler))
	require.NoError(t, md.Free(small))
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, 1024, md.SumFreeSize())
}

func TestFirstFitBestFitStrategy(t *testing.T) {
	setup := func() *metadata.FirstFitBlockMetadata {
		md := metadata.NewFirstFitBlockMetadata(8)
		md.Init(1024)

		a := allocate(t, md, 128, 1, metadata.AllocationStrategyFirstFit, nil)
		allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
		c := allocate(t, md, 32, 1, metadata.AllocationStrategyFirstFit, nil)
		allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)

		require.NoError(t, md.Free(a))
		require.NoError(t, md.Free(c))
		require.Equal(t, 3, md.FreeRegionsCount())
		return md
	}

	md := setup()
	handle := allocate(t, md, 32, 1, metadata.AllocationStrategyFirstFit, nil)
	offset, err := md.AllocationOffset(handle)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	md = setup()
	handle = allocate(t, md, 32, 1, metadata.AllocationStrategyBestFit, nil)
	offset, err = md.AllocationOffset(handle)
	require.NoError(t, err)
	require.Equal(t, 192, offset)
	require.Equal(t, 2, md.FreeRegionsCount())
}

func TestFirstFitOutOfSpace(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(256)

	allocate(t, md, 128, 1, metadata.AllocationStrategyFirstFit, nil)
	middle := allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	require.NoError(t, md.Free(middle))

	require.False(t, md.MayHaveFreeBlock(128))
	success, _, err := md.CreateAllocationRequest(128, 1, metadata.AllocationStrategyFirstFit)
	require.NoError(t, err)
	require.False(t, success)

	// enough bytes in total, but not once alignment is honored
	success, _, err = md.CreateAllocationRequest(64, 256, metadata.AllocationStrategyFirstFit)
	require.NoError(t, err)
	require.False(t, success)

	_, _, err = md.CreateAllocationRequest(0, 1, metadata.AllocationStrategyFirstFit)
	require.Error(t, err)

	_, _, err = md.CreateAllocationRequest(8, 3, metadata.AllocationStrategyFirstFit)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestFirstFitFreeErrors(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(256)

	handle := allocate(t, md, 64, 1, metadata.AllocationStrategyFirstFit, nil)
	require.NoError(t, md.Free(handle))
	require.Error(t, md.Free(handle))
	require.Error(t, md.Free(metadata.BlockAllocationHandle(24)))
	require.Error(t, md.Free(metadata.NoAllocation))
	require.NoError(t, md.Validate())
}

func TestFirstFitStaleRequest(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(256)

	success, request, err := md.CreateAllocationRequest(64, 1, metadata.AllocationStrategyFirstFit)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, md.Alloc(request, nil))

	require.Error(t, md.Alloc(request, nil))
	require.NoError(t, md.Validate())
}

func TestFirstFitUserDataGetSet(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(256)

	handle := allocate(t, md, 16, 1, metadata.AllocationStrategyFirstFit, "first")

	userData, err := md.AllocationUserData(handle)
	require.NoError(t, err)
	require.Equal(t, "first", userData)

	require.NoError(t, md.SetAllocationUserData(handle, "second"))
	userData, err = md.AllocationUserData(handle)
	require.NoError(t, err)
	require.Equal(t, "second", userData)

	require.NoError(t, md.Free(handle))
	_, err = md.AllocationUserData(handle)
	require.Error(t, err)
}

func TestFirstFitVisitAllRegions(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(256)

	allocate(t, md, 16, 1, metadata.AllocationStrategyFirstFit, 1)
	second := allocate(t, md, 32, 1, metadata.AllocationStrategyFirstFit, 2)
	allocate(t, md, 16, 1, metadata.AllocationStrategyFirstFit, 3)
	require.NoError(t, md.Free(second))

	type visited struct {
		offset, size int
		free         bool
	}
	var regions []visited
	err := md.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		require.Equal(t, metadata.BlockAllocationHandle(offset), handle)
		regions = append(regions, visited{offset, size, free})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []visited{
		{0, 16, false},
		{16, 32, true},
		{48, 16, false},
		{64, 192, true},
	}, regions)
}

func TestFirstFitClear(t *testing.T) {
	md := metadata.NewFirstFitBlockMetadata(8)
	md.Init(512)

	for i := 0; i < 5; i++ {
		allocate(t, md, 40, 8, metadata.AllocationStrategyFirstFit, i)
	}
	require.Equal(t, 5, md.AllocationCount())

	md.Clear()
	require.NoError(t, md.Validate())
	require.True(t, md.IsEmpty())
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, 512, md.SumFreeSize())

	var stats memutils.Statistics
	md.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		RegionCount: 1,
		RegionBytes: 512,
	}, stats)
}
