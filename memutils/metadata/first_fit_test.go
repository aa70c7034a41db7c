package metadata_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/submem/memutils"
	"github.com/vkngwrapper/submem/memutils/metadata"
)

func allocate(t *testing.T, md metadata.BlockMetadata, size int, alignment uint, userData any) metadata.AllocationRequest {
	success, request, err := md.CreateAllocationRequest(size, alignment)
	require.NoError(t, err)
	require.True(t, success)

	err = md.Alloc(request, userData)
	require.NoError(t, err)

	return request
}

func TestFirstFitAlloc(t *testing.T) {
	firstFit := metadata.NewFirstFitBlockMetadata(1024)
	firstFit.Init(16 * 1024)

	var stats memutils.DetailedStatistics
	stats.Clear()
	firstFit.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: 16384,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 16384,
		UnusedRangeSizeMax: 16384,
	}, stats)

	first := allocate(t, firstFit, 4000, 1, "first")
	require.Equal(t, 0, first.Item.Offset)
	require.Equal(t, 4096, first.Size)
	require.Equal(t, metadata.AllocationRequestTail, first.Type)

	second := allocate(t, firstFit, 1024, 1, "second")
	require.Equal(t, 4096, second.Item.Offset)
	require.Equal(t, 1024, second.Size)

	require.NoError(t, firstFit.Validate())
	require.Equal(t, 2, firstFit.AllocationCount())
	require.Equal(t, 16384-5120, firstFit.SumFreeSize())

	// Freeing the first allocation opens a 4KiB gap at the front of the block
	require.NoError(t, firstFit.Free(first.BlockAllocationHandle))
	require.Equal(t, 2, firstFit.FreeRegionsCount())

	third := allocate(t, firstFit, 2000, 1, "third")
	require.Equal(t, 0, third.Item.Offset)
	require.Equal(t, 2048, third.Size)
	require.Equal(t, metadata.AllocationRequestGap, third.Type)

	userData, err := firstFit.AllocationUserData(third.BlockAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, "third", userData)

	offset, err := firstFit.AllocationOffset(second.BlockAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, 4096, offset)

	stats.Clear()
	firstFit.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      16384,
			AllocationCount: 2,
			AllocationBytes: 3072,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  1024,
		AllocationSizeMax:  2048,
		UnusedRangeSizeMin: 2048,
		UnusedRangeSizeMax: 11264,
	}, stats)

	require.NoError(t, firstFit.Validate())
}

func TestFirstFitAlignment(t *testing.T) {
	firstFit := metadata.NewFirstFitBlockMetadata(256)
	firstFit.Init(8192)

	allocate(t, firstFit, 100, 1, nil)
	aligned := allocate(t, firstFit, 100, 4096, nil)
	require.Equal(t, 4096, aligned.Item.Offset)
	require.Equal(t, 256, aligned.Size)

	// The gap between the first two allocations is still usable by smaller alignments
	filler := allocate(t, firstFit, 1000, 256, nil)
	require.Equal(t, 256, filler.Item.Offset)

	_, _, err := firstFit.CreateAllocationRequest(100, 3)
	require.ErrorIs(t, err, memutils.ErrPowerOfTwo)

	require.NoError(t, firstFit.Validate())
}

func TestFirstFitFullBlock(t *testing.T) {
	firstFit := metadata.NewFirstFitBlockMetadata(1024)
	firstFit.Init(4096)

	// A request that exactly fills the block fits
	full := allocate(t, firstFit, 4096, 1, nil)
	require.Equal(t, 0, full.Item.Offset)

	success, _, err := firstFit.CreateAllocationRequest(1, 1)
	require.NoError(t, err)
	require.False(t, success)

	require.NoError(t, firstFit.Free(full.BlockAllocationHandle))
	require.True(t, firstFit.IsEmpty())

	success, _, err = firstFit.CreateAllocationRequest(4097, 1)
	require.NoError(t, err)
	require.False(t, success)

	_, _, err = firstFit.CreateAllocationRequest(0, 1)
	require.Error(t, err)
}

func TestFirstFitRejectsStaleRequests(t *testing.T) {
	firstFit := metadata.NewFirstFitBlockMetadata(1024)
	firstFit.Init(4096)

	success, request, err := firstFit.CreateAllocationRequest(2048, 1)
	require.NoError(t, err)
	require.True(t, success)

	require.NoError(t, firstFit.Alloc(request, nil))
	require.Error(t, firstFit.Alloc(request, nil))

	overlapping := request
	overlapping.Item.Offset = 1024
	overlapping.BlockAllocationHandle = 1024
	require.Error(t, firstFit.Alloc(overlapping, nil))

	require.Error(t, firstFit.Free(metadata.BlockAllocationHandle(1024)))
	require.Equal(t, metadata.NoAllocation, firstFit.FindAllocation(1024))
	require.Equal(t, metadata.BlockAllocationHandle(0), firstFit.FindAllocation(0))
}

func TestFirstFitVisitAllRegions(t *testing.T) {
	firstFit := metadata.NewFirstFitBlockMetadata(1024)
	firstFit.Init(8192)

	a := allocate(t, firstFit, 1024, 1, "a")
	allocate(t, firstFit, 1024, 1, "b")
	allocate(t, firstFit, 1024, 1, "c")
	require.NoError(t, firstFit.Free(a.BlockAllocationHandle))

	type region struct {
		Offset int
		Size   int
		Free   bool
		Data   any
	}
	var regions []region
	err := firstFit.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		regions = append(regions, region{offset, size, free, userData})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []region{
		{0, 1024, true, nil},
		{1024, 1024, false, "b"},
		{2048, 1024, false, "c"},
		{3072, 5120, true, nil},
	}, regions)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	firstFit.BlockJsonData(&obj)
	obj.End()
	require.JSONEq(t, `{"TotalBytes":8192,"UnusedBytes":6144,"Allocations":2,"UnusedRanges":2}`, string(writer.Bytes()))

	firstFit.Clear()
	require.True(t, firstFit.IsEmpty())
	require.Equal(t, 8192, firstFit.SumFreeSize())
}

func TestFirstFitRandomNeverOverlaps(t *testing.T) {
	const granularity = 1024
	firstFit := metadata.NewFirstFitBlockMetadata(granularity)
	firstFit.Init(1024 * 1024)

	rng := rand.New(rand.NewSource(7))
	var live []metadata.BlockAllocationHandle

	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			index := rng.Intn(len(live))
			require.NoError(t, firstFit.Free(live[index]))
			live = append(live[:index], live[index+1:]...)
			continue
		}

		size := rng.Intn(32*1024) + 1
		success, request, err := firstFit.CreateAllocationRequest(size, 1)
		require.NoError(t, err)
		if !success {
			continue
		}

		require.Zero(t, request.Item.Offset%granularity)
		require.Zero(t, request.Size%granularity)
		require.GreaterOrEqual(t, request.Size, size)
		require.NoError(t, firstFit.Alloc(request, i))
		live = append(live, request.BlockAllocationHandle)

		require.NoError(t, firstFit.Validate())
	}
}
