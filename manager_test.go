package submem

import (
	"io"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
	"github.com/vkngwrapper/submem/internal/hostdevice"
	"github.com/vkngwrapper/submem/internal/vulkan"
	"github.com/vkngwrapper/submem/memutils"
	"golang.org/x/exp/slog"
)

const (
	KiB = 1024
	MiB = 1024 * KiB

	deviceLocal = core1_0.MemoryPropertyDeviceLocal
	hostVisible = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

	storageUsage = core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferDst | core1_0.BufferUsageTransferSrc
)

type ManagerSetup struct {
	Device  *hostdevice.Options
	Options CreateOptions
}

func readyManager(t *testing.T, setup ManagerSetup) (*hostdevice.Device, *hostdevice.Queue, *Manager) {
	deviceOptions := hostdevice.DefaultOptions()
	if setup.Device != nil {
		deviceOptions = *setup.Device
	}

	dev := hostdevice.New(deviceOptions)
	queue := hostdevice.NewQueue(dev)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	manager, err := New(logger, dev, queue, "transfer pool", setup.Options)
	require.NoError(t, err)

	return dev, queue, manager
}

func testImageInfo(width, height int) core1_0.ImageCreateInfo {
	return core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    core1_0.FormatR8G8B8A8UnsignedNormalized,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Usage:         core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}
}

func TestCreateBufferRoundsToGranularity(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})

	handle, err := manager.CreateBuffer(4000, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.False(t, handle.IsNull())
	require.Equal(t, 0, handle.MemoryTypeIndex())
	require.Equal(t, 0, handle.GlobalOffset())

	info, err := manager.Resolve(handle)
	require.NoError(t, err)
	require.Equal(t, ResourceBuffer, info.Kind)
	require.Equal(t, 0, info.BlockIndex)
	require.Equal(t, 0, info.Offset)
	require.Equal(t, 4096, info.Size)
	require.Equal(t, 4000, info.ResourceSize)

	require.Equal(t, 1, dev.LiveBuffers())
	require.Equal(t, 1, dev.LiveMemory())

	memory, err := manager.ResolveMemory(handle)
	require.NoError(t, err)
	require.Equal(t, DefaultBlockSize, memory.(*hostdevice.Memory).Size())

	require.NoError(t, manager.Destroy())
}

func TestOversizedBufferGetsChainedBlock(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})

	first, err := manager.CreateBuffer(4000, storageUsage, deviceLocal)
	require.NoError(t, err)

	large, err := manager.CreateBuffer(70*MiB, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 64*MiB, large.GlobalOffset())
	require.Equal(t, 2, dev.LiveMemory())

	info, err := manager.Resolve(large)
	require.NoError(t, err)
	require.Equal(t, 1, info.BlockIndex)
	require.Equal(t, 0, info.Offset)
	require.Equal(t, 70*MiB, info.Size)
	require.Equal(t, 70*MiB, info.Memory.(*hostdevice.Memory).Size())

	// The dedicated block is never searched, so small buffers keep going to the first block
	small, err := manager.CreateBuffer(100, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 4096, small.GlobalOffset())
	require.Equal(t, 2, dev.LiveMemory())

	firstInfo, err := manager.Resolve(first)
	require.NoError(t, err)
	require.Equal(t, 0, firstInfo.Offset)

	require.NoError(t, manager.Validate())
	require.NoError(t, manager.Destroy())
	require.Equal(t, 0, dev.LiveMemory())
	require.Equal(t, 0, dev.LiveBuffers())
}

func TestFreedDedicatedBlockIsReused(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})

	var previous Handle
	for i := 0; i < 3; i++ {
		large, err := manager.CreateBuffer(70*MiB, storageUsage, deviceLocal)
		require.NoError(t, err)
		require.Equal(t, 0, large.GlobalOffset())
		require.Equal(t, 1, dev.LiveMemory())
		require.Equal(t, 70*MiB, manager.HeapStatistics()[0].BlockBytes)

		require.NoError(t, manager.Free(large))

		if i > 0 {
			_, err = manager.Resolve(previous)
			require.ErrorIs(t, err, ErrHandleNotFound)
		}
		previous = large
	}

	// A smaller oversized request fits in the empty dedicated block
	medium, err := manager.CreateBuffer(66*MiB, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 0, medium.GlobalOffset())
	require.Equal(t, 1, dev.LiveMemory())

	// A larger one does not, and neither does one made while the dedicated block is occupied
	huge, err := manager.CreateBuffer(80*MiB, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 64*MiB, huge.GlobalOffset())
	require.Equal(t, 2, dev.LiveMemory())

	require.NoError(t, manager.Validate())
	require.NoError(t, manager.Destroy())
	require.Equal(t, 0, dev.LiveMemory())
}

func TestFirstFitReusesFreedGap(t *testing.T) {
	_, _, manager := readyManager(t, ManagerSetup{})

	a, err := manager.CreateBuffer(4000, storageUsage, deviceLocal)
	require.NoError(t, err)
	b, err := manager.CreateBuffer(4000, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 4096, b.GlobalOffset())

	require.NoError(t, manager.Free(a))

	c, err := manager.CreateBuffer(2000, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 0, c.GlobalOffset())

	info, err := manager.Resolve(c)
	require.NoError(t, err)
	require.Equal(t, 2048, info.Size)

	d, err := manager.CreateBuffer(2000, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 2048, d.GlobalOffset())

	e, err := manager.CreateBuffer(1, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 8192, e.GlobalOffset())

	require.NoError(t, manager.Validate())
	require.NoError(t, manager.Destroy())
}

func TestChainGrowsOnlyWhenFull(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{
		Options: CreateOptions{
			BlockSize: 64 * KiB,
		},
	})

	var handles []Handle
	for i := 0; i < 16; i++ {
		handle, err := manager.CreateBuffer(4096, storageUsage, deviceLocal)
		require.NoError(t, err)
		require.Equal(t, i*4096, handle.GlobalOffset())
		handles = append(handles, handle)
	}
	require.Equal(t, 1, dev.LiveMemory())

	overflow, err := manager.CreateBuffer(4096, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 64*KiB, overflow.GlobalOffset())
	require.Equal(t, 2, dev.LiveMemory())

	require.NoError(t, manager.Free(handles[5]))

	refill, err := manager.CreateBuffer(4096, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 5*4096, refill.GlobalOffset())
	require.Equal(t, 2, dev.LiveMemory())

	info, err := manager.Resolve(overflow)
	require.NoError(t, err)
	require.Equal(t, 1, info.BlockIndex)
	require.Equal(t, 0, info.Offset)

	require.NoError(t, manager.Destroy())
	require.Equal(t, 0, dev.LiveMemory())
}

func TestFreeThenResolveFails(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})

	handle, err := manager.CreateBuffer(512, storageUsage, hostVisible)
	require.NoError(t, err)
	require.Equal(t, 1, handle.MemoryTypeIndex())

	require.NoError(t, manager.Free(handle))
	require.Equal(t, 0, dev.LiveBuffers())

	_, err = manager.Resolve(handle)
	require.ErrorIs(t, err, ErrHandleNotFound)

	_, err = manager.ResolveMemory(handle)
	require.ErrorIs(t, err, ErrHandleNotFound)

	err = manager.Free(handle)
	require.ErrorIs(t, err, ErrHandleNotFound)

	// Blocks live until the manager is destroyed
	require.Equal(t, 1, dev.LiveMemory())
	require.NoError(t, manager.Destroy())
	require.Equal(t, 0, dev.LiveMemory())
}

func TestStaleHandleDoesNotResolveReplacement(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})

	stale, err := manager.CreateBuffer(1024, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.NoError(t, manager.Free(stale))

	replacement, err := manager.CreateBuffer(1024, storageUsage, deviceLocal)
	require.NoError(t, err)
	require.Equal(t, stale.GlobalOffset(), replacement.GlobalOffset())
	require.NotEqual(t, stale, replacement)

	_, err = manager.Resolve(stale)
	require.ErrorIs(t, err, ErrHandleNotFound)
	require.ErrorIs(t, manager.Free(stale), ErrHandleNotFound)

	_, err = manager.Resolve(replacement)
	require.NoError(t, err)
	require.Equal(t, 1, dev.LiveBuffers())

	require.NoError(t, manager.Destroy())
}

func TestHandleLookupFailures(t *testing.T) {
	_, _, manager := readyManager(t, ManagerSetup{})

	_, err := manager.Resolve(Handle{})
	require.ErrorIs(t, err, ErrNullHandle)
	require.ErrorIs(t, manager.Free(Handle{}), ErrNullHandle)

	// No chain exists yet for either memory type
	_, err = manager.Resolve(newHandle(1, 0, 1))
	require.ErrorIs(t, err, ErrHandleNotFound)
	_, err = manager.Resolve(newHandle(7, 0, 1))
	require.ErrorIs(t, err, ErrHandleNotFound)

	handle, err := manager.CreateBuffer(1024, storageUsage, deviceLocal)
	require.NoError(t, err)

	_, err = manager.Resolve(newHandle(0, DefaultBlockSize*3, handle.generation))
	require.ErrorIs(t, err, ErrHandleNotFound)
	_, err = manager.Resolve(newHandle(0, 1024, handle.generation))
	require.ErrorIs(t, err, ErrHandleNotFound)
	_, err = manager.Resolve(newHandle(0, -5, handle.generation))
	require.ErrorIs(t, err, ErrHandleNotFound)

	require.NoError(t, manager.Destroy())
}

func TestMemoryTypeNotFound(t *testing.T) {
	deviceOptions := hostdevice.DefaultOptions()
	deviceOptions.BufferMemoryTypeBits = 1 << hostdevice.DeviceLocalType

	dev, _, manager := readyManager(t, ManagerSetup{Device: &deviceOptions})

	_, err := manager.CreateBuffer(256, storageUsage, hostVisible)
	require.ErrorIs(t, err, ErrMemoryTypeNotFound)
	require.Equal(t, 0, dev.LiveBuffers())
	require.Equal(t, 0, dev.LiveMemory())

	_, err = manager.CreateBuffer(256, storageUsage, core1_0.MemoryPropertyLazilyAllocated)
	require.ErrorIs(t, err, ErrMemoryTypeNotFound)

	require.NoError(t, manager.Destroy())
}

func TestAllocationFailureDestroysResource(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})
	dev.FailAllocations = true

	_, err := manager.CreateBuffer(256, storageUsage, deviceLocal)
	require.ErrorIs(t, err, ErrAllocationFailure)
	require.ErrorIs(t, err, hostdevice.ErrOutOfDeviceMemory)
	require.Equal(t, 0, dev.LiveBuffers())
	require.Equal(t, 0, dev.LiveMemory())

	_, err = manager.CreateImage(testImageInfo(16, 16), deviceLocal)
	require.ErrorIs(t, err, ErrAllocationFailure)
	require.Equal(t, 0, dev.LiveImages())

	dev.FailAllocations = false
	_, err = manager.CreateBuffer(256, storageUsage, deviceLocal)
	require.NoError(t, err)

	require.NoError(t, manager.Destroy())
	require.Equal(t, 0, dev.LiveBuffers())
}

func TestHeapSizeLimit(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{
		Options: CreateOptions{
			BlockSize:      64 * KiB,
			HeapSizeLimits: []int{128 * KiB, 0},
		},
	})

	_, err := manager.CreateBuffer(64*KiB, storageUsage, deviceLocal)
	require.NoError(t, err)
	_, err = manager.CreateBuffer(64*KiB, storageUsage, deviceLocal)
	require.NoError(t, err)

	_, err = manager.CreateBuffer(64*KiB, storageUsage, deviceLocal)
	require.ErrorIs(t, err, ErrAllocationFailure)
	require.ErrorIs(t, err, vulkan.ErrHeapLimitExceeded)
	require.Equal(t, 2, dev.LiveMemory())
	require.Equal(t, 2, dev.LiveBuffers())

	// The other heap is unlimited
	_, err = manager.CreateBuffer(64*KiB, storageUsage, hostVisible)
	require.NoError(t, err)

	require.Equal(t, 128*KiB, manager.HeapLimit(0))
	require.Equal(t, 0, manager.HeapLimit(1))

	require.NoError(t, manager.Destroy())
}

func TestCreateImage(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})

	buffer, err := manager.CreateBuffer(100, storageUsage, deviceLocal)
	require.NoError(t, err)

	image, err := manager.CreateImage(testImageInfo(64, 32), deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 1024, image.GlobalOffset())

	info, err := manager.Resolve(image)
	require.NoError(t, err)
	require.Equal(t, ResourceImage, info.Kind)
	require.Equal(t, 64*32*4, info.ResourceSize)
	require.Equal(t, 64*32*4, info.Size)
	require.Equal(t, core1_0.FormatR8G8B8A8UnsignedNormalized, info.ImageFormat)
	require.Equal(t, core1_0.Extent3D{Width: 64, Height: 32, Depth: 1}, info.ImageExtent)
	require.Equal(t, core1_0.ImageLayoutUndefined, info.ImageLayout)

	img, err := manager.ResolveImage(image)
	require.NoError(t, err)
	require.Equal(t, info.Image, img)

	_, err = manager.ResolveBuffer(image)
	require.ErrorIs(t, err, ErrResourceKind)
	_, err = manager.ResolveImage(buffer)
	require.ErrorIs(t, err, ErrResourceKind)

	_, err = manager.CreateImage(testImageInfo(0, 32), deviceLocal)
	require.Error(t, err)
	require.Equal(t, 1, dev.LiveImages())

	require.NoError(t, manager.Free(image))
	require.Equal(t, 0, dev.LiveImages())
	require.NoError(t, manager.Destroy())
}

func TestDestroyReleasesEverything(t *testing.T) {
	var allocated, freed int
	var allocatedBytes, freedBytes int

	dev, _, manager := readyManager(t, ManagerSetup{
		Options: CreateOptions{
			BlockSize: 256 * KiB,
			MemoryCallbackOptions: &MemoryCallbackOptions{
				Allocate: func(manager *Manager, memoryType int, memory device.Memory, size int, userData interface{}) {
					require.Equal(t, "user data", userData)
					allocated++
					allocatedBytes += size
				},
				Free: func(manager *Manager, memoryType int, memory device.Memory, size int, userData interface{}) {
					freed++
					freedBytes += size
				},
				UserData: "user data",
			},
		},
	})

	for i := 0; i < 20; i++ {
		_, err := manager.CreateBuffer(30*KiB, storageUsage, deviceLocal)
		require.NoError(t, err)
		_, err = manager.CreateBuffer(10*KiB, storageUsage, hostVisible)
		require.NoError(t, err)
		_, err = manager.CreateImage(testImageInfo(32, 32), deviceLocal)
		require.NoError(t, err)
	}
	_, err := manager.CreateBuffer(300*KiB, storageUsage, deviceLocal)
	require.NoError(t, err)

	require.Equal(t, 41, dev.LiveBuffers())
	require.Equal(t, 20, dev.LiveImages())
	require.Equal(t, allocated, dev.LiveMemory())
	require.Zero(t, freed)

	require.NoError(t, manager.Destroy())

	require.Equal(t, 0, dev.LiveBuffers())
	require.Equal(t, 0, dev.LiveImages())
	require.Equal(t, 0, dev.LiveMemory())
	require.Equal(t, allocated, freed)
	require.Equal(t, allocatedBytes, freedBytes)
	require.Equal(t, 41, dev.Calls["DestroyBuffer"])
	require.Equal(t, 20, dev.Calls["DestroyImage"])

	require.ErrorIs(t, manager.Destroy(), ErrManagerDestroyed)
	_, err = manager.CreateBuffer(256, storageUsage, deviceLocal)
	require.ErrorIs(t, err, ErrManagerDestroyed)
	_, err = manager.CreateImage(testImageInfo(4, 4), deviceLocal)
	require.ErrorIs(t, err, ErrManagerDestroyed)
	_, err = manager.Resolve(newHandle(0, 0, 1))
	require.ErrorIs(t, err, ErrManagerDestroyed)
	require.ErrorIs(t, manager.Validate(), ErrManagerDestroyed)
}

func TestRandomAllocationsNeverOverlap(t *testing.T) {
	const blockSize = 256 * KiB
	const granularity = 1 * KiB

	dev, _, manager := readyManager(t, ManagerSetup{
		Options: CreateOptions{
			BlockSize:           blockSize,
			SubblockGranularity: granularity,
		},
	})

	random := rand.New(rand.NewSource(42))
	var live []Handle

	for step := 0; step < 2000; step++ {
		if len(live) > 0 && random.Intn(100) < 40 {
			index := random.Intn(len(live))
			require.NoError(t, manager.Free(live[index]))
			live = append(live[:index], live[index+1:]...)
		} else {
			size := 1 + random.Intn(40*KiB)
			if random.Intn(50) == 0 {
				size = blockSize + random.Intn(blockSize)
			}

			handle, err := manager.CreateBuffer(size, storageUsage, deviceLocal)
			require.NoError(t, err)
			live = append(live, handle)
		}

		if step%50 == 0 {
			requireNoOverlap(t, manager, live, blockSize, granularity)
			require.NoError(t, manager.Validate())
		}
	}

	requireNoOverlap(t, manager, live, blockSize, granularity)
	require.Equal(t, len(live), dev.LiveBuffers())

	require.NoError(t, manager.Destroy())
	require.Equal(t, 0, dev.LiveBuffers())
	require.Equal(t, 0, dev.LiveMemory())
}

func requireNoOverlap(t *testing.T, manager *Manager, live []Handle, blockSize, granularity int) {
	byBlock := make(map[int][]ContainerInfo)

	for _, handle := range live {
		info, err := manager.Resolve(handle)
		require.NoError(t, err)

		require.Zero(t, info.Offset%granularity)
		require.Zero(t, info.Size%granularity)
		require.GreaterOrEqual(t, info.Size, info.ResourceSize)
		require.Equal(t, info.BlockIndex*blockSize+info.Offset, handle.GlobalOffset())

		byBlock[info.BlockIndex] = append(byBlock[info.BlockIndex], info)
	}

	for blockIndex, infos := range byBlock {
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].Offset < infos[j].Offset
		})

		for i := 1; i < len(infos); i++ {
			prev := infos[i-1]
			require.LessOrEqualf(t, prev.Offset+prev.Size, infos[i].Offset, "block %d: [%d, %d) overlaps the resource at %d",
				blockIndex, prev.Offset, prev.Offset+prev.Size, infos[i].Offset)
		}

		last := infos[len(infos)-1]
		require.LessOrEqual(t, last.Offset+last.Size, last.Memory.(*hostdevice.Memory).Size())
	}
}

func TestInvalidOptions(t *testing.T) {
	dev := hostdevice.New(hostdevice.DefaultOptions())

	_, err := New(nil, dev, nil, nil, CreateOptions{BlockSize: 1000})
	require.ErrorIs(t, err, ErrInvalidOptions)
	require.ErrorIs(t, err, memutils.ErrPowerOfTwo)

	_, err = New(nil, dev, nil, nil, CreateOptions{BlockSize: 1024, SubblockGranularity: 4096})
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(nil, dev, nil, nil, CreateOptions{SubblockGranularity: -1})
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(nil, dev, nil, nil, CreateOptions{HeapSizeLimits: []int{1}})
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(nil, dev, nil, nil, CreateOptions{HeapSizeLimits: []int{-1, 0}})
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(nil, nil, nil, nil, CreateOptions{})
	require.Error(t, err)

	manager, err := New(nil, dev, nil, nil, CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, DefaultBlockSize, manager.BlockSize())
	require.Equal(t, DefaultSubblockGranularity, manager.SubblockGranularity())
	require.Equal(t, 2, manager.MemoryTypeCount())
	require.NoError(t, manager.Destroy())
}
