package submem

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/submem/device"
	"github.com/vkngwrapper/submem/internal/vulkan"
	"github.com/vkngwrapper/submem/memutils/metadata"
	"golang.org/x/exp/slog"
)

type memoryBlock struct {
	index           int
	memoryTypeIndex int
	// dedicated blocks hold a single resource that was too large for a regular block
	dedicated bool
	memory    *vulkan.BlockMemory
	logger    *slog.Logger

	metadata     metadata.BlockMetadata
	deviceMemory *vulkan.DeviceMemoryProperties

	next *memoryBlock
}

func (b *memoryBlock) Init(
	logger *slog.Logger,
	deviceMemory *vulkan.DeviceMemoryProperties,
	newMemoryTypeIndex int,
	newMemory *vulkan.BlockMemory,
	newSize int,
	index int,
	dedicated bool,
	granularity uint,
) {
	if b.memory != nil {
		panic("attempting to initialize a device memory block that is already in use")
	}

	b.memoryTypeIndex = newMemoryTypeIndex
	b.index = index
	b.dedicated = dedicated
	b.memory = newMemory
	b.deviceMemory = deviceMemory
	b.logger = logger

	b.metadata = metadata.NewFirstFitBlockMetadata(granularity)
	b.metadata.Init(newSize)
}

func (b *memoryBlock) Size() int {
	return b.metadata.Size()
}

// lookup finds the live container at a local offset
func (b *memoryBlock) lookup(offset int) (*container, metadata.BlockAllocationHandle, bool) {
	handle := b.metadata.FindAllocation(offset)
	if handle == metadata.NoAllocation {
		return nil, handle, false
	}

	userData, err := b.metadata.AllocationUserData(handle)
	if err != nil {
		return nil, handle, false
	}

	return userData.(*container), handle, true
}

// Destroy destroys every resource still bound into the block, then frees the block's device memory
func (b *memoryBlock) Destroy(dev device.ResourceFactory) {
	if b.memory == nil {
		panic("attempting to destroy a memory block, but it did not have a backing device memory handle")
	}

	heapIndex := b.deviceMemory.MemoryTypeIndexToHeapIndex(b.memoryTypeIndex)
	_ = b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			return nil
		}

		c := userData.(*container)
		b.logLiveContainer(offset, c)
		c.destroyResource(dev)
		b.deviceMemory.RemoveAllocation(heapIndex, size)
		return nil
	})
	b.metadata.Clear()

	b.deviceMemory.FreeDeviceMemory(b.memoryTypeIndex, b.metadata.Size(), b.memory)

	b.memory = nil
	b.metadata = nil
	b.next = nil
}

func (b *memoryBlock) logLiveContainer(offset int, c *container) {
	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "releasing live resource during teardown",
		slog.Int("memoryType", b.memoryTypeIndex),
		slog.Int("block", b.index),
		slog.Int("offset", offset),
		slog.Int("size", c.size),
		slog.String("kind", c.kind.String()),
	)
}

func (b *memoryBlock) Validate() error {
	if b.memory == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.metadata.Size() < 1 {
		return errors.New("this memory block's metadata has an invalid size")
	}
	if b.dedicated && b.metadata.AllocationCount() > 1 {
		return errors.Newf("dedicated block %d holds %d resources", b.index, b.metadata.AllocationCount())
	}

	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		c, isContainer := userData.(*container)
		if free && isContainer {
			return errors.Newf("a region at offset %d is marked as free but contains a resource", offset)
		} else if !free && (!isContainer || c == nil) {
			return errors.Newf("a region at offset %d is marked as allocated but has no resource", offset)
		} else if !free && c.size != size {
			return errors.Newf("the resource at offset %d reserves %d bytes, but its region is %d bytes", offset, c.size, size)
		}

		return nil
	})

	if err != nil {
		return err
	}

	return b.metadata.Validate()
}
