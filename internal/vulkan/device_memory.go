package vulkan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
	"github.com/vkngwrapper/submem/memutils"
)

// ErrHeapLimitExceeded is returned from AllocateDeviceMemory when a configured heap size limit
// would be passed by the allocation
var ErrHeapLimitExceeded = errors.New("heap size limit exceeded")

type MemoryCallbacks interface {
	Allocate(memoryType int, memory device.Memory, size int)
	Free(memoryType int, memory device.Memory, size int)
}

type DeviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory
	blockCount []int
	// Number of suballocations that have actually been doled out for use
	allocationCount []int
	// Size of real allocations that have been made from device memory
	blockBytes []int
	// Size of suballocations that have actually been doled out for use
	allocationBytes []int

	memoryCallbacks MemoryCallbacks
	memoryCount     int
	heapLimits      []int

	device           device.ResourceFactory
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(
	memoryCallbacks MemoryCallbacks,
	dev device.Device,
	heapSizeLimits []int,
) (*DeviceMemoryProperties, error) {
	memoryProperties := dev.MemoryProperties()
	if memoryProperties == nil {
		return nil, errors.New("the device did not report any memory properties")
	}

	heapCount := len(memoryProperties.MemoryHeaps)
	heapLimitCount := len(heapSizeLimits)

	if heapLimitCount > 0 && heapLimitCount != heapCount {
		return nil, errors.Newf("CreateOptions.HeapSizeLimits has %d entries, but the device has %d memory heaps", heapLimitCount, heapCount)
	}

	if heapLimitCount == 0 {
		heapSizeLimits = make([]int, heapCount)
	}

	for memTypeIndex, memType := range memoryProperties.MemoryTypes {
		if memType.HeapIndex < 0 || memType.HeapIndex >= heapCount {
			return nil, errors.Newf("memory type %d refers to heap %d, but the device has %d memory heaps", memTypeIndex, memType.HeapIndex, heapCount)
		}
	}

	return &DeviceMemoryProperties{
		blockCount:      make([]int, heapCount),
		allocationCount: make([]int, heapCount),
		blockBytes:      make([]int, heapCount),
		allocationBytes: make([]int, heapCount),

		memoryCallbacks:  memoryCallbacks,
		heapLimits:       heapSizeLimits,
		device:           dev,
		memoryProperties: memoryProperties,
	}, nil
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostVisible(memoryTypeIndex int) bool {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible != 0
}

// FindMemoryTypeIndex returns the lowest memory type index that is permitted by memoryTypeBits and
// has every flag in requiredFlags. The boolean return value is false when no such type exists.
func (m *DeviceMemoryProperties) FindMemoryTypeIndex(memoryTypeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, bool) {
	for memTypeIndex := 0; memTypeIndex < m.MemoryTypeCount(); memTypeIndex++ {
		memTypeBit := uint32(1 << memTypeIndex)

		if memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := m.memoryProperties.MemoryTypes[memTypeIndex].PropertyFlags
		if requiredFlags&flags != requiredFlags {
			// This memory type is missing required flags
			continue
		}

		return memTypeIndex, true
	}

	return -1, false
}

func (m *DeviceMemoryProperties) addBlockAllocation(heapIndex, allocationSize int) error {
	heapLimit := m.heapLimits[heapIndex]
	if heapLimit > 0 && m.blockBytes[heapIndex]+allocationSize > heapLimit {
		return errors.Wrapf(ErrHeapLimitExceeded, "allocating %d bytes from heap %d would exceed its limit of %d bytes (%d in use)",
			allocationSize, heapIndex, heapLimit, m.blockBytes[heapIndex])
	}

	m.blockBytes[heapIndex] += allocationSize
	m.blockCount[heapIndex]++
	return nil
}

func (m *DeviceMemoryProperties) removeBlockAllocation(heapIndex, allocationSize int) {
	m.blockBytes[heapIndex] -= allocationSize
	if m.blockBytes[heapIndex] < 0 {
		panic(fmt.Sprintf("block bytes for heapIndex %d went negative", heapIndex))
	}

	m.blockCount[heapIndex]--
	if m.blockCount[heapIndex] < 0 {
		panic(fmt.Sprintf("block count for heapIndex %d went negative", heapIndex))
	}
}

// AllocateDeviceMemory allocates a new block of device memory, keeping track of the heap usage
// and invoking the consumer's memory callbacks
func (m *DeviceMemoryProperties) AllocateDeviceMemory(memoryTypeIndex int, size int) (mem *BlockMemory, err error) {
	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	err = m.addBlockAllocation(heapIndex, size)
	if err != nil {
		return nil, err
	}
	defer func() {
		// If we failed out, roll back the block allocation
		if err != nil {
			m.removeBlockAllocation(heapIndex, size)
		}
	}()

	mem, err = allocateBlockMemory(m.device, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, err
	}

	m.memoryCount++
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(memoryTypeIndex, mem.DeviceMemory(), size)
	}

	return mem, nil
}

func (m *DeviceMemoryProperties) FreeDeviceMemory(memoryTypeIndex int, size int, memory *BlockMemory) {
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(memoryTypeIndex, memory.DeviceMemory(), size)
	}

	memory.Free()

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	m.removeBlockAllocation(heapIndex, size)
	m.memoryCount--
}

func (m *DeviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	m.allocationBytes[heapIndex] += size
	m.allocationCount[heapIndex]++
}

func (m *DeviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	m.allocationBytes[heapIndex] -= size
	if m.allocationBytes[heapIndex] < 0 {
		panic(fmt.Sprintf("allocation bytes for heapIndex %d went negative", heapIndex))
	}

	m.allocationCount[heapIndex]--
	if m.allocationCount[heapIndex] < 0 {
		panic(fmt.Sprintf("allocation count for heapIndex %d went negative", heapIndex))
	}
}

// HeapStatistics fills stats with the current usage of consecutive heaps beginning with firstHeap
func (m *DeviceMemoryProperties) HeapStatistics(firstHeap int, stats []memutils.Statistics) {
	for i := 0; i < len(stats); i++ {
		heapIndex := firstHeap + i

		stats[i].BlockCount = m.blockCount[heapIndex]
		stats[i].AllocationCount = m.allocationCount[heapIndex]
		stats[i].BlockBytes = m.blockBytes[heapIndex]
		stats[i].AllocationBytes = m.allocationBytes[heapIndex]
	}
}

// HeapLimit returns the configured byte limit for a heap, or 0 if the heap has no limit
func (m *DeviceMemoryProperties) HeapLimit(heapIndex int) int {
	return m.heapLimits[heapIndex]
}

// AllocationCount returns the number of live device memory allocations
func (m *DeviceMemoryProperties) AllocationCount() int {
	return m.memoryCount
}
