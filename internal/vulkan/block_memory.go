package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
)

// BlockMemory is a single device memory allocation backing a block, along with its mapping state
type BlockMemory struct {
	device device.ResourceFactory
	memory device.Memory
	size   int

	mapData   unsafe.Pointer
	mapOffset int
	mapSize   int
}

func allocateBlockMemory(dev device.ResourceFactory, allocateInfo core1_0.MemoryAllocateInfo) (*BlockMemory, error) {
	memory, err := dev.AllocateMemory(allocateInfo)
	if err != nil {
		return nil, err
	}

	return &BlockMemory{
		device: dev,
		memory: memory,
		size:   allocateInfo.AllocationSize,
	}, nil
}

func (m *BlockMemory) DeviceMemory() device.Memory {
	return m.memory
}

func (m *BlockMemory) Size() int {
	return m.size
}

func (m *BlockMemory) BindBuffer(offset int, buffer device.Buffer) error {
	return m.device.BindBufferMemory(buffer, m.memory, offset)
}

func (m *BlockMemory) BindImage(offset int, image device.Image) error {
	return m.device.BindImageMemory(image, m.memory, offset)
}

func (m *BlockMemory) IsMapped() bool {
	return m.mapData != nil
}

// MappedRange returns the range of the memory that is currently mapped
func (m *BlockMemory) MappedRange() (offset int, size int) {
	return m.mapOffset, m.mapSize
}

// Map maps [offset, offset+size) of the memory into host address space. Device memory can only
// be mapped once at a time.
func (m *BlockMemory) Map(offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, error) {
	if m.mapData != nil {
		return nil, errors.Newf("device memory is already mapped at offset %d with size %d", m.mapOffset, m.mapSize)
	}
	if offset < 0 || size < 1 || offset+size > m.size {
		return nil, errors.Newf("cannot map offset %d with size %d from device memory of size %d", offset, size, m.size)
	}

	data, err := m.device.MapMemory(m.memory, offset, size, flags)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.New("mapping device memory returned a nil pointer")
	}

	m.mapData = data
	m.mapOffset = offset
	m.mapSize = size
	return data, nil
}

// Unmap releases the current mapping. It does nothing if the memory is not mapped.
func (m *BlockMemory) Unmap() {
	if m.mapData == nil {
		return
	}

	m.device.UnmapMemory(m.memory)
	m.mapData = nil
	m.mapOffset = 0
	m.mapSize = 0
}

func (m *BlockMemory) Free() {
	m.Unmap()
	m.device.FreeMemory(m.memory)
	m.memory = nil
}
