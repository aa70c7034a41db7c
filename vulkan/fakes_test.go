package vulkan

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// The fakes embed the vkngwrapper interfaces so that only the methods the adapter calls need bodies.

type fakePhysicalDevice struct {
	core1_0.PhysicalDevice
	properties *core1_0.PhysicalDeviceMemoryProperties
}

func (p *fakePhysicalDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return p.properties
}

type fakeDevice struct {
	core1_0.Device

	buffers     []*fakeBuffer
	memories    []*fakeMemory
	bufferInfos []core1_0.BufferCreateInfo
	allocations []core1_0.MemoryAllocateInfo
	callbacks   []*driver.AllocationCallbacks
}

func (d *fakeDevice) CreateBuffer(allocationCallbacks *driver.AllocationCallbacks, o core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
	d.callbacks = append(d.callbacks, allocationCallbacks)
	d.bufferInfos = append(d.bufferInfos, o)

	buffer := &fakeBuffer{
		requirements: core1_0.MemoryRequirements{
			Size:           o.Size,
			Alignment:      16,
			MemoryTypeBits: 1,
		},
	}
	d.buffers = append(d.buffers, buffer)
	return buffer, core1_0.VKSuccess, nil
}

func (d *fakeDevice) AllocateMemory(allocationCallbacks *driver.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
	d.callbacks = append(d.callbacks, allocationCallbacks)
	d.allocations = append(d.allocations, o)

	memory := &fakeMemory{data: make([]byte, o.AllocationSize)}
	d.memories = append(d.memories, memory)
	return memory, core1_0.VKSuccess, nil
}

type fakeBuffer struct {
	core1_0.Buffer

	requirements core1_0.MemoryRequirements
	boundMemory  core1_0.DeviceMemory
	boundOffset  int
	destroyed    int
}

func (b *fakeBuffer) MemoryRequirements() *core1_0.MemoryRequirements {
	requirements := b.requirements
	return &requirements
}

func (b *fakeBuffer) BindBufferMemory(memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	b.boundMemory = memory
	b.boundOffset = offset
	return core1_0.VKSuccess, nil
}

func (b *fakeBuffer) Destroy(callbacks *driver.AllocationCallbacks) {
	b.destroyed++
}

type fakeMemory struct {
	core1_0.DeviceMemory

	data      []byte
	mapOffset int
	mapSize   int
	mapped    bool
	freed     int
}

func (m *fakeMemory) Map(offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, common.VkResult, error) {
	m.mapOffset = offset
	m.mapSize = size
	m.mapped = true
	return unsafe.Pointer(&m.data[offset]), core1_0.VKSuccess, nil
}

func (m *fakeMemory) Unmap() {
	m.mapped = false
}

func (m *fakeMemory) Free(callbacks *driver.AllocationCallbacks) {
	m.freed++
}

type fakeImage struct {
	core1_0.Image
}

type fakeCommandBuffer struct {
	core1_0.CommandBuffer

	srcStage core1_0.PipelineStageFlags
	dstStage core1_0.PipelineStageFlags
	barriers []core1_0.ImageMemoryBarrier
}

func (c *fakeCommandBuffer) CmdPipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, dependencies core1_0.DependencyFlags, memoryBarriers []core1_0.MemoryBarrier, bufferMemoryBarriers []core1_0.BufferMemoryBarrier, imageMemoryBarriers []core1_0.ImageMemoryBarrier) error {
	c.srcStage = srcStageMask
	c.dstStage = dstStageMask
	c.barriers = imageMemoryBarriers
	return nil
}

type fakeQueue struct {
	core1_0.Queue

	fence     core1_0.Fence
	submitted []core1_0.SubmitInfo
	waits     int
}

func (q *fakeQueue) Submit(fence core1_0.Fence, o []core1_0.SubmitInfo) (common.VkResult, error) {
	q.fence = fence
	q.submitted = append(q.submitted, o...)
	return core1_0.VKSuccess, nil
}

func (q *fakeQueue) WaitIdle() (common.VkResult, error) {
	q.waits++
	return core1_0.VKSuccess, nil
}
