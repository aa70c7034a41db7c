// Package device describes the pieces of a GPU device that the suballocator consumes. The
// suballocator never creates or destroys a device, queue or command pool: the consumer provides
// implementations of these interfaces, usually by wrapping a real graphics API. The submem/vulkan
// package provides one on top of vkngwrapper.
package device

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// Buffer is an opaque buffer object created by a ResourceFactory
type Buffer interface{}

// Image is an opaque image object created by a ResourceFactory
type Image interface{}

// Memory is an opaque device memory allocation created by a ResourceFactory
type Memory interface{}

// CommandPool is an opaque command pool token that is handed back to the ResourceFactory
// whenever a command buffer is allocated or freed
type CommandPool interface{}

// Capabilities answers queries about the physical device and about the memory needs of
// resources that were created on it
type Capabilities interface {
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	BufferMemoryRequirements(buffer Buffer) *core1_0.MemoryRequirements
	ImageMemoryRequirements(image Image) *core1_0.MemoryRequirements
}

// ResourceFactory creates and destroys the device objects that the suballocator owns
type ResourceFactory interface {
	CreateBuffer(createInfo core1_0.BufferCreateInfo) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	CreateImage(createInfo core1_0.ImageCreateInfo) (Image, error)
	DestroyImage(image Image)

	AllocateMemory(allocateInfo core1_0.MemoryAllocateInfo) (Memory, error)
	FreeMemory(memory Memory)
	BindBufferMemory(buffer Buffer, memory Memory, offset int) error
	BindImageMemory(image Image, memory Memory, offset int) error
	MapMemory(memory Memory, offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, error)
	UnmapMemory(memory Memory)

	AllocateCommandBuffer(pool CommandPool) (CommandBuffer, error)
	FreeCommandBuffer(pool CommandPool, commandBuffer CommandBuffer)
}

// Device is the full set of device behavior used by the suballocator
type Device interface {
	Capabilities
	ResourceFactory
}

// Queue is a device queue that supports transfer operations
type Queue interface {
	// Submit submits a single recorded command buffer for execution
	Submit(commandBuffer CommandBuffer) error
	// WaitIdle blocks until all work submitted to the queue has completed
	WaitIdle() error
}

// CommandBuffer is a primary command buffer that records transfer work
type CommandBuffer interface {
	Begin(flags core1_0.CommandBufferUsageFlags) error
	CopyBuffer(src Buffer, dst Buffer, regions []core1_0.BufferCopy) error
	CopyBufferToImage(src Buffer, dst Image, dstLayout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error
	PipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, imageBarriers []ImageBarrier) error
	End() error
}

// ImageBarrier describes a layout transition for a range of an image's subresources
type ImageBarrier struct {
	Image            Image
	OldLayout        core1_0.ImageLayout
	NewLayout        core1_0.ImageLayout
	SrcAccessMask    core1_0.AccessFlags
	DstAccessMask    core1_0.AccessFlags
	SubresourceRange core1_0.ImageSubresourceRange
}
