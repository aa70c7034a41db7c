package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/submem/device"
)

// Device adapts a vkngwrapper PhysicalDevice and Device to the device.Device interface. Buffers,
// images, memory and command pools passed through it must be the corresponding core1_0 objects.
type Device struct {
	physicalDevice      core1_0.PhysicalDevice
	device              core1_0.Device
	allocationCallbacks *driver.AllocationCallbacks
}

var _ device.Device = &Device{}

// NewDevice wraps a logical device and the physical device it was created from. allocationCallbacks
// may be nil.
func NewDevice(physicalDevice core1_0.PhysicalDevice, dev core1_0.Device, allocationCallbacks *driver.AllocationCallbacks) *Device {
	return &Device{
		physicalDevice:      physicalDevice,
		device:              dev,
		allocationCallbacks: allocationCallbacks,
	}
}

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.physicalDevice.MemoryProperties()
}

func (d *Device) BufferMemoryRequirements(buffer device.Buffer) *core1_0.MemoryRequirements {
	return buffer.(core1_0.Buffer).MemoryRequirements()
}

func (d *Device) ImageMemoryRequirements(image device.Image) *core1_0.MemoryRequirements {
	return image.(core1_0.Image).MemoryRequirements()
}

func (d *Device) CreateBuffer(createInfo core1_0.BufferCreateInfo) (device.Buffer, error) {
	buffer, _, err := d.device.CreateBuffer(d.allocationCallbacks, createInfo)
	if err != nil {
		return nil, err
	}

	return buffer, nil
}

func (d *Device) DestroyBuffer(buffer device.Buffer) {
	buffer.(core1_0.Buffer).Destroy(d.allocationCallbacks)
}

func (d *Device) CreateImage(createInfo core1_0.ImageCreateInfo) (device.Image, error) {
	image, _, err := d.device.CreateImage(d.allocationCallbacks, createInfo)
	if err != nil {
		return nil, err
	}

	return image, nil
}

func (d *Device) DestroyImage(image device.Image) {
	image.(core1_0.Image).Destroy(d.allocationCallbacks)
}

func (d *Device) AllocateMemory(allocateInfo core1_0.MemoryAllocateInfo) (device.Memory, error) {
	memory, _, err := d.device.AllocateMemory(d.allocationCallbacks, allocateInfo)
	if err != nil {
		return nil, err
	}

	return memory, nil
}

func (d *Device) FreeMemory(memory device.Memory) {
	memory.(core1_0.DeviceMemory).Free(d.allocationCallbacks)
}

func (d *Device) BindBufferMemory(buffer device.Buffer, memory device.Memory, offset int) error {
	_, err := buffer.(core1_0.Buffer).BindBufferMemory(memory.(core1_0.DeviceMemory), offset)
	return err
}

func (d *Device) BindImageMemory(image device.Image, memory device.Memory, offset int) error {
	_, err := image.(core1_0.Image).BindImageMemory(memory.(core1_0.DeviceMemory), offset)
	return err
}

func (d *Device) MapMemory(memory device.Memory, offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, error) {
	data, _, err := memory.(core1_0.DeviceMemory).Map(offset, size, flags)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (d *Device) UnmapMemory(memory device.Memory) {
	memory.(core1_0.DeviceMemory).Unmap()
}

func (d *Device) AllocateCommandBuffer(pool device.CommandPool) (device.CommandBuffer, error) {
	commandPool, isPool := pool.(core1_0.CommandPool)
	if !isPool {
		return nil, errors.Newf("expected a core1_0.CommandPool, but received %T", pool)
	}

	commandBuffers, _, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, err
	}

	return &CommandBuffer{commandBuffer: commandBuffers[0]}, nil
}

func (d *Device) FreeCommandBuffer(pool device.CommandPool, commandBuffer device.CommandBuffer) {
	d.device.FreeCommandBuffers([]core1_0.CommandBuffer{commandBuffer.(*CommandBuffer).commandBuffer})
}
