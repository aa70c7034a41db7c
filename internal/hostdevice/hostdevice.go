// Package hostdevice is a device implementation backed by ordinary host memory. Buffers, images and
// device memory are byte slices, and recorded commands run on the CPU when they are submitted. It
// counts every live object so that tests can verify nothing was leaked or destroyed twice.
package hostdevice

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
)

// ErrOutOfDeviceMemory is returned from AllocateMemory once MaxMemoryAllocations is reached or
// FailAllocations is set
var ErrOutOfDeviceMemory = errors.New("out of device memory")

const (
	DeviceLocalType = 0
	HostVisibleType = 1
)

// Options configures the memory layout and resource requirements the device reports
type Options struct {
	MemoryTypes []core1_0.MemoryType
	MemoryHeaps []core1_0.MemoryHeap

	// BufferMemoryTypeBits and ImageMemoryTypeBits default to every memory type
	BufferMemoryTypeBits uint32
	ImageMemoryTypeBits  uint32
	BufferAlignment      int
	ImageAlignment       int
	// BytesPerTexel is used to size images, every format is treated the same
	BytesPerTexel int
}

// DefaultOptions describes a device with a device-local heap and a host-visible coherent heap
func DefaultOptions() Options {
	return Options{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 4 * 1024 * 1024 * 1024, Flags: core1_0.MemoryHeapDeviceLocal},
			{Size: 1024 * 1024 * 1024},
		},
		BufferAlignment: 256,
		ImageAlignment:  1024,
		BytesPerTexel:   4,
	}
}

type Memory struct {
	typeIndex int
	size      int
	// data is allocated on first access so that large device-local blocks cost nothing
	data   []byte
	mapped bool
	freed  bool
}

func (m *Memory) bytes() []byte {
	if m.data == nil {
		m.data = make([]byte, m.size)
	}
	return m.data
}

func (m *Memory) TypeIndex() int { return m.typeIndex }
func (m *Memory) Size() int      { return m.size }
func (m *Memory) IsMapped() bool { return m.mapped }

type binding struct {
	memory *Memory
	offset int
	size   int
}

func (b *binding) bytes() []byte {
	if b.memory == nil {
		return nil
	}
	return b.memory.bytes()[b.offset : b.offset+b.size]
}

type Buffer struct {
	binding
	createInfo core1_0.BufferCreateInfo
	destroyed  bool
}

// Contents returns the bytes of device memory that the buffer is bound to
func (b *Buffer) Contents() []byte {
	return b.binding.bytes()
}

type Image struct {
	binding
	createInfo core1_0.ImageCreateInfo
	layout     core1_0.ImageLayout
	destroyed  bool
}

// Contents returns the bytes of device memory that the image is bound to
func (i *Image) Contents() []byte {
	return i.binding.bytes()
}

// Layout returns the layout the image was last transitioned to by an executed barrier
func (i *Image) Layout() core1_0.ImageLayout {
	return i.layout
}

// Device implements device.Device against host memory
type Device struct {
	options Options

	liveBuffers        map[*Buffer]struct{}
	liveImages         map[*Image]struct{}
	liveMemory         map[*Memory]struct{}
	liveCommandBuffers map[*CommandBuffer]struct{}

	// FailAllocations causes every AllocateMemory call to fail
	FailAllocations bool
	// MaxMemoryAllocations causes AllocateMemory to fail once this many allocations are live. Zero
	// means unlimited.
	MaxMemoryAllocations int

	// Calls counts each device method by name
	Calls map[string]int
}

var _ device.Device = &Device{}

func New(options Options) *Device {
	if options.BufferMemoryTypeBits == 0 {
		options.BufferMemoryTypeBits = (1 << len(options.MemoryTypes)) - 1
	}
	if options.ImageMemoryTypeBits == 0 {
		options.ImageMemoryTypeBits = (1 << len(options.MemoryTypes)) - 1
	}
	if options.BufferAlignment == 0 {
		options.BufferAlignment = 1
	}
	if options.ImageAlignment == 0 {
		options.ImageAlignment = 1
	}
	if options.BytesPerTexel == 0 {
		options.BytesPerTexel = 4
	}

	return &Device{
		options:            options,
		liveBuffers:        make(map[*Buffer]struct{}),
		liveImages:         make(map[*Image]struct{}),
		liveMemory:         make(map[*Memory]struct{}),
		liveCommandBuffers: make(map[*CommandBuffer]struct{}),
		Calls:              make(map[string]int),
	}
}

func (d *Device) LiveBuffers() int        { return len(d.liveBuffers) }
func (d *Device) LiveImages() int         { return len(d.liveImages) }
func (d *Device) LiveMemory() int         { return len(d.liveMemory) }
func (d *Device) LiveCommandBuffers() int { return len(d.liveCommandBuffers) }

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: append([]core1_0.MemoryType(nil), d.options.MemoryTypes...),
		MemoryHeaps: append([]core1_0.MemoryHeap(nil), d.options.MemoryHeaps...),
	}
}

func (d *Device) BufferMemoryRequirements(buffer device.Buffer) *core1_0.MemoryRequirements {
	b := buffer.(*Buffer)
	return &core1_0.MemoryRequirements{
		Size:           b.createInfo.Size,
		Alignment:      d.options.BufferAlignment,
		MemoryTypeBits: d.options.BufferMemoryTypeBits,
	}
}

func (d *Device) imageSize(createInfo core1_0.ImageCreateInfo) int {
	depth := createInfo.Extent.Depth
	if depth < 1 {
		depth = 1
	}
	return createInfo.Extent.Width * createInfo.Extent.Height * depth * d.options.BytesPerTexel
}

func (d *Device) ImageMemoryRequirements(image device.Image) *core1_0.MemoryRequirements {
	i := image.(*Image)
	return &core1_0.MemoryRequirements{
		Size:           d.imageSize(i.createInfo),
		Alignment:      d.options.ImageAlignment,
		MemoryTypeBits: d.options.ImageMemoryTypeBits,
	}
}

func (d *Device) CreateBuffer(createInfo core1_0.BufferCreateInfo) (device.Buffer, error) {
	d.Calls["CreateBuffer"]++
	if createInfo.Size < 1 {
		return nil, errors.Newf("invalid buffer size %d", createInfo.Size)
	}

	buffer := &Buffer{createInfo: createInfo}
	d.liveBuffers[buffer] = struct{}{}
	return buffer, nil
}

func (d *Device) DestroyBuffer(buffer device.Buffer) {
	d.Calls["DestroyBuffer"]++
	b := buffer.(*Buffer)
	if b.destroyed {
		panic(fmt.Sprintf("buffer %p destroyed twice", b))
	}

	b.destroyed = true
	delete(d.liveBuffers, b)
}

func (d *Device) CreateImage(createInfo core1_0.ImageCreateInfo) (device.Image, error) {
	d.Calls["CreateImage"]++
	if createInfo.Extent.Width < 1 || createInfo.Extent.Height < 1 {
		return nil, errors.Newf("invalid image extent %dx%d", createInfo.Extent.Width, createInfo.Extent.Height)
	}

	image := &Image{createInfo: createInfo, layout: createInfo.InitialLayout}
	d.liveImages[image] = struct{}{}
	return image, nil
}

func (d *Device) DestroyImage(image device.Image) {
	d.Calls["DestroyImage"]++
	i := image.(*Image)
	if i.destroyed {
		panic(fmt.Sprintf("image %p destroyed twice", i))
	}

	i.destroyed = true
	delete(d.liveImages, i)
}

func (d *Device) AllocateMemory(allocateInfo core1_0.MemoryAllocateInfo) (device.Memory, error) {
	d.Calls["AllocateMemory"]++
	if d.FailAllocations || (d.MaxMemoryAllocations > 0 && len(d.liveMemory) >= d.MaxMemoryAllocations) {
		return nil, ErrOutOfDeviceMemory
	}
	if allocateInfo.MemoryTypeIndex < 0 || allocateInfo.MemoryTypeIndex >= len(d.options.MemoryTypes) {
		return nil, errors.Newf("invalid memory type index %d", allocateInfo.MemoryTypeIndex)
	}

	memory := &Memory{
		typeIndex: allocateInfo.MemoryTypeIndex,
		size:      allocateInfo.AllocationSize,
	}
	d.liveMemory[memory] = struct{}{}
	return memory, nil
}

func (d *Device) FreeMemory(memory device.Memory) {
	d.Calls["FreeMemory"]++
	m := memory.(*Memory)
	if m.freed {
		panic(fmt.Sprintf("memory %p freed twice", m))
	}

	m.freed = true
	m.data = nil
	delete(d.liveMemory, m)
}

func (d *Device) bind(target *binding, memory device.Memory, offset int, size int) error {
	m := memory.(*Memory)
	if m.freed {
		return errors.New("binding to freed memory")
	}
	if target.memory != nil {
		return errors.New("resource is already bound")
	}
	if offset < 0 || offset+size > m.size {
		return errors.Newf("binding %d bytes at offset %d overruns memory of size %d", size, offset, m.size)
	}

	target.memory = m
	target.offset = offset
	target.size = size
	return nil
}

func (d *Device) BindBufferMemory(buffer device.Buffer, memory device.Memory, offset int) error {
	d.Calls["BindBufferMemory"]++
	b := buffer.(*Buffer)
	if offset%d.options.BufferAlignment != 0 {
		return errors.Newf("buffer offset %d is not aligned to %d", offset, d.options.BufferAlignment)
	}
	return d.bind(&b.binding, memory, offset, b.createInfo.Size)
}

func (d *Device) BindImageMemory(image device.Image, memory device.Memory, offset int) error {
	d.Calls["BindImageMemory"]++
	i := image.(*Image)
	if offset%d.options.ImageAlignment != 0 {
		return errors.Newf("image offset %d is not aligned to %d", offset, d.options.ImageAlignment)
	}
	return d.bind(&i.binding, memory, offset, d.imageSize(i.createInfo))
}

func (d *Device) MapMemory(memory device.Memory, offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, error) {
	d.Calls["MapMemory"]++
	m := memory.(*Memory)
	if m.mapped {
		return nil, errors.New("memory is already mapped")
	}
	if d.options.MemoryTypes[m.typeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("memory type %d is not host visible", m.typeIndex)
	}
	if offset < 0 || size < 1 || offset+size > m.size {
		return nil, errors.Newf("cannot map %d bytes at offset %d of memory of size %d", size, offset, m.size)
	}

	m.mapped = true
	return unsafe.Pointer(&m.bytes()[offset]), nil
}

func (d *Device) UnmapMemory(memory device.Memory) {
	d.Calls["UnmapMemory"]++
	m := memory.(*Memory)
	if !m.mapped {
		panic(fmt.Sprintf("memory %p unmapped while not mapped", m))
	}
	m.mapped = false
}

func (d *Device) AllocateCommandBuffer(pool device.CommandPool) (device.CommandBuffer, error) {
	d.Calls["AllocateCommandBuffer"]++
	commandBuffer := &CommandBuffer{device: d}
	d.liveCommandBuffers[commandBuffer] = struct{}{}
	return commandBuffer, nil
}

func (d *Device) FreeCommandBuffer(pool device.CommandPool, commandBuffer device.CommandBuffer) {
	d.Calls["FreeCommandBuffer"]++
	cb := commandBuffer.(*CommandBuffer)
	if _, live := d.liveCommandBuffers[cb]; !live {
		panic(fmt.Sprintf("command buffer %p freed twice", cb))
	}
	delete(d.liveCommandBuffers, cb)
}
