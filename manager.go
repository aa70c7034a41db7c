package submem

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
	"github.com/vkngwrapper/submem/internal/vulkan"
	"github.com/vkngwrapper/submem/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Manager suballocates buffers and images out of large fixed-size blocks of device memory. Each
// memory type gets its own chain of blocks, created on demand, and resources are placed in the
// first free range of the first block that can hold them.
//
// A Manager is not safe for concurrent use.
type Manager struct {
	logger      *slog.Logger
	device      device.Device
	queue       device.Queue
	commandPool device.CommandPool

	blockSize   int
	granularity uint

	deviceMemory *vulkan.DeviceMemoryProperties
	chains       []*blockChain
	destroyed    bool
}

// located is a live container along with everything needed to operate on it
type located struct {
	chain       *blockChain
	block       *memoryBlock
	allocHandle metadata.BlockAllocationHandle
	localOffset int
	res         *container
}

// BlockSize returns the size in bytes of the regular blocks this Manager allocates
func (m *Manager) BlockSize() int { return m.blockSize }

// SubblockGranularity returns the unit that offsets and reservations are rounded to
func (m *Manager) SubblockGranularity() int { return int(m.granularity) }

func (m *Manager) chain(memoryTypeIndex int) *blockChain {
	chain := m.chains[memoryTypeIndex]
	if chain == nil {
		chain = &blockChain{}
		chain.Init(m.logger, m.deviceMemory, memoryTypeIndex, m.blockSize, m.granularity)
		m.chains[memoryTypeIndex] = chain
	}

	return chain
}

// CreateBuffer creates a buffer of the requested size and usage and binds it into memory of the
// first memory type that the buffer can use and that has every flag in requiredFlags.
func (m *Manager) CreateBuffer(size int, usage core1_0.BufferUsageFlags, requiredFlags core1_0.MemoryPropertyFlags) (Handle, error) {
	if m.destroyed {
		return Handle{}, ErrManagerDestroyed
	}
	if size < 1 {
		return Handle{}, errors.Newf("invalid buffer size %d: buffers must be at least one byte", size)
	}

	m.logger.Debug("Manager::CreateBuffer", slog.Int("size", size))

	buffer, err := m.device.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return Handle{}, errors.Wrapf(err, "creating buffer of %d bytes", size)
	}

	res := &container{
		kind:         ResourceBuffer,
		buffer:       buffer,
		resourceSize: size,
	}

	handle, err := m.allocate(res, m.device.BufferMemoryRequirements(buffer), requiredFlags)
	if err != nil {
		m.device.DestroyBuffer(buffer)
		return Handle{}, err
	}

	return handle, nil
}

// CreateImage creates an image and binds it into memory of the first memory type that the image
// can use and that has every flag in requiredFlags.
func (m *Manager) CreateImage(createInfo core1_0.ImageCreateInfo, requiredFlags core1_0.MemoryPropertyFlags) (Handle, error) {
	if m.destroyed {
		return Handle{}, ErrManagerDestroyed
	}
	if createInfo.Extent.Width < 1 || createInfo.Extent.Height < 1 {
		return Handle{}, errors.Newf("invalid image extent %dx%d", createInfo.Extent.Width, createInfo.Extent.Height)
	}

	m.logger.Debug("Manager::CreateImage",
		slog.Int("width", createInfo.Extent.Width),
		slog.Int("height", createInfo.Extent.Height),
	)

	image, err := m.device.CreateImage(createInfo)
	if err != nil {
		return Handle{}, errors.Wrapf(err, "creating %dx%d image", createInfo.Extent.Width, createInfo.Extent.Height)
	}

	requirements := m.device.ImageMemoryRequirements(image)
	res := &container{
		kind:        ResourceImage,
		image:       image,
		imageFormat: createInfo.Format,
		imageExtent: createInfo.Extent,
		imageLayout: createInfo.InitialLayout,
	}
	if requirements != nil {
		res.resourceSize = requirements.Size
	}

	handle, err := m.allocate(res, requirements, requiredFlags)
	if err != nil {
		m.device.DestroyImage(image)
		return Handle{}, err
	}

	return handle, nil
}

func (m *Manager) allocate(res *container, requirements *core1_0.MemoryRequirements, requiredFlags core1_0.MemoryPropertyFlags) (Handle, error) {
	if requirements == nil {
		return Handle{}, errors.Newf("the device did not report memory requirements for the %s", res.kind)
	}

	memoryTypeIndex, found := m.deviceMemory.FindMemoryTypeIndex(requirements.MemoryTypeBits, requiredFlags)
	if !found {
		return Handle{}, errors.Wrapf(ErrMemoryTypeNotFound, "memory type bits %#x with required flags %v", requirements.MemoryTypeBits, requiredFlags)
	}

	allocSize := requirements.Size
	if allocSize < res.resourceSize {
		allocSize = res.resourceSize
	}
	alignment := uint(1)
	if requirements.Alignment > 1 {
		alignment = uint(requirements.Alignment)
	}

	chain := m.chain(memoryTypeIndex)
	block, request, err := chain.FindPlacement(allocSize, alignment)
	if err != nil {
		return Handle{}, err
	}

	offset := request.Item.Offset
	switch res.kind {
	case ResourceBuffer:
		err = block.memory.BindBuffer(offset, res.buffer)
	case ResourceImage:
		err = block.memory.BindImage(offset, res.image)
	}
	if err != nil {
		return Handle{}, errors.Wrapf(err, "binding %s to offset %d of block %d", res.kind, offset, block.index)
	}

	res.size = request.Size
	res.generation = chain.NextGeneration()
	err = block.metadata.Alloc(request, res)
	if err != nil {
		return Handle{}, err
	}

	heapIndex := m.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	m.deviceMemory.AddAllocation(heapIndex, res.size)

	handle := newHandle(memoryTypeIndex, chain.GlobalOffset(block, offset), res.generation)
	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "bound resource",
		slog.String("kind", res.kind.String()),
		slog.Int("memoryType", memoryTypeIndex),
		slog.Int("block", block.index),
		slog.Int("offset", offset),
		slog.Int("size", res.size),
	)

	return handle, nil
}

func (m *Manager) locate(handle Handle) (located, error) {
	if m.destroyed {
		return located{}, ErrManagerDestroyed
	}
	if handle.IsNull() {
		return located{}, ErrNullHandle
	}

	memoryTypeIndex := handle.MemoryTypeIndex()
	if memoryTypeIndex >= len(m.chains) || m.chains[memoryTypeIndex] == nil {
		return located{}, errors.Wrapf(ErrHandleNotFound, "%s: no blocks exist for memory type %d", handle, memoryTypeIndex)
	}

	chain := m.chains[memoryTypeIndex]
	block, localOffset, found := chain.Locate(handle.offset)
	if !found {
		return located{}, errors.Wrapf(ErrHandleNotFound, "%s: memory type %d has only %d blocks", handle, memoryTypeIndex, chain.BlockCount())
	}

	res, allocHandle, found := block.lookup(localOffset)
	if !found {
		return located{}, errors.Wrapf(ErrHandleNotFound, "%s: nothing is bound at offset %d of block %d", handle, localOffset, block.index)
	}
	if res.generation != handle.generation {
		return located{}, errors.Wrapf(ErrHandleNotFound, "%s: the resource at offset %d of block %d is generation %d", handle, localOffset, block.index, res.generation)
	}

	return located{
		chain:       chain,
		block:       block,
		allocHandle: allocHandle,
		localOffset: localOffset,
		res:         res,
	}, nil
}

func (m *Manager) locateKind(handle Handle, kind ResourceKind) (located, error) {
	loc, err := m.locate(handle)
	if err != nil {
		return located{}, err
	}

	if loc.res.kind != kind {
		return located{}, errors.Wrapf(ErrResourceKind, "%s refers to a %s, not a %s", handle, loc.res.kind, kind)
	}

	return loc, nil
}

// Free destroys the resource referred to by handle and releases its range of the block
func (m *Manager) Free(handle Handle) error {
	loc, err := m.locate(handle)
	if err != nil {
		return err
	}

	size := loc.res.size
	loc.res.destroyResource(m.device)

	err = loc.block.metadata.Free(loc.allocHandle)
	if err != nil {
		return err
	}

	heapIndex := m.deviceMemory.MemoryTypeIndexToHeapIndex(loc.chain.memoryTypeIndex)
	m.deviceMemory.RemoveAllocation(heapIndex, size)

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "freed resource",
		slog.Int("memoryType", loc.chain.memoryTypeIndex),
		slog.Int("block", loc.block.index),
		slog.Int("offset", loc.localOffset),
		slog.Int("size", size),
	)

	return nil
}

// Resolve returns a description of the live resource referred to by handle
func (m *Manager) Resolve(handle Handle) (ContainerInfo, error) {
	loc, err := m.locate(handle)
	if err != nil {
		return ContainerInfo{}, err
	}

	return ContainerInfo{
		Kind:            loc.res.kind,
		MemoryTypeIndex: loc.chain.memoryTypeIndex,
		BlockIndex:      loc.block.index,
		Offset:          loc.localOffset,
		Size:            loc.res.size,
		ResourceSize:    loc.res.resourceSize,

		Memory: loc.block.memory.DeviceMemory(),
		Buffer: loc.res.buffer,
		Image:  loc.res.image,

		ImageFormat: loc.res.imageFormat,
		ImageExtent: loc.res.imageExtent,
		ImageLayout: loc.res.imageLayout,
	}, nil
}

// ResolveMemory returns the device memory of the block that the resource is bound into
func (m *Manager) ResolveMemory(handle Handle) (device.Memory, error) {
	loc, err := m.locate(handle)
	if err != nil {
		return nil, err
	}

	return loc.block.memory.DeviceMemory(), nil
}

// ResolveBuffer returns the buffer object referred to by handle
func (m *Manager) ResolveBuffer(handle Handle) (device.Buffer, error) {
	loc, err := m.locateKind(handle, ResourceBuffer)
	if err != nil {
		return nil, err
	}

	return loc.res.buffer, nil
}

// ResolveImage returns the image object referred to by handle
func (m *Manager) ResolveImage(handle Handle) (device.Image, error) {
	loc, err := m.locateKind(handle, ResourceImage)
	if err != nil {
		return nil, err
	}

	return loc.res.image, nil
}

// Destroy destroys every live resource and frees every block of device memory. The Manager
// cannot be used afterward.
func (m *Manager) Destroy() error {
	if m.destroyed {
		return ErrManagerDestroyed
	}

	m.logger.Debug("Manager::Destroy")

	for memoryTypeIndex, chain := range m.chains {
		if chain == nil {
			continue
		}

		chain.Destroy(m.device)
		m.chains[memoryTypeIndex] = nil
	}

	m.destroyed = true
	return nil
}
