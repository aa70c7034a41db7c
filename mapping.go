package submem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// Map maps exactly the range of the resource's block that is reserved for the resource and returns
// a pointer to its first byte. The block's memory must be host visible.
//
// A block can only be mapped once at a time, so a resource must be unmapped before another resource
// in the same block can be mapped. There is no reference counting.
func (m *Manager) Map(handle Handle, flags core1_0.MemoryMapFlags) (unsafe.Pointer, error) {
	loc, err := m.locate(handle)
	if err != nil {
		return nil, err
	}

	if !m.deviceMemory.IsMemoryTypeHostVisible(loc.chain.memoryTypeIndex) {
		return nil, errors.Wrapf(ErrNotHostVisible, "%s in memory type %d", handle, loc.chain.memoryTypeIndex)
	}

	m.logger.Debug("Manager::Map",
		slog.Int("block", loc.block.index),
		slog.Int("offset", loc.localOffset),
		slog.Int("size", loc.res.size),
	)

	data, err := loc.block.memory.Map(loc.localOffset, loc.res.size, flags)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %s", handle)
	}

	return data, nil
}

// Unmap unmaps the memory of the block that the resource lives in
func (m *Manager) Unmap(handle Handle) error {
	loc, err := m.locate(handle)
	if err != nil {
		return err
	}

	loc.block.memory.Unmap()
	return nil
}

// Upload maps a host visible buffer, copies data to the start of it, and unmaps it again
func (m *Manager) Upload(handle Handle, data []byte) error {
	loc, err := m.locateKind(handle, ResourceBuffer)
	if err != nil {
		return err
	}

	if len(data) > loc.res.resourceSize {
		return errors.Wrapf(ErrUndersizedDestination, "uploading %d bytes to a buffer of %d bytes", len(data), loc.res.resourceSize)
	}
	if len(data) == 0 {
		return nil
	}

	ptr, err := m.Map(handle, 0)
	if err != nil {
		return err
	}
	defer loc.block.memory.Unmap()

	copy(unsafe.Slice((*byte)(ptr), len(data)), data)
	return nil
}

// Download maps a host visible buffer and returns a copy of its contents
func (m *Manager) Download(handle Handle) ([]byte, error) {
	loc, err := m.locateKind(handle, ResourceBuffer)
	if err != nil {
		return nil, err
	}

	ptr, err := m.Map(handle, 0)
	if err != nil {
		return nil, err
	}
	defer loc.block.memory.Unmap()

	out := make([]byte, loc.res.resourceSize)
	copy(out, unsafe.Slice((*byte)(ptr), len(out)))
	return out, nil
}
