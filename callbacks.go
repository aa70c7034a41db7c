package submem

import "github.com/vkngwrapper/submem/device"

type AllocateDeviceMemoryCallback func(
	manager *Manager,
	memoryType int,
	memory device.Memory,
	size int,
	userData interface{},
)

type FreeDeviceMemoryCallback func(
	manager *Manager,
	memoryType int,
	memory device.Memory,
	size int,
	userData interface{},
)

// MemoryCallbackOptions holds callbacks that are executed whenever the Manager allocates or frees
// a block of device memory
type MemoryCallbackOptions struct {
	Allocate AllocateDeviceMemoryCallback
	Free     FreeDeviceMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Manager   *Manager
}

func (c *memoryCallbacks) Allocate(
	memoryType int,
	memory device.Memory,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Manager, memoryType, memory, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(
	memoryType int,
	memory device.Memory,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Manager, memoryType, memory, size, c.Callbacks.UserData)
	}
}
