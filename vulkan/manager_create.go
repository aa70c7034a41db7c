// Package vulkan creates a submem.Manager on top of vkngwrapper's core 1.0 objects
package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/submem"
	"github.com/vkngwrapper/submem/device"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings when creating a Manager through vkngwrapper
type CreateOptions struct {
	submem.CreateOptions

	// VulkanCallbacks is an optional set of callbacks that will be passed to Vulkan whenever the
	// Manager creates or destroys a buffer, image or device memory allocation
	VulkanCallbacks *driver.AllocationCallbacks
}

// NewManager creates a new submem.Manager
//
// logger - Receives debug output for block and resource lifetime events. May be nil.
//
// physicalDevice - The PhysicalDevice that owns the provided Device
//
// dev - The Device that buffers, images and memory will be created on
//
// queue - A queue from a family that supports transfer operations
//
// commandPool - A command pool created for the queue's family, used for one-time transfer
// command buffers
//
// options - Optional parameters: it is valid to leave all the fields blank
//
// None of the vkngwrapper objects are owned by the Manager. They must outlive it.
func NewManager(
	logger *slog.Logger,
	physicalDevice core1_0.PhysicalDevice,
	dev core1_0.Device,
	queue core1_0.Queue,
	commandPool core1_0.CommandPool,
	options CreateOptions,
) (*submem.Manager, error) {
	if physicalDevice == nil || dev == nil {
		return nil, errors.New("a physical device and a device must be provided")
	}

	var transferQueue device.Queue
	if queue != nil {
		transferQueue = NewQueue(queue)
	}

	var pool device.CommandPool
	if commandPool != nil {
		pool = commandPool
	}

	return submem.New(logger, NewDevice(physicalDevice, dev, options.VulkanCallbacks), transferQueue, pool, options.CreateOptions)
}
