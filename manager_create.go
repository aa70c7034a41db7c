package submem

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/submem/device"
	"github.com/vkngwrapper/submem/internal/vulkan"
	"github.com/vkngwrapper/submem/memutils"
	"golang.org/x/exp/slog"
)

const (
	// DefaultBlockSize is the value that is used as the BlockSize when none is provided via
	// CreateOptions. It is equal to 64MiB.
	DefaultBlockSize int = 64 * 1024 * 1024
	// DefaultSubblockGranularity is the value that is used as the SubblockGranularity when none
	// is provided via CreateOptions. It is equal to 1KiB.
	DefaultSubblockGranularity int = 1024
)

// CreateOptions contains optional settings when creating a Manager
type CreateOptions struct {
	// BlockSize is the size in bytes of every device memory allocation the Manager makes, other
	// than the dedicated blocks made for resources larger than BlockSize. It must be a power of two.
	BlockSize int
	// SubblockGranularity is the unit that every resource offset and reservation within a block
	// is rounded up to. It must be a power of two no larger than BlockSize.
	SubblockGranularity int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when device memory
	// is allocated or freed by this Manager
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of memory heaps on the device.
	// Each entry must be either the maximum number of bytes that should be allocated from
	// the corresponding heap, or 0 indicating no limit.
	//
	// Heap memory limits are enforced whenever a block is created: block creation that
	// would pass the limit fails with ErrAllocationFailure.
	HeapSizeLimits []int
}

func (o *CreateOptions) setDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.SubblockGranularity == 0 {
		o.SubblockGranularity = DefaultSubblockGranularity
	}
}

func (o *CreateOptions) validate() error {
	if o.BlockSize < 0 || o.SubblockGranularity < 0 {
		return errors.Wrapf(ErrInvalidOptions, "BlockSize %d and SubblockGranularity %d must be positive", o.BlockSize, o.SubblockGranularity)
	}

	err := memutils.CheckPow2(o.BlockSize, "BlockSize")
	if err != nil {
		return withKind(err, ErrInvalidOptions)
	}
	err = memutils.CheckPow2(o.SubblockGranularity, "SubblockGranularity")
	if err != nil {
		return withKind(err, ErrInvalidOptions)
	}

	if o.SubblockGranularity > o.BlockSize {
		return errors.Wrapf(ErrInvalidOptions, "SubblockGranularity %d is larger than BlockSize %d", o.SubblockGranularity, o.BlockSize)
	}

	for heapIndex, limit := range o.HeapSizeLimits {
		if limit < 0 {
			return errors.Wrapf(ErrInvalidOptions, "HeapSizeLimits[%d] is negative", heapIndex)
		}
	}

	return nil
}

// New creates a new Manager
//
// logger - Receives debug output for block and resource lifetime events. May be nil.
//
// dev - The device that resources and memory will be created on
//
// queue - A queue that supports transfer operations, used by CopyBuffer, CopyBufferToImage and
// TransitionImageLayout
//
// commandPool - The pool that one-time command buffers will be allocated from. It must have been
// created for the queue's family.
//
// options - Optional parameters: it is valid to leave all the fields blank
//
// The Manager does not take ownership of dev, queue or commandPool. They must outlive the Manager.
func New(logger *slog.Logger, dev device.Device, queue device.Queue, commandPool device.CommandPool, options CreateOptions) (*Manager, error) {
	if dev == nil {
		return nil, errors.New("a device must be provided")
	}

	options.setDefaults()
	err := options.validate()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	manager := &Manager{
		logger:      logger,
		device:      dev,
		queue:       queue,
		commandPool: commandPool,
		blockSize:   options.BlockSize,
		granularity: uint(options.SubblockGranularity),
	}

	manager.deviceMemory, err = vulkan.NewDeviceMemoryProperties(
		&memoryCallbacks{
			Callbacks: options.MemoryCallbackOptions,
			Manager:   manager,
		},
		dev,
		options.HeapSizeLimits,
	)
	if err != nil {
		return nil, withKind(err, ErrInvalidOptions)
	}

	manager.chains = make([]*blockChain, manager.deviceMemory.MemoryTypeCount())

	return manager, nil
}
