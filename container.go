package submem

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
)

// ResourceKind identifies whether a container holds a buffer or an image
type ResourceKind uint32

const (
	ResourceBuffer ResourceKind = iota + 1
	ResourceImage
)

var resourceKindMapping = map[ResourceKind]string{
	ResourceBuffer: "Buffer",
	ResourceImage:  "Image",
}

func (k ResourceKind) String() string {
	return resourceKindMapping[k]
}

// container is a single resource bound into a block. It is stored as the userData of the block's
// metadata suballocation.
type container struct {
	kind   ResourceKind
	buffer device.Buffer
	image  device.Image

	// size is the granularity-rounded reservation, resourceSize is the size the consumer asked for
	size         int
	resourceSize int
	generation   uint64

	imageFormat core1_0.Format
	imageExtent core1_0.Extent3D
	imageLayout core1_0.ImageLayout
}

func (c *container) destroyResource(dev device.ResourceFactory) {
	switch c.kind {
	case ResourceBuffer:
		dev.DestroyBuffer(c.buffer)
	case ResourceImage:
		dev.DestroyImage(c.image)
	}
	c.buffer = nil
	c.image = nil
}

// ContainerInfo describes a live resource
type ContainerInfo struct {
	Kind            ResourceKind
	MemoryTypeIndex int
	BlockIndex      int
	// Offset is the offset of the resource within its block's device memory
	Offset int
	// Size is the number of bytes reserved for the resource, a multiple of the subblock granularity
	Size int
	// ResourceSize is the number of bytes that were requested when the resource was created
	ResourceSize int

	Memory device.Memory
	Buffer device.Buffer
	Image  device.Image

	ImageFormat core1_0.Format
	ImageExtent core1_0.Extent3D
	// ImageLayout is the layout the image was last transitioned to by the Manager
	ImageLayout core1_0.ImageLayout
}
