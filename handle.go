package submem

import "fmt"

// Handle is an opaque reference to a resource created by a Manager. It is a plain value: copying it
// does not copy the resource, and holding it does not keep the resource alive. The zero Handle is
// the null handle.
//
// A Handle locates its resource by memory type and global offset, where the global offset is
// blockIndex*blockSize + the offset of the resource within its block. Each Handle also carries the
// generation of the allocation it was created by, so a Handle that outlives its resource will not
// resolve to a different resource that later reuses the same offset.
type Handle struct {
	class      uint32
	offset     int
	generation uint64
}

func newHandle(memoryTypeIndex int, globalOffset int, generation uint64) Handle {
	return Handle{
		class:      uint32(memoryTypeIndex + 1),
		offset:     globalOffset,
		generation: generation,
	}
}

// IsNull returns true for the zero Handle
func (h Handle) IsNull() bool {
	return h.class == 0
}

// MemoryTypeIndex returns the index of the device memory type the resource lives in, or -1 for the null handle
func (h Handle) MemoryTypeIndex() int {
	return int(h.class) - 1
}

// GlobalOffset returns blockIndex*blockSize + the offset of the resource within its block
func (h Handle) GlobalOffset() int {
	return h.offset
}

func (h Handle) String() string {
	if h.IsNull() {
		return "Handle(null)"
	}
	return fmt.Sprintf("Handle(type=%d, offset=%d, gen=%d)", h.MemoryTypeIndex(), h.offset, h.generation)
}
