package submem

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/submem/device"
	"github.com/vkngwrapper/submem/internal/vulkan"
	"github.com/vkngwrapper/submem/memutils"
	"github.com/vkngwrapper/submem/memutils/metadata"
	"golang.org/x/exp/slog"
)

// blockChain is the singly-linked list of blocks that serves a single memory type. Every regular
// block has the same size, so the block holding a global offset can be found by dividing by the
// block size.
type blockChain struct {
	deviceMemory *vulkan.DeviceMemoryProperties
	logger       *slog.Logger

	memoryTypeIndex int
	blockSize       int
	granularity     uint

	head           *memoryBlock
	tail           *memoryBlock
	blockCount     int
	nextGeneration uint64
}

func (c *blockChain) MemoryTypeIndex() int { return c.memoryTypeIndex }
func (c *blockChain) BlockCount() int      { return c.blockCount }

func (c *blockChain) Init(
	logger *slog.Logger,
	deviceMemory *vulkan.DeviceMemoryProperties,
	memoryTypeIndex int,
	blockSize int,
	granularity uint,
) {
	c.logger = logger
	c.deviceMemory = deviceMemory
	c.memoryTypeIndex = memoryTypeIndex
	c.blockSize = blockSize
	c.granularity = granularity
}

// Destroy tears down every block in the chain, front to back
func (c *blockChain) Destroy(dev device.ResourceFactory) {
	block := c.head
	for block != nil {
		next := block.next
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "freeing block",
			slog.Int("memoryType", c.memoryTypeIndex),
			slog.Int("block", block.index),
			slog.Int("size", block.Size()),
		)
		block.Destroy(dev)
		block = next
	}

	c.head = nil
	c.tail = nil
	c.blockCount = 0
}

func (c *blockChain) createBlock(blockSize int, dedicated bool) (*memoryBlock, error) {
	memory, err := c.deviceMemory.AllocateDeviceMemory(c.memoryTypeIndex, blockSize)
	if err != nil {
		return nil, withKind(
			errors.Wrapf(err, "allocating block %d with %d bytes from memory type %d", c.blockCount, blockSize, c.memoryTypeIndex),
			ErrAllocationFailure,
		)
	}

	block := &memoryBlock{}
	block.Init(c.logger, c.deviceMemory, c.memoryTypeIndex, memory, blockSize, c.blockCount, dedicated, c.granularity)

	if c.tail == nil {
		c.head = block
	} else {
		c.tail.next = block
	}
	c.tail = block
	c.blockCount++

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "created block",
		slog.Int("memoryType", c.memoryTypeIndex),
		slog.Int("block", block.index),
		slog.Int("size", blockSize),
		slog.Bool("dedicated", dedicated),
	)

	return block, nil
}

// FindPlacement walks the chain from the head and returns the first block that can hold the
// requested allocation, along with where in that block it should go. Blocks are created as
// necessary. Requests larger than the chain's block size get a dedicated block of their own.
// The returned request has not yet been committed to the block's metadata.
func (c *blockChain) FindPlacement(size int, alignment uint) (*memoryBlock, metadata.AllocationRequest, error) {
	reservedSize := memutils.AlignUp(size, c.granularity)
	if reservedSize > c.blockSize {
		block := c.findEmptyDedicatedBlock(reservedSize)
		if block != nil {
			return c.requestFromNewBlock(block, size, alignment)
		}

		block, err := c.createBlock(reservedSize, true)
		if err != nil {
			return nil, metadata.AllocationRequest{}, err
		}

		return c.requestFromNewBlock(block, size, alignment)
	}

	for block := c.head; block != nil; block = block.next {
		if block.dedicated {
			continue
		}

		success, request, err := block.metadata.CreateAllocationRequest(size, alignment)
		if err != nil {
			return nil, metadata.AllocationRequest{}, err
		}

		if success {
			return block, request, nil
		}
	}

	block, err := c.createBlock(c.blockSize, false)
	if err != nil {
		return nil, metadata.AllocationRequest{}, err
	}

	return c.requestFromNewBlock(block, size, alignment)
}

// findEmptyDedicatedBlock returns the first dedicated block whose resource has been freed and
// which is large enough to hold reservedSize bytes
func (c *blockChain) findEmptyDedicatedBlock(reservedSize int) *memoryBlock {
	for block := c.head; block != nil; block = block.next {
		if block.dedicated && block.metadata.IsEmpty() && block.Size() >= reservedSize {
			return block
		}
	}

	return nil
}

func (c *blockChain) requestFromNewBlock(block *memoryBlock, size int, alignment uint) (*memoryBlock, metadata.AllocationRequest, error) {
	success, request, err := block.metadata.CreateAllocationRequest(size, alignment)
	if err != nil {
		return nil, metadata.AllocationRequest{}, err
	}
	if !success {
		return nil, metadata.AllocationRequest{}, errors.Newf("an allocation of %d bytes with alignment %d does not fit in an empty block of %d bytes", size, alignment, block.Size())
	}

	return block, request, nil
}

// GlobalOffset converts a block and an offset within that block into an offset that is unique
// across the chain
func (c *blockChain) GlobalOffset(block *memoryBlock, localOffset int) int {
	return block.index*c.blockSize + localOffset
}

// Locate walks the chain to the block containing globalOffset
func (c *blockChain) Locate(globalOffset int) (block *memoryBlock, localOffset int, found bool) {
	if globalOffset < 0 {
		return nil, 0, false
	}

	blockIndex := globalOffset / c.blockSize
	localOffset = globalOffset % c.blockSize

	block = c.head
	for i := 0; i < blockIndex && block != nil; i++ {
		block = block.next
	}

	if block == nil {
		return nil, 0, false
	}

	return block, localOffset, true
}

func (c *blockChain) NextGeneration() uint64 {
	c.nextGeneration++
	return c.nextGeneration
}

func (c *blockChain) AddStatistics(stats *memutils.Statistics) {
	for block := c.head; block != nil; block = block.next {
		block.metadata.AddStatistics(stats)
	}
}

func (c *blockChain) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for block := c.head; block != nil; block = block.next {
		block.metadata.AddDetailedStatistics(stats)
	}
}

func (c *blockChain) Validate() error {
	count := 0
	for block := c.head; block != nil; block = block.next {
		if block.index != count {
			return errors.Newf("block at position %d in the chain for memory type %d has index %d", count, c.memoryTypeIndex, block.index)
		}
		if !block.dedicated && block.Size() != c.blockSize {
			return errors.Newf("block %d has size %d, but the chain's block size is %d", block.index, block.Size(), c.blockSize)
		}

		err := block.Validate()
		if err != nil {
			return errors.Wrapf(err, "block %d of memory type %d", block.index, c.memoryTypeIndex)
		}
		count++
	}

	if count != c.blockCount {
		return errors.Newf("the chain for memory type %d should have %d blocks, but it has %d", c.memoryTypeIndex, c.blockCount, count)
	}

	return nil
}

func (c *blockChain) PrintDetailedMap(json *jwriter.ObjectState) {
	blocksObj := json.Name("Blocks").Object()
	defer blocksObj.End()

	for block := c.head; block != nil; block = block.next {
		blockObj := blocksObj.Name(strconv.Itoa(block.index)).Object()

		blockObj.Name("Dedicated").Bool(block.dedicated)
		blockObj.Name("Mapped").Bool(block.memory.IsMapped())
		block.metadata.BlockJsonData(&blockObj)

		c.printDetailedMapAllocations(block.metadata, &blockObj)

		blockObj.End()
	}
}

func (c *blockChain) printDetailedMapAllocations(md metadata.BlockMetadata, json *jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)

			if free {
				obj.Name("Type").String("Free")
				return nil
			}

			res, isContainer := userData.(*container)
			if !isContainer {
				obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
				return nil
			}

			obj.Name("Type").String(res.kind.String())
			obj.Name("ResourceSize").Int(res.resourceSize)
			return nil
		})
}
