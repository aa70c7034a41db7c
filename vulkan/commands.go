package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
)

// queueFamilyIgnored is VK_QUEUE_FAMILY_IGNORED once converted to uint32 by core1_0
const queueFamilyIgnored = -1

// CommandBuffer records transfer commands into a primary core1_0.CommandBuffer
type CommandBuffer struct {
	commandBuffer core1_0.CommandBuffer
}

var _ device.CommandBuffer = &CommandBuffer{}

// Handle returns the wrapped command buffer
func (c *CommandBuffer) Handle() core1_0.CommandBuffer {
	return c.commandBuffer
}

func (c *CommandBuffer) Begin(flags core1_0.CommandBufferUsageFlags) error {
	_, err := c.commandBuffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: flags,
	})
	return err
}

func (c *CommandBuffer) CopyBuffer(src device.Buffer, dst device.Buffer, regions []core1_0.BufferCopy) error {
	return c.commandBuffer.CmdCopyBuffer(src.(core1_0.Buffer), dst.(core1_0.Buffer), regions)
}

func (c *CommandBuffer) CopyBufferToImage(src device.Buffer, dst device.Image, dstLayout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	return c.commandBuffer.CmdCopyBufferToImage(src.(core1_0.Buffer), dst.(core1_0.Image), dstLayout, regions)
}

func (c *CommandBuffer) PipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, imageBarriers []device.ImageBarrier) error {
	barriers := make([]core1_0.ImageMemoryBarrier, 0, len(imageBarriers))
	for _, barrier := range imageBarriers {
		barriers = append(barriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       barrier.SrcAccessMask,
			DstAccessMask:       barrier.DstAccessMask,
			OldLayout:           barrier.OldLayout,
			NewLayout:           barrier.NewLayout,
			SrcQueueFamilyIndex: queueFamilyIgnored,
			DstQueueFamilyIndex: queueFamilyIgnored,
			Image:               barrier.Image.(core1_0.Image),
			SubresourceRange:    barrier.SubresourceRange,
		})
	}

	return c.commandBuffer.CmdPipelineBarrier(srcStageMask, dstStageMask, 0, nil, nil, barriers)
}

func (c *CommandBuffer) End() error {
	_, err := c.commandBuffer.End()
	return err
}

// Queue submits one-time command buffers to a core1_0.Queue
type Queue struct {
	queue core1_0.Queue
}

var _ device.Queue = &Queue{}

func NewQueue(queue core1_0.Queue) *Queue {
	return &Queue{queue: queue}
}

func (q *Queue) Submit(commandBuffer device.CommandBuffer) error {
	_, err := q.queue.Submit(nil, []core1_0.SubmitInfo{
		{
			CommandBuffers: []core1_0.CommandBuffer{commandBuffer.(*CommandBuffer).commandBuffer},
		},
	})
	return err
}

func (q *Queue) WaitIdle() error {
	_, err := q.queue.WaitIdle()
	return err
}
