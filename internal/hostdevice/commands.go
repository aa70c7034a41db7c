package hostdevice

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
)

type CommandKind int

const (
	CommandCopyBuffer CommandKind = iota + 1
	CommandCopyBufferToImage
	CommandPipelineBarrier
)

// Command is a single recorded command. Only the fields for its Kind are set.
type Command struct {
	Kind CommandKind

	SrcBuffer    *Buffer
	DstBuffer    *Buffer
	BufferCopies []core1_0.BufferCopy

	DstImage    *Image
	DstLayout   core1_0.ImageLayout
	ImageCopies []core1_0.BufferImageCopy

	SrcStage core1_0.PipelineStageFlags
	DstStage core1_0.PipelineStageFlags
	Barriers []device.ImageBarrier
}

type CommandBuffer struct {
	device    *Device
	flags     core1_0.CommandBufferUsageFlags
	recording bool
	ended     bool
	commands  []Command
}

var _ device.CommandBuffer = &CommandBuffer{}

func (c *CommandBuffer) Begin(flags core1_0.CommandBufferUsageFlags) error {
	if c.recording || c.ended {
		return errors.New("command buffer has already begun recording")
	}

	c.flags = flags
	c.recording = true
	return nil
}

func (c *CommandBuffer) record(command Command) error {
	if !c.recording {
		return errors.New("command buffer is not recording")
	}

	c.commands = append(c.commands, command)
	return nil
}

func (c *CommandBuffer) CopyBuffer(src device.Buffer, dst device.Buffer, regions []core1_0.BufferCopy) error {
	return c.record(Command{
		Kind:         CommandCopyBuffer,
		SrcBuffer:    src.(*Buffer),
		DstBuffer:    dst.(*Buffer),
		BufferCopies: append([]core1_0.BufferCopy(nil), regions...),
	})
}

func (c *CommandBuffer) CopyBufferToImage(src device.Buffer, dst device.Image, dstLayout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	return c.record(Command{
		Kind:        CommandCopyBufferToImage,
		SrcBuffer:   src.(*Buffer),
		DstImage:    dst.(*Image),
		DstLayout:   dstLayout,
		ImageCopies: append([]core1_0.BufferImageCopy(nil), regions...),
	})
}

func (c *CommandBuffer) PipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, imageBarriers []device.ImageBarrier) error {
	return c.record(Command{
		Kind:     CommandPipelineBarrier,
		SrcStage: srcStageMask,
		DstStage: dstStageMask,
		Barriers: append([]device.ImageBarrier(nil), imageBarriers...),
	})
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return errors.New("command buffer is not recording")
	}

	c.recording = false
	c.ended = true
	return nil
}

// Submission is a command buffer that was submitted to a Queue
type Submission struct {
	Flags    core1_0.CommandBufferUsageFlags
	Commands []Command
}

// Queue executes submitted command buffers immediately against host memory
type Queue struct {
	device *Device

	// SubmitError, if set, is returned from Submit without executing anything
	SubmitError error
	// WaitIdleError, if set, is returned from WaitIdle
	WaitIdleError error

	Submissions []Submission
}

var _ device.Queue = &Queue{}

func NewQueue(dev *Device) *Queue {
	return &Queue{device: dev}
}

func (q *Queue) Submit(commandBuffer device.CommandBuffer) error {
	if q.SubmitError != nil {
		return q.SubmitError
	}

	cb := commandBuffer.(*CommandBuffer)
	if !cb.ended {
		return errors.New("submitted a command buffer that was not ended")
	}
	if _, live := q.device.liveCommandBuffers[cb]; !live {
		return errors.New("submitted a command buffer that was freed")
	}

	for _, command := range cb.commands {
		err := q.execute(command)
		if err != nil {
			return err
		}
	}

	q.Submissions = append(q.Submissions, Submission{
		Flags:    cb.flags,
		Commands: cb.commands,
	})
	return nil
}

func (q *Queue) WaitIdle() error {
	return q.WaitIdleError
}

func (q *Queue) execute(command Command) error {
	switch command.Kind {
	case CommandCopyBuffer:
		return executeCopyBuffer(command)
	case CommandCopyBufferToImage:
		return q.executeCopyBufferToImage(command)
	case CommandPipelineBarrier:
		return executeBarrier(command)
	}

	return errors.Newf("unknown command kind %d", command.Kind)
}

func executeCopyBuffer(command Command) error {
	src := command.SrcBuffer.Contents()
	dst := command.DstBuffer.Contents()
	if src == nil || dst == nil {
		return errors.New("copy between unbound buffers")
	}

	for _, region := range command.BufferCopies {
		if region.SrcOffset+region.Size > len(src) || region.DstOffset+region.Size > len(dst) {
			return errors.Newf("copy of %d bytes overruns a buffer", region.Size)
		}
		copy(dst[region.DstOffset:region.DstOffset+region.Size], src[region.SrcOffset:region.SrcOffset+region.Size])
	}

	return nil
}

func (q *Queue) executeCopyBufferToImage(command Command) error {
	image := command.DstImage
	if image.layout != command.DstLayout {
		return errors.Newf("image is in layout %s, but the copy expects %s", image.layout, command.DstLayout)
	}
	if command.DstLayout != core1_0.ImageLayoutTransferDstOptimal && command.DstLayout != core1_0.ImageLayoutGeneral {
		return errors.Newf("cannot copy into an image in layout %s", command.DstLayout)
	}

	src := command.SrcBuffer.Contents()
	dst := image.Contents()
	if src == nil || dst == nil {
		return errors.New("copy between unbound resources")
	}

	texel := q.device.options.BytesPerTexel
	rowPitch := image.createInfo.Extent.Width * texel
	for _, region := range command.ImageCopies {
		srcRowLength := region.BufferRowLength
		if srcRowLength == 0 {
			srcRowLength = region.ImageExtent.Width
		}
		rowBytes := region.ImageExtent.Width * texel

		for y := 0; y < region.ImageExtent.Height; y++ {
			srcStart := region.BufferOffset + y*srcRowLength*texel
			dstStart := (region.ImageOffset.Y+y)*rowPitch + region.ImageOffset.X*texel
			if srcStart+rowBytes > len(src) || dstStart+rowBytes > len(dst) {
				return errors.Newf("row %d of the copy overruns its source or destination", y)
			}
			copy(dst[dstStart:dstStart+rowBytes], src[srcStart:srcStart+rowBytes])
		}
	}

	return nil
}

func executeBarrier(command Command) error {
	for _, barrier := range command.Barriers {
		image := barrier.Image.(*Image)
		if barrier.OldLayout != core1_0.ImageLayoutUndefined && barrier.OldLayout != image.layout {
			return errors.Newf("barrier expects layout %s, but the image is in %s", barrier.OldLayout, image.layout)
		}
		image.layout = barrier.NewLayout
	}

	return nil
}
