package submem

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/submem/device"
	"golang.org/x/exp/slog"
)

// submitOneTime records a single command buffer with record, submits it to the transfer queue and
// blocks until the queue is idle. The command buffer is always freed before returning.
func (m *Manager) submitOneTime(record func(commandBuffer device.CommandBuffer) error) error {
	if m.queue == nil {
		return errors.New("the manager was created without a transfer queue")
	}

	commandBuffer, err := m.device.AllocateCommandBuffer(m.commandPool)
	if err != nil {
		return errors.Wrap(err, "allocating a one-time command buffer")
	}
	defer m.device.FreeCommandBuffer(m.commandPool, commandBuffer)

	err = commandBuffer.Begin(core1_0.CommandBufferUsageOneTimeSubmit)
	if err != nil {
		return errors.Wrap(err, "beginning a one-time command buffer")
	}

	err = record(commandBuffer)
	if err != nil {
		return err
	}

	err = commandBuffer.End()
	if err != nil {
		return errors.Wrap(err, "ending a one-time command buffer")
	}

	err = m.queue.Submit(commandBuffer)
	if err != nil {
		return errors.Wrap(err, "submitting a one-time command buffer")
	}

	err = m.queue.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "waiting for the transfer queue")
	}

	return nil
}

// CopyBuffer copies the entire contents of the source buffer to the start of the destination
// buffer, blocking until the copy is complete. The destination must be at least as large as the source.
func (m *Manager) CopyBuffer(src, dst Handle) error {
	srcLoc, err := m.locateKind(src, ResourceBuffer)
	if err != nil {
		return errors.Wrap(err, "source")
	}
	dstLoc, err := m.locateKind(dst, ResourceBuffer)
	if err != nil {
		return errors.Wrap(err, "destination")
	}

	if src == dst {
		return errors.Newf("cannot copy %s onto itself", src)
	}
	if dstLoc.res.resourceSize < srcLoc.res.resourceSize {
		return errors.Wrapf(ErrUndersizedDestination, "copying %d bytes into a buffer of %d bytes", srcLoc.res.resourceSize, dstLoc.res.resourceSize)
	}

	m.logger.Debug("Manager::CopyBuffer", slog.Int("size", srcLoc.res.resourceSize))

	return m.submitOneTime(func(commandBuffer device.CommandBuffer) error {
		return commandBuffer.CopyBuffer(srcLoc.res.buffer, dstLoc.res.buffer, []core1_0.BufferCopy{
			{
				SrcOffset: 0,
				DstOffset: 0,
				Size:      srcLoc.res.resourceSize,
			},
		})
	})
}

// TransitionImageLayout records and submits a single image barrier moving the image from oldLayout
// to newLayout, blocking until it is complete. Only Undefined -> TransferDstOptimal and
// TransferDstOptimal -> ShaderReadOnlyOptimal are supported.
func (m *Manager) TransitionImageLayout(handle Handle, format core1_0.Format, oldLayout, newLayout core1_0.ImageLayout) error {
	loc, err := m.locateKind(handle, ResourceImage)
	if err != nil {
		return err
	}

	transition, err := lookupLayoutTransition(oldLayout, newLayout)
	if err != nil {
		return err
	}

	err = checkImageFormat(loc.res, format)
	if err != nil {
		return err
	}

	return m.transition(loc.res, oldLayout, newLayout, transition)
}

func (m *Manager) transition(res *container, oldLayout, newLayout core1_0.ImageLayout, transition layoutTransition) error {
	m.logger.Debug("Manager::TransitionImageLayout",
		slog.String("oldLayout", oldLayout.String()),
		slog.String("newLayout", newLayout.String()),
	)

	err := m.submitOneTime(func(commandBuffer device.CommandBuffer) error {
		return commandBuffer.PipelineBarrier(transition.srcStage, transition.dstStage, []device.ImageBarrier{
			{
				Image:            res.image,
				OldLayout:        oldLayout,
				NewLayout:        newLayout,
				SrcAccessMask:    transition.srcAccessMask,
				DstAccessMask:    transition.dstAccessMask,
				SubresourceRange: colorSubresourceRange(),
			},
		})
	})
	if err != nil {
		return err
	}

	res.imageLayout = newLayout
	return nil
}

// CopyBufferToImage uploads width*height texels from the start of a buffer into the first mip level
// and array layer of an image, leaving the image in ShaderReadOnlyOptimal. The image is transitioned
// from currentLayout to TransferDstOptimal, written, and transitioned to ShaderReadOnlyOptimal in
// three separate submissions. Both transitions are checked before anything is submitted.
func (m *Manager) CopyBufferToImage(src, dstImage Handle, width, height int, format core1_0.Format, currentLayout core1_0.ImageLayout) error {
	srcLoc, err := m.locateKind(src, ResourceBuffer)
	if err != nil {
		return errors.Wrap(err, "source")
	}
	dstLoc, err := m.locateKind(dstImage, ResourceImage)
	if err != nil {
		return errors.Wrap(err, "destination")
	}

	toTransferDst, err := lookupLayoutTransition(currentLayout, core1_0.ImageLayoutTransferDstOptimal)
	if err != nil {
		return err
	}
	toShaderRead, err := lookupLayoutTransition(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	if err != nil {
		return err
	}

	err = checkImageFormat(dstLoc.res, format)
	if err != nil {
		return err
	}
	if width < 1 || height < 1 || width > dstLoc.res.imageExtent.Width || height > dstLoc.res.imageExtent.Height {
		return errors.Newf("cannot copy a %dx%d region into a %dx%d image", width, height, dstLoc.res.imageExtent.Width, dstLoc.res.imageExtent.Height)
	}

	m.logger.Debug("Manager::CopyBufferToImage",
		slog.Int("width", width),
		slog.Int("height", height),
	)

	err = m.transition(dstLoc.res, currentLayout, core1_0.ImageLayoutTransferDstOptimal, toTransferDst)
	if err != nil {
		return err
	}

	err = m.submitOneTime(func(commandBuffer device.CommandBuffer) error {
		return commandBuffer.CopyBufferToImage(srcLoc.res.buffer, dstLoc.res.image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.BufferImageCopy{
			{
				BufferOffset:      0,
				BufferRowLength:   0,
				BufferImageHeight: 0,
				ImageSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       0,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
				ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: 1},
			},
		})
	})
	if err != nil {
		return err
	}

	return m.transition(dstLoc.res, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal, toShaderRead)
}

func checkImageFormat(res *container, format core1_0.Format) error {
	if res.imageFormat != format {
		return errors.Newf("the image was created with format %s, not %s", res.imageFormat, format)
	}

	return nil
}
