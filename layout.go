package submem

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type layoutTransition struct {
	srcAccessMask core1_0.AccessFlags
	dstAccessMask core1_0.AccessFlags
	srcStage      core1_0.PipelineStageFlags
	dstStage      core1_0.PipelineStageFlags
}

func lookupLayoutTransition(oldLayout, newLayout core1_0.ImageLayout) (layoutTransition, error) {
	switch {
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal:
		return layoutTransition{
			srcAccessMask: 0,
			dstAccessMask: core1_0.AccessTransferWrite,
			srcStage:      core1_0.PipelineStageTopOfPipe,
			dstStage:      core1_0.PipelineStageTransfer,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		return layoutTransition{
			srcAccessMask: core1_0.AccessTransferWrite,
			dstAccessMask: core1_0.AccessShaderRead,
			srcStage:      core1_0.PipelineStageTransfer,
			dstStage:      core1_0.PipelineStageFragmentShader,
		}, nil
	}

	return layoutTransition{}, errors.Wrapf(ErrUnsupportedLayoutTransition, "%s -> %s", oldLayout, newLayout)
}

// colorSubresourceRange covers the first mip level and array layer of a color image
func colorSubresourceRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}
