package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
)

type ImageConfig struct {
	Width       uint32
	Height      uint32
	MipLevels   uint32
	Format      vk.Format
	Tiling      vk.ImageTiling
	Usage       vk.ImageUsageFlags
	MemoryFlags vk.MemoryPropertyFlags
	CreateView  bool
	ViewAspect  vk.ImageAspectFlags
}

type VulkanImage struct {
	Handle    Handle
	Memory    Handle
	View      Handle
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    vk.Format

	context *GraphicsContext
}

// NewImage creates an image with its own memory and, when asked for, a view
// over all of its mip levels. On failure every native object created so far
// is released.
func NewImage(context *GraphicsContext, config ImageConfig) (*VulkanImage, error) {
	if config.MipLevels == 0 {
		config.MipLevels = 1
	}
	d := context.driver
	device := context.device.LogicalDevice
	if config.MipLevels > 1 && !canBlitLinear(context, config.Format) {
		core.LogWarn("image format %d does not support linear blitting, creating a single mip level", config.Format)
		config.MipLevels = 1
	}

	handle, res := d.CreateImage(device, ImageCreateInfo{
		Width:     config.Width,
		Height:    config.Height,
		MipLevels: config.MipLevels,
		Format:    config.Format,
		Tiling:    config.Tiling,
		Usage:     config.Usage,
	})
	if err := logResult(res, "vkCreateImage"); err != nil {
		return nil, err
	}

	requirements := d.ImageMemoryRequirements(device, handle)
	memoryType := context.device.FindMemoryIndex(requirements.MemoryTypeBits, config.MemoryFlags)
	if memoryType == -1 {
		d.DestroyImage(device, handle)
		core.LogError("Required memory type not found. Image not valid.")
		return nil, core.ErrMemoryTypeNotFound
	}

	memory, res := d.AllocateMemory(device, requirements.Size, uint32(memoryType))
	if res != vk.Success {
		d.DestroyImage(device, handle)
		core.LogError("Failed to allocate memory for image: %s", VulkanResultString(res, true))
		if res == vk.ErrorOutOfDeviceMemory || res == vk.ErrorOutOfHostMemory {
			return nil, errors.Wrapf(core.ErrCapacityExceeded, "allocating %d bytes", requirements.Size)
		}
		return nil, resultError(res, "vkAllocateMemory")
	}
	context.allocator.Track(uint64(memory), requirements.Size, "image")

	image := &VulkanImage{
		Handle:    handle,
		Memory:    memory,
		Width:     config.Width,
		Height:    config.Height,
		MipLevels: config.MipLevels,
		Format:    config.Format,
		context:   context,
	}
	if err := logResult(d.BindImageMemory(device, handle, memory, 0), "vkBindImageMemory"); err != nil {
		image.Destroy()
		return nil, err
	}
	if config.CreateView {
		if err := image.CreateView(config.Format, config.ViewAspect); err != nil {
			image.Destroy()
			return nil, err
		}
	}
	return image, nil
}

func (i *VulkanImage) CreateView(format vk.Format, aspect vk.ImageAspectFlags) error {
	view, res := i.context.driver.CreateImageView(i.context.device.LogicalDevice, ImageViewCreateInfo{
		Image:     i.Handle,
		Format:    format,
		Aspect:    aspect,
		MipLevels: i.MipLevels,
	})
	if err := logResult(res, "vkCreateImageView"); err != nil {
		return err
	}
	i.View = view
	return nil
}

func hasStencil(format vk.Format) bool {
	return format == vk.FormatD32SfloatS8Uint || format == vk.FormatD24UnormS8Uint
}

// TransitionLayout records a barrier moving every mip level from oldLayout
// to newLayout. Only the transitions the upload and depth paths need are
// supported.
func (i *VulkanImage) TransitionLayout(cb *VulkanCommandBuffer, format vk.Format, oldLayout, newLayout vk.ImageLayout) error {
	if !cb.Recording() {
		return cb.violation("transition image layout", COMMAND_BUFFER_STATE_RECORDING)
	}
	barrier := ImageBarrier{
		Image:     i.Handle,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		Aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMip:   0,
		MipCount:  i.MipLevels,
	}

	switch {
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutTransferDstOptimal:
		// Don't care what stage the pipeline is in at the start.
		barrier.DstAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.SrcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		barrier.DstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case oldLayout == vk.ImageLayoutTransferDstOptimal && newLayout == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccess = vk.AccessFlags(vk.AccessShaderReadBit)
		barrier.SrcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		barrier.DstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutDepthStencilAttachmentOptimal:
		barrier.Aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		if hasStencil(format) {
			barrier.Aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
		}
		barrier.DstAccess = vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
		barrier.SrcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		barrier.DstStage = vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
	default:
		core.LogError("unsupported layout transition %d -> %d", oldLayout, newLayout)
		return errors.Wrapf(core.ErrContractViolation, "layout transition %d -> %d", oldLayout, newLayout)
	}

	i.context.driver.CmdPipelineBarrier(cb.Handle, barrier)
	return nil
}

// CopyFromBuffer records a copy of the whole base level from buffer. The
// image must be in TransferDst layout when the copy executes.
func (i *VulkanImage) CopyFromBuffer(cb *VulkanCommandBuffer, buffer *VulkanBuffer) error {
	if !cb.Recording() {
		return cb.violation("copy buffer to image", COMMAND_BUFFER_STATE_RECORDING)
	}
	i.context.driver.CmdCopyBufferToImage(cb.Handle, buffer.Handle, i.Handle, i.Width, i.Height)
	return nil
}

// canBlitLinear reports whether optimal tiled images of format can be blitted
// with a linear filter, which mip generation needs.
func canBlitLinear(context *GraphicsContext, format vk.Format) bool {
	needed := vk.FormatFeatureFlags(vk.FormatFeatureSampledImageFilterLinearBit | vk.FormatFeatureBlitSrcBit | vk.FormatFeatureBlitDstBit)
	return context.driver.FormatFeatures(context.device.PhysicalDevice.Handle, format)&needed == needed
}

// GenerateMipmaps fills levels 1..MipLevels-1 from the base level with a blit
// chain and leaves every level in ShaderReadOnly layout. Expects all levels
// in TransferDst layout.
func (i *VulkanImage) GenerateMipmaps(cb *VulkanCommandBuffer) error {
	if !cb.Recording() {
		return cb.violation("generate mipmaps", COMMAND_BUFFER_STATE_RECORDING)
	}
	d := i.context.driver
	if !canBlitLinear(i.context, i.Format) {
		return errors.Wrapf(core.ErrContractViolation, "format %d cannot generate mipmaps", i.Format)
	}

	level := func(mip uint32, oldLayout, newLayout vk.ImageLayout, srcAccess, dstAccess vk.AccessFlagBits, dstStage vk.PipelineStageFlagBits) {
		d.CmdPipelineBarrier(cb.Handle, ImageBarrier{
			Image:     i.Handle,
			OldLayout: oldLayout,
			NewLayout: newLayout,
			SrcAccess: vk.AccessFlags(srcAccess),
			DstAccess: vk.AccessFlags(dstAccess),
			SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			DstStage:  vk.PipelineStageFlags(dstStage),
			Aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMip:   mip,
			MipCount:  1,
		})
	}

	width, height := int32(i.Width), int32(i.Height)
	for mip := uint32(1); mip < i.MipLevels; mip++ {
		level(mip-1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal,
			vk.AccessTransferWriteBit, vk.AccessTransferReadBit, vk.PipelineStageTransferBit)

		dstWidth, dstHeight := max(width/2, 1), max(height/2, 1)
		d.CmdBlitImage(cb.Handle, i.Handle, ImageBlit{
			SrcMip: mip - 1, SrcWidth: width, SrcHeight: height,
			DstMip: mip, DstWidth: dstWidth, DstHeight: dstHeight,
		})

		level(mip-1, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessTransferReadBit, vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit)
		width, height = dstWidth, dstHeight
	}
	level(i.MipLevels-1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.AccessTransferWriteBit, vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit)
	return nil
}

// Upload writes RGBA8 pixels into the base level through a staging buffer and
// leaves the image ready for sampling, generating the mip chain when the
// image has more than one level.
func (i *VulkanImage) Upload(pixels []byte) error {
	size := uint64(i.Width) * uint64(i.Height) * 4
	if uint64(len(pixels)) != size {
		return errors.Wrapf(core.ErrContractViolation, "image upload of %d bytes, want %d", len(pixels), size)
	}
	staging, err := NewBuffer(i.context, size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
		true)
	if err != nil {
		return errors.Wrap(err, "creating staging buffer")
	}
	defer staging.Destroy()
	if err := staging.LoadData(0, size, 0, pixels); err != nil {
		return err
	}

	device := i.context.device
	cb, err := AllocateAndBeginSingleUse(i.context, device.GraphicsCommandPool)
	if err != nil {
		return err
	}
	record := func() error {
		if err := i.TransitionLayout(cb, i.Format, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		if err := i.CopyFromBuffer(cb, staging); err != nil {
			return err
		}
		if i.MipLevels > 1 {
			return i.GenerateMipmaps(cb)
		}
		return i.TransitionLayout(cb, i.Format, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	}
	if err := record(); err != nil {
		cb.Free()
		return err
	}
	return cb.EndSingleUse(uint32(device.GraphicsQueueIndex), device.GraphicsQueue)
}

func (i *VulkanImage) Destroy() {
	d := i.context.driver
	device := i.context.device.LogicalDevice
	if i.View != NullHandle {
		d.DestroyImageView(device, i.View)
		i.View = NullHandle
	}
	if i.Memory != NullHandle {
		d.FreeMemory(device, i.Memory)
		i.context.allocator.Untrack(uint64(i.Memory))
		i.Memory = NullHandle
	}
	if i.Handle != NullHandle {
		d.DestroyImage(device, i.Handle)
		i.Handle = NullHandle
	}
}
