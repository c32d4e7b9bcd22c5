package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

const DefaultTextureName = "default"

// VulkanTexture is a sampled RGBA8 image and the sampler reading it.
type VulkanTexture struct {
	Name   string
	Width  uint32
	Height uint32
	Image  *VulkanImage

	sampler Handle
	context *GraphicsContext
}

// NewTexture uploads width*height RGBA8 pixels. With mipmaps set the full
// chain down to 1x1 is generated on the GPU.
func NewTexture(context *GraphicsContext, name string, width, height uint32, pixels []byte, mipmaps bool) (*VulkanTexture, error) {
	if width == 0 || height == 0 {
		return nil, errors.Wrapf(core.ErrContractViolation, "texture %s has no size", name)
	}
	mipLevels := uint32(1)
	if mipmaps {
		mipLevels = math.MipLevels(width, height)
	}
	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit | vk.ImageUsageColorAttachmentBit
	image, err := NewImage(context, ImageConfig{
		Width:       width,
		Height:      height,
		MipLevels:   mipLevels,
		Format:      vk.FormatR8g8b8a8Unorm,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(usage),
		MemoryFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		CreateView:  true,
		ViewAspect:  vk.ImageAspectFlags(vk.ImageAspectColorBit),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating texture %s", name)
	}
	if err := image.Upload(pixels); err != nil {
		image.Destroy()
		return nil, errors.Wrapf(err, "uploading texture %s", name)
	}

	anisotropy := float32(0)
	if context.device.PhysicalDevice.SamplerAnisotropy {
		anisotropy = min(16, context.device.PhysicalDevice.MaxSamplerAnisotropy)
	}
	sampler, res := context.driver.CreateSampler(context.device.LogicalDevice, SamplerCreateInfo{
		MagFilter:     vk.FilterLinear,
		MinFilter:     vk.FilterLinear,
		AddressMode:   vk.SamplerAddressModeRepeat,
		MaxAnisotropy: anisotropy,
		MipLevels:     image.MipLevels,
	})
	if err := logResult(res, "vkCreateSampler"); err != nil {
		image.Destroy()
		return nil, err
	}

	core.LogDebug("texture %s created (%dx%d, %d mip levels)", name, width, height, image.MipLevels)
	return &VulkanTexture{
		Name:    name,
		Width:   width,
		Height:  height,
		Image:   image,
		sampler: sampler,
		context: context,
	}, nil
}

// NewDefaultTexture is the 1x1 white texture bound to samplers nothing else
// was assigned to.
func NewDefaultTexture(context *GraphicsContext) (*VulkanTexture, error) {
	return NewTexture(context, DefaultTextureName, 1, 1, []byte{255, 255, 255, 255}, false)
}

func (t *VulkanTexture) ImageView() Handle {
	return t.Image.View
}

func (t *VulkanTexture) Sampler() Handle {
	return t.sampler
}

func (t *VulkanTexture) Destroy() {
	if t.sampler != NullHandle {
		t.context.driver.DestroySampler(t.context.device.LogicalDevice, t.sampler)
		t.sampler = NullHandle
	}
	if t.Image != nil {
		t.Image.Destroy()
		t.Image = nil
	}
}
