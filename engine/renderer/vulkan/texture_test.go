package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerboard(width, height uint32) []byte {
	pixels := make([]byte, 0, width*height*4)
	for y := uint32(0); y < height; y++ {
		for x := uint32(0); x < width; x++ {
			v := byte(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			pixels = append(pixels, v, v, v, 255)
		}
	}
	return pixels
}

func TestTextureUploadLeavesImageReadable(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	pixels := checkerboard(4, 4)
	tex, err := NewTexture(ctx, "checker", 4, 4, pixels, false)
	require.NoError(t, err)
	defer tex.Destroy()

	assert.Equal(t, uint32(1), tex.Image.MipLevels)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, driver.ImageLayout(tex.Image.Handle, 0))
	assert.Equal(t, pixels, driver.ImageContents(tex.Image.Handle))
	assert.NotEqual(t, NullHandle, tex.ImageView())
	assert.NotEqual(t, NullHandle, tex.Sampler())
	assert.Empty(t, driver.Violations())
}

func TestTextureMipChain(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	tex, err := NewTexture(ctx, "mipped", 16, 8, checkerboard(16, 8), true)
	require.NoError(t, err)
	defer tex.Destroy()

	require.Equal(t, uint32(5), tex.Image.MipLevels)
	for mip := uint32(0); mip < tex.Image.MipLevels; mip++ {
		assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, driver.ImageLayout(tex.Image.Handle, mip), "mip %d", mip)
	}
	assert.Empty(t, driver.Violations())
}

func TestTextureWithoutLinearBlitHasOneMipLevel(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{
		FormatFeatures: map[vk.Format]vk.FormatFeatureFlags{
			vk.FormatR8g8b8a8Unorm: vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit | vk.FormatFeatureBlitSrcBit | vk.FormatFeatureBlitDstBit),
		},
	})

	pixels := checkerboard(16, 8)
	tex, err := NewTexture(ctx, "unfiltered", 16, 8, pixels, true)
	require.NoError(t, err)
	defer tex.Destroy()

	assert.Equal(t, uint32(1), tex.Image.MipLevels)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, driver.ImageLayout(tex.Image.Handle, 0))
	assert.Equal(t, pixels, driver.ImageContents(tex.Image.Handle))
	assert.Empty(t, driver.Violations())
}

func TestDefaultTextureIsOpaqueWhite(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	tex, err := NewDefaultTexture(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTextureName, tex.Name)
	assert.Equal(t, []byte{255, 255, 255, 255}, driver.ImageContents(tex.Image.Handle))

	live := driver.LiveObjects()
	tex.Destroy()
	tex.Destroy()
	assert.Zero(t, driver.LiveObjects()["sampler"])
	assert.Equal(t, live["image"]-1, driver.LiveObjects()["image"])
}

func TestTextureRejectsBadInput(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	live := driver.LiveObjects()
	baseline := ctx.Allocator().Count()

	_, err := NewTexture(ctx, "empty", 0, 4, nil, false)
	assert.True(t, errors.Is(err, core.ErrContractViolation))

	_, err = NewTexture(ctx, "short", 2, 2, []byte{1, 2, 3}, false)
	assert.True(t, errors.Is(err, core.ErrContractViolation))

	assert.Equal(t, live, driver.LiveObjects())
	assert.Equal(t, baseline, ctx.Allocator().Count())
}

func TestImageTransitionRejectsUnknownLayouts(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	image, err := NewImage(ctx, ImageConfig{
		Width:       8,
		Height:      8,
		Format:      vk.FormatR8g8b8a8Unorm,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		MemoryFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	})
	require.NoError(t, err)
	defer image.Destroy()
	assert.Equal(t, NullHandle, image.View)

	cb, err := AllocateAndBeginSingleUse(ctx, ctx.Device().GraphicsCommandPool)
	require.NoError(t, err)
	err = image.TransitionLayout(cb, image.Format, vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutGeneral)
	assert.True(t, errors.Is(err, core.ErrContractViolation))
	cb.Free()
	assert.Empty(t, driver.Violations())
}
