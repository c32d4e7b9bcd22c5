package vulkan

import (
	stdmath "math"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

type VulkanSwapchain struct {
	ImageFormat       SurfaceFormat
	PresentMode       vk.PresentMode
	Extent            Extent
	MaxFramesInFlight uint32
	Handle            Handle
	ImageCount        uint32
	// Owned by the swapchain, never destroyed individually.
	Images []Handle
	Views  []Handle

	DepthAttachment *VulkanImage

	// framebuffers used for on-screen rendering.
	Framebuffers []*VulkanFramebuffer

	currentFrame uint32
	vsync        bool
	// Set when the swapchain rebuilt itself after an out of date result and
	// the owner has not caught up yet.
	recreated bool

	context *GraphicsContext
}

// NewSwapchain creates a swapchain as close to width x height as the surface
// allows.
func NewSwapchain(context *GraphicsContext, width, height uint32, vsync bool, maxFramesInFlight uint32) (*VulkanSwapchain, error) {
	vs := &VulkanSwapchain{
		MaxFramesInFlight: maxFramesInFlight,
		vsync:             vsync,
		context:           context,
	}
	if err := vs.create(width, height); err != nil {
		return nil, err
	}
	return vs, nil
}

// Recreate destroys the swapchain with its views and depth attachment and
// creates everything again for the new size.
func (vs *VulkanSwapchain) Recreate(width, height uint32) error {
	vs.destroy()
	return vs.create(width, height)
}

func (vs *VulkanSwapchain) Destroy() {
	vs.destroy()
}

func (vs *VulkanSwapchain) CurrentFrame() uint32 {
	return vs.currentFrame
}

// TakeRecreated reports whether the swapchain rebuilt itself since the last
// call and clears the flag.
func (vs *VulkanSwapchain) TakeRecreated() bool {
	r := vs.recreated
	vs.recreated = false
	return r
}

// AcquireNextImage returns the index of the next image to render to. When the
// swapchain is out of date it is rebuilt and false is returned.
func (vs *VulkanSwapchain) AcquireNextImage(timeoutNS uint64, imageAvailableSemaphore, fence Handle) (uint32, bool) {
	d := vs.context.driver
	index, res := d.AcquireNextImage(vs.context.device.LogicalDevice, vs.Handle, timeoutNS, imageAvailableSemaphore, fence)
	switch res {
	case vk.Success, vk.Suboptimal:
		return index, true
	case vk.ErrorOutOfDate:
		// Trigger swapchain recreation, then boot out of the render loop.
		if err := vs.recreateSelf(); err != nil {
			core.LogError("failed to recreate out of date swapchain: %s", err)
		}
		return 0, false
	default:
		core.LogError("Failed to acquire swapchain image: %s", VulkanResultString(res, true))
		return 0, false
	}
}

// Present queues image index for presentation once renderCompleteSemaphore
// is signaled and advances the current frame. Returns false when the
// swapchain was out of date or suboptimal and had to be rebuilt.
func (vs *VulkanSwapchain) Present(presentQueue, renderCompleteSemaphore Handle, presentImageIndex uint32) bool {
	device := vs.context.device
	var res vk.Result
	_ = vs.context.locks.SafeQueueCall(uint32(device.PresentQueueIndex), func() error {
		res = vs.context.driver.QueuePresent(presentQueue, PresentInfo{
			Swapchain:      vs.Handle,
			ImageIndex:     presentImageIndex,
			WaitSemaphores: []Handle{renderCompleteSemaphore},
		})
		return nil
	})

	// Increment (and loop) the index.
	vs.currentFrame = (vs.currentFrame + 1) % vs.MaxFramesInFlight

	switch res {
	case vk.Success:
		return true
	case vk.ErrorOutOfDate, vk.Suboptimal:
		// Swapchain is out of date, suboptimal or a framebuffer resize has occurred. Trigger swapchain recreation.
		if err := vs.recreateSelf(); err != nil {
			core.LogError("failed to recreate swapchain after present: %s", err)
		}
		return false
	default:
		core.LogError("Failed to present swap chain image: %s", VulkanResultString(res, true))
		return false
	}
}

func (vs *VulkanSwapchain) recreateSelf() error {
	w, h := vs.context.FramebufferSize()
	if w == 0 || h == 0 {
		w, h = vs.Extent.Width, vs.Extent.Height
	}
	if err := vs.Recreate(w, h); err != nil {
		return err
	}
	vs.recreated = true
	return nil
}

func (vs *VulkanSwapchain) chooseFormat(formats []SurfaceFormat) SurfaceFormat {
	for _, f := range formats {
		// Preferred formats
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

func (vs *VulkanSwapchain) choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	if vs.vsync {
		return vk.PresentModeFifo
	}
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

func chooseExtent(caps SurfaceCapabilities, width, height uint32) Extent {
	if caps.CurrentExtent.Width != stdmath.MaxUint32 {
		return caps.CurrentExtent
	}
	return Extent{
		Width:  math.Clamp(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: math.Clamp(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func chooseImageCount(caps SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func (vs *VulkanSwapchain) create(width, height uint32) error {
	context := vs.context
	d := context.driver
	device := context.device

	support, err := device.QuerySwapchainSupport()
	if err != nil {
		return err
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return errors.New("surface reports no formats or present modes")
	}

	vs.ImageFormat = vs.chooseFormat(support.Formats)
	vs.PresentMode = vs.choosePresentMode(support.PresentModes)
	vs.Extent = chooseExtent(support.Capabilities, width, height)
	if vs.Extent.Width == 0 || vs.Extent.Height == 0 {
		return errors.Wrapf(core.ErrSwapchainBooting, "surface extent is %dx%d", vs.Extent.Width, vs.Extent.Height)
	}

	handle, res := d.CreateSwapchain(device.LogicalDevice, SwapchainCreateInfo{
		MinImageCount:  chooseImageCount(support.Capabilities),
		Format:         vs.ImageFormat,
		Extent:         vs.Extent,
		PresentMode:    vs.PresentMode,
		Transform:      support.Capabilities.CurrentTransform,
		GraphicsFamily: uint32(device.GraphicsQueueIndex),
		PresentFamily:  uint32(device.PresentQueueIndex),
	})
	if err := logResult(res, "vkCreateSwapchainKHR"); err != nil {
		return err
	}
	vs.Handle = handle
	vs.currentFrame = 0

	images, res := d.SwapchainImages(device.LogicalDevice, handle)
	if err := logResult(res, "vkGetSwapchainImagesKHR"); err != nil {
		vs.destroy()
		return err
	}
	vs.Images = images
	vs.ImageCount = uint32(len(images))

	// Views
	vs.Views = make([]Handle, 0, len(images))
	for _, image := range images {
		view, res := d.CreateImageView(device.LogicalDevice, ImageViewCreateInfo{
			Image:     image,
			Format:    vs.ImageFormat.Format,
			Aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevels: 1,
		})
		if err := logResult(res, "vkCreateImageView"); err != nil {
			vs.destroy()
			return err
		}
		vs.Views = append(vs.Views, view)
	}

	// Create depth image and its view.
	depth, err := NewImage(context, ImageConfig{
		Width:       vs.Extent.Width,
		Height:      vs.Extent.Height,
		Format:      device.DepthFormat,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		MemoryFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		CreateView:  true,
		ViewAspect:  vk.ImageAspectFlags(vk.ImageAspectDepthBit),
	})
	if err != nil {
		vs.destroy()
		return errors.Wrap(err, "creating depth attachment")
	}
	vs.DepthAttachment = depth

	core.LogInfo("Swapchain created successfully (%dx%d, %d images).", vs.Extent.Width, vs.Extent.Height, vs.ImageCount)
	return nil
}

func (vs *VulkanSwapchain) destroy() {
	d := vs.context.driver
	device := vs.context.device
	if err := device.WaitIdle(); err != nil {
		core.LogWarn("swapchain destroy: %s", err)
	}
	if vs.DepthAttachment != nil {
		vs.DepthAttachment.Destroy()
		vs.DepthAttachment = nil
	}

	// Only destroy the views, not the images, since those are owned by the swapchain and are thus
	// destroyed when it is.
	for _, view := range vs.Views {
		d.DestroyImageView(device.LogicalDevice, view)
	}
	vs.Views = nil
	vs.Images = nil
	vs.ImageCount = 0

	if vs.Handle != NullHandle {
		d.DestroySwapchain(device.LogicalDevice, vs.Handle)
		vs.Handle = NullHandle
	}
}
