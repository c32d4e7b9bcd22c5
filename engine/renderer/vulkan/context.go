package vulkan

import (
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

// WindowProvider is what the context needs from the window it presents to.
type WindowProvider interface {
	// FramebufferSize is the drawable size in pixels.
	FramebufferSize() (uint32, uint32)
	VSync() bool
}

type Config struct {
	ApplicationName   string `toml:"application_name"`
	MaxFramesInFlight uint32 `toml:"max_frames_in_flight"`
	// Installs the validation layers and the debug report callback.
	Debug       bool      `toml:"debug"`
	DiscreteGPU bool      `toml:"discrete_gpu"`
	ClearColor  math.Vec4 `toml:"clear_color"`
}

func DefaultConfig() Config {
	return Config{
		ApplicationName:   "prism",
		MaxFramesInFlight: VULKAN_MAX_FRAMES_IN_FLIGHT,
		ClearColor:        math.NewVec4(0.0, 0.0, 0.2, 1.0),
	}
}

// SwapchainListener is notified after the swapchain and everything sized
// after it have been rebuilt.
type SwapchainListener func(context *GraphicsContext)

// Only one context may drive the GPU at a time.
var contextAlive atomic.Bool

// GraphicsContext ties the device, the swapchain, the main render pass and
// the per frame synchronisation objects together into the frame protocol.
// Everything is created by NewGraphicsContext and released by Shutdown.
type GraphicsContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32
	// Current generation of framebuffer size. If it does not match FramebufferSizeLastGeneration,
	// a new one should be generated.
	FramebufferSizeGeneration uint64
	// The generation of the framebuffer when it was last created.
	FramebufferSizeLastGeneration uint64

	device         *VulkanDevice
	swapchain      *VulkanSwapchain
	mainRenderpass *VulkanRenderpass

	GraphicsCommandBuffers []*VulkanCommandBuffer

	// One per frame in flight.
	ImageAvailableSemaphores []*VulkanSemaphore
	QueueCompleteSemaphores  []*VulkanSemaphore
	InFlightFences           []*VulkanFence

	// Holds pointers to fences which exist and are owned elsewhere.
	ImagesInFlight []*VulkanFence

	imageIndex uint32

	driver    Driver
	window    WindowProvider
	config    Config
	allocator *NativeAllocator
	locks     *VulkanLockPool

	// Guards the frame protocol against a concurrent Resize.
	mu                  sync.Mutex
	frameInProgress     bool
	recreatingSwapchain atomic.Bool
	frameNumber         uint64
	frameDelta          float64
	listeners           []swapchainListener
	nextListener        int
}

type swapchainListener struct {
	id int
	fn SwapchainListener
}

// NewGraphicsContext picks a device and builds the swapchain, main render
// pass, framebuffers, command buffers and synchronisation objects. It fails
// with core.ErrContextExists while another context is alive.
func NewGraphicsContext(driver Driver, window WindowProvider, config Config) (*GraphicsContext, error) {
	if !contextAlive.CompareAndSwap(false, true) {
		return nil, core.ErrContextExists
	}
	if config.MaxFramesInFlight == 0 {
		config.MaxFramesInFlight = VULKAN_MAX_FRAMES_IN_FLIGHT
	}

	c := &GraphicsContext{
		driver:    driver,
		window:    window,
		config:    config,
		allocator: NewNativeAllocator(),
		locks:     NewVulkanLockPool(),
	}
	c.FramebufferWidth, c.FramebufferHeight = window.FramebufferSize()

	if err := c.initialize(); err != nil {
		c.teardown()
		contextAlive.Store(false)
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return c, nil
}

func (c *GraphicsContext) initialize() error {
	device, err := NewVulkanDevice(c.driver, VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Transfer:             true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
		DiscreteGPU:          c.config.DiscreteGPU,
	})
	if err != nil {
		return err
	}
	c.device = device
	c.locks.SetQueueFamily(uint32(device.GraphicsQueueIndex))
	c.locks.SetQueueFamily(uint32(device.PresentQueueIndex))
	c.locks.SetQueueFamily(uint32(device.TransferQueueIndex))

	swapchain, err := NewSwapchain(c, c.FramebufferWidth, c.FramebufferHeight, c.window.VSync(), c.config.MaxFramesInFlight)
	if err != nil {
		return errors.Wrap(err, "creating swapchain")
	}
	c.swapchain = swapchain

	extent := swapchain.Extent
	renderpass, err := NewRenderPass(c,
		math.NewVec4(0, 0, float32(extent.Width), float32(extent.Height)),
		c.config.ClearColor,
		1.0, 0,
		RENDERPASS_CLEAR_COLOUR_BUFFER_FLAG|RENDERPASS_CLEAR_DEPTH_BUFFER_FLAG|RENDERPASS_CLEAR_STENCIL_BUFFER_FLAG,
		false, false)
	if err != nil {
		return errors.Wrap(err, "creating main render pass")
	}
	c.mainRenderpass = renderpass

	if err := c.regenerateFramebuffers(); err != nil {
		return err
	}
	if err := c.createCommandBuffers(); err != nil {
		return err
	}

	frames := int(c.config.MaxFramesInFlight)
	for i := 0; i < frames; i++ {
		available, err := NewSemaphore(c)
		if err != nil {
			return err
		}
		c.ImageAvailableSemaphores = append(c.ImageAvailableSemaphores, available)
		complete, err := NewSemaphore(c)
		if err != nil {
			return err
		}
		c.QueueCompleteSemaphores = append(c.QueueCompleteSemaphores, complete)

		// Create the fence in a signaled state, indicating that the first frame has already been "rendered".
		// This will prevent the application from waiting indefinitely for the first frame to render since it
		// cannot be rendered until a frame is "rendered" before it.
		fence, err := NewFence(c, true)
		if err != nil {
			return err
		}
		c.InFlightFences = append(c.InFlightFences, fence)
	}

	// In flight fences should not yet exist at this point, so clear the list.
	c.ImagesInFlight = make([]*VulkanFence, c.swapchain.ImageCount)
	return nil
}

// Shutdown waits for the GPU and destroys everything in reverse order of
// creation. Resources created on top of the context must be gone already.
func (c *GraphicsContext) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver == nil {
		return
	}
	c.teardown()
	c.driver = nil
	contextAlive.Store(false)
}

func (c *GraphicsContext) teardown() {
	if c.device != nil && c.device.LogicalDevice != NullHandle {
		if err := c.device.WaitIdle(); err != nil {
			core.LogWarn("shutdown: %s", err)
		}
	}

	core.LogDebug("Destroying sync objects...")
	for _, s := range c.ImageAvailableSemaphores {
		s.Destroy()
	}
	for _, s := range c.QueueCompleteSemaphores {
		s.Destroy()
	}
	for _, f := range c.InFlightFences {
		f.Destroy()
	}
	c.ImageAvailableSemaphores, c.QueueCompleteSemaphores, c.InFlightFences = nil, nil, nil
	c.ImagesInFlight = nil

	core.LogDebug("Freeing command buffers...")
	c.freeCommandBuffers()

	if c.swapchain != nil {
		core.LogDebug("Destroying framebuffers...")
		c.destroyFramebuffers()
	}
	if c.mainRenderpass != nil {
		core.LogDebug("Destroying renderpass...")
		c.mainRenderpass.Destroy()
		c.mainRenderpass = nil
	}
	if c.swapchain != nil {
		core.LogDebug("Destroying swapchain...")
		c.swapchain.Destroy()
		c.swapchain = nil
	}
	if c.device != nil {
		core.LogDebug("Destroying Vulkan device...")
		c.device.Destroy()
		c.device = nil
	}
	c.driver.Close()
	c.allocator.Report()
}

func (c *GraphicsContext) Driver() Driver { return c.driver }

func (c *GraphicsContext) Device() *VulkanDevice { return c.device }

func (c *GraphicsContext) Swapchain() *VulkanSwapchain { return c.swapchain }

func (c *GraphicsContext) MainRenderPass() *VulkanRenderpass { return c.mainRenderpass }

// ImageIndex is the swapchain image acquired by the last successful BeginFrame.
func (c *GraphicsContext) ImageIndex() uint32 { return c.imageIndex }

func (c *GraphicsContext) Allocator() *NativeAllocator { return c.allocator }

func (c *GraphicsContext) Locks() *VulkanLockPool { return c.locks }

func (c *GraphicsContext) Config() Config { return c.config }

func (c *GraphicsContext) CurrentFrame() uint32 { return c.swapchain.CurrentFrame() }

func (c *GraphicsContext) ImageCount() uint32 { return c.swapchain.ImageCount }

func (c *GraphicsContext) FrameNumber() uint64 { return c.frameNumber }

// CommandBuffer is the command buffer recording the current frame.
func (c *GraphicsContext) CommandBuffer() *VulkanCommandBuffer {
	return c.GraphicsCommandBuffers[c.imageIndex]
}

func (c *GraphicsContext) FramebufferSize() (uint32, uint32) {
	return c.FramebufferWidth, c.FramebufferHeight
}

// OnSwapchainRecreated registers fn to run after every swapchain rebuild.
// The returned func unregisters it.
func (c *GraphicsContext) OnSwapchainRecreated(fn SwapchainListener) func() {
	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, swapchainListener{id: id, fn: fn})
	return func() {
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Resize records the new framebuffer size. The swapchain is rebuilt right
// away between frames, or at the next BeginFrame when a frame is being
// recorded. A zero size (minimised window) skips frames until a real size
// arrives.
func (c *GraphicsContext) Resize(width, height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FramebufferWidth = width
	c.FramebufferHeight = height
	c.FramebufferSizeGeneration++
	core.LogInfo("Vulkan renderer backend->resized: w/h/gen: %d/%d/%d", width, height, c.FramebufferSizeGeneration)

	if c.frameInProgress || width == 0 || height == 0 {
		return
	}
	c.regenerateSwapchain()
}

// BeginFrame prepares the next image and starts recording into its command
// buffer inside the main render pass. It returns false when the frame has to
// be skipped: the swapchain was rebuilt, the window is minimised, or a wait
// failed.
func (c *GraphicsContext) BeginFrame(deltaTime float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frameInProgress {
		core.Assert(false, "BeginFrame called while a frame is being recorded")
		return false, errors.Wrap(core.ErrContractViolation, "begin frame inside a frame")
	}
	c.frameDelta = deltaTime

	// Check if recreating swap chain and boot out.
	if c.recreatingSwapchain.Load() {
		if err := c.device.WaitIdle(); err != nil {
			core.LogError("BeginFrame vkDeviceWaitIdle failed: %s", err)
			return false, nil
		}
		core.LogInfo("Recreating swapchain, booting.")
		return false, nil
	}
	if c.FramebufferWidth == 0 || c.FramebufferHeight == 0 {
		return false, nil
	}

	// Check if the framebuffer has been resized. If so, a new swapchain must be created.
	if c.FramebufferSizeGeneration != c.FramebufferSizeLastGeneration || c.swapchain.Handle == NullHandle {
		if err := c.device.WaitIdle(); err != nil {
			core.LogError("BeginFrame vkDeviceWaitIdle failed: %s", err)
			return false, nil
		}
		if !c.regenerateSwapchain() {
			return false, nil
		}
		core.LogInfo("Resized, booting.")
		return false, nil
	}

	frame := c.swapchain.CurrentFrame()
	// Wait for the execution of the current frame to complete. The fence being free will allow this one to move on.
	inFlight := c.InFlightFences[frame]
	if !inFlight.Wait(WaitForever) {
		core.LogWarn("In-flight fence wait failure!")
		return false, nil
	}

	// Acquire the next image from the swap chain. Pass along the semaphore that should signaled when this completes.
	// This same semaphore will later be waited on by the queue submission to ensure this image is available.
	index, ok := c.swapchain.AcquireNextImage(WaitForever, c.ImageAvailableSemaphores[frame].Handle, NullHandle)
	if !ok {
		c.regenerateSwapchain()
		return false, nil
	}
	c.imageIndex = index

	// Make sure the previous frame is not using this image (i.e. its fence is being waited on)
	if previous := c.ImagesInFlight[index]; previous != nil {
		if !previous.Wait(WaitForever) {
			core.LogWarn("image in flight fence wait failure!")
			return false, errors.Errorf("waiting for image %d to leave the GPU failed", index)
		}
	}

	// Begin recording commands.
	cb := c.GraphicsCommandBuffers[index]
	cb.Reset()
	if err := cb.Begin(false, false, false); err != nil {
		return false, err
	}

	// Dynamic state. Y is flipped so the origin is at the bottom left.
	extent := c.swapchain.Extent
	c.driver.CmdSetViewport(cb.Handle, Viewport{
		X:        0,
		Y:        float32(extent.Height),
		Width:    float32(extent.Width),
		Height:   -float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	c.driver.CmdSetScissor(cb.Handle, Rect{Width: extent.Width, Height: extent.Height})

	c.mainRenderpass.RenderArea.Z = float32(extent.Width)
	c.mainRenderpass.RenderArea.W = float32(extent.Height)
	if err := c.mainRenderpass.Begin(cb, c.swapchain.Framebuffers[index].Handle); err != nil {
		return false, err
	}
	c.frameInProgress = true
	return true, nil
}

// EndFrame finishes recording, submits the frame and presents it.
func (c *GraphicsContext) EndFrame(deltaTime float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.frameInProgress {
		core.Assert(false, "EndFrame called without a successful BeginFrame")
		return errors.Wrap(core.ErrContractViolation, "end frame outside a frame")
	}
	c.frameInProgress = false

	cb := c.GraphicsCommandBuffers[c.imageIndex]
	if err := c.mainRenderpass.End(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	frame := c.swapchain.CurrentFrame()
	inFlight := c.InFlightFences[frame]
	// Mark the image fence as in-use by this frame.
	c.ImagesInFlight[c.imageIndex] = inFlight
	// Reset the fence for use on the next frame
	if err := inFlight.Reset(); err != nil {
		return err
	}

	// Each semaphore waits on the corresponding pipeline stage to complete. 1:1 ratio.
	// VK_PIPELINE_STAGE_COLOR_ATTACHMENT_OUTPUT_BIT prevents subsequent colour attachment
	// writes from executing until the semaphore signals (i.e. one frame is presented at a time)
	submit := SubmitInfo{
		CommandBuffers:   []Handle{cb.Handle},
		WaitSemaphores:   []Handle{c.ImageAvailableSemaphores[frame].Handle},
		WaitStages:       []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		SignalSemaphores: []Handle{c.QueueCompleteSemaphores[frame].Handle},
	}
	err := c.locks.SafeQueueCall(uint32(c.device.GraphicsQueueIndex), func() error {
		return resultError(c.driver.QueueSubmit(c.device.GraphicsQueue, submit, inFlight.Handle), "vkQueueSubmit")
	})
	if err != nil {
		core.LogError("%s", err)
		c.recoverFailedSubmit(frame)
		return err
	}
	if err := cb.UpdateSubmitted(); err != nil {
		return err
	}
	c.frameNumber++

	// Give the image back to the swapchain.
	if !c.swapchain.Present(c.device.PresentQueue, c.QueueCompleteSemaphores[frame].Handle, c.imageIndex) {
		c.regenerateSwapchain()
	}
	return nil
}

// recoverFailedSubmit puts frame back into a state the next BeginFrame can
// use after its submission was rejected. Nothing will signal the in-flight
// fence or consume the image available semaphore, so both are replaced, and
// the acquired image is given up with the swapchain.
func (c *GraphicsContext) recoverFailedSubmit(frame uint32) {
	c.ImagesInFlight[c.imageIndex] = nil
	if err := c.device.WaitIdle(); err != nil {
		core.LogError("recovering from a failed submit: %s", err)
	}

	if fence, err := NewFence(c, true); err != nil {
		core.LogError("recreating in-flight fence %d: %s", frame, err)
	} else {
		c.InFlightFences[frame].Destroy()
		c.InFlightFences[frame] = fence
	}
	if semaphore, err := NewSemaphore(c); err != nil {
		core.LogError("recreating image available semaphore %d: %s", frame, err)
	} else {
		c.ImageAvailableSemaphores[frame].Destroy()
		c.ImageAvailableSemaphores[frame] = semaphore
	}

	c.regenerateSwapchain()
}

// RegenerateSwapchain rebuilds the swapchain and everything sized after it.
// Re-entrant calls, including from swapchain listeners, return false.
func (c *GraphicsContext) RegenerateSwapchain() bool {
	if c.recreatingSwapchain.Load() {
		core.LogDebug("RegenerateSwapchain called when already recreating. Booting.")
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frameInProgress {
		core.Assert(false, "RegenerateSwapchain called while a frame is being recorded")
		return false
	}
	return c.regenerateSwapchain()
}

// regenerateSwapchain expects c.mu to be held.
func (c *GraphicsContext) regenerateSwapchain() bool {
	// If already being recreated, do not try again.
	if !c.recreatingSwapchain.CompareAndSwap(false, true) {
		core.LogDebug("regenerateSwapchain called when already recreating. Booting.")
		return false
	}
	defer c.recreatingSwapchain.Store(false)

	// Detect if the window is too small to be drawn to
	if c.FramebufferWidth == 0 || c.FramebufferHeight == 0 {
		core.LogDebug("regenerateSwapchain called when window is < 1 in a dimension. Booting.")
		return false
	}

	// Wait for any operations to complete.
	if err := c.device.WaitIdle(); err != nil {
		core.LogError("regenerateSwapchain: %s", err)
		return false
	}

	// Clear these out just in case.
	for i := range c.ImagesInFlight {
		c.ImagesInFlight[i] = nil
	}

	// The swapchain may already have rebuilt itself after an out of date result.
	if !c.swapchain.TakeRecreated() {
		if err := c.swapchain.Recreate(c.FramebufferWidth, c.FramebufferHeight); err != nil {
			core.LogError("failed to recreate swapchain: %s", err)
			return false
		}
	}

	// Sync the framebuffer size with the cached sizes.
	c.FramebufferSizeLastGeneration = c.FramebufferSizeGeneration
	c.mainRenderpass.RenderArea = math.NewVec4(0, 0, float32(c.swapchain.Extent.Width), float32(c.swapchain.Extent.Height))

	// cleanup swapchain
	c.freeCommandBuffers()
	c.destroyFramebuffers()

	if err := c.regenerateFramebuffers(); err != nil {
		core.LogError("failed to regenerate framebuffers: %s", err)
		return false
	}
	if err := c.createCommandBuffers(); err != nil {
		core.LogError("failed to recreate command buffers: %s", err)
		return false
	}
	c.ImagesInFlight = make([]*VulkanFence, c.swapchain.ImageCount)

	for _, l := range c.listeners {
		l.fn(c)
	}
	return true
}

func (c *GraphicsContext) createCommandBuffers() error {
	c.GraphicsCommandBuffers = make([]*VulkanCommandBuffer, 0, c.swapchain.ImageCount)
	for i := uint32(0); i < c.swapchain.ImageCount; i++ {
		cb, err := NewVulkanCommandBuffer(c, c.device.GraphicsCommandPool, true)
		if err != nil {
			return errors.Wrapf(err, "allocating command buffer %d", i)
		}
		c.GraphicsCommandBuffers = append(c.GraphicsCommandBuffers, cb)
	}
	core.LogDebug("Vulkan command buffers created.")
	return nil
}

func (c *GraphicsContext) freeCommandBuffers() {
	for _, cb := range c.GraphicsCommandBuffers {
		cb.Free()
	}
	c.GraphicsCommandBuffers = nil
}

func (c *GraphicsContext) regenerateFramebuffers() error {
	sc := c.swapchain
	sc.Framebuffers = make([]*VulkanFramebuffer, 0, sc.ImageCount)
	for i := uint32(0); i < sc.ImageCount; i++ {
		// TODO: make this dynamic based on the currently configured attachments
		attachments := []Handle{sc.Views[i], sc.DepthAttachment.View}
		fb, err := NewFramebuffer(c, c.mainRenderpass, sc.Extent.Width, sc.Extent.Height, attachments)
		if err != nil {
			return errors.Wrapf(err, "creating framebuffer %d", i)
		}
		sc.Framebuffers = append(sc.Framebuffers, fb)
	}
	return nil
}

func (c *GraphicsContext) destroyFramebuffers() {
	for _, fb := range c.swapchain.Framebuffers {
		fb.Destroy()
	}
	c.swapchain.Framebuffers = nil
}
