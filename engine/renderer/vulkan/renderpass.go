package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/math"
)

type RenderpassClearFlag uint8

const (
	RENDERPASS_CLEAR_NONE_FLAG           RenderpassClearFlag = 0x0
	RENDERPASS_CLEAR_COLOUR_BUFFER_FLAG  RenderpassClearFlag = 0x1
	RENDERPASS_CLEAR_DEPTH_BUFFER_FLAG   RenderpassClearFlag = 0x2
	RENDERPASS_CLEAR_STENCIL_BUFFER_FLAG RenderpassClearFlag = 0x4
)

type VulkanRenderpass struct {
	Handle Handle
	// x, y, width, height
	RenderArea math.Vec4
	ClearColor math.Vec4
	Depth      float32
	Stencil    uint32
	ClearFlags RenderpassClearFlag
	HasPrev    bool
	HasNext    bool

	context *GraphicsContext
}

// NewRenderPass creates a single subpass render pass over the swapchain
// colour format. A depth attachment is added when the depth buffer is
// cleared. The pass leaves the colour image ready to present unless another
// pass follows it.
func NewRenderPass(context *GraphicsContext, renderArea, clearColor math.Vec4, depth float32, stencil uint32, clearFlags RenderpassClearFlag, hasPrev, hasNext bool) (*VulkanRenderpass, error) {
	rp := &VulkanRenderpass{
		RenderArea: renderArea,
		ClearColor: clearColor,
		Depth:      depth,
		Stencil:    stencil,
		ClearFlags: clearFlags,
		HasPrev:    hasPrev,
		HasNext:    hasNext,
		context:    context,
	}

	color := AttachmentDescription{
		Format:        context.swapchain.ImageFormat.Format,
		LoadOp:        vk.AttachmentLoadOpLoad,
		StoreOp:       vk.AttachmentStoreOpStore,
		// Do not expect any particular layout before render pass starts.
		InitialLayout: vk.ImageLayoutUndefined,
		FinalLayout:   vk.ImageLayoutPresentSrc,
	}
	if clearFlags&RENDERPASS_CLEAR_COLOUR_BUFFER_FLAG != 0 {
		color.LoadOp = vk.AttachmentLoadOpClear
	}
	if hasPrev {
		color.InitialLayout = vk.ImageLayoutColorAttachmentOptimal
	}
	if hasNext {
		color.FinalLayout = vk.ImageLayoutColorAttachmentOptimal
	}

	info := RenderPassCreateInfo{Color: color}
	if rp.HasDepth() {
		info.Depth = &AttachmentDescription{
			Format:        context.device.DepthFormat,
			LoadOp:        vk.AttachmentLoadOpClear,
			StoreOp:       vk.AttachmentStoreOpDontCare,
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	handle, res := context.driver.CreateRenderPass(context.device.LogicalDevice, info)
	if err := logResult(res, "vkCreateRenderPass"); err != nil {
		return nil, err
	}
	rp.Handle = handle
	return rp, nil
}

func (vr *VulkanRenderpass) HasDepth() bool {
	return vr.ClearFlags&RENDERPASS_CLEAR_DEPTH_BUFFER_FLAG != 0
}

func (vr *VulkanRenderpass) Destroy() {
	if vr.Handle != NullHandle {
		vr.context.driver.DestroyRenderPass(vr.context.device.LogicalDevice, vr.Handle)
		vr.Handle = NullHandle
	}
}

// Begin starts the pass on framebuffer and moves commandBuffer to the
// InRenderPass state.
func (vr *VulkanRenderpass) Begin(commandBuffer *VulkanCommandBuffer, framebuffer Handle) error {
	if err := commandBuffer.SetState(COMMAND_BUFFER_STATE_IN_RENDER_PASS); err != nil {
		return err
	}
	info := RenderPassBeginInfo{
		RenderPass:  vr.Handle,
		Framebuffer: framebuffer,
		Area: Rect{
			X:      int32(vr.RenderArea.X),
			Y:      int32(vr.RenderArea.Y),
			Width:  uint32(vr.RenderArea.Z),
			Height: uint32(vr.RenderArea.W),
		},
		ClearCount: 1,
	}
	if vr.ClearFlags&RENDERPASS_CLEAR_COLOUR_BUFFER_FLAG != 0 {
		info.ClearColor = [4]float32{vr.ClearColor.X, vr.ClearColor.Y, vr.ClearColor.Z, vr.ClearColor.W}
	}
	if vr.HasDepth() {
		info.ClearCount = 2
		info.ClearDepth = vr.Depth
		if vr.ClearFlags&RENDERPASS_CLEAR_STENCIL_BUFFER_FLAG != 0 {
			info.ClearStencil = vr.Stencil
		}
	}
	vr.context.driver.CmdBeginRenderPass(commandBuffer.Handle, info)
	return nil
}

func (vr *VulkanRenderpass) End(commandBuffer *VulkanCommandBuffer) error {
	if err := commandBuffer.SetState(COMMAND_BUFFER_STATE_RECORDING); err != nil {
		return err
	}
	vr.context.driver.CmdEndRenderPass(commandBuffer.Handle)
	return nil
}

type VulkanFramebuffer struct {
	Handle      Handle
	Attachments []Handle
	Renderpass  *VulkanRenderpass

	context *GraphicsContext
}

func NewFramebuffer(context *GraphicsContext, renderpass *VulkanRenderpass, width, height uint32, attachments []Handle) (*VulkanFramebuffer, error) {
	fb := &VulkanFramebuffer{
		// Take a copy of the attachments.
		Attachments: append([]Handle(nil), attachments...),
		Renderpass:  renderpass,
		context:     context,
	}
	handle, res := context.driver.CreateFramebuffer(context.device.LogicalDevice, FramebufferCreateInfo{
		RenderPass:  renderpass.Handle,
		Attachments: fb.Attachments,
		Width:       width,
		Height:      height,
	})
	if err := logResult(res, "vkCreateFramebuffer"); err != nil {
		return nil, err
	}
	fb.Handle = handle
	return fb, nil
}

func (vf *VulkanFramebuffer) Destroy() {
	if vf.Handle != NullHandle {
		vf.context.driver.DestroyFramebuffer(vf.context.device.LogicalDevice, vf.Handle)
		vf.Handle = NullHandle
	}
	vf.Attachments = nil
}
