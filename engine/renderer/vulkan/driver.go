package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type Handle = metadata.Handle

const NullHandle = metadata.NullHandle

// Driver is the thin command surface the backend issues native graphics calls
// through. Every object is referenced by an opaque Handle so the backend can
// run on the real goki/vulkan driver or on the HeadlessDriver in tests. All
// fallible calls report the native vk.Result untouched; interpreting it is
// the caller's job.
type Driver interface {
	// Adapters lists the physical devices able to present to the surface.
	Adapters() ([]AdapterInfo, vk.Result)
	QuerySurface(adapter Handle) (SurfaceSupport, vk.Result)
	FormatFeatures(adapter Handle, format vk.Format) vk.FormatFeatureFlags

	CreateDevice(adapter Handle, info DeviceCreateInfo) (Handle, vk.Result)
	GetQueue(device Handle, family, index uint32) Handle
	DestroyDevice(device Handle)
	DeviceWaitIdle(device Handle) vk.Result
	QueueWaitIdle(queue Handle) vk.Result

	CreateCommandPool(device Handle, family uint32) (Handle, vk.Result)
	DestroyCommandPool(device, pool Handle)
	AllocateCommandBuffers(device, pool Handle, primary bool, count uint32) ([]Handle, vk.Result)
	FreeCommandBuffers(device, pool Handle, buffers []Handle)
	BeginCommandBuffer(cb Handle, flags vk.CommandBufferUsageFlags) vk.Result
	EndCommandBuffer(cb Handle) vk.Result
	ResetCommandBuffer(cb Handle) vk.Result

	CreateFence(device Handle, signaled bool) (Handle, vk.Result)
	WaitForFence(device, fence Handle, timeout uint64) vk.Result
	ResetFence(device, fence Handle) vk.Result
	DestroyFence(device, fence Handle)
	CreateSemaphore(device Handle) (Handle, vk.Result)
	DestroySemaphore(device, semaphore Handle)

	QueueSubmit(queue Handle, submit SubmitInfo, fence Handle) vk.Result

	CreateSwapchain(device Handle, info SwapchainCreateInfo) (Handle, vk.Result)
	SwapchainImages(device, swapchain Handle) ([]Handle, vk.Result)
	DestroySwapchain(device, swapchain Handle)
	AcquireNextImage(device, swapchain Handle, timeout uint64, semaphore, fence Handle) (uint32, vk.Result)
	QueuePresent(queue Handle, info PresentInfo) vk.Result

	CreateBuffer(device Handle, size uint64, usage vk.BufferUsageFlags) (Handle, vk.Result)
	BufferMemoryRequirements(device, buffer Handle) MemoryRequirements
	BindBufferMemory(device, buffer, memory Handle, offset uint64) vk.Result
	DestroyBuffer(device, buffer Handle)

	CreateImage(device Handle, info ImageCreateInfo) (Handle, vk.Result)
	ImageMemoryRequirements(device, image Handle) MemoryRequirements
	BindImageMemory(device, image, memory Handle, offset uint64) vk.Result
	DestroyImage(device, image Handle)
	CreateImageView(device Handle, info ImageViewCreateInfo) (Handle, vk.Result)
	DestroyImageView(device, view Handle)
	CreateSampler(device Handle, info SamplerCreateInfo) (Handle, vk.Result)
	DestroySampler(device, sampler Handle)

	AllocateMemory(device Handle, size uint64, memoryType uint32) (Handle, vk.Result)
	FreeMemory(device, memory Handle)
	// MapMemory returns a byte view of the mapped range, valid until UnmapMemory.
	MapMemory(device, memory Handle, offset, size uint64) ([]byte, vk.Result)
	UnmapMemory(device, memory Handle)

	CreateRenderPass(device Handle, info RenderPassCreateInfo) (Handle, vk.Result)
	DestroyRenderPass(device, renderPass Handle)
	CreateFramebuffer(device Handle, info FramebufferCreateInfo) (Handle, vk.Result)
	DestroyFramebuffer(device, framebuffer Handle)

	CreateShaderModule(device Handle, code []uint32) (Handle, vk.Result)
	DestroyShaderModule(device, module Handle)
	CreateDescriptorSetLayout(device Handle, bindings []DescriptorBinding) (Handle, vk.Result)
	DestroyDescriptorSetLayout(device, layout Handle)
	CreateDescriptorPool(device Handle, sizes []DescriptorPoolSize, maxSets uint32) (Handle, vk.Result)
	DestroyDescriptorPool(device, pool Handle)
	AllocateDescriptorSets(device, pool Handle, layouts []Handle) ([]Handle, vk.Result)
	FreeDescriptorSets(device, pool Handle, sets []Handle) vk.Result
	UpdateDescriptorSets(device Handle, writes []DescriptorWrite)
	CreatePipelineLayout(device Handle, setLayouts []Handle, pushConstants []PushConstantRange) (Handle, vk.Result)
	DestroyPipelineLayout(device, layout Handle)
	CreateGraphicsPipeline(device Handle, info GraphicsPipelineCreateInfo) (Handle, vk.Result)
	DestroyPipeline(device, pipeline Handle)

	CmdSetViewport(cb Handle, viewport Viewport)
	CmdSetScissor(cb Handle, scissor Rect)
	CmdBeginRenderPass(cb Handle, info RenderPassBeginInfo)
	CmdEndRenderPass(cb Handle)
	CmdBindPipeline(cb, pipeline Handle)
	CmdBindDescriptorSets(cb, layout Handle, firstSet uint32, sets []Handle)
	CmdPushConstants(cb, layout Handle, stages vk.ShaderStageFlags, offset uint32, data []byte)
	CmdBindVertexBuffer(cb, buffer Handle, offset uint64)
	CmdBindIndexBuffer(cb, buffer Handle, offset uint64)
	CmdDraw(cb Handle, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cb Handle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdCopyBuffer(cb, src, dst Handle, region BufferCopy)
	CmdCopyBufferToImage(cb, buffer, image Handle, width, height uint32)
	CmdPipelineBarrier(cb Handle, barrier ImageBarrier)
	CmdBlitImage(cb, image Handle, blit ImageBlit)

	// Close releases the instance level objects (surface, debug callback, instance).
	Close()
}

type MemoryType struct {
	PropertyFlags vk.MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

type QueueFamily struct {
	Flags        vk.QueueFlags
	Count        uint32
	PresentReady bool
}

// AdapterInfo is what the backend needs to know about a physical device to
// pick and configure it.
type AdapterInfo struct {
	Handle                          Handle
	Name                            string
	Type                            vk.PhysicalDeviceType
	APIVersion                      uint32
	DriverVersion                   uint32
	MemoryTypes                     []MemoryType
	MemoryHeaps                     []MemoryHeap
	QueueFamilies                   []QueueFamily
	Extensions                      []string
	SamplerAnisotropy               bool
	MaxSamplerAnisotropy            float32
	MinUniformBufferOffsetAlignment uint64
}

// DeviceLocalMemory is the total size of the device local heaps.
func (a AdapterInfo) DeviceLocalMemory() uint64 {
	var total uint64
	for _, h := range a.MemoryHeaps {
		if h.DeviceLocal {
			total += h.Size
		}
	}
	return total
}

func (a AdapterInfo) HasExtension(name string) bool {
	for _, e := range a.Extensions {
		if e == name {
			return true
		}
	}
	return false
}

type Extent struct {
	Width  uint32
	Height uint32
}

type SurfaceCapabilities struct {
	MinImageCount    uint32
	MaxImageCount    uint32
	CurrentExtent    Extent
	MinImageExtent   Extent
	MaxImageExtent   Extent
	CurrentTransform vk.SurfaceTransformFlagBits
}

type SurfaceFormat struct {
	Format     vk.Format
	ColorSpace vk.ColorSpace
}

type SurfaceSupport struct {
	Capabilities SurfaceCapabilities
	Formats      []SurfaceFormat
	PresentModes []vk.PresentMode
}

type DeviceCreateInfo struct {
	QueueFamilies     []uint32
	Extensions        []string
	SamplerAnisotropy bool
}

type SubmitInfo struct {
	CommandBuffers   []Handle
	WaitSemaphores   []Handle
	WaitStages       []vk.PipelineStageFlags
	SignalSemaphores []Handle
}

type PresentInfo struct {
	Swapchain      Handle
	ImageIndex     uint32
	WaitSemaphores []Handle
}

type SwapchainCreateInfo struct {
	MinImageCount uint32
	Format        SurfaceFormat
	Extent        Extent
	PresentMode   vk.PresentMode
	Transform     vk.SurfaceTransformFlagBits
	// Both indices differ when graphics and present live on separate families.
	GraphicsFamily uint32
	PresentFamily  uint32
	OldSwapchain   Handle
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type ImageCreateInfo struct {
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    vk.Format
	Tiling    vk.ImageTiling
	Usage     vk.ImageUsageFlags
}

type ImageViewCreateInfo struct {
	Image     Handle
	Format    vk.Format
	Aspect    vk.ImageAspectFlags
	MipLevels uint32
}

type SamplerCreateInfo struct {
	MagFilter     vk.Filter
	MinFilter     vk.Filter
	AddressMode   vk.SamplerAddressMode
	MaxAnisotropy float32
	MipLevels     uint32
}

type AttachmentDescription struct {
	Format        vk.Format
	LoadOp        vk.AttachmentLoadOp
	StoreOp       vk.AttachmentStoreOp
	InitialLayout vk.ImageLayout
	FinalLayout   vk.ImageLayout
}

type RenderPassCreateInfo struct {
	Color AttachmentDescription
	// Nil when the pass has no depth attachment.
	Depth *AttachmentDescription
}

type FramebufferCreateInfo struct {
	RenderPass  Handle
	Attachments []Handle
	Width       uint32
	Height      uint32
}

type DescriptorBinding struct {
	Binding uint32
	Type    vk.DescriptorType
	Count   uint32
	Stages  vk.ShaderStageFlags
}

type DescriptorPoolSize struct {
	Type  vk.DescriptorType
	Count uint32
}

// DescriptorWrite points one binding of a set either at a buffer range or at
// an image view + sampler pair.
type DescriptorWrite struct {
	Set     Handle
	Binding uint32
	Type    vk.DescriptorType
	Buffer  Handle
	Offset  uint64
	Range   uint64
	View    Handle
	Sampler Handle
}

type PushConstantRange struct {
	Stages vk.ShaderStageFlags
	Offset uint32
	Size   uint32
}

type ShaderStageInfo struct {
	Stage      vk.ShaderStageFlagBits
	Module     Handle
	EntryPoint string
}

type VertexAttribute struct {
	Location uint32
	Format   vk.Format
	Offset   uint32
}

type GraphicsPipelineCreateInfo struct {
	RenderPass       Handle
	Layout           Handle
	Stages           []ShaderStageInfo
	VertexStride     uint32
	Attributes       []VertexAttribute
	Topology         vk.PrimitiveTopology
	PolygonMode      vk.PolygonMode
	CullMode         vk.CullModeFlags
	FrontFace        vk.FrontFace
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     vk.CompareOp
	BlendEnable      bool
	SrcColorBlend    vk.BlendFactor
	DstColorBlend    vk.BlendFactor
	SrcAlphaBlend    vk.BlendFactor
	DstAlphaBlend    vk.BlendFactor
	DynamicStates    []vk.DynamicState
	ViewportExtent   Extent
	LineWidth        float32
	RasterizerOffset bool
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type RenderPassBeginInfo struct {
	RenderPass   Handle
	Framebuffer  Handle
	Area         Rect
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32
	// Number of clear values: 1 for colour only, 2 with depth.
	ClearCount uint32
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type ImageBarrier struct {
	Image     Handle
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
	SrcStage  vk.PipelineStageFlags
	DstStage  vk.PipelineStageFlags
	Aspect    vk.ImageAspectFlags
	BaseMip   uint32
	MipCount  uint32
}

// ImageBlit copies one mip level of an image into another mip level of the
// same image, scaling with linear filtering.
type ImageBlit struct {
	SrcMip    uint32
	SrcWidth  int32
	SrcHeight int32
	DstMip    uint32
	DstWidth  int32
	DstHeight int32
}
