package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Holds a Vulkan pipeline and its layout.
type VulkanPipeline struct {
	// The internal pipeline handle.
	Handle Handle
	// The pipeline layout.
	PipelineLayout Handle

	context *GraphicsContext
}

type VulkanPipelineConfig struct {
	// The renderpass to associate with the pipeline.
	Renderpass *VulkanRenderpass
	// The stride of the vertex data to be used (ex: sizeof(vertex_3d))
	Stride     uint32
	Attributes []VertexAttribute
	// Set 0 is the global set, set 1 the object set.
	DescriptorSetLayouts []Handle
	Stages               []ShaderStageInfo
	// The initial viewport size, the viewport and scissor are dynamic.
	Viewport           Extent
	CullMode           metadata.CullMode
	FillMode           metadata.FillMode
	CounterClockwise   bool
	Blend              metadata.BlendMode
	DepthTest          bool
	DepthWrite         bool
	DepthCompare       metadata.CompareOp
	Topology           metadata.Topology
	DynamicState       metadata.DynamicState
	PushConstantRanges []PushConstantRange
}

// NOTE: 32 is the max number of ranges we can ever have, since the API only guarantees 128 bytes with 4-byte alignment.
const maxPushConstantRanges = 32

// NewGraphicsPipeline creates the pipeline layout and an immutable graphics
// pipeline from config.
func NewGraphicsPipeline(context *GraphicsContext, config VulkanPipelineConfig) (*VulkanPipeline, error) {
	if len(config.PushConstantRanges) > maxPushConstantRanges {
		return nil, errors.Errorf("cannot have more than %d push constant ranges. Passed count: %d", maxPushConstantRanges, len(config.PushConstantRanges))
	}
	var pushSize uint32
	for _, r := range config.PushConstantRanges {
		pushSize = max(pushSize, r.Offset+r.Size)
	}
	if pushSize > VULKAN_MAX_PUSH_CONSTANT_SIZE {
		return nil, errors.Errorf("push constant ranges need %d bytes, the maximum is %d", pushSize, VULKAN_MAX_PUSH_CONSTANT_SIZE)
	}

	d := context.driver
	device := context.device.LogicalDevice
	pipeline := &VulkanPipeline{context: context}

	layout, res := d.CreatePipelineLayout(device, config.DescriptorSetLayouts, config.PushConstantRanges)
	if err := logResult(res, "vkCreatePipelineLayout"); err != nil {
		return nil, err
	}
	pipeline.PipelineLayout = layout

	info := GraphicsPipelineCreateInfo{
		RenderPass:     config.Renderpass.Handle,
		Layout:         layout,
		Stages:         config.Stages,
		VertexStride:   config.Stride,
		Attributes:     config.Attributes,
		Topology:       primitiveTopology(config.Topology),
		PolygonMode:    vk.PolygonModeFill,
		CullMode:       cullModeFlags(config.CullMode),
		FrontFace:      vk.FrontFaceClockwise,
		DepthTest:      config.DepthTest,
		DepthWrite:     config.DepthWrite,
		DepthCompare:   compareOp(config.DepthCompare),
		DynamicStates:  dynamicStates(config.DynamicState),
		ViewportExtent: config.Viewport,
		LineWidth:      1.0,
	}
	if config.FillMode == metadata.FillModeWireframe {
		info.PolygonMode = vk.PolygonModeLine
	}
	if config.CounterClockwise {
		info.FrontFace = vk.FrontFaceCounterClockwise
	}
	switch config.Blend {
	case metadata.BlendModeAlpha:
		info.BlendEnable = true
		info.SrcColorBlend, info.DstColorBlend = vk.BlendFactorSrcAlpha, vk.BlendFactorOneMinusSrcAlpha
		info.SrcAlphaBlend, info.DstAlphaBlend = vk.BlendFactorSrcAlpha, vk.BlendFactorOneMinusSrcAlpha
	case metadata.BlendModeAdditive:
		info.BlendEnable = true
		info.SrcColorBlend, info.DstColorBlend = vk.BlendFactorSrcAlpha, vk.BlendFactorOne
		info.SrcAlphaBlend, info.DstAlphaBlend = vk.BlendFactorOne, vk.BlendFactorOne
	default:
		info.SrcColorBlend, info.DstColorBlend = vk.BlendFactorOne, vk.BlendFactorZero
		info.SrcAlphaBlend, info.DstAlphaBlend = vk.BlendFactorOne, vk.BlendFactorZero
	}

	handle, res := d.CreateGraphicsPipeline(device, info)
	if err := logResult(res, "vkCreateGraphicsPipelines"); err != nil {
		pipeline.Destroy()
		return nil, err
	}
	pipeline.Handle = handle

	core.LogDebug("Graphics pipeline created!")
	return pipeline, nil
}

func (p *VulkanPipeline) Destroy() {
	d := p.context.driver
	device := p.context.device.LogicalDevice
	// Destroy pipeline
	if p.Handle != NullHandle {
		d.DestroyPipeline(device, p.Handle)
		p.Handle = NullHandle
	}
	// Destroy layout
	if p.PipelineLayout != NullHandle {
		d.DestroyPipelineLayout(device, p.PipelineLayout)
		p.PipelineLayout = NullHandle
	}
}

func (p *VulkanPipeline) Bind(commandBuffer *VulkanCommandBuffer) error {
	if !commandBuffer.Recording() {
		return commandBuffer.violation("bind pipeline", COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS)
	}
	p.context.driver.CmdBindPipeline(commandBuffer.Handle, p.Handle)
	return nil
}

func cullModeFlags(mode metadata.CullMode) vk.CullModeFlags {
	switch mode {
	case metadata.CullModeNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case metadata.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.CullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
}

func compareOp(op metadata.CompareOp) vk.CompareOp {
	switch op {
	case metadata.CompareOpLessOrEqual:
		return vk.CompareOpLessOrEqual
	case metadata.CompareOpEqual:
		return vk.CompareOpEqual
	case metadata.CompareOpGreater:
		return vk.CompareOpGreater
	case metadata.CompareOpGreaterOrEqual:
		return vk.CompareOpGreaterOrEqual
	case metadata.CompareOpAlways:
		return vk.CompareOpAlways
	case metadata.CompareOpNever:
		return vk.CompareOpNever
	default:
		return vk.CompareOpLess
	}
}

func primitiveTopology(t metadata.Topology) vk.PrimitiveTopology {
	switch t {
	case metadata.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

func dynamicStates(state metadata.DynamicState) []vk.DynamicState {
	var out []vk.DynamicState
	if state&metadata.DynamicStateViewport != 0 {
		out = append(out, vk.DynamicStateViewport)
	}
	if state&metadata.DynamicStateScissor != 0 {
		out = append(out, vk.DynamicStateScissor)
	}
	if state&metadata.DynamicStateLineWidth != 0 {
		out = append(out, vk.DynamicStateLineWidth)
	}
	return out
}

func attributeFormat(t metadata.ShaderAttributeType) vk.Format {
	switch t {
	case metadata.ShaderAttribTypeFloat32_2:
		return vk.FormatR32g32Sfloat
	case metadata.ShaderAttribTypeFloat32_3:
		return vk.FormatR32g32b32Sfloat
	case metadata.ShaderAttribTypeFloat32_4:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.ShaderAttribTypeInt32:
		return vk.FormatR32Sint
	case metadata.ShaderAttribTypeUint32:
		return vk.FormatR32Uint
	default:
		return vk.FormatR32Sfloat
	}
}

// shaderStageFlags maps the engine stage mask onto the native one.
func shaderStageFlags(stages metadata.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlags
	if stages&metadata.ShaderStageVertex != 0 {
		out |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	if stages&metadata.ShaderStageGeometry != 0 {
		out |= vk.ShaderStageFlags(vk.ShaderStageGeometryBit)
	}
	if stages&metadata.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
	if stages&metadata.ShaderStageCompute != 0 {
		out |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return out
}
