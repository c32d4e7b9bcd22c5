package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

func (d *VulkanDriver) CreateBuffer(device Handle, size uint64, usage vk.BufferUsageFlags) (Handle, vk.Result) {
	info := vk.BufferCreateInfo{
		SType: vk.StructureTypeBufferCreateInfo,
		Size:  vk.DeviceSize(size),
		Usage: usage,
		// Only used in one queue.
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(d.dev(device), &info, nil, &buffer); res != vk.Success {
		return NullHandle, res
	}
	return d.put(buffer), vk.Success
}

func (d *VulkanDriver) BufferMemoryRequirements(device, buffer Handle) MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.dev(device), lookup[vk.Buffer](d, buffer), &req)
	req.Deref()
	return MemoryRequirements{Size: uint64(req.Size), Alignment: uint64(req.Alignment), MemoryTypeBits: req.MemoryTypeBits}
}

func (d *VulkanDriver) BindBufferMemory(device, buffer, memory Handle, offset uint64) vk.Result {
	return vk.BindBufferMemory(d.dev(device), lookup[vk.Buffer](d, buffer), lookup[vk.DeviceMemory](d, memory), vk.DeviceSize(offset))
}

func (d *VulkanDriver) DestroyBuffer(device, buffer Handle) {
	vk.DestroyBuffer(d.dev(device), lookup[vk.Buffer](d, buffer), nil)
	d.drop(buffer)
}

func (d *VulkanDriver) CreateImage(device Handle, info ImageCreateInfo) (Handle, vk.Result) {
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     max(info.MipLevels, 1),
		ArrayLayers:   1,
		Format:        info.Format,
		Tiling:        info.Tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         info.Usage,
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	var image vk.Image
	if res := vk.CreateImage(d.dev(device), &createInfo, nil, &image); res != vk.Success {
		return NullHandle, res
	}
	return d.put(image), vk.Success
}

func (d *VulkanDriver) ImageMemoryRequirements(device, image Handle) MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.dev(device), lookup[vk.Image](d, image), &req)
	req.Deref()
	return MemoryRequirements{Size: uint64(req.Size), Alignment: uint64(req.Alignment), MemoryTypeBits: req.MemoryTypeBits}
}

func (d *VulkanDriver) BindImageMemory(device, image, memory Handle, offset uint64) vk.Result {
	return vk.BindImageMemory(d.dev(device), lookup[vk.Image](d, image), lookup[vk.DeviceMemory](d, memory), vk.DeviceSize(offset))
}

func (d *VulkanDriver) DestroyImage(device, image Handle) {
	vk.DestroyImage(d.dev(device), lookup[vk.Image](d, image), nil)
	d.drop(image)
}

func (d *VulkanDriver) CreateImageView(device Handle, info ImageViewCreateInfo) (Handle, vk.Result) {
	createInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    lookup[vk.Image](d, info.Image),
		ViewType: vk.ImageViewType2d,
		Format:   info.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     info.Aspect,
			BaseMipLevel:   0,
			LevelCount:     max(info.MipLevels, 1),
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.dev(device), &createInfo, nil, &view); res != vk.Success {
		return NullHandle, res
	}
	return d.put(view), vk.Success
}

func (d *VulkanDriver) DestroyImageView(device, view Handle) {
	vk.DestroyImageView(d.dev(device), lookup[vk.ImageView](d, view), nil)
	d.drop(view)
}

func (d *VulkanDriver) CreateSampler(device Handle, info SamplerCreateInfo) (Handle, vk.Result) {
	createInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               info.MagFilter,
		MinFilter:               info.MinFilter,
		AddressModeU:            info.AddressMode,
		AddressModeV:            info.AddressMode,
		AddressModeW:            info.AddressMode,
		MaxAnisotropy:           max(info.MaxAnisotropy, 1),
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MipLodBias:              0,
		MinLod:                  0,
		MaxLod:                  float32(max(info.MipLevels, 1)),
	}
	if info.MaxAnisotropy > 1 {
		createInfo.AnisotropyEnable = vk.True
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(d.dev(device), &createInfo, nil, &sampler); res != vk.Success {
		return NullHandle, res
	}
	return d.put(sampler), vk.Success
}

func (d *VulkanDriver) DestroySampler(device, sampler Handle) {
	vk.DestroySampler(d.dev(device), lookup[vk.Sampler](d, sampler), nil)
	d.drop(sampler)
}

func (d *VulkanDriver) AllocateMemory(device Handle, size uint64, memoryType uint32) (Handle, vk.Result) {
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryType,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.dev(device), &info, nil, &memory); res != vk.Success {
		return NullHandle, res
	}
	return d.put(memory), vk.Success
}

func (d *VulkanDriver) FreeMemory(device, memory Handle) {
	vk.FreeMemory(d.dev(device), lookup[vk.DeviceMemory](d, memory), nil)
	d.drop(memory)
}

func (d *VulkanDriver) MapMemory(device, memory Handle, offset, size uint64) ([]byte, vk.Result) {
	var data unsafe.Pointer
	res := vk.MapMemory(d.dev(device), lookup[vk.DeviceMemory](d, memory), vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data)
	if res != vk.Success {
		return nil, res
	}
	return unsafe.Slice((*byte)(data), size), vk.Success
}

func (d *VulkanDriver) UnmapMemory(device, memory Handle) {
	vk.UnmapMemory(d.dev(device), lookup[vk.DeviceMemory](d, memory))
}

func (d *VulkanDriver) CreateRenderPass(device Handle, info RenderPassCreateInfo) (Handle, vk.Result) {
	attachments := []vk.AttachmentDescription{{
		Format:         info.Color.Format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         info.Color.LoadOp,
		StoreOp:        info.Color.StoreOp,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  info.Color.InitialLayout,
		FinalLayout:    info.Color.FinalLayout,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	if info.Depth != nil {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         info.Depth.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         info.Depth.LoadOp,
			StoreOp:        info.Depth.StoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  info.Depth.InitialLayout,
			FinalLayout:    info.Depth.FinalLayout,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}
	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var renderPass vk.RenderPass
	if res := vk.CreateRenderPass(d.dev(device), &createInfo, nil, &renderPass); res != vk.Success {
		return NullHandle, res
	}
	return d.put(renderPass), vk.Success
}

func (d *VulkanDriver) DestroyRenderPass(device, renderPass Handle) {
	vk.DestroyRenderPass(d.dev(device), lookup[vk.RenderPass](d, renderPass), nil)
	d.drop(renderPass)
}

func (d *VulkanDriver) CreateFramebuffer(device Handle, info FramebufferCreateInfo) (Handle, vk.Result) {
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      lookup[vk.RenderPass](d, info.RenderPass),
		AttachmentCount: uint32(len(info.Attachments)),
		PAttachments:    lookupAll[vk.ImageView](d, info.Attachments),
		Width:           info.Width,
		Height:          info.Height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(d.dev(device), &createInfo, nil, &framebuffer); res != vk.Success {
		return NullHandle, res
	}
	return d.put(framebuffer), vk.Success
}

func (d *VulkanDriver) DestroyFramebuffer(device, framebuffer Handle) {
	vk.DestroyFramebuffer(d.dev(device), lookup[vk.Framebuffer](d, framebuffer), nil)
	d.drop(framebuffer)
}

func (d *VulkanDriver) CreateShaderModule(device Handle, code []uint32) (Handle, vk.Result) {
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(d.dev(device), &info, nil, &module); res != vk.Success {
		return NullHandle, res
	}
	return d.put(module), vk.Success
}

func (d *VulkanDriver) DestroyShaderModule(device, module Handle) {
	vk.DestroyShaderModule(d.dev(device), lookup[vk.ShaderModule](d, module), nil)
	d.drop(module)
}

func (d *VulkanDriver) CreateDescriptorSetLayout(device Handle, bindings []DescriptorBinding) (Handle, vk.Result) {
	native := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		native[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: max(b.Count, 1),
			StageFlags:      b.Stages,
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(native)),
		PBindings:    native,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(d.dev(device), &info, nil, &layout); res != vk.Success {
		return NullHandle, res
	}
	return d.put(layout), vk.Success
}

func (d *VulkanDriver) DestroyDescriptorSetLayout(device, layout Handle) {
	vk.DestroyDescriptorSetLayout(d.dev(device), lookup[vk.DescriptorSetLayout](d, layout), nil)
	d.drop(layout)
}

func (d *VulkanDriver) CreateDescriptorPool(device Handle, sizes []DescriptorPoolSize, maxSets uint32) (Handle, vk.Result) {
	native := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		native[i] = vk.DescriptorPoolSize{Type: s.Type, DescriptorCount: s.Count}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		PoolSizeCount: uint32(len(native)),
		PPoolSizes:    native,
		MaxSets:       maxSets,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(d.dev(device), &info, nil, &pool); res != vk.Success {
		return NullHandle, res
	}
	return d.put(pool), vk.Success
}

func (d *VulkanDriver) DestroyDescriptorPool(device, pool Handle) {
	vk.DestroyDescriptorPool(d.dev(device), lookup[vk.DescriptorPool](d, pool), nil)
	d.drop(pool)
}

func (d *VulkanDriver) AllocateDescriptorSets(device, pool Handle, layouts []Handle) ([]Handle, vk.Result) {
	if len(layouts) == 0 {
		return nil, vk.Success
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     lookup[vk.DescriptorPool](d, pool),
		DescriptorSetCount: uint32(len(layouts)),
		PSetLayouts:        lookupAll[vk.DescriptorSetLayout](d, layouts),
	}
	sets := make([]vk.DescriptorSet, len(layouts))
	if res := vk.AllocateDescriptorSets(d.dev(device), &info, &sets[0]); res != vk.Success {
		return nil, res
	}
	handles := make([]Handle, len(sets))
	for i, s := range sets {
		handles[i] = d.put(s)
	}
	return handles, vk.Success
}

func (d *VulkanDriver) FreeDescriptorSets(device, pool Handle, sets []Handle) vk.Result {
	if len(sets) == 0 {
		return vk.Success
	}
	res := vk.FreeDescriptorSets(d.dev(device), lookup[vk.DescriptorPool](d, pool), uint32(len(sets)), &lookupAll[vk.DescriptorSet](d, sets)[0])
	for _, s := range sets {
		d.drop(s)
	}
	return res
}

func (d *VulkanDriver) UpdateDescriptorSets(device Handle, writes []DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	native := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		native[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          lookup[vk.DescriptorSet](d, w.Set),
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorCount: 1,
			DescriptorType:  w.Type,
		}
		switch w.Type {
		case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer:
			native[i].PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: lookup[vk.Buffer](d, w.Buffer),
				Offset: vk.DeviceSize(w.Offset),
				Range:  vk.DeviceSize(w.Range),
			}}
		default:
			native[i].PImageInfo = []vk.DescriptorImageInfo{{
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
				ImageView:   lookup[vk.ImageView](d, w.View),
				Sampler:     lookup[vk.Sampler](d, w.Sampler),
			}}
		}
	}
	vk.UpdateDescriptorSets(d.dev(device), uint32(len(native)), native, 0, nil)
}

func (d *VulkanDriver) CreatePipelineLayout(device Handle, setLayouts []Handle, pushConstants []PushConstantRange) (Handle, vk.Result) {
	ranges := make([]vk.PushConstantRange, len(pushConstants))
	for i, r := range pushConstants {
		ranges[i] = vk.PushConstantRange{StageFlags: r.Stages, Offset: r.Offset, Size: r.Size}
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            lookupAll[vk.DescriptorSetLayout](d, setLayouts),
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(d.dev(device), &info, nil, &layout); res != vk.Success {
		return NullHandle, res
	}
	return d.put(layout), vk.Success
}

func (d *VulkanDriver) DestroyPipelineLayout(device, layout Handle) {
	vk.DestroyPipelineLayout(d.dev(device), lookup[vk.PipelineLayout](d, layout), nil)
	d.drop(layout)
}

func (d *VulkanDriver) CreateGraphicsPipeline(device Handle, info GraphicsPipelineCreateInfo) (Handle, vk.Result) {
	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, s := range info.Stages {
		entry := s.EntryPoint
		if entry == "" {
			entry = "main"
		}
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  s.Stage,
			Module: lookup[vk.ShaderModule](d, s.Module),
			PName:  VulkanSafeString(entry),
		}
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(info.Attributes))
	for i, a := range info.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Binding:  0,
			Location: a.Location,
			Format:   a.Format,
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    info.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               info.Topology,
		PrimitiveRestartEnable: vk.False,
	}

	// Viewport state
	width, height := float32(info.ViewportExtent.Width), float32(info.ViewportExtent.Height)
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports: []vk.Viewport{{
			X:        0,
			Y:        height,
			Width:    width,
			Height:   -height,
			MinDepth: 0,
			MaxDepth: 1,
		}},
		ScissorCount: 1,
		PScissors: []vk.Rect2D{{
			Extent: vk.Extent2D{Width: info.ViewportExtent.Width, Height: info.ViewportExtent.Height},
		}},
	}

	// Rasterizer
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             info.PolygonMode,
		LineWidth:               info.LineWidth,
		CullMode:                info.CullMode,
		FrontFace:               info.FrontFace,
		DepthBiasEnable:         vk.False,
	}
	if info.RasterizerOffset {
		rasterizer.DepthBiasEnable = vk.True
	}

	// Multisampling.
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp:        info.DepthCompare,
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vk.False,
	}
	if info.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if info.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blendAttachment := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: info.SrcColorBlend,
		DstColorBlendFactor: info.DstColorBlend,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: info.SrcAlphaBlend,
		DstAlphaBlendFactor: info.DstAlphaBlend,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit,
		),
	}
	if info.BlendEnable {
		blendAttachment.BlendEnable = vk.True
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blendAttachment},
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		Layout:              lookup[vk.PipelineLayout](d, info.Layout),
		RenderPass:          lookup[vk.RenderPass](d, info.RenderPass),
		Subpass:             0,
		BasePipelineIndex:   -1,
	}
	if len(info.DynamicStates) > 0 {
		createInfo.PDynamicState = &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(info.DynamicStates)),
			PDynamicStates:    info.DynamicStates,
		}
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.dev(device), vk.PipelineCache(vk.NullHandle), 1, []vk.GraphicsPipelineCreateInfo{createInfo}, nil, pipelines)
	if res != vk.Success {
		return NullHandle, res
	}
	return d.put(pipelines[0]), vk.Success
}

func (d *VulkanDriver) DestroyPipeline(device, pipeline Handle) {
	vk.DestroyPipeline(d.dev(device), lookup[vk.Pipeline](d, pipeline), nil)
	d.drop(pipeline)
}

func (d *VulkanDriver) cmd(cb Handle) vk.CommandBuffer { return lookup[vk.CommandBuffer](d, cb) }

func (d *VulkanDriver) CmdSetViewport(cb Handle, viewport Viewport) {
	vk.CmdSetViewport(d.cmd(cb), 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (d *VulkanDriver) CmdSetScissor(cb Handle, scissor Rect) {
	vk.CmdSetScissor(d.cmd(cb), 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: scissor.X, Y: scissor.Y},
		Extent: vk.Extent2D{Width: scissor.Width, Height: scissor.Height},
	}})
}

func (d *VulkanDriver) CmdBeginRenderPass(cb Handle, info RenderPassBeginInfo) {
	clearValues := []vk.ClearValue{vk.NewClearValue(info.ClearColor[:])}
	if info.ClearCount > 1 {
		clearValues = append(clearValues, vk.NewClearDepthStencil(info.ClearDepth, info.ClearStencil))
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  lookup[vk.RenderPass](d, info.RenderPass),
		Framebuffer: lookup[vk.Framebuffer](d, info.Framebuffer),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: info.Area.X, Y: info.Area.Y},
			Extent: vk.Extent2D{Width: info.Area.Width, Height: info.Area.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(d.cmd(cb), &beginInfo, vk.SubpassContentsInline)
}

func (d *VulkanDriver) CmdEndRenderPass(cb Handle) {
	vk.CmdEndRenderPass(d.cmd(cb))
}

func (d *VulkanDriver) CmdBindPipeline(cb, pipeline Handle) {
	vk.CmdBindPipeline(d.cmd(cb), vk.PipelineBindPointGraphics, lookup[vk.Pipeline](d, pipeline))
}

func (d *VulkanDriver) CmdBindDescriptorSets(cb, layout Handle, firstSet uint32, sets []Handle) {
	vk.CmdBindDescriptorSets(d.cmd(cb), vk.PipelineBindPointGraphics, lookup[vk.PipelineLayout](d, layout),
		firstSet, uint32(len(sets)), lookupAll[vk.DescriptorSet](d, sets), 0, nil)
}

func (d *VulkanDriver) CmdPushConstants(cb, layout Handle, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(d.cmd(cb), lookup[vk.PipelineLayout](d, layout), stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (d *VulkanDriver) CmdBindVertexBuffer(cb, buffer Handle, offset uint64) {
	vk.CmdBindVertexBuffers(d.cmd(cb), 0, 1, []vk.Buffer{lookup[vk.Buffer](d, buffer)}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (d *VulkanDriver) CmdBindIndexBuffer(cb, buffer Handle, offset uint64) {
	vk.CmdBindIndexBuffer(d.cmd(cb), lookup[vk.Buffer](d, buffer), vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (d *VulkanDriver) CmdDraw(cb Handle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(d.cmd(cb), vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *VulkanDriver) CmdDrawIndexed(cb Handle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(d.cmd(cb), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (d *VulkanDriver) CmdCopyBuffer(cb, src, dst Handle, region BufferCopy) {
	vk.CmdCopyBuffer(d.cmd(cb), lookup[vk.Buffer](d, src), lookup[vk.Buffer](d, dst), 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(region.SrcOffset),
		DstOffset: vk.DeviceSize(region.DstOffset),
		Size:      vk.DeviceSize(region.Size),
	}})
}

func (d *VulkanDriver) CmdCopyBufferToImage(cb, buffer, image Handle, width, height uint32) {
	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(d.cmd(cb), lookup[vk.Buffer](d, buffer), lookup[vk.Image](d, image),
		vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (d *VulkanDriver) CmdPipelineBarrier(cb Handle, barrier ImageBarrier) {
	native := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           barrier.OldLayout,
		NewLayout:           barrier.NewLayout,
		SrcAccessMask:       barrier.SrcAccess,
		DstAccessMask:       barrier.DstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               lookup[vk.Image](d, barrier.Image),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     barrier.Aspect,
			BaseMipLevel:   barrier.BaseMip,
			LevelCount:     max(barrier.MipCount, 1),
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdPipelineBarrier(d.cmd(cb), barrier.SrcStage, barrier.DstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{native})
}

func (d *VulkanDriver) CmdBlitImage(cb, image Handle, blit ImageBlit) {
	native := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       blit.SrcMip,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		SrcOffsets: [2]vk.Offset3D{{}, {X: blit.SrcWidth, Y: blit.SrcHeight, Z: 1}},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       blit.DstMip,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		DstOffsets: [2]vk.Offset3D{{}, {X: blit.DstWidth, Y: blit.DstHeight, Z: 1}},
	}
	img := lookup[vk.Image](d, image)
	vk.CmdBlitImage(d.cmd(cb), img, vk.ImageLayoutTransferSrcOptimal, img, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{native}, vk.FilterLinear)
}

var _ Driver = (*VulkanDriver)(nil)
var _ Driver = (*HeadlessDriver)(nil)
