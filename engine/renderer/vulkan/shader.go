package vulkan

import (
	"encoding/binary"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// InvalidGeneration marks descriptor state that was never written.
const InvalidGeneration = ^uint32(0)

const (
	globalSetIndex uint32 = 0
	objectSetIndex uint32 = 1
)

// Per object state: one descriptor set per swapchain image and the material
// generation each of them was last written with.
type shaderObjectState struct {
	descriptorSets []Handle
	generations    []uint32
	// Host copy of the object uniform block.
	data []byte
}

// VulkanShader owns the pipeline built from a ShaderDescription together with
// its descriptor layouts, pools and sets and the uniform buffer backing the
// global and object uniform blocks.
//
// The uniform buffer holds one region per swapchain image laid out as
// [global | object 0 | object 1 | ... | object MaxObjects-1], every block
// aligned to the device's minimum uniform buffer offset alignment.
type VulkanShader struct {
	Name        string
	Description metadata.ShaderDescription
	Pipeline    *VulkanPipeline

	modules []Handle
	stages  []ShaderStageInfo

	globalLayout Handle
	objectLayout Handle
	globalPool   Handle
	objectPool   Handle

	globalSets        []Handle
	globalGenerations []uint32
	// Bumped every time a global texture changes.
	globalGeneration uint32
	globalTextures   map[string]metadata.Texture
	globalData       []byte

	UniformBuffer *VulkanBuffer
	globalSize    uint64
	objectSize    uint64
	globalStride  uint64
	objectStride  uint64
	imageStride   uint64
	imageCount    uint32

	uniforms       map[string]metadata.ShaderUniformConfig
	objects        *core.Arena[shaderObjectState]
	boundScope     metadata.ShaderScope
	boundObject    core.ID
	defaultTexture metadata.Texture

	unsubscribe func()
	context     *GraphicsContext
}

// NewShader builds a shader from desc. code holds the SPIR-V of every stage
// named in desc; a missing or rejected stage is a FatalShaderCompile error.
// Samplers nothing was assigned to read defaultTexture.
func NewShader(context *GraphicsContext, desc metadata.ShaderDescription, code map[metadata.ShaderStage][]uint32, defaultTexture metadata.Texture) (*VulkanShader, error) {
	desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, errors.Wrap(core.ErrContractViolation, err.Error())
	}
	for _, scope := range []metadata.ShaderScope{metadata.ShaderScopeGlobal, metadata.ShaderScopeObject} {
		count := 0
		for _, sampler := range desc.Samplers {
			if sampler.Scope == scope {
				count++
			}
		}
		if count > int(VULKAN_SHADER_MAX_SAMPLERS) {
			return nil, errors.Wrapf(core.ErrContractViolation, "shader %s declares %d samplers in one scope, the maximum is %d", desc.Name, count, VULKAN_SHADER_MAX_SAMPLERS)
		}
	}

	s := &VulkanShader{
		Name:           desc.Name,
		Description:    desc,
		globalTextures: make(map[string]metadata.Texture),
		uniforms:       make(map[string]metadata.ShaderUniformConfig),
		objects:        core.NewArena[shaderObjectState](desc.MaxObjects),
		boundScope:     metadata.ShaderScopeGlobal,
		boundObject:    core.InvalidID,
		defaultTexture: defaultTexture,
		context:        context,
	}
	for _, u := range desc.Uniforms {
		s.uniforms[u.Name] = u
	}

	if err := s.createModules(code); err != nil {
		s.Destroy()
		return nil, err
	}
	if err := s.createLayouts(); err != nil {
		s.Destroy()
		return nil, err
	}
	if err := s.createDescriptorResources(context.ImageCount()); err != nil {
		s.Destroy()
		return nil, err
	}
	if err := s.createPipeline(); err != nil {
		s.Destroy()
		return nil, err
	}

	s.unsubscribe = context.OnSwapchainRecreated(s.onSwapchainRecreated)
	core.LogDebug("shader %s created (%d stages, max %d objects)", s.Name, len(s.stages), desc.MaxObjects)
	return s, nil
}

func (s *VulkanShader) createModules(code map[metadata.ShaderStage][]uint32) error {
	d := s.context.driver
	device := s.context.device.LogicalDevice
	for _, stage := range s.Description.Stages {
		words, ok := code[stage.Stage]
		if !ok || len(words) == 0 {
			return core.NewFatalError(core.FatalShaderCompile, errors.Errorf("shader %s: no code for %s stage", s.Name, stage.Stage))
		}
		module, res := d.CreateShaderModule(device, words)
		if !VulkanResultIsSuccess(res) {
			core.LogError("shader %s: %s stage module rejected: %s", s.Name, stage.Stage, VulkanResultString(res, true))
			return core.NewFatalError(core.FatalShaderCompile, resultError(res, "vkCreateShaderModule"))
		}
		s.modules = append(s.modules, module)
		s.stages = append(s.stages, ShaderStageInfo{
			Stage:      vk.ShaderStageFlagBits(shaderStageFlags(stage.Stage)),
			Module:     module,
			EntryPoint: stage.EntryPoint,
		})
	}
	return nil
}

func (s *VulkanShader) scopeBindings(scope metadata.ShaderScope) []DescriptorBinding {
	bindings := []DescriptorBinding{{
		Binding: metadata.UniformBlockBinding,
		Type:    vk.DescriptorTypeUniformBuffer,
		Count:   1,
		Stages:  shaderStageFlags(s.Description.BlockStages(scope) | metadata.ShaderStageVertex | metadata.ShaderStageFragment),
	}}
	for _, sampler := range s.Description.SamplersIn(scope) {
		bindings = append(bindings, DescriptorBinding{
			Binding: sampler.Binding,
			Type:    vk.DescriptorTypeCombinedImageSampler,
			Count:   1,
			Stages:  shaderStageFlags(sampler.Stages),
		})
	}
	return bindings
}

func (s *VulkanShader) createLayouts() error {
	d := s.context.driver
	device := s.context.device.LogicalDevice

	layout, res := d.CreateDescriptorSetLayout(device, s.scopeBindings(metadata.ShaderScopeGlobal))
	if err := logResult(res, "vkCreateDescriptorSetLayout"); err != nil {
		return err
	}
	s.globalLayout = layout

	layout, res = d.CreateDescriptorSetLayout(device, s.scopeBindings(metadata.ShaderScopeObject))
	if err := logResult(res, "vkCreateDescriptorSetLayout"); err != nil {
		return err
	}
	s.objectLayout = layout
	return nil
}

// createDescriptorResources creates the pools, the global sets and the
// uniform buffer sized for imageCount swapchain images.
func (s *VulkanShader) createDescriptorResources(imageCount uint32) error {
	d := s.context.driver
	device := s.context.device.LogicalDevice
	desc := &s.Description
	s.imageCount = imageCount

	globalSamplers := uint32(len(desc.SamplersIn(metadata.ShaderScopeGlobal)))
	objectSamplers := uint32(len(desc.SamplersIn(metadata.ShaderScopeObject)))

	// Global descriptor pool: used for global items such as view/projection matrix.
	sizes := []DescriptorPoolSize{{Type: vk.DescriptorTypeUniformBuffer, Count: imageCount}}
	if globalSamplers > 0 {
		sizes = append(sizes, DescriptorPoolSize{Type: vk.DescriptorTypeCombinedImageSampler, Count: globalSamplers * imageCount})
	}
	err := s.context.locks.SafeCall(DescriptorManagement, func() error {
		pool, res := d.CreateDescriptorPool(device, sizes, imageCount)
		if err := logResult(res, "vkCreateDescriptorPool"); err != nil {
			return err
		}
		s.globalPool = pool

		// Object descriptor pool: one set per object per image.
		maxSets := desc.MaxObjects * imageCount
		sizes := []DescriptorPoolSize{{Type: vk.DescriptorTypeUniformBuffer, Count: maxSets}}
		if objectSamplers > 0 {
			sizes = append(sizes, DescriptorPoolSize{Type: vk.DescriptorTypeCombinedImageSampler, Count: objectSamplers * maxSets})
		}
		pool, res = d.CreateDescriptorPool(device, sizes, maxSets)
		if err := logResult(res, "vkCreateDescriptorPool"); err != nil {
			return err
		}
		s.objectPool = pool

		layouts := make([]Handle, imageCount)
		for i := range layouts {
			layouts[i] = s.globalLayout
		}
		sets, res := d.AllocateDescriptorSets(device, s.globalPool, layouts)
		if err := logResult(res, "vkAllocateDescriptorSets"); err != nil {
			return err
		}
		s.globalSets = sets
		return nil
	})
	if err != nil {
		return err
	}
	s.globalGenerations = make([]uint32, imageCount)
	for i := range s.globalGenerations {
		s.globalGenerations[i] = InvalidGeneration
	}

	alignment := max(s.context.device.PhysicalDevice.MinUniformBufferOffsetAlignment, 1)
	s.globalSize = uint64(desc.BlockSize(metadata.ShaderScopeGlobal))
	s.objectSize = uint64(desc.BlockSize(metadata.ShaderScopeObject))
	s.globalStride = math.AlignUp(max(s.globalSize, 1), alignment)
	s.objectStride = math.AlignUp(max(s.objectSize, 1), alignment)
	s.imageStride = s.globalStride + uint64(desc.MaxObjects)*s.objectStride
	if s.globalData == nil {
		s.globalData = make([]byte, s.globalSize)
	}

	buffer, err := NewBuffer(s.context, s.imageStride*uint64(imageCount),
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit|vk.BufferUsageUniformBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
		true)
	if err != nil {
		return errors.Wrapf(err, "shader %s: creating uniform buffer", s.Name)
	}
	s.UniformBuffer = buffer
	return nil
}

func (s *VulkanShader) destroyDescriptorResources() {
	d := s.context.driver
	device := s.context.device.LogicalDevice
	if s.UniformBuffer != nil {
		s.UniformBuffer.Destroy()
		s.UniformBuffer = nil
	}
	_ = s.context.locks.SafeCall(DescriptorManagement, func() error {
		// Destroying a pool frees every set allocated from it.
		if s.globalPool != NullHandle {
			d.DestroyDescriptorPool(device, s.globalPool)
			s.globalPool = NullHandle
		}
		if s.objectPool != NullHandle {
			d.DestroyDescriptorPool(device, s.objectPool)
			s.objectPool = NullHandle
		}
		return nil
	})
	s.globalSets = nil
	s.globalGenerations = nil
}

func (s *VulkanShader) createPipeline() error {
	desc := &s.Description
	var attributes []VertexAttribute
	var offset uint32
	for i, a := range desc.Attributes {
		attributes = append(attributes, VertexAttribute{
			Location: uint32(i),
			Format:   attributeFormat(a.Type),
			Offset:   offset,
		})
		offset += a.Type.Size()
	}

	var pushConstants []PushConstantRange
	if size := desc.BlockSize(metadata.ShaderScopeLocal); size > 0 {
		pushConstants = append(pushConstants, PushConstantRange{
			Stages: shaderStageFlags(desc.BlockStages(metadata.ShaderScopeLocal)),
			Offset: 0,
			Size:   math.AlignUp(size, 4),
		})
	}

	extent := s.context.swapchain.Extent
	pipeline, err := NewGraphicsPipeline(s.context, VulkanPipelineConfig{
		Renderpass:           s.context.mainRenderpass,
		Stride:               desc.AttributeStride(),
		Attributes:           attributes,
		DescriptorSetLayouts: []Handle{s.globalLayout, s.objectLayout},
		Stages:               s.stages,
		Viewport:             extent,
		CullMode:             desc.CullMode,
		FillMode:             desc.FillMode,
		CounterClockwise:     desc.CounterClockwise,
		Blend:                desc.Blend,
		DepthTest:            desc.DepthTest,
		DepthWrite:           desc.DepthWrite,
		DepthCompare:         desc.DepthCompare,
		Topology:             desc.Topology,
		DynamicState:         desc.DynamicState,
		PushConstantRanges:   pushConstants,
	})
	if err != nil {
		core.LogError("shader %s: failed to create graphics pipeline: %s", s.Name, err)
		return err
	}
	s.Pipeline = pipeline
	return nil
}

// Destroy releases everything the shader owns. Objects still acquired lose
// their descriptor sets with the pool.
func (s *VulkanShader) Destroy() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	d := s.context.driver
	device := s.context.device.LogicalDevice
	if err := s.context.device.WaitIdle(); err != nil {
		core.LogWarn("shader %s destroy: %s", s.Name, err)
	}

	if s.Pipeline != nil {
		s.Pipeline.Destroy()
		s.Pipeline = nil
	}
	s.destroyDescriptorResources()
	if s.globalLayout != NullHandle {
		d.DestroyDescriptorSetLayout(device, s.globalLayout)
		s.globalLayout = NullHandle
	}
	if s.objectLayout != NullHandle {
		d.DestroyDescriptorSetLayout(device, s.objectLayout)
		s.objectLayout = NullHandle
	}
	for _, m := range s.modules {
		d.DestroyShaderModule(device, m)
	}
	s.modules = nil
	s.stages = nil
	s.objects = core.NewArena[shaderObjectState](s.Description.MaxObjects)
}

// onSwapchainRecreated rebuilds the per image descriptor state when the
// number of swapchain images changed. The device is idle at this point.
func (s *VulkanShader) onSwapchainRecreated(context *GraphicsContext) {
	count := context.ImageCount()
	if count == s.imageCount {
		return
	}
	core.LogDebug("shader %s: swapchain image count %d -> %d, rebuilding descriptors", s.Name, s.imageCount, count)

	// Object uniform data lives on the host too, so nothing is lost here.
	s.destroyDescriptorResources()
	if err := s.createDescriptorResources(count); err != nil {
		core.LogError("shader %s: rebuilding descriptors: %s", s.Name, err)
		return
	}
	s.objects.Each(func(id core.ID, obj *shaderObjectState) {
		sets, err := s.allocateObjectSets()
		if err != nil {
			core.LogError("shader %s: reallocating sets of object %s: %s", s.Name, id, err)
			obj.descriptorSets = nil
			obj.generations = nil
			return
		}
		obj.descriptorSets = sets
		obj.generations = invalidGenerations(count)
	})
}

func invalidGenerations(n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = InvalidGeneration
	}
	return out
}

// ImageCount is the number of swapchain images the descriptor state is sized for.
func (s *VulkanShader) ImageCount() uint32 {
	return s.imageCount
}

// Use binds the pipeline into the command buffer of the current frame.
func (s *VulkanShader) Use() error {
	return s.Pipeline.Bind(s.context.CommandBuffer())
}

// BindGlobal makes following uniform writes target the global scope.
func (s *VulkanShader) BindGlobal() {
	s.boundScope = metadata.ShaderScopeGlobal
	s.boundObject = core.InvalidID
}

// BindObject makes following object uniform writes target id.
func (s *VulkanShader) BindObject(id core.ID) error {
	if !s.objects.Contains(id) {
		core.LogError("shader %s: bind of invalid object %s", s.Name, id)
		return errors.Wrapf(core.ErrInvalidHandle, "shader %s: object %s", s.Name, id)
	}
	s.boundScope = metadata.ShaderScopeObject
	s.boundObject = id
	return nil
}

// encodeUniform lays value out the way the GPU reads it: little endian, no
// padding. Raw byte slices are taken as they are.
func encodeUniform(value any) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}
	return binary.Append(nil, binary.LittleEndian, value)
}

// SetUniform writes value into the uniform called name. Global and object
// values are kept on the host until UpdateGlobalState or UpdateObject copies
// them into the current image's region; object values need a BindObject
// first. Local values are pushed into the current command buffer right away.
func (s *VulkanShader) SetUniform(name string, value any) error {
	u, ok := s.uniforms[name]
	if !ok {
		core.LogError("shader %s: no uniform named %s", s.Name, name)
		return errors.Wrapf(core.ErrUniformNotFound, "shader %s: %s", s.Name, name)
	}
	data, err := encodeUniform(value)
	if err != nil {
		return errors.Wrapf(err, "shader %s: encoding uniform %s", s.Name, name)
	}
	if uint32(len(data)) != u.Size {
		core.LogError("shader %s: uniform %s expects %d bytes, got %d", s.Name, name, u.Size, len(data))
		return errors.Wrapf(core.ErrUniformSize, "shader %s: %s is %d bytes, got %d", s.Name, name, u.Size, len(data))
	}

	switch u.Scope {
	case metadata.ShaderScopeLocal:
		cb := s.context.CommandBuffer()
		if !cb.Recording() {
			return cb.violation("push constants", COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS)
		}
		stages := shaderStageFlags(s.Description.BlockStages(metadata.ShaderScopeLocal))
		s.context.driver.CmdPushConstants(cb.Handle, s.Pipeline.PipelineLayout, stages, u.Offset, data)
	case metadata.ShaderScopeGlobal:
		copy(s.globalData[u.Offset:], data)
	case metadata.ShaderScopeObject:
		if s.boundScope != metadata.ShaderScopeObject {
			core.Assert(false, "shader %s: object uniform %s set without a bound object", s.Name, name)
			return errors.Wrapf(core.ErrContractViolation, "shader %s: no object bound for %s", s.Name, name)
		}
		obj, err := s.objects.Get(s.boundObject)
		if err != nil {
			core.LogError("shader %s: bound object %s is gone", s.Name, s.boundObject)
			return err
		}
		copy(obj.data[u.Offset:], data)
	}
	return nil
}

// HasUniform reports whether the description declares a uniform called name.
func (s *VulkanShader) HasUniform(name string) bool {
	_, ok := s.uniforms[name]
	return ok
}

func (s *VulkanShader) samplerByName(name string) (metadata.ShaderSamplerConfig, bool) {
	for _, sampler := range s.Description.Samplers {
		if sampler.Name == name {
			return sampler, true
		}
	}
	return metadata.ShaderSamplerConfig{}, false
}

// SetTexture assigns texture to the global sampler called name. The global
// descriptor sets pick it up at their next UpdateGlobalState.
func (s *VulkanShader) SetTexture(name string, texture metadata.Texture) error {
	sampler, ok := s.samplerByName(name)
	if !ok || sampler.Scope != metadata.ShaderScopeGlobal {
		core.LogError("shader %s: no global sampler named %s", s.Name, name)
		return errors.Wrapf(core.ErrUniformNotFound, "shader %s: sampler %s", s.Name, name)
	}
	s.globalTextures[name] = texture
	s.globalGeneration++
	return nil
}

func (s *VulkanShader) textureOr(texture metadata.Texture, ok bool) metadata.Texture {
	if ok && texture != nil {
		return texture
	}
	return s.defaultTexture
}

func (s *VulkanShader) samplerWrites(set Handle, scope metadata.ShaderScope, textures map[string]metadata.Texture) []DescriptorWrite {
	var writes []DescriptorWrite
	for _, sampler := range s.Description.SamplersIn(scope) {
		texture, ok := textures[sampler.Name]
		texture = s.textureOr(texture, ok)
		if texture == nil {
			core.LogWarn("shader %s: sampler %s has no texture and no default", s.Name, sampler.Name)
			continue
		}
		writes = append(writes, DescriptorWrite{
			Set:     set,
			Binding: sampler.Binding,
			Type:    vk.DescriptorTypeCombinedImageSampler,
			View:    texture.ImageView(),
			Sampler: texture.Sampler(),
		})
	}
	return writes
}

func (s *VulkanShader) globalOffset(image uint32) uint64 {
	return uint64(image) * s.imageStride
}

func (s *VulkanShader) objectOffset(image uint32, id core.ID) uint64 {
	return uint64(image)*s.imageStride + s.globalStride + uint64(id.Index)*s.objectStride
}

func (s *VulkanShader) recordingCommandBuffer(op string) (*VulkanCommandBuffer, error) {
	cb := s.context.CommandBuffer()
	if !cb.Recording() {
		return nil, cb.violation(op, COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS)
	}
	return cb, nil
}

// UpdateGlobalState copies the global uniform block into the current image's
// region, refreshes the image's global descriptor set if a global texture
// changed and binds it as set 0.
func (s *VulkanShader) UpdateGlobalState() error {
	cb, err := s.recordingCommandBuffer("update global state")
	if err != nil {
		return err
	}
	image := s.context.ImageIndex()
	offset := s.globalOffset(image)
	if s.globalSize > 0 {
		if err := s.UniformBuffer.LoadData(offset, s.globalSize, 0, s.globalData); err != nil {
			return err
		}
	}

	set := s.globalSets[image]
	if s.globalGenerations[image] != s.globalGeneration {
		writes := []DescriptorWrite{{
			Set:     set,
			Binding: metadata.UniformBlockBinding,
			Type:    vk.DescriptorTypeUniformBuffer,
			Buffer:  s.UniformBuffer.Handle,
			Offset:  offset,
			Range:   s.globalStride,
		}}
		writes = append(writes, s.samplerWrites(set, metadata.ShaderScopeGlobal, s.globalTextures)...)
		s.context.driver.UpdateDescriptorSets(s.context.device.LogicalDevice, writes)
		s.globalGenerations[image] = s.globalGeneration
	}

	s.context.driver.CmdBindDescriptorSets(cb.Handle, s.Pipeline.PipelineLayout, globalSetIndex, []Handle{set})
	return nil
}

// UpdateObject copies the material's object uniform block into its slot of
// the current image's region and binds its descriptor set as set 1. The
// set's descriptors are only rewritten when the material generation differs
// from the one they were last written with for this image.
func (s *VulkanShader) UpdateObject(material *metadata.Material) error {
	obj, err := s.objects.Get(material.ObjectID)
	if err != nil {
		core.LogError("shader %s: update of material %s with invalid object handle %s", s.Name, material.Name, material.ObjectID)
		return err
	}
	if len(obj.descriptorSets) == 0 {
		return errors.Wrapf(core.ErrInvalidHandle, "shader %s: object %s lost its descriptor sets", s.Name, material.ObjectID)
	}
	cb, err := s.recordingCommandBuffer("update object")
	if err != nil {
		return err
	}

	image := s.context.ImageIndex()
	offset := s.objectOffset(image, material.ObjectID)
	if s.objectSize > 0 {
		if err := s.UniformBuffer.LoadData(offset, s.objectSize, 0, obj.data); err != nil {
			return err
		}
	}

	set := obj.descriptorSets[image]
	if obj.generations[image] != material.Generation {
		writes := []DescriptorWrite{{
			Set:     set,
			Binding: metadata.UniformBlockBinding,
			Type:    vk.DescriptorTypeUniformBuffer,
			Buffer:  s.UniformBuffer.Handle,
			Offset:  offset,
			Range:   s.objectStride,
		}}
		writes = append(writes, s.samplerWrites(set, metadata.ShaderScopeObject, material.Textures)...)
		s.context.driver.UpdateDescriptorSets(s.context.device.LogicalDevice, writes)
		obj.generations[image] = material.Generation
	}

	s.context.driver.CmdBindDescriptorSets(cb.Handle, s.Pipeline.PipelineLayout, objectSetIndex, []Handle{set})
	return nil
}

func (s *VulkanShader) allocateObjectSets() ([]Handle, error) {
	layouts := make([]Handle, s.imageCount)
	for i := range layouts {
		layouts[i] = s.objectLayout
	}
	var sets []Handle
	err := s.context.locks.SafeCall(DescriptorManagement, func() error {
		var res vk.Result
		sets, res = s.context.driver.AllocateDescriptorSets(s.context.device.LogicalDevice, s.objectPool, layouts)
		switch res {
		case vk.Success:
			return nil
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			return errors.Wrapf(core.ErrCapacityExceeded, "shader %s: object descriptor pool exhausted", s.Name)
		default:
			return logResult(res, "vkAllocateDescriptorSets")
		}
	})
	return sets, err
}

// AcquireResources reserves an object slot for material and allocates its
// descriptor sets. The slot ID is stored in material.ObjectID. Fails with
// core.ErrCapacityExceeded once MaxObjects objects are live.
func (s *VulkanShader) AcquireResources(material *metadata.Material) (core.ID, error) {
	if s.objects.Contains(material.ObjectID) {
		core.LogWarn("shader %s: material %s (%s) already holds object %s", s.Name, material.Name, material.ID, material.ObjectID)
		return material.ObjectID, nil
	}
	if uint32(s.objects.Len()) >= s.objects.Capacity() {
		core.LogError("shader %s: cannot acquire more than %d objects", s.Name, s.objects.Capacity())
		return core.InvalidID, errors.Wrapf(core.ErrCapacityExceeded, "shader %s: max objects %d", s.Name, s.objects.Capacity())
	}

	sets, err := s.allocateObjectSets()
	if err != nil {
		return core.InvalidID, err
	}
	id, err := s.objects.Acquire(shaderObjectState{
		descriptorSets: sets,
		generations:    invalidGenerations(s.imageCount),
		data:           make([]byte, s.objectSize),
	})
	if err != nil {
		s.freeObjectSets(sets)
		return core.InvalidID, err
	}
	material.ObjectID = id
	return id, nil
}

func (s *VulkanShader) freeObjectSets(sets []Handle) {
	_ = s.context.locks.SafeCall(DescriptorManagement, func() error {
		return logResult(s.context.driver.FreeDescriptorSets(s.context.device.LogicalDevice, s.objectPool, sets), "vkFreeDescriptorSets")
	})
}

// ReleaseResources frees the material's descriptor sets and returns its slot
// for reuse. The released ID is stale from then on.
func (s *VulkanShader) ReleaseResources(material *metadata.Material) error {
	obj, err := s.objects.Get(material.ObjectID)
	if err != nil {
		core.LogError("shader %s: release of material %s (%s) with invalid object handle %s", s.Name, material.Name, material.ID, material.ObjectID)
		return err
	}
	// Wait for any pending operations using the descriptor sets to finish.
	if err := s.context.device.WaitIdle(); err != nil {
		return err
	}
	if len(obj.descriptorSets) > 0 {
		s.freeObjectSets(obj.descriptorSets)
	}
	if err := s.objects.Release(material.ObjectID); err != nil {
		return err
	}
	if s.boundObject == material.ObjectID {
		s.BindGlobal()
	}
	material.ObjectID = core.InvalidID
	return nil
}

// ObjectCount is the number of live objects.
func (s *VulkanShader) ObjectCount() int {
	return s.objects.Len()
}

// GlobalUniformData reads back the global block of the current image as last
// written by UpdateGlobalState.
func (s *VulkanShader) GlobalUniformData() ([]byte, error) {
	if s.globalSize == 0 {
		return nil, nil
	}
	return s.UniformBuffer.Read(s.globalOffset(s.context.ImageIndex()), s.globalSize)
}

// ObjectUniformData reads back the block of object id in the current image as
// last written by UpdateObject.
func (s *VulkanShader) ObjectUniformData(id core.ID) ([]byte, error) {
	if !s.objects.Contains(id) {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "shader %s: object %s", s.Name, id)
	}
	if s.objectSize == 0 {
		return nil, nil
	}
	return s.UniformBuffer.Read(s.objectOffset(s.context.ImageIndex(), id), s.objectSize)
}
