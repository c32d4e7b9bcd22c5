package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineStateMapping(t *testing.T) {
	assert.Equal(t, vk.CullModeFlags(vk.CullModeBackBit), cullModeFlags(metadata.CullModeBack))
	assert.Equal(t, vk.CullModeFlags(vk.CullModeNone), cullModeFlags(metadata.CullModeNone))
	assert.Equal(t, vk.CompareOpLess, compareOp(metadata.CompareOpLess))
	assert.Equal(t, vk.CompareOpAlways, compareOp(metadata.CompareOpAlways))
	assert.Equal(t, vk.PrimitiveTopologyLineList, primitiveTopology(metadata.TopologyLineList))
	assert.Equal(t, vk.FormatR32g32b32Sfloat, attributeFormat(metadata.ShaderAttribTypeFloat32_3))
	assert.Equal(t,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit),
		shaderStageFlags(metadata.ShaderStageVertex|metadata.ShaderStageFragment))
	assert.Equal(t,
		[]vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
		dynamicStates(metadata.DynamicStateViewport|metadata.DynamicStateScissor))
}

func TestPipelineRejectsOversizedPushConstants(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	live := driver.LiveObjects()

	_, err := NewGraphicsPipeline(ctx, VulkanPipelineConfig{
		Renderpass:         ctx.MainRenderPass(),
		PushConstantRanges: []PushConstantRange{{Offset: 64, Size: 128}},
	})
	assert.Error(t, err)

	_, err = NewGraphicsPipeline(ctx, VulkanPipelineConfig{
		Renderpass:         ctx.MainRenderPass(),
		PushConstantRanges: make([]PushConstantRange, maxPushConstantRanges+1),
	})
	assert.Error(t, err)
	assert.Equal(t, live, driver.LiveObjects())
}

func TestPipelineWithoutStagesLeavesNothingBehind(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	live := driver.LiveObjects()

	_, err := NewGraphicsPipeline(ctx, VulkanPipelineConfig{Renderpass: ctx.MainRenderPass()})
	require.Error(t, err)
	assert.Equal(t, live, driver.LiveObjects())
}

func TestPipelineBindNeedsRecording(t *testing.T) {
	ctx, _ := newTestContext(t, HeadlessConfig{})
	shader, _ := newTestShader(t, ctx, 1)

	cb, err := NewVulkanCommandBuffer(ctx, ctx.Device().GraphicsCommandPool, true)
	require.NoError(t, err)
	defer cb.Free()
	assert.True(t, errors.Is(shader.Pipeline.Bind(cb), core.ErrContractViolation))
}
