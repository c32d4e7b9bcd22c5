package vulkan

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBufferStateMachine(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	pool := ctx.Device().GraphicsCommandPool

	cb, err := NewVulkanCommandBuffer(ctx, pool, true)
	require.NoError(t, err)
	defer cb.Free()
	assert.Equal(t, COMMAND_BUFFER_STATE_READY, cb.State)

	// Only Begin leaves Ready.
	assert.True(t, errors.Is(cb.End(), core.ErrContractViolation))
	assert.True(t, errors.Is(cb.UpdateSubmitted(), core.ErrContractViolation))
	assert.True(t, errors.Is(cb.SetState(COMMAND_BUFFER_STATE_IN_RENDER_PASS), core.ErrContractViolation))

	require.NoError(t, cb.Begin(false, false, false))
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, cb.State)
	assert.True(t, cb.Recording())
	assert.True(t, errors.Is(cb.Begin(false, false, false), core.ErrContractViolation))

	require.NoError(t, cb.SetState(COMMAND_BUFFER_STATE_IN_RENDER_PASS))
	assert.True(t, cb.Recording())
	// Ending inside a render pass is not allowed.
	assert.True(t, errors.Is(cb.End(), core.ErrContractViolation))
	require.NoError(t, cb.SetState(COMMAND_BUFFER_STATE_RECORDING))

	require.NoError(t, cb.End())
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING_ENDED, cb.State)
	assert.False(t, cb.Recording())
	require.NoError(t, cb.UpdateSubmitted())
	assert.Equal(t, COMMAND_BUFFER_STATE_SUBMITTED, cb.State)
	assert.True(t, errors.Is(cb.Begin(false, false, false), core.ErrContractViolation))

	assert.Empty(t, driver.Violations())
}

func TestCommandBufferResetFromAnyState(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	pool := ctx.Device().GraphicsCommandPool

	advance := []func(cb *VulkanCommandBuffer){
		func(cb *VulkanCommandBuffer) {},
		func(cb *VulkanCommandBuffer) { require.NoError(t, cb.Begin(false, false, false)) },
		func(cb *VulkanCommandBuffer) { require.NoError(t, cb.SetState(COMMAND_BUFFER_STATE_IN_RENDER_PASS)) },
		func(cb *VulkanCommandBuffer) { require.NoError(t, cb.SetState(COMMAND_BUFFER_STATE_RECORDING)) },
		func(cb *VulkanCommandBuffer) { require.NoError(t, cb.End()) },
		func(cb *VulkanCommandBuffer) { require.NoError(t, cb.UpdateSubmitted()) },
	}
	for n := range advance {
		cb, err := NewVulkanCommandBuffer(ctx, pool, true)
		require.NoError(t, err)
		for _, step := range advance[:n+1] {
			step(cb)
		}
		from := cb.State
		cb.Reset()
		assert.Equal(t, COMMAND_BUFFER_STATE_READY, cb.State, "reset from %s", from)
		require.NoError(t, cb.Begin(true, false, false))
		cb.Reset()
		cb.Free()
		assert.Equal(t, COMMAND_BUFFER_STATE_NOT_ALLOCATED, cb.State)
	}
	assert.Empty(t, driver.Violations())
}

func TestSingleUseCommandBufferRoundTrip(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	device := ctx.Device()

	before := driver.LiveObjects()["command_buffer"]
	cb, err := AllocateAndBeginSingleUse(ctx, device.GraphicsCommandPool)
	require.NoError(t, err)
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, cb.State)

	require.NoError(t, cb.EndSingleUse(uint32(device.GraphicsQueueIndex), device.GraphicsQueue))
	assert.Equal(t, COMMAND_BUFFER_STATE_NOT_ALLOCATED, cb.State)
	assert.Equal(t, before, driver.LiveObjects()["command_buffer"])
	assert.Zero(t, driver.PendingSubmissions())
	assert.Empty(t, driver.Violations())
}

func TestCommandBufferStateNames(t *testing.T) {
	assert.Equal(t, "in_render_pass", COMMAND_BUFFER_STATE_IN_RENDER_PASS.String())
	assert.Equal(t, "unknown", VulkanCommandBufferState(42).String())
}
