package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in_render_pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording_ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED:
		return "not_allocated"
	}
	return "unknown"
}

type VulkanCommandBuffer struct {
	Handle Handle
	// Command buffer state.
	State VulkanCommandBufferState

	context *GraphicsContext
	pool    Handle
}

func NewVulkanCommandBuffer(context *GraphicsContext, pool Handle, isPrimary bool) (*VulkanCommandBuffer, error) {
	cb := &VulkanCommandBuffer{
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		context: context,
		pool:    pool,
	}
	var handles []Handle
	err := context.locks.SafeCall(CommandPoolManagement, func() error {
		var res vk.Result
		handles, res = context.driver.AllocateCommandBuffers(context.device.LogicalDevice, pool, isPrimary, 1)
		return logResult(res, "vkAllocateCommandBuffers")
	})
	if err != nil {
		return nil, err
	}
	cb.Handle = handles[0]
	cb.State = COMMAND_BUFFER_STATE_READY
	return cb, nil
}

// violation logs a state machine misuse and returns ErrContractViolation.
func (v *VulkanCommandBuffer) violation(op string, want ...VulkanCommandBufferState) error {
	core.Assert(false, "command buffer %s: not allowed in state %s (want %v)", op, v.State, want)
	return errors.Wrapf(core.ErrContractViolation, "command buffer %s in state %s", op, v.State)
}

// Recording reports whether commands may be recorded right now.
func (v *VulkanCommandBuffer) Recording() bool {
	return v.State == COMMAND_BUFFER_STATE_RECORDING || v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) Free() {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	_ = v.context.locks.SafeCall(CommandPoolManagement, func() error {
		v.context.driver.FreeCommandBuffers(v.context.device.LogicalDevice, v.pool, []Handle{v.Handle})
		return nil
	})
	v.Handle = NullHandle
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return v.violation("begin", COMMAND_BUFFER_STATE_READY)
	}
	var flags vk.CommandBufferUsageFlags
	if isSingleUse {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	if err := logResult(v.context.driver.BeginCommandBuffer(v.Handle, flags), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

// SetState is used by the render pass to move between Recording and InRenderPass.
func (v *VulkanCommandBuffer) SetState(state VulkanCommandBufferState) error {
	switch state {
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		if v.State != COMMAND_BUFFER_STATE_RECORDING {
			return v.violation("begin render pass", COMMAND_BUFFER_STATE_RECORDING)
		}
	case COMMAND_BUFFER_STATE_RECORDING:
		if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
			return v.violation("end render pass", COMMAND_BUFFER_STATE_IN_RENDER_PASS)
		}
	default:
		return v.violation("set state "+state.String(), COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS)
	}
	v.State = state
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return v.violation("end", COMMAND_BUFFER_STATE_RECORDING)
	}
	if err := logResult(v.context.driver.EndCommandBuffer(v.Handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return v.violation("submit", COMMAND_BUFFER_STATE_RECORDING_ENDED)
	}
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
	return nil
}

// Reset puts the buffer back into the Ready state whatever it was doing.
// The caller guarantees the GPU is done with it.
func (v *VulkanCommandBuffer) Reset() {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		core.LogWarn("command buffer reset before allocation")
		return
	}
	if res := v.context.driver.ResetCommandBuffer(v.Handle); res != vk.Success {
		core.LogWarn("vkResetCommandBuffer: %s", VulkanResultString(res, false))
	}
	v.State = COMMAND_BUFFER_STATE_READY
}

// AllocateAndBeginSingleUse allocates a primary command buffer from pool and
// begins recording it with one time submit semantics.
func AllocateAndBeginSingleUse(context *GraphicsContext, pool Handle) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false, false); err != nil {
		cb.Free()
		return nil, err
	}
	return cb, nil
}

// EndSingleUse ends recording, submits to queue, waits for the queue to go
// idle and frees the command buffer.
func (v *VulkanCommandBuffer) EndSingleUse(queueFamily uint32, queue Handle) error {
	defer v.Free()
	if err := v.End(); err != nil {
		return err
	}
	return v.context.locks.SafeQueueCall(queueFamily, func() error {
		submit := SubmitInfo{CommandBuffers: []Handle{v.Handle}}
		if err := logResult(v.context.driver.QueueSubmit(queue, submit, NullHandle), "vkQueueSubmit"); err != nil {
			return err
		}
		v.State = COMMAND_BUFFER_STATE_SUBMITTED
		return logResult(v.context.driver.QueueWaitIdle(queue), "vkQueueWaitIdle")
	})
}
