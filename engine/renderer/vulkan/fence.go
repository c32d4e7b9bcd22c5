package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

type VulkanFence struct {
	Handle     Handle
	IsSignaled bool

	context *GraphicsContext
}

func NewFence(context *GraphicsContext, createSignaled bool) (*VulkanFence, error) {
	h, res := context.driver.CreateFence(context.device.LogicalDevice, createSignaled)
	if err := logResult(res, "vkCreateFence"); err != nil {
		return nil, err
	}
	return &VulkanFence{
		Handle:     h,
		IsSignaled: createSignaled,
		context:    context,
	}, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != NullHandle {
		vf.context.driver.DestroyFence(vf.context.device.LogicalDevice, vf.Handle)
		vf.Handle = NullHandle
	}
	vf.IsSignaled = false
}

// Wait blocks until the fence signals or timeoutNs elapses. Failures are
// logged and reported as false so the caller can skip the frame.
func (vf *VulkanFence) Wait(timeoutNs uint64) bool {
	if vf.IsSignaled {
		// If already signaled, do not wait.
		return true
	}
	result := vf.context.driver.WaitForFence(vf.context.device.LogicalDevice, vf.Handle, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return true
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	case vk.ErrorOutOfHostMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_HOST_MEMORY.")
	case vk.ErrorOutOfDeviceMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_DEVICE_MEMORY.")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result, true))
	}
	return false
}

func (vf *VulkanFence) Reset() error {
	if !vf.IsSignaled {
		return nil
	}
	if err := logResult(vf.context.driver.ResetFence(vf.context.device.LogicalDevice, vf.Handle), "vkResetFences"); err != nil {
		return err
	}
	vf.IsSignaled = false
	return nil
}

type VulkanSemaphore struct {
	Handle Handle

	context *GraphicsContext
}

func NewSemaphore(context *GraphicsContext) (*VulkanSemaphore, error) {
	h, res := context.driver.CreateSemaphore(context.device.LogicalDevice)
	if err := logResult(res, "vkCreateSemaphore"); err != nil {
		return nil, err
	}
	return &VulkanSemaphore{Handle: h, context: context}, nil
}

func (vs *VulkanSemaphore) Destroy() {
	if vs.Handle != NullHandle {
		vs.context.driver.DestroySemaphore(vs.context.device.LogicalDevice, vs.Handle)
		vs.Handle = NullHandle
	}
}
