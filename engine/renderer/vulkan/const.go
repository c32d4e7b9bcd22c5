package vulkan

import "math"

// Default number of frames the CPU may record ahead of the GPU.
const VULKAN_MAX_FRAMES_IN_FLIGHT uint32 = 2

// Max number of samplers a single shader scope may declare.
const VULKAN_SHADER_MAX_SAMPLERS uint32 = 16

// Max size of the local (push constant) block.
const VULKAN_MAX_PUSH_CONSTANT_SIZE uint32 = 128

// WaitForever is the timeout used for fence waits and acquires that must not time out.
const WaitForever uint64 = math.MaxUint64
