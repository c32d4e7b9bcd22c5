package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
)

// Mapped ranges are tracked next to their memory allocation under a key with
// the top bit set.
const mappedKeyBit = uint64(1) << 63

type VulkanBuffer struct {
	TotalSize           uint64
	Handle              Handle
	Usage               vk.BufferUsageFlags
	IsLocked            bool
	Memory              Handle
	MemoryIndex         int32
	MemoryPropertyFlags vk.MemoryPropertyFlags

	context *GraphicsContext
	mapped  []byte
}

// NewBuffer creates a buffer of size bytes backed by its own allocation. On
// failure nothing created so far is left behind.
func NewBuffer(context *GraphicsContext, size uint64, usage vk.BufferUsageFlags, memoryPropertyFlags vk.MemoryPropertyFlags, bindOnCreate bool) (*VulkanBuffer, error) {
	d := context.driver
	device := context.device.LogicalDevice

	handle, res := d.CreateBuffer(device, size, usage)
	if err := logResult(res, "vkCreateBuffer"); err != nil {
		return nil, err
	}

	requirements := d.BufferMemoryRequirements(device, handle)
	memoryIndex := context.device.FindMemoryIndex(requirements.MemoryTypeBits, memoryPropertyFlags)
	if memoryIndex == -1 {
		d.DestroyBuffer(device, handle)
		core.LogError("Unable to create vulkan buffer because the required memory type index was not found.")
		return nil, core.ErrMemoryTypeNotFound
	}

	memory, res := d.AllocateMemory(device, requirements.Size, uint32(memoryIndex))
	if res != vk.Success {
		d.DestroyBuffer(device, handle)
		core.LogError("Unable to create vulkan buffer because the required memory allocation failed: %s", VulkanResultString(res, true))
		if res == vk.ErrorOutOfDeviceMemory || res == vk.ErrorOutOfHostMemory {
			return nil, errors.Wrapf(core.ErrCapacityExceeded, "allocating %d bytes", requirements.Size)
		}
		return nil, resultError(res, "vkAllocateMemory")
	}
	context.allocator.Track(uint64(memory), requirements.Size, "buffer")

	buffer := &VulkanBuffer{
		TotalSize:           size,
		Handle:              handle,
		Usage:               usage,
		Memory:              memory,
		MemoryIndex:         memoryIndex,
		MemoryPropertyFlags: memoryPropertyFlags,
		context:             context,
	}
	if bindOnCreate {
		if err := buffer.Bind(0); err != nil {
			buffer.Destroy()
			return nil, err
		}
	}
	return buffer, nil
}

func (b *VulkanBuffer) Destroy() {
	if b.Handle == NullHandle {
		return
	}
	device := b.context.device.LogicalDevice
	if b.mapped != nil {
		b.Unmap()
	}
	if b.Memory != NullHandle {
		b.context.driver.FreeMemory(device, b.Memory)
		b.context.allocator.Untrack(uint64(b.Memory))
		b.Memory = NullHandle
	}
	b.context.driver.DestroyBuffer(device, b.Handle)
	b.Handle = NullHandle
	b.TotalSize = 0
	b.IsLocked = false
}

func (b *VulkanBuffer) Bind(offset uint64) error {
	return logResult(b.context.driver.BindBufferMemory(b.context.device.LogicalDevice, b.Handle, b.Memory, offset), "vkBindBufferMemory")
}

// fits reports whether [offset, offset+size) lies inside total bytes without
// overflowing.
func fits(offset, size, total uint64) bool {
	return size <= total && offset <= total-size
}

func (b *VulkanBuffer) hostVisible() bool {
	flag := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	return b.MemoryPropertyFlags&flag == flag
}

// Map maps size bytes at offset. The returned slice is valid until Unmap.
func (b *VulkanBuffer) Map(offset, size uint64) ([]byte, error) {
	if !b.hostVisible() {
		return nil, errors.Wrap(core.ErrContractViolation, "mapping a buffer that is not host visible")
	}
	if b.mapped != nil {
		return nil, errors.Wrap(core.ErrContractViolation, "buffer is already mapped")
	}
	if !fits(offset, size, b.TotalSize) {
		core.LogError("vulkan buffer map of [%d, %d) is outside of %d bytes", offset, offset+size, b.TotalSize)
		return nil, core.ErrOutOfBounds
	}
	data, res := b.context.driver.MapMemory(b.context.device.LogicalDevice, b.Memory, offset, size)
	if err := logResult(res, "vkMapMemory"); err != nil {
		return nil, err
	}
	b.mapped = data
	b.IsLocked = true
	b.context.allocator.Track(uint64(b.Memory)|mappedKeyBit, size, "mapped")
	return data, nil
}

func (b *VulkanBuffer) Unmap() {
	if b.mapped == nil {
		return
	}
	b.context.driver.UnmapMemory(b.context.device.LogicalDevice, b.Memory)
	b.context.allocator.Untrack(uint64(b.Memory) | mappedKeyBit)
	b.mapped = nil
	b.IsLocked = false
}

// LoadData writes size bytes of data at offset. A write that does not fit in
// the buffer is rejected and nothing is written.
func (b *VulkanBuffer) LoadData(offset, size uint64, flags uint32, data []byte) error {
	if !fits(offset, size, b.TotalSize) {
		core.LogError("vulkan buffer load of [%d, %d) is outside of %d bytes, nothing written", offset, offset+size, b.TotalSize)
		return errors.Wrapf(core.ErrOutOfBounds, "load [%d, %d) into %d bytes", offset, offset+size, b.TotalSize)
	}
	if uint64(len(data)) < size {
		core.LogError("vulkan buffer load of %d bytes given only %d", size, len(data))
		return errors.Wrapf(core.ErrContractViolation, "load of %d bytes given %d", size, len(data))
	}
	if size == 0 {
		return nil
	}
	dst, err := b.Map(offset, size)
	if err != nil {
		return err
	}
	copy(dst, data[:size])
	b.Unmap()
	return nil
}

// Read copies size bytes at offset out of a host visible buffer.
func (b *VulkanBuffer) Read(offset, size uint64) ([]byte, error) {
	src, err := b.Map(offset, size)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), src...)
	b.Unmap()
	return out, nil
}

// Upload copies data into the buffer at offset through a host visible
// staging buffer and a single use transfer command on queue.
func (b *VulkanBuffer) Upload(pool, queue Handle, offset uint64, data []byte) error {
	size := uint64(len(data))
	if !fits(offset, size, b.TotalSize) {
		core.LogError("vulkan buffer upload of [%d, %d) is outside of %d bytes", offset, offset+size, b.TotalSize)
		return errors.Wrapf(core.ErrOutOfBounds, "upload [%d, %d) into %d bytes", offset, offset+size, b.TotalSize)
	}
	staging, err := NewBuffer(b.context, size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
		true)
	if err != nil {
		return errors.Wrap(err, "creating staging buffer")
	}
	defer staging.Destroy()

	if err := staging.LoadData(0, size, 0, data); err != nil {
		return err
	}
	return staging.CopyTo(pool, queue, 0, b, offset, size)
}

// CopyTo copies size bytes from this buffer into dst with a single use
// command buffer and waits for the copy to finish.
func (b *VulkanBuffer) CopyTo(pool, queue Handle, sourceOffset uint64, dst *VulkanBuffer, destOffset, size uint64) error {
	if !fits(sourceOffset, size, b.TotalSize) || !fits(destOffset, size, dst.TotalSize) {
		return errors.Wrapf(core.ErrOutOfBounds, "copy of %d bytes", size)
	}
	family := b.context.device.QueueFamily(queue)
	// Make sure nothing still reads the destination.
	if err := b.context.locks.SafeQueueCall(family, func() error {
		return resultError(b.context.driver.QueueWaitIdle(queue), "vkQueueWaitIdle")
	}); err != nil {
		return err
	}

	cb, err := AllocateAndBeginSingleUse(b.context, pool)
	if err != nil {
		return err
	}
	b.context.driver.CmdCopyBuffer(cb.Handle, b.Handle, dst.Handle, BufferCopy{SrcOffset: sourceOffset, DstOffset: destOffset, Size: size})
	return cb.EndSingleUse(family, queue)
}

// Resize grows the buffer to newSize, keeping its contents. The buffer must
// have been created with transfer source and destination usage.
func (b *VulkanBuffer) Resize(newSize uint64, pool, queue Handle) error {
	if newSize < b.TotalSize {
		core.LogError("vulkan_buffer_resize requires that new size be larger than the old. Not doing this could lead to data loss.")
		return errors.Wrapf(core.ErrContractViolation, "resize from %d to %d bytes", b.TotalSize, newSize)
	}
	grown, err := NewBuffer(b.context, newSize, b.Usage, b.MemoryPropertyFlags, true)
	if err != nil {
		return err
	}
	if err := b.CopyTo(pool, queue, 0, grown, 0, b.TotalSize); err != nil {
		grown.Destroy()
		return err
	}
	if err := b.context.device.WaitIdle(); err != nil {
		grown.Destroy()
		return err
	}

	old := *b
	old.Destroy()

	b.TotalSize = grown.TotalSize
	b.Handle = grown.Handle
	b.Memory = grown.Memory
	b.MemoryIndex = grown.MemoryIndex
	return nil
}
