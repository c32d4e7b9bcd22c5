package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
)

// Max number of simultaneously uploaded geometries.
const VULKAN_MAX_GEOMETRY_COUNT uint32 = 4096

// The shared vertex and index buffers never grow past this many bytes each.
const VULKAN_MAX_GEOMETRY_BUFFER_SIZE uint64 = 256 << 20

// Where one geometry lives inside the shared vertex and index buffers.
type vulkanGeometryData struct {
	VertexCount        uint32
	VertexElementSize  uint32
	VertexBufferOffset uint64
	IndexCount         uint32
	IndexBufferOffset  uint64
}

// VulkanGeometryBuffers packs geometry into one device local vertex buffer
// and one device local index buffer (32 bit indices).
type VulkanGeometryBuffers struct {
	VertexBuffer *VulkanBuffer
	IndexBuffer  *VulkanBuffer

	vertexSpace *containers.FreeList
	indexSpace  *containers.FreeList
	geometries  *core.Arena[vulkanGeometryData]
	maxBytes    uint64
	context     *GraphicsContext
}

func NewGeometryBuffers(context *GraphicsContext, vertexBytes, indexBytes uint64) (*VulkanGeometryBuffers, error) {
	g := &VulkanGeometryBuffers{
		vertexSpace: containers.NewFreeList(vertexBytes),
		indexSpace:  containers.NewFreeList(indexBytes),
		geometries:  core.NewArena[vulkanGeometryData](VULKAN_MAX_GEOMETRY_COUNT),
		maxBytes:    VULKAN_MAX_GEOMETRY_BUFFER_SIZE,
		context:     context,
	}
	local := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	transfer := vk.BufferUsageTransferDstBit | vk.BufferUsageTransferSrcBit

	var err error
	g.VertexBuffer, err = NewBuffer(context, vertexBytes, vk.BufferUsageFlags(transfer|vk.BufferUsageVertexBufferBit), local, true)
	if err != nil {
		return nil, errors.Wrap(err, "creating vertex buffer")
	}
	g.IndexBuffer, err = NewBuffer(context, indexBytes, vk.BufferUsageFlags(transfer|vk.BufferUsageIndexBufferBit), local, true)
	if err != nil {
		g.VertexBuffer.Destroy()
		return nil, errors.Wrap(err, "creating index buffer")
	}
	return g, nil
}

// Upload copies vertices (vertexCount elements of vertexSize bytes) and
// indices into free space of the shared buffers. Geometry without indices is
// drawn non indexed.
func (g *VulkanGeometryBuffers) Upload(vertexSize, vertexCount uint32, vertices []byte, indices []uint32) (core.ID, error) {
	vertexBytes := uint64(vertexSize) * uint64(vertexCount)
	if vertexBytes == 0 || uint64(len(vertices)) != vertexBytes {
		return core.InvalidID, errors.Wrapf(core.ErrContractViolation, "geometry of %d vertices of %d bytes given %d bytes", vertexCount, vertexSize, len(vertices))
	}

	data := vulkanGeometryData{
		VertexCount:       vertexCount,
		VertexElementSize: vertexSize,
		IndexCount:        uint32(len(indices)),
	}
	offset, ok := g.allocate(g.VertexBuffer, g.vertexSpace, vertexBytes)
	if !ok {
		core.LogError("vertex buffer has no room for %d bytes", vertexBytes)
		return core.InvalidID, errors.Wrapf(core.ErrCapacityExceeded, "vertex buffer: %d bytes", vertexBytes)
	}
	data.VertexBufferOffset = offset

	var indexBytes []byte
	if len(indices) > 0 {
		indexBytes = encodeIndices(indices)
		offset, ok := g.allocate(g.IndexBuffer, g.indexSpace, uint64(len(indexBytes)))
		if !ok {
			g.vertexSpace.Free(data.VertexBufferOffset, vertexBytes)
			core.LogError("index buffer has no room for %d bytes", len(indexBytes))
			return core.InvalidID, errors.Wrapf(core.ErrCapacityExceeded, "index buffer: %d bytes", len(indexBytes))
		}
		data.IndexBufferOffset = offset
	}

	id, err := g.geometries.Acquire(data)
	if err != nil {
		g.free(data)
		return core.InvalidID, err
	}

	device := g.context.device
	if err := g.VertexBuffer.Upload(device.GraphicsCommandPool, device.GraphicsQueue, data.VertexBufferOffset, vertices); err != nil {
		g.Release(id)
		return core.InvalidID, err
	}
	if indexBytes != nil {
		if err := g.IndexBuffer.Upload(device.GraphicsCommandPool, device.GraphicsQueue, data.IndexBufferOffset, indexBytes); err != nil {
			g.Release(id)
			return core.InvalidID, err
		}
	}
	return id, nil
}

// allocate finds size bytes in space, growing buffer when it is full. The
// buffer is only replaced between frames since the frame being recorded may
// already reference it.
func (g *VulkanGeometryBuffers) allocate(buffer *VulkanBuffer, space *containers.FreeList, size uint64) (uint64, bool) {
	if offset, ok := space.Allocate(size); ok {
		return offset, true
	}
	if g.context.frameInProgress {
		core.LogWarn("geometry buffer full while a frame is recorded, not growing")
		return 0, false
	}
	total := space.Total()
	grown := max(total*2, total+size)
	if grown > g.maxBytes {
		grown = g.maxBytes
	}
	if grown <= total || grown-total+space.FreeSpace() < size {
		return 0, false
	}

	device := g.context.device
	if err := buffer.Resize(grown, device.GraphicsCommandPool, device.GraphicsQueue); err != nil {
		core.LogError("growing geometry buffer to %d bytes: %s", grown, err)
		return 0, false
	}
	space.Resize(grown)
	core.LogDebug("geometry buffer grown from %d to %d bytes", total, grown)
	return space.Allocate(size)
}

func encodeIndices(indices []uint32) []byte {
	out := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		out = append(out, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
	}
	return out
}

func (g *VulkanGeometryBuffers) free(data vulkanGeometryData) {
	g.vertexSpace.Free(data.VertexBufferOffset, uint64(data.VertexElementSize)*uint64(data.VertexCount))
	if data.IndexCount > 0 {
		g.indexSpace.Free(data.IndexBufferOffset, uint64(data.IndexCount)*4)
	}
}

// Release returns the geometry's space. The caller makes sure no frame in
// flight still draws it.
func (g *VulkanGeometryBuffers) Release(id core.ID) error {
	data, err := g.geometries.Get(id)
	if err != nil {
		return err
	}
	g.free(*data)
	return g.geometries.Release(id)
}

// Draw records the geometry into the current frame's command buffer.
func (g *VulkanGeometryBuffers) Draw(id core.ID) error {
	data, err := g.geometries.Get(id)
	if err != nil {
		core.LogError("draw of invalid geometry %s", id)
		return err
	}
	cb := g.context.CommandBuffer()
	if !cb.Recording() {
		return cb.violation("draw", COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS)
	}

	driver := g.context.driver
	driver.CmdBindVertexBuffer(cb.Handle, g.VertexBuffer.Handle, data.VertexBufferOffset)
	if data.IndexCount > 0 {
		driver.CmdBindIndexBuffer(cb.Handle, g.IndexBuffer.Handle, data.IndexBufferOffset)
		driver.CmdDrawIndexed(cb.Handle, data.IndexCount, 1, 0, 0, 0)
	} else {
		driver.CmdDraw(cb.Handle, data.VertexCount, 1, 0, 0)
	}
	return nil
}

// Count is the number of live geometries.
func (g *VulkanGeometryBuffers) Count() int {
	return g.geometries.Len()
}

func (g *VulkanGeometryBuffers) Destroy() {
	if g.VertexBuffer != nil {
		g.VertexBuffer.Destroy()
		g.VertexBuffer = nil
	}
	if g.IndexBuffer != nil {
		g.IndexBuffer.Destroy()
		g.IndexBuffer = nil
	}
}
