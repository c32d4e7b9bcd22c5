package vulkan

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryUploadPacksBuffers(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	geometry, err := NewGeometryBuffers(ctx, 64, 32)
	require.NoError(t, err)
	defer geometry.Destroy()

	quad := []byte{
		1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4,
	}
	first, err := geometry.Upload(4, 4, quad, []uint32{0, 1, 2, 0x01020304})
	require.NoError(t, err)
	second, err := geometry.Upload(8, 2, quad, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, geometry.Count())

	vertices := driver.BufferContents(geometry.VertexBuffer.Handle)
	assert.Equal(t, quad, vertices[:16])
	assert.Equal(t, quad, vertices[16:32])
	indices := driver.BufferContents(geometry.IndexBuffer.Handle)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 4, 3, 2, 1}, indices[:16])

	// Releasing the first geometry frees its space for the next upload.
	require.NoError(t, geometry.Release(first))
	third, err := geometry.Upload(4, 4, quad, nil)
	require.NoError(t, err)
	data, err := geometry.geometries.Get(third)
	require.NoError(t, err)
	assert.Zero(t, data.VertexBufferOffset)

	assert.True(t, errors.Is(geometry.Release(first), core.ErrInvalidHandle))
	require.NoError(t, geometry.Release(second))
	require.NoError(t, geometry.Release(third))
	assert.Zero(t, geometry.Count())
	assert.Empty(t, driver.Violations())
}

func TestGeometryBuffersGrowWhenFull(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	geometry, err := NewGeometryBuffers(ctx, 32, 8)
	require.NoError(t, err)
	defer geometry.Destroy()

	first := bytes.Repeat([]byte{7}, 32)
	_, err = geometry.Upload(4, 8, first, nil)
	require.NoError(t, err)

	second := bytes.Repeat([]byte{9}, 64)
	_, err = geometry.Upload(4, 16, second, []uint32{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(96), geometry.VertexBuffer.TotalSize)
	assert.Equal(t, uint64(20), geometry.IndexBuffer.TotalSize)
	assert.Equal(t, uint64(96), geometry.vertexSpace.Total())

	// Growing keeps what was uploaded before.
	vertices := driver.BufferContents(geometry.VertexBuffer.Handle)
	assert.Equal(t, first, vertices[:32])
	assert.Equal(t, second, vertices[32:96])
	assert.Empty(t, driver.Violations())
}

func TestGeometryCapacity(t *testing.T) {
	ctx, _ := newTestContext(t, HeadlessConfig{})
	geometry, err := NewGeometryBuffers(ctx, 32, 8)
	require.NoError(t, err)
	defer geometry.Destroy()
	geometry.maxBytes = 8

	_, err = geometry.Upload(4, 16, make([]byte, 64), nil)
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))

	// Index space running out hands the vertex space back.
	_, err = geometry.Upload(4, 8, make([]byte, 32), []uint32{0, 1, 2})
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
	assert.Equal(t, uint64(32), geometry.vertexSpace.FreeSpace())
	assert.Equal(t, uint64(32), geometry.VertexBuffer.TotalSize)

	_, err = geometry.Upload(4, 2, make([]byte, 4), nil)
	assert.True(t, errors.Is(err, core.ErrContractViolation))
}

func TestGeometryDoesNotGrowDuringAFrame(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	geometry, err := NewGeometryBuffers(ctx, 16, 16)
	require.NoError(t, err)
	defer geometry.Destroy()

	require.True(t, runFrame(t, ctx, func() {
		_, err := geometry.Upload(4, 8, make([]byte, 32), nil)
		assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
	}))
	assert.Equal(t, uint64(16), geometry.VertexBuffer.TotalSize)
	assert.Empty(t, driver.Violations())
}

func TestGeometryDrawNeedsAFrame(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	geometry, err := NewGeometryBuffers(ctx, 64, 64)
	require.NoError(t, err)
	defer geometry.Destroy()

	indexed, err := geometry.Upload(4, 3, make([]byte, 12), []uint32{0, 1, 2})
	require.NoError(t, err)
	plain, err := geometry.Upload(4, 3, make([]byte, 12), nil)
	require.NoError(t, err)

	assert.True(t, errors.Is(geometry.Draw(indexed), core.ErrContractViolation))

	require.True(t, runFrame(t, ctx, func() {
		require.NoError(t, geometry.Draw(indexed))
		require.NoError(t, geometry.Draw(plain))
		assert.Error(t, geometry.Draw(core.InvalidID))
	}))
	assert.Empty(t, driver.Violations())
}
