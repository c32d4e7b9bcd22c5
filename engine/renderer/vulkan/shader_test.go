package vulkan

import (
	"encoding/binary"
	"fmt"
	stdmath "math"
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShader(t *testing.T, ctx *GraphicsContext, maxObjects uint32) (*VulkanShader, *VulkanTexture) {
	t.Helper()
	def, err := NewDefaultTexture(ctx)
	require.NoError(t, err)
	t.Cleanup(def.Destroy)

	shader, err := NewShader(ctx, objectShaderDescription(maxObjects), objectShaderCode(), def)
	require.NoError(t, err)
	t.Cleanup(shader.Destroy)
	return shader, def
}

func floatBytes(values ...float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(v))
	}
	return out
}

func TestShaderUniformBufferLayout(t *testing.T) {
	ctx, _ := newTestContext(t, HeadlessConfig{})
	shader, _ := newTestShader(t, ctx, 4)

	// 256 byte alignment: [global 128->256 | 4 objects of 16->256].
	assert.Equal(t, uint64(256), shader.globalStride)
	assert.Equal(t, uint64(256), shader.objectStride)
	assert.Equal(t, uint64(256+4*256), shader.imageStride)
	assert.Equal(t, shader.imageStride*uint64(ctx.ImageCount()), shader.UniformBuffer.TotalSize)
	assert.Equal(t, uint64(2*1280+256+3*256), shader.objectOffset(2, core.ID{Index: 3, Generation: 1}))
}

func TestShaderUniformStridesFollowDeviceAlignment(t *testing.T) {
	adapter := DefaultHeadlessAdapter()
	adapter.MinUniformBufferOffsetAlignment = 64
	ctx, _ := newTestContext(t, HeadlessConfig{Adapters: []AdapterInfo{adapter}})
	shader, _ := newTestShader(t, ctx, 2)

	assert.Equal(t, uint64(128), shader.globalStride)
	assert.Equal(t, uint64(64), shader.objectStride)
	assert.Equal(t, uint64(128+2*64), shader.imageStride)
}

func TestShaderObjectCapacityAndReuse(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	shader, _ := newTestShader(t, ctx, 4)

	materials := make([]*metadata.Material, 4)
	for i := range materials {
		materials[i] = metadata.NewMaterial("m")
		id, err := shader.AcquireResources(materials[i])
		require.NoError(t, err)
		assert.Equal(t, id, materials[i].ObjectID)
	}
	assert.Equal(t, 4, shader.ObjectCount())

	overflow := metadata.NewMaterial("overflow")
	_, err := shader.AcquireResources(overflow)
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
	assert.False(t, overflow.ObjectID.IsValid())

	// Acquiring twice keeps the slot.
	again, err := shader.AcquireResources(materials[0])
	require.NoError(t, err)
	assert.Equal(t, materials[0].ObjectID, again)
	assert.Equal(t, 4, shader.ObjectCount())

	released := materials[2].ObjectID
	require.NoError(t, shader.ReleaseResources(materials[2]))
	assert.False(t, materials[2].ObjectID.IsValid())

	reused, err := shader.AcquireResources(overflow)
	require.NoError(t, err)
	assert.Equal(t, released.Index, reused.Index)
	assert.NotEqual(t, released.Generation, reused.Generation)

	assert.True(t, errors.Is(shader.BindObject(released), core.ErrInvalidHandle))
	_, err = shader.ObjectUniformData(released)
	assert.True(t, errors.Is(err, core.ErrInvalidHandle))
	stale := &metadata.Material{Name: "stale", ObjectID: released}
	assert.True(t, errors.Is(shader.ReleaseResources(stale), core.ErrInvalidHandle))
	assert.Empty(t, driver.Violations())
}

func TestShaderSetUniformRoundTrip(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	shader, _ := newTestShader(t, ctx, 4)
	material := metadata.NewMaterial("red")
	id, err := shader.AcquireResources(material)
	require.NoError(t, err)

	projection := math.NewMat4Orthographic(0, 800, 0, 600, -1, 1)
	view := math.NewMat4Translation(math.NewVec3(1, 2, 3))
	colour := math.NewVec4(1, 0.5, 0.25, 1)

	drawn := runFrame(t, ctx, func() {
		require.NoError(t, shader.Use())
		shader.BindGlobal()
		require.NoError(t, shader.SetUniform("projection", projection))
		require.NoError(t, shader.SetUniform("view", view))
		require.NoError(t, shader.UpdateGlobalState())

		require.NoError(t, shader.BindObject(id))
		require.NoError(t, shader.SetUniform("diffuse_colour", colour))
		require.NoError(t, shader.UpdateObject(material))
		require.NoError(t, shader.SetUniform("model", math.NewMat4Identity()))

		global, err := shader.GlobalUniformData()
		require.NoError(t, err)
		want := append(floatBytes(projection.Data[:]...), floatBytes(view.Data[:]...)...)
		assert.Equal(t, want, global)

		object, err := shader.ObjectUniformData(id)
		require.NoError(t, err)
		assert.Equal(t, floatBytes(1, 0.5, 0.25, 1), object)
	})
	require.True(t, drawn)
	assert.Empty(t, driver.Violations())
}

func TestShaderSetUniformErrors(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	shader, _ := newTestShader(t, ctx, 4)
	material := metadata.NewMaterial("m")
	id, err := shader.AcquireResources(material)
	require.NoError(t, err)

	drawn := runFrame(t, ctx, func() {
		require.NoError(t, shader.Use())

		err := shader.SetUniform("does_not_exist", float32(1))
		assert.True(t, errors.Is(err, core.ErrUniformNotFound))

		err = shader.SetUniform("projection", float32(1))
		assert.True(t, errors.Is(err, core.ErrUniformSize))

		shader.BindGlobal()
		err = shader.SetUniform("diffuse_colour", math.NewVec4(0, 0, 0, 1))
		assert.True(t, errors.Is(err, core.ErrContractViolation))

		require.NoError(t, shader.BindObject(id))
		// Raw bytes of the right size are taken as they are.
		require.NoError(t, shader.SetUniform("diffuse_colour", make([]byte, 16)))

		assert.True(t, errors.Is(shader.SetTexture("diffuse_texture", nil), core.ErrUniformNotFound))
	})
	require.True(t, drawn)

	// Outside a frame nothing can be recorded.
	assert.True(t, errors.Is(shader.UpdateGlobalState(), core.ErrContractViolation))
	assert.True(t, errors.Is(shader.UpdateObject(material), core.ErrContractViolation))
	assert.True(t, errors.Is(shader.SetUniform("model", math.NewMat4Identity()), core.ErrContractViolation))
	assert.Empty(t, driver.Violations())
}

func TestShaderDescriptorWritesFollowMaterialGeneration(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	shader, def := newTestShader(t, ctx, 4)
	material := metadata.NewMaterial("m")
	_, err := shader.AcquireResources(material)
	require.NoError(t, err)

	frame := func() int {
		before := driver.DescriptorWrites()
		require.True(t, runFrame(t, ctx, func() {
			require.NoError(t, shader.Use())
			require.NoError(t, shader.UpdateGlobalState())
			require.NoError(t, shader.UpdateObject(material))
		}))
		return driver.DescriptorWrites() - before
	}

	images := int(ctx.ImageCount())
	// First use of every image writes the global block and the object block + sampler.
	for i := 0; i < images; i++ {
		assert.Equal(t, 3, frame(), "first frame on image %d", i)
	}
	for i := 0; i < 2*images; i++ {
		assert.Zero(t, frame(), "unchanged frame %d", i)
	}

	obj, err := shader.objects.Get(material.ObjectID)
	require.NoError(t, err)
	w, ok := driver.DescriptorBinding(obj.descriptorSets[0], 1)
	require.True(t, ok)
	assert.Equal(t, def.ImageView(), w.View)

	checker, err := NewTexture(ctx, "checker", 2, 2, checkerboard(2, 2), false)
	require.NoError(t, err)
	defer checker.Destroy()
	material.SetTexture("diffuse_texture", checker)

	for i := 0; i < images; i++ {
		assert.Equal(t, 2, frame(), "image %d after the material changed", i)
	}
	assert.Zero(t, frame())

	for _, set := range obj.descriptorSets {
		w, ok := driver.DescriptorBinding(set, 1)
		require.True(t, ok)
		assert.Equal(t, checker.ImageView(), w.View)
		assert.Equal(t, checker.Sampler(), w.Sampler)
	}
	assert.Empty(t, driver.Violations())
}

func TestShaderRebuildsWhenImageCountChanges(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	shader, _ := newTestShader(t, ctx, 4)
	material := metadata.NewMaterial("m")
	id, err := shader.AcquireResources(material)
	require.NoError(t, err)
	require.True(t, runFrame(t, ctx, nil))

	buffer := shader.UniformBuffer.Handle
	ctx.Resize(1024, 768)
	assert.Equal(t, uint32(3), shader.ImageCount())
	assert.Equal(t, buffer, shader.UniformBuffer.Handle, "same image count must not rebuild")

	driver.mu.Lock()
	driver.surface.Capabilities.MinImageCount = 3
	driver.mu.Unlock()
	ctx.Resize(800, 600)

	require.Equal(t, uint32(4), ctx.ImageCount())
	assert.Equal(t, uint32(4), shader.ImageCount())
	assert.Equal(t, shader.imageStride*4, shader.UniformBuffer.TotalSize)

	obj, err := shader.objects.Get(id)
	require.NoError(t, err)
	assert.Len(t, obj.descriptorSets, 4)
	for _, g := range obj.generations {
		assert.Equal(t, InvalidGeneration, g)
	}

	for i := 0; i < 8; i++ {
		require.True(t, runFrame(t, ctx, func() {
			require.NoError(t, shader.Use())
			require.NoError(t, shader.UpdateGlobalState())
			require.NoError(t, shader.UpdateObject(material))
		}))
	}
	assert.Empty(t, driver.Violations())
}

func TestShaderCreationFailures(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	live := driver.LiveObjects()

	missing := map[metadata.ShaderStage][]uint32{metadata.ShaderStageVertex: spirv()}
	_, err := NewShader(ctx, objectShaderDescription(4), missing, nil)
	kind, fatal := core.IsFatal(err)
	assert.True(t, fatal)
	assert.Equal(t, core.FatalShaderCompile, kind)

	garbage := objectShaderCode()
	garbage[metadata.ShaderStageFragment] = []uint32{1, 2, 3, 4, 5}
	_, err = NewShader(ctx, objectShaderDescription(4), garbage, nil)
	kind, fatal = core.IsFatal(err)
	assert.True(t, fatal)
	assert.Equal(t, core.FatalShaderCompile, kind)

	desc := objectShaderDescription(4)
	desc.Stages = nil
	_, err = NewShader(ctx, desc, objectShaderCode(), nil)
	assert.True(t, errors.Is(err, core.ErrContractViolation))

	desc = objectShaderDescription(4)
	for i := uint32(0); i < VULKAN_SHADER_MAX_SAMPLERS; i++ {
		desc.Samplers = append(desc.Samplers, metadata.ShaderSamplerConfig{Name: fmt.Sprintf("extra_%d", i), Binding: i + 2, Scope: metadata.ShaderScopeObject})
	}
	_, err = NewShader(ctx, desc, objectShaderCode(), nil)
	assert.True(t, errors.Is(err, core.ErrContractViolation))

	assert.Equal(t, live, driver.LiveObjects())
	assert.Empty(t, driver.Violations())
}

func TestShaderDestroyReleasesEverything(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	live := driver.LiveObjects()
	baseline := ctx.Allocator().Count()

	def, err := NewDefaultTexture(ctx)
	require.NoError(t, err)
	shader, err := NewShader(ctx, objectShaderDescription(8), objectShaderCode(), def)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := shader.AcquireResources(metadata.NewMaterial("m"))
		require.NoError(t, err)
	}
	shader.Destroy()
	def.Destroy()

	assert.Equal(t, live, driver.LiveObjects())
	assert.Equal(t, baseline, ctx.Allocator().Count())

	// The listener is gone with the shader.
	ctx.Resize(640, 480)
	assert.Empty(t, driver.Violations())
}
