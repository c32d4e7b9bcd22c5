package renderer

import (
	"encoding/binary"
	"io"
	stdmath "math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	core.SetLogOutput(io.Discard)
}

const objectShaderConfig = `
name = "Builtin.Object"
stages = [
  { stage = "vertex", file = "object.vert.spv" },
  { stage = "fragment", file = "object.frag.spv" },
]
attributes = [
  { name = "in_position", type = "vec3" },
  { name = "in_texcoord", type = "vec2" },
  { name = "in_colour", type = "vec4" },
]
uniforms = [
  { name = "projection", type = "mat4", scope = "global" },
  { name = "view", type = "mat4", scope = "global" },
  { name = "diffuse_colour", type = "vec4", scope = "object" },
  { name = "model", type = "mat4", scope = "local" },
]
samplers = [
  { name = "diffuse_texture", binding = 1, scope = "object" },
]
max_objects = 8
`

type testWindow struct{}

func (testWindow) FramebufferSize() (uint32, uint32) { return 800, 600 }

func (testWindow) VSync() bool { return false }

func encodeWords(words ...uint32) []byte {
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func floatBytes(values ...float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(v))
	}
	return out
}

func writeAsset(t *testing.T, root, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

var validModule = encodeWords(0x07230203, 0x00010000, 0, 1, 0)

// newTestRenderer builds a renderer over a HeadlessDriver and an asset
// directory holding the object shader. Only one renderer may be alive, so
// tests using it must not run in parallel.
func newTestRenderer(t *testing.T) (*Renderer, *vulkan.HeadlessDriver, *core.EventBus, string) {
	t.Helper()
	root := t.TempDir()
	writeAsset(t, root, "shaders/object.vert.spv", validModule)
	writeAsset(t, root, "shaders/object.frag.spv", validModule)
	writeAsset(t, root, "shaders/Builtin.Object.shadercfg", []byte(objectShaderConfig))

	events := core.NewEventBus()
	am, err := assets.NewAssetManager(events)
	require.NoError(t, err)
	require.NoError(t, am.Initialize(root))
	t.Cleanup(func() { assert.NoError(t, am.Shutdown()) })

	config := DefaultConfig()
	config.VertexBufferSize = 4096
	config.IndexBufferSize = 1024
	driver := vulkan.NewHeadlessDriver(vulkan.HeadlessConfig{})
	r, err := New(driver, testWindow{}, am, events, config)
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)
	return r, driver, events, root
}

func quad() ([]math.Vertex3D, []uint32) {
	white := math.NewVec4(1, 1, 1, 1)
	return []math.Vertex3D{
		{Position: math.NewVec3(-0.5, -0.5, 0), Texcoord: math.NewVec2(0, 0), Colour: white},
		{Position: math.NewVec3(0.5, -0.5, 0), Texcoord: math.NewVec2(1, 0), Colour: white},
		{Position: math.NewVec3(0.5, 0.5, 0), Texcoord: math.NewVec2(1, 1), Colour: white},
		{Position: math.NewVec3(-0.5, 0.5, 0), Texcoord: math.NewVec2(0, 1), Colour: white},
	}, []uint32{0, 1, 2, 2, 3, 0}
}

func TestDrawFrameRendersPacket(t *testing.T) {
	r, driver, _, _ := newTestRenderer(t)

	shader, err := r.LoadShader("shaders/Builtin.Object.shadercfg")
	require.NoError(t, err)
	got, ok := r.Shader("Builtin.Object")
	require.True(t, ok)
	assert.Same(t, shader, got)

	vertices, indices := quad()
	geometry, err := r.CreateGeometry(vertices, indices)
	require.NoError(t, err)

	material := metadata.NewMaterial("quad")
	material.SetUniform("diffuse_colour", math.NewVec4(1, 0.5, 0.25, 1))
	require.NoError(t, r.AcquireMaterial("Builtin.Object", material))
	assert.True(t, material.ObjectID.IsValid())

	projection := math.NewMat4Orthographic(0, 800, 600, 0, -1, 1)
	view := math.NewMat4Identity()
	packet := &metadata.RenderPacket{
		DeltaTime:  1.0 / 60.0,
		Projection: projection,
		View:       view,
		Draws: []metadata.DrawCommand{{
			Shader:   "Builtin.Object",
			Material: material,
			Geometry: geometry,
			Model:    math.NewMat4Identity(),
		}},
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, r.DrawFrame(packet))
	}
	assert.Empty(t, driver.Violations())

	global, err := shader.GlobalUniformData()
	require.NoError(t, err)
	assert.Equal(t, append(floatBytes(projection.Data[:]...), floatBytes(view.Data[:]...)...), global)
	object, err := shader.ObjectUniformData(material.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, floatBytes(1, 0.5, 0.25, 1), object)
}

func TestDrawFrameReportsBadDrawsButFinishesTheFrame(t *testing.T) {
	r, driver, _, _ := newTestRenderer(t)
	_, err := r.LoadShader("shaders/Builtin.Object.shadercfg")
	require.NoError(t, err)
	vertices, indices := quad()
	geometry, err := r.CreateGeometry(vertices, indices)
	require.NoError(t, err)

	err = r.DrawFrame(&metadata.RenderPacket{Draws: []metadata.DrawCommand{{Shader: "Missing", Geometry: geometry}}})
	assert.True(t, errors.Is(err, core.ErrInvalidHandle))

	unacquired := metadata.NewMaterial("nobody")
	err = r.DrawFrame(&metadata.RenderPacket{Draws: []metadata.DrawCommand{{Shader: "Builtin.Object", Material: unacquired, Geometry: geometry}}})
	assert.True(t, errors.Is(err, core.ErrInvalidHandle))

	// The frame protocol is intact after the failed draws.
	require.NoError(t, r.DrawFrame(&metadata.RenderPacket{}))
	assert.Empty(t, driver.Violations())
}

func TestResizeEventsReachTheContext(t *testing.T) {
	r, driver, events, _ := newTestRenderer(t)

	ctx := core.EventContext{}
	ctx.Data.U32[0] = 0
	ctx.Data.U32[1] = 0
	events.Fire(core.EVENT_CODE_RESIZED, nil, ctx)
	// Minimised: frames are skipped without error.
	require.NoError(t, r.DrawFrame(&metadata.RenderPacket{}))

	ctx.Data.U32[0] = 1024
	ctx.Data.U32[1] = 768
	events.Fire(core.EVENT_CODE_RESIZED, nil, ctx)
	require.NoError(t, r.DrawFrame(&metadata.RenderPacket{}))
	w, h := r.Context().FramebufferSize()
	assert.Equal(t, uint32(1024), w)
	assert.Equal(t, uint32(768), h)
	assert.Empty(t, driver.Violations())
}

func TestShaderReloadKeepsMaterials(t *testing.T) {
	r, driver, events, root := newTestRenderer(t)
	old, err := r.LoadShader("shaders/Builtin.Object.shadercfg")
	require.NoError(t, err)

	texture, err := r.CreateTexture("white", 2, 2, make([]byte, 2*2*4), false)
	require.NoError(t, err)
	material := metadata.NewMaterial("quad")
	material.SetTexture("diffuse_texture", texture)
	require.NoError(t, r.AcquireMaterial("Builtin.Object", material))

	ctx := core.EventContext{}
	ctx.Data.S = filepath.Join(root, "shaders/object.frag.spv")
	events.Fire(core.EVENT_CODE_ASSET_CHANGED, nil, ctx)
	require.NoError(t, r.DrawFrame(&metadata.RenderPacket{}))

	reloaded, ok := r.Shader("Builtin.Object")
	require.True(t, ok)
	assert.NotSame(t, old, reloaded)
	assert.Equal(t, 1, reloaded.ObjectCount())
	assert.True(t, material.ObjectID.IsValid())

	// A broken module leaves the running shader in place.
	writeAsset(t, root, "shaders/object.frag.spv", encodeWords(0x07230203))
	events.Fire(core.EVENT_CODE_ASSET_CHANGED, nil, ctx)
	require.NoError(t, r.DrawFrame(&metadata.RenderPacket{}))
	current, _ := r.Shader("Builtin.Object")
	assert.Same(t, reloaded, current)

	// Unrelated files are ignored.
	ctx.Data.S = filepath.Join(root, "textures/other.png")
	events.Fire(core.EVENT_CODE_ASSET_CHANGED, nil, ctx)
	require.NoError(t, r.DrawFrame(&metadata.RenderPacket{}))
	current, _ = r.Shader("Builtin.Object")
	assert.Same(t, reloaded, current)

	require.NoError(t, r.ReleaseMaterial("Builtin.Object", material))
	assert.False(t, material.ObjectID.IsValid())
	assert.Empty(t, driver.Violations())
}

func TestRendererRejectsMisuse(t *testing.T) {
	r, _, _, _ := newTestRenderer(t)

	_, err := r.LoadShader("shaders/Missing.shadercfg")
	assert.True(t, errors.Is(err, assets.ErrAssetNotFound))
	_, err = r.LoadShader("shaders/Builtin.Object.shadercfg")
	require.NoError(t, err)
	_, err = r.LoadShader("shaders/Builtin.Object.shadercfg")
	assert.True(t, errors.Is(err, core.ErrContractViolation))

	assert.True(t, errors.Is(r.AcquireMaterial("Missing", metadata.NewMaterial("m")), core.ErrInvalidHandle))
	assert.True(t, errors.Is(r.SetGlobalTexture("Missing", "s", r.DefaultTexture()), core.ErrInvalidHandle))

	_, err = r.CreateGeometry(nil, nil)
	assert.True(t, errors.Is(err, core.ErrContractViolation))

	// The index buffer starts with room for 256 indices and grows.
	vertices, _ := quad()
	id, err := r.CreateGeometry(vertices, make([]uint32, 512))
	require.NoError(t, err)
	require.NoError(t, r.DestroyGeometry(id))
}

func TestMaterialsAreTrackedByID(t *testing.T) {
	r, driver, _, _ := newTestRenderer(t)
	_, err := r.LoadShader("shaders/Builtin.Object.shadercfg")
	require.NoError(t, err)

	material := metadata.NewMaterial("quad")
	require.NoError(t, r.AcquireMaterial("Builtin.Object", material))

	// A copy shares the ID but not the object slot.
	copied := *material
	copied.ObjectID = core.InvalidID
	assert.True(t, errors.Is(r.AcquireMaterial("Builtin.Object", &copied), core.ErrContractViolation))
	assert.True(t, errors.Is(r.ReleaseMaterial("Builtin.Object", &copied), core.ErrInvalidHandle))
	assert.True(t, errors.Is(r.ReleaseMaterial("Builtin.Object", metadata.NewMaterial("other")), core.ErrInvalidHandle))

	shader, _ := r.Shader("Builtin.Object")
	assert.Equal(t, 1, shader.ObjectCount())
	require.NoError(t, r.ReleaseMaterial("Builtin.Object", material))
	assert.Equal(t, 0, shader.ObjectCount())
	assert.Empty(t, driver.Violations())
}

func TestShutdownReleasesEverything(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "shaders/object.vert.spv", validModule)
	writeAsset(t, root, "shaders/object.frag.spv", validModule)
	writeAsset(t, root, "shaders/Builtin.Object.shadercfg", []byte(objectShaderConfig))
	events := core.NewEventBus()
	am, err := assets.NewAssetManager(events)
	require.NoError(t, err)
	require.NoError(t, am.Initialize(root))
	defer am.Shutdown()

	driver := vulkan.NewHeadlessDriver(vulkan.HeadlessConfig{})
	r, err := New(driver, testWindow{}, am, events, DefaultConfig())
	require.NoError(t, err)

	_, err = r.LoadShader("shaders/Builtin.Object.shadercfg")
	require.NoError(t, err)
	vertices, indices := quad()
	_, err = r.CreateGeometry(vertices, indices)
	require.NoError(t, err)
	_, err = r.CreateTexture("white", 1, 1, []byte{255, 255, 255, 255}, true)
	require.NoError(t, err)
	require.NoError(t, r.DrawFrame(&metadata.RenderPacket{}))

	r.Shutdown()
	r.Shutdown()
	assert.Empty(t, driver.LiveObjects())
	assert.Empty(t, driver.Violations())

	// A new renderer can be created once the old one is gone.
	again, err := New(vulkan.NewHeadlessDriver(vulkan.HeadlessConfig{}), testWindow{}, nil, nil, DefaultConfig())
	require.NoError(t, err)
	again.Shutdown()
}
