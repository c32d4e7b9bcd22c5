package vulkan

import (
	"io"
	"strings"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/require"
)

func init() {
	core.SetLogOutput(io.Discard)
}

type testWindow struct {
	width  uint32
	height uint32
	vsync  bool
}

func (w *testWindow) FramebufferSize() (uint32, uint32) { return w.width, w.height }

func (w *testWindow) VSync() bool { return w.vsync }

// newTestContext builds a context on a fresh HeadlessDriver and shuts it down
// when the test ends. Contexts are process wide, so tests using this helper
// must not run in parallel.
func newTestContext(t *testing.T, config HeadlessConfig) (*GraphicsContext, *HeadlessDriver) {
	t.Helper()
	driver := NewHeadlessDriver(config)
	ctx, err := NewGraphicsContext(driver, &testWindow{width: 800, height: 600}, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(ctx.Shutdown)
	return ctx, driver
}

// spirv is the smallest word stream the HeadlessDriver accepts as a module.
func spirv() []uint32 {
	return []uint32{0x07230203, 0x00010000, 0, 1, 0}
}

func objectShaderDescription(maxObjects uint32) metadata.ShaderDescription {
	return metadata.ShaderDescription{
		Name: "Builtin.Object",
		Stages: []metadata.ShaderStageConfig{
			{Stage: metadata.ShaderStageVertex, File: "object.vert.spv"},
			{Stage: metadata.ShaderStageFragment, File: "object.frag.spv"},
		},
		Attributes: []metadata.ShaderAttributeConfig{
			{Name: "in_position", Type: metadata.ShaderAttribTypeFloat32_3},
			{Name: "in_texcoord", Type: metadata.ShaderAttribTypeFloat32_2},
		},
		Uniforms: []metadata.ShaderUniformConfig{
			{Name: "projection", Type: metadata.ShaderUniformTypeMatrix4, Scope: metadata.ShaderScopeGlobal},
			{Name: "view", Type: metadata.ShaderUniformTypeMatrix4, Scope: metadata.ShaderScopeGlobal},
			{Name: "diffuse_colour", Type: metadata.ShaderUniformTypeFloat32_4, Scope: metadata.ShaderScopeObject},
			{Name: "model", Type: metadata.ShaderUniformTypeMatrix4, Scope: metadata.ShaderScopeLocal},
		},
		Samplers: []metadata.ShaderSamplerConfig{
			{Name: "diffuse_texture", Binding: 1, Scope: metadata.ShaderScopeObject},
		},
		DepthTest:  true,
		DepthWrite: true,
		MaxObjects: maxObjects,
	}
}

func objectShaderCode() map[metadata.ShaderStage][]uint32 {
	return map[metadata.ShaderStage][]uint32{
		metadata.ShaderStageVertex:   spirv(),
		metadata.ShaderStageFragment: spirv(),
	}
}

// runFrame records an empty frame. It reports whether the frame was drawn.
func runFrame(t *testing.T, ctx *GraphicsContext, record func()) bool {
	t.Helper()
	ok, err := ctx.BeginFrame(1.0 / 60.0)
	require.NoError(t, err)
	if !ok {
		return false
	}
	if record != nil {
		record()
	}
	require.NoError(t, ctx.EndFrame(1.0/60.0))
	return true
}

func countEvents(events []string, prefix string) int {
	n := 0
	for _, e := range events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}
