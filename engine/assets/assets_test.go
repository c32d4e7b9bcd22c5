package assets

import (
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	core.SetLogOutput(io.Discard)
}

var spirvBytes = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

const quadWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(f32(i), 0.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 1.0, 1.0);
}
`

func writeAsset(t *testing.T, root, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestManager(t *testing.T, root string) (*AssetManager, *core.EventBus) {
	t.Helper()
	events := core.NewEventBus()
	am, err := NewAssetManager(events)
	require.NoError(t, err)
	require.NoError(t, am.Initialize(root))
	t.Cleanup(func() { assert.NoError(t, am.Shutdown()) })
	return am, events
}

func TestLoadShaderFromSPIRV(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "shaders/object.vert.spv", spirvBytes)
	writeAsset(t, root, "shaders/object.frag.spv", spirvBytes)
	writeAsset(t, root, "shaders/notes.txt", []byte("ignored"))
	cfg := writeAsset(t, root, "shaders/Builtin.Object.shadercfg", []byte(`
name = "Builtin.Object"
stages = [
  { stage = "vertex", file = "object.vert.spv" },
  { stage = "fragment", file = "object.frag.spv" },
]
uniforms = [{ name = "projection", type = "mat4", scope = "global" }]
`))

	am, _ := newTestManager(t, root)
	assert.Equal(t, 3, am.Count())

	shader, err := am.LoadShader("shaders/Builtin.Object.shadercfg")
	require.NoError(t, err)
	assert.Equal(t, "Builtin.Object", shader.Description.Name)
	assert.Len(t, shader.Code, 2)
	assert.Equal(t, []uint32{0x07230203, 0x00010000}, shader.Code[metadata.ShaderStageVertex])
	assert.Len(t, shader.Files, 3)
	assert.True(t, shader.DependsOn(cfg))
	assert.True(t, shader.DependsOn(filepath.Join(root, "shaders/object.frag.spv")))
	assert.False(t, shader.DependsOn(filepath.Join(root, "shaders/notes.txt")))
}

func TestLoadShaderSharesWGSLModule(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "shaders/quad.wgsl", []byte(quadWGSL))
	writeAsset(t, root, "shaders/Quad.shadercfg", []byte(`
stages = [
  { stage = "vertex", file = "quad.wgsl", entry_point = "vs_main" },
  { stage = "fragment", file = "quad.wgsl", entry_point = "fs_main" },
]
`))

	am, _ := newTestManager(t, root)
	shader, err := am.LoadShader("shaders/Quad.shadercfg")
	require.NoError(t, err)
	assert.Equal(t, "Quad", shader.Description.Name)
	assert.Len(t, shader.Files, 2)
	assert.Equal(t, shader.Code[metadata.ShaderStageVertex], shader.Code[metadata.ShaderStageFragment])
	assert.Equal(t, "fs_main", shader.Description.Stages[1].EntryPoint)
}

func TestLoadShaderMissingStage(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "Broken.shadercfg", []byte(`stages = [{ stage = "vertex", file = "gone.spv" }]`))

	am, _ := newTestManager(t, root)
	_, err := am.LoadShader("Broken.shadercfg")
	assert.True(t, errors.Is(err, ErrAssetNotFound))

	_, err = am.LoadAsset("nope.png", nil)
	assert.True(t, errors.Is(err, ErrAssetNotFound))
}

func TestLoadImage(t *testing.T) {
	root := t.TempDir()
	f, err := os.Create(filepath.Join(root, "white.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 3, 5))))
	require.NoError(t, f.Close())

	am, _ := newTestManager(t, root)
	img, err := am.LoadImage("white.png", &metadata.ImageResourceParams{FlipY: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), img.Width)
	assert.Equal(t, uint32(5), img.Height)

	_, err = am.LoadImage("white.png", nil)
	assert.NoError(t, err)
}

func TestChangesAreDeliveredOnPoll(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "shaders/object.vert.spv", spirvBytes)
	am, events := newTestManager(t, root)

	var fired atomic.Int32
	var lastPath atomic.Value
	events.Register(core.EVENT_CODE_ASSET_CHANGED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		fired.Add(1)
		lastPath.Store(data.Data.S)
		return true
	})

	// Nothing is delivered until polled.
	assert.Zero(t, am.PollChanges())

	changed := writeAsset(t, root, "shaders/object.vert.spv", append(spirvBytes, 0, 0, 0, 0))
	writeAsset(t, root, "shaders/readme.md", []byte("not an asset"))
	assert.Eventually(t, func() bool {
		am.PollChanges()
		return fired.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, changed, lastPath.Load())

	// New directories are picked up too.
	added := writeAsset(t, root, "textures/new/checker.png", nil)
	assert.Eventually(t, func() bool {
		am.PollChanges()
		return lastPath.Load() == added
	}, 5*time.Second, 10*time.Millisecond)
}
