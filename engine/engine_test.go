package engine

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	core.SetLogOutput(io.Discard)
}

const quadShaderConfig = `
name = "Quad"
stages = [
  { stage = "vertex", file = "quad.vert.spv" },
  { stage = "fragment", file = "quad.frag.spv" },
]
attributes = [
  { name = "in_position", type = "vec3" },
  { name = "in_texcoord", type = "vec2" },
  { name = "in_colour", type = "vec4" },
]
uniforms = [
  { name = "projection", type = "mat4", scope = "global" },
  { name = "view", type = "mat4", scope = "global" },
  { name = "tint", type = "vec4", scope = "object" },
  { name = "model", type = "mat4", scope = "local" },
]
`

type fakeWindow struct {
	width, height uint32
	now           float64
	pumps         int
	maxPumps      int
	slept         float64
	started       bool
	stopped       bool
}

func (w *fakeWindow) FramebufferSize() (uint32, uint32) { return w.width, w.height }
func (w *fakeWindow) VSync() bool { return false }
func (w *fakeWindow) Startup() error { w.started = true; return nil }
func (w *fakeWindow) Shutdown() error { w.stopped = true; return nil }
func (w *fakeWindow) Sleep(ms float64) { w.slept += ms }

func (w *fakeWindow) PumpMessages() bool {
	w.pumps++
	return w.maxPumps == 0 || w.pumps <= w.maxPumps
}

func (w *fakeWindow) GetAbsoluteTime() float64 {
	w.now += 0.002
	return w.now
}

func spirvFile() []byte {
	out := []byte{}
	for _, w := range []uint32{0x07230203, 0x00010000, 0, 1, 0} {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

type testGame struct {
	geometry  core.ID
	material  *metadata.Material
	frames    int
	resizes   [][2]uint32
	quitAfter int
	failAt    int
	shutdown  bool
	engine    *Engine
}

func (g *testGame) build(config ApplicationConfig) *Game {
	return &Game{
		ApplicationConfig: &config,
		State:             g,
		FnInitialize: func(r *renderer.Renderer) error {
			if _, err := r.LoadShader("Quad.shadercfg"); err != nil {
				return err
			}
			white := math.NewVec4(1, 1, 1, 1)
			id, err := r.CreateGeometry([]math.Vertex3D{
				{Position: math.NewVec3(0, 0, 0), Colour: white},
				{Position: math.NewVec3(1, 0, 0), Colour: white},
				{Position: math.NewVec3(1, 1, 0), Colour: white},
			}, []uint32{0, 1, 2})
			if err != nil {
				return err
			}
			g.geometry = id
			g.material = metadata.NewMaterial("quad")
			g.material.SetUniform("tint", white)
			return r.AcquireMaterial("Quad", g.material)
		},
		FnUpdate: func(deltaTime float64) error {
			if g.failAt > 0 && g.frames+1 == g.failAt {
				return errors.New("game over")
			}
			return nil
		},
		FnRender: func(packet *metadata.RenderPacket, deltaTime float64) error {
			g.frames++
			packet.Projection = math.NewMat4Orthographic(0, 800, 600, 0, -1, 1)
			packet.View = math.NewMat4Identity()
			packet.Draws = append(packet.Draws, metadata.DrawCommand{
				Shader:   "Quad",
				Material: g.material,
				Geometry: g.geometry,
				Model:    math.NewMat4Identity(),
			})
			if g.quitAfter > 0 && g.frames == g.quitAfter {
				g.engine.Quit()
			}
			return nil
		},
		FnOnResize: func(width, height uint32) error {
			g.resizes = append(g.resizes, [2]uint32{width, height})
			return nil
		},
		FnShutdown: func(r *renderer.Renderer) error {
			g.shutdown = true
			return r.ReleaseMaterial("Quad", g.material)
		},
	}
}

// newTestEngine wires a game to a fake window and a HeadlessDriver. Only one
// renderer may be alive, so tests using it must not run in parallel.
func newTestEngine(t *testing.T, g *testGame, window *fakeWindow) (*Engine, *vulkan.HeadlessDriver) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "quad.vert.spv"), spirvFile(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "quad.frag.spv"), spirvFile(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Quad.shadercfg"), []byte(quadShaderConfig), 0o644))

	config := DefaultApplicationConfig("test")
	config.AssetsDir = root
	config.Renderer.VertexBufferSize = 1 << 16
	config.Renderer.IndexBufferSize = 1 << 16

	driver := vulkan.NewHeadlessDriver(vulkan.HeadlessConfig{})
	e, err := NewWithWindow(g.build(config), core.NewEventBus(), window, func() (vulkan.Driver, error) {
		return driver, nil
	})
	require.NoError(t, err)
	g.engine = e
	require.NoError(t, e.Initialize())
	return e, driver
}

func TestEngineRunsFramesUntilQuit(t *testing.T) {
	g := &testGame{quitAfter: 3}
	window := &fakeWindow{width: 800, height: 600}
	e, driver := newTestEngine(t, g, window)

	assert.True(t, window.started)
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, [][2]uint32{{800, 600}}, g.resizes)

	require.NoError(t, e.Run())
	assert.Equal(t, 3, g.frames)
	assert.Equal(t, 3, window.pumps)
	assert.Empty(t, driver.Violations())

	require.NoError(t, e.Shutdown())
	assert.True(t, g.shutdown)
	assert.True(t, window.stopped)
	assert.Nil(t, e.Renderer())
	assert.Empty(t, driver.LiveObjects())
	assert.Empty(t, driver.Violations())
}

func TestEngineStopsWhenWindowCloses(t *testing.T) {
	g := &testGame{}
	window := &fakeWindow{width: 800, height: 600, maxPumps: 4}
	e, _ := newTestEngine(t, g, window)
	defer e.Shutdown()

	require.NoError(t, e.Run())
	assert.Equal(t, 4, g.frames)
}

func TestEngineSuspendsWhileMinimised(t *testing.T) {
	g := &testGame{}
	window := &fakeWindow{width: 800, height: 600, maxPumps: 5}
	e, driver := newTestEngine(t, g, window)
	defer e.Shutdown()

	minimised := core.EventContext{}
	e.events.Fire(core.EVENT_CODE_RESIZED, window, minimised)
	assert.True(t, e.IsSuspended())

	require.NoError(t, e.Run())
	assert.Zero(t, g.frames)
	assert.Equal(t, float64(5*100), window.slept)

	restored := core.EventContext{}
	restored.Data.U32[0] = 1024
	restored.Data.U32[1] = 768
	e.events.Fire(core.EVENT_CODE_RESIZED, window, restored)
	assert.False(t, e.IsSuspended())
	assert.Equal(t, [2]uint32{1024, 768}, g.resizes[len(g.resizes)-1])

	window.pumps, window.maxPumps = 0, 2
	require.NoError(t, e.Run())
	assert.Equal(t, 2, g.frames)
	w, h := e.Renderer().Context().FramebufferSize()
	assert.Equal(t, uint32(1024), w)
	assert.Equal(t, uint32(768), h)
	assert.Empty(t, driver.Violations())
}

func TestEngineStopsOnGameError(t *testing.T) {
	g := &testGame{failAt: 2}
	window := &fakeWindow{width: 800, height: 600}
	e, _ := newTestEngine(t, g, window)
	defer e.Shutdown()

	assert.EqualError(t, e.Run(), "game over")
	assert.Equal(t, 1, g.frames)
}

func TestEngineCapsFrameRate(t *testing.T) {
	g := &testGame{}
	window := &fakeWindow{width: 800, height: 600, maxPumps: 2}
	e, _ := newTestEngine(t, g, window)
	defer e.Shutdown()
	e.config.TargetFrameRate = 100

	require.NoError(t, e.Run())
	// 10ms budget, 2ms spent, 1ms of slack kept per frame.
	assert.InDelta(t, 2*7.0, window.slept, 1e-6)
}

func TestNewRejectsBadConfig(t *testing.T) {
	config := DefaultApplicationConfig("bad")
	config.LogLevel = "chatty"
	_, err := NewWithWindow(&Game{ApplicationConfig: &config}, core.NewEventBus(), &fakeWindow{}, nil)
	assert.Error(t, err)

	_, err = NewWithWindow(&Game{}, core.NewEventBus(), &fakeWindow{}, nil)
	assert.Error(t, err)
}
