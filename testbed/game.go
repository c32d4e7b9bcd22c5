package testbed

import (
	stdmath "math"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const (
	objectShaderAsset = "shaders/Builtin.Object.shadercfg"
	objectShaderName  = "Builtin.Object"
	checkerTexture    = "textures/checker.png"
	quadCount         = 3
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	WorldCamera *components.Camera

	width  uint32
	height uint32

	quad      core.ID
	materials []*metadata.Material
	angle     float32
	elapsed   float64
}

func NewTestGame(config engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &config,
			State: &gameState{
				WorldCamera: components.NewCamera(),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// quadGeometry is a unit quad centred on the origin.
func quadGeometry() ([]math.Vertex3D, []uint32) {
	white := math.NewVec4(1, 1, 1, 1)
	return []math.Vertex3D{
		{Position: math.NewVec3(-0.5, -0.5, 0), Texcoord: math.NewVec2(0, 1), Colour: white},
		{Position: math.NewVec3(0.5, -0.5, 0), Texcoord: math.NewVec2(1, 1), Colour: white},
		{Position: math.NewVec3(0.5, 0.5, 0), Texcoord: math.NewVec2(1, 0), Colour: white},
		{Position: math.NewVec3(-0.5, 0.5, 0), Texcoord: math.NewVec2(0, 0), Colour: white},
	}, []uint32{0, 1, 2, 2, 3, 0}
}

// checkerboard is the fallback pattern when no texture asset is present.
func checkerboard(size, cell uint32) []byte {
	pixels := make([]byte, size*size*4)
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			i := (y*size + x) * 4
			v := byte(255)
			if (x/cell+y/cell)%2 == 1 {
				v = 64
			}
			pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = v, v, v, 255
		}
	}
	return pixels
}

var tints = []math.Vec4{
	math.NewVec4(1, 0.4, 0.4, 1),
	math.NewVec4(0.4, 1, 0.4, 1),
	math.NewVec4(0.4, 0.4, 1, 1),
}

func (g *TestGame) Initialize(r *renderer.Renderer) error {
	core.LogInfo("initializing testbed...")
	s := g.state()

	if _, err := r.LoadShader(objectShaderAsset); err != nil {
		return errors.Wrap(err, "testbed shader")
	}

	var texture metadata.Texture
	if t, err := r.LoadTexture(checkerTexture, &metadata.ImageResourceParams{FlipY: true}); err == nil {
		texture = t
	} else {
		core.LogWarn("testbed: %s, using a generated checkerboard", err)
		t, err := r.CreateTexture("checker", 64, 64, checkerboard(64, 8), true)
		if err != nil {
			return err
		}
		texture = t
	}

	vertices, indices := quadGeometry()
	id, err := r.CreateGeometry(vertices, indices)
	if err != nil {
		return err
	}
	s.quad = id

	for i := 0; i < quadCount; i++ {
		m := metadata.NewMaterial("quad")
		m.SetTexture("diffuse_texture", texture)
		m.SetUniform("diffuse_colour", tints[i%len(tints)])
		if err := r.AcquireMaterial(objectShaderName, m); err != nil {
			return err
		}
		s.materials = append(s.materials, m)
	}
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.elapsed += deltaTime
	s.angle += float32(deltaTime)
	// Sway the camera so resizes and hot reloads are easy to spot.
	s.WorldCamera.SetRotation(0.1 * float32(stdmath.Sin(s.elapsed)))
	return nil
}

func (g *TestGame) Render(packet *metadata.RenderPacket, deltaTime float64) error {
	s := g.state()
	packet.Projection = projectionFor(s.width, s.height)
	packet.View = s.WorldCamera.GetView()

	spacing := float32(220)
	first := -spacing * float32(len(s.materials)-1) / 2
	for i, m := range s.materials {
		model := math.NewMat4Scale(math.NewVec3(160, 160, 1)).
			Mul(math.NewMat4EulerZ(s.angle * float32(i+1) * 0.5)).
			Mul(math.NewMat4Translation(math.NewVec3(first+spacing*float32(i), 0, 0)))
		packet.Draws = append(packet.Draws, metadata.DrawCommand{
			Shader:   objectShaderName,
			Material: m,
			Geometry: s.quad,
			Model:    model,
		})
	}
	return nil
}

// projectionFor keeps one world unit per pixel with the origin in the middle
// of the window.
func projectionFor(width, height uint32) math.Mat4 {
	w, h := float32(width)/2, float32(height)/2
	return math.NewMat4Orthographic(-w, w, -h, h, -1, 1)
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown(r *renderer.Renderer) error {
	s := g.state()
	for _, m := range s.materials {
		if err := r.ReleaseMaterial(objectShaderName, m); err != nil {
			return err
		}
	}
	s.materials = nil
	return r.DestroyGeometry(s.quad)
}
