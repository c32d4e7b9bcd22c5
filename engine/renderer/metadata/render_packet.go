package metadata

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

// DrawCommand draws one geometry with a material of a loaded shader.
type DrawCommand struct {
	Shader   string
	Material *Material
	Geometry core.ID
	Model    math.Mat4
}

// RenderPacket is everything the renderer needs to draw one frame.
type RenderPacket struct {
	DeltaTime  float64
	Projection math.Mat4
	View       math.Mat4
	Draws      []DrawCommand
}
