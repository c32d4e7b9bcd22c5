package components

import (
	"github.com/spaghettifunk/prism/engine/math"
)

const (
	MinCameraZoom float32 = 0.1
	MaxCameraZoom float32 = 10.0
)

/**
 * @brief Represents a 2D camera looking down the Z axis. It supplies
 * the view matrix of a RenderPacket.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position math.Vec3
	/** @brief Rotation around the Z axis, in radians. */
	Rotation float32
	/** @brief Magnification. 2 shows everything twice as big. */
	Zoom float32
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty bool
	/**
	 * @brief The view matrix of this camera.
	 * NOTE: IMPORTANT: Do not get this directly, use GetView() instead
	 * so the view matrix is recalculated when needed.
	 */
	ViewMatrix math.Mat4
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.Position = math.NewVec3(0, 0, 0)
	c.Rotation = 0
	c.Zoom = 1
	c.IsDirty = false
	c.ViewMatrix = math.NewMat4Identity()
}

func (c *Camera) GetPosition() math.Vec3 {
	return c.Position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) Move(dx, dy float32) {
	c.Position.X += dx
	c.Position.Y += dy
	c.IsDirty = true
}

func (c *Camera) SetRotation(radians float32) {
	c.Rotation = radians
	c.IsDirty = true
}

func (c *Camera) Rotate(radians float32) {
	c.Rotation += radians
	c.IsDirty = true
}

func (c *Camera) SetZoom(zoom float32) {
	c.Zoom = math.Clamp(zoom, MinCameraZoom, MaxCameraZoom)
	c.IsDirty = true
}

// GetView is the inverse of the camera transform: translate to the camera,
// undo its rotation, then magnify.
func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		translation := math.NewMat4Translation(math.NewVec3(-c.Position.X, -c.Position.Y, -c.Position.Z))
		rotation := math.NewMat4EulerZ(-c.Rotation)
		zoom := math.NewMat4Scale(math.NewVec3(c.Zoom, c.Zoom, 1))

		c.ViewMatrix = translation.Mul(rotation).Mul(zoom)
		c.IsDirty = false
	}
	return c.ViewMatrix
}
