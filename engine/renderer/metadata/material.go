package metadata

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
)

// Material is a per-instance set of shader inputs. ObjectID is assigned by
// the shader the material is acquired on. Generation grows every time the
// material content changes so backends can skip redundant descriptor writes.
type Material struct {
	ID         uuid.UUID
	Name       string
	Generation uint32
	ObjectID   core.ID
	Textures   map[string]Texture
	// Object scope uniform values, written every time the material is drawn.
	Uniforms map[string]interface{}
}

func NewMaterial(name string) *Material {
	return &Material{
		ID:       uuid.New(),
		Name:     name,
		ObjectID: core.InvalidID,
		Textures: make(map[string]Texture),
		Uniforms: make(map[string]interface{}),
	}
}

// SetTexture binds t to the sampler called name.
func (m *Material) SetTexture(name string, t Texture) {
	m.Textures[name] = t
	m.Generation++
}

// SetUniform stores an object uniform value. Descriptors do not depend on
// uniform values, the generation stays as it is.
func (m *Material) SetUniform(name string, value interface{}) {
	m.Uniforms[name] = value
}

// Touch marks the material content as changed.
func (m *Material) Touch() {
	m.Generation++
}
