package renderer

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/vulkan"
)

type Config struct {
	Vulkan vulkan.Config `toml:"vulkan"`
	// Sizes of the shared geometry buffers in bytes.
	VertexBufferSize uint64 `toml:"vertex_buffer_size"`
	IndexBufferSize  uint64 `toml:"index_buffer_size"`
}

func DefaultConfig() Config {
	return Config{
		Vulkan:           vulkan.DefaultConfig(),
		VertexBufferSize: 8 << 20,
		IndexBufferSize:  4 << 20,
	}
}

// A shader together with what is needed to rebuild it from its asset.
type rendererShader struct {
	shader         *vulkan.VulkanShader
	asset          *assets.ShaderAsset
	assetName      string
	materials      map[uuid.UUID]*metadata.Material
	globalTextures map[string]metadata.Texture
	dirty          bool
}

// Renderer is the frontend over the Vulkan backend. It owns the graphics
// context, the loaded shaders and textures and the shared geometry buffers
// and turns a RenderPacket into one frame.
type Renderer struct {
	context        *vulkan.GraphicsContext
	assets         *assets.AssetManager
	events         *core.EventBus
	defaultTexture *vulkan.VulkanTexture
	geometry       *vulkan.VulkanGeometryBuffers

	shaders  map[string]*rendererShader
	textures map[string]*vulkan.VulkanTexture
}

// New creates the graphics context on driver and presents to window. am may
// be nil when shaders are only created from descriptions.
func New(driver vulkan.Driver, window vulkan.WindowProvider, am *assets.AssetManager, events *core.EventBus, config Config) (*Renderer, error) {
	context, err := vulkan.NewGraphicsContext(driver, window, config.Vulkan)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		context:  context,
		assets:   am,
		events:   events,
		shaders:  make(map[string]*rendererShader),
		textures: make(map[string]*vulkan.VulkanTexture),
	}

	if r.defaultTexture, err = vulkan.NewDefaultTexture(context); err != nil {
		r.Shutdown()
		return nil, errors.Wrap(err, "creating default texture")
	}
	if r.geometry, err = vulkan.NewGeometryBuffers(context, config.VertexBufferSize, config.IndexBufferSize); err != nil {
		r.Shutdown()
		return nil, errors.Wrap(err, "creating geometry buffers")
	}

	if events != nil {
		events.Register(core.EVENT_CODE_RESIZED, r, r.onResized)
		events.Register(core.EVENT_CODE_ASSET_CHANGED, r, r.onAssetChanged)
	}
	return r, nil
}

func (r *Renderer) Shutdown() {
	if r.context == nil {
		return
	}
	if r.events != nil {
		r.events.Unregister(core.EVENT_CODE_RESIZED, r)
		r.events.Unregister(core.EVENT_CODE_ASSET_CHANGED, r)
	}
	if err := r.context.Device().WaitIdle(); err != nil {
		core.LogWarn("renderer shutdown: %s", err)
	}
	for name, s := range r.shaders {
		s.shader.Destroy()
		delete(r.shaders, name)
	}
	for name, t := range r.textures {
		t.Destroy()
		delete(r.textures, name)
	}
	if r.geometry != nil {
		r.geometry.Destroy()
		r.geometry = nil
	}
	if r.defaultTexture != nil {
		r.defaultTexture.Destroy()
		r.defaultTexture = nil
	}
	r.context.Shutdown()
	r.context = nil
}

func (r *Renderer) Context() *vulkan.GraphicsContext {
	return r.context
}

func (r *Renderer) DefaultTexture() metadata.Texture {
	return r.defaultTexture
}

func (r *Renderer) onResized(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	r.context.Resize(data.Data.U32[0], data.Data.U32[1])
	// Other listeners may want the size too.
	return false
}

func (r *Renderer) onAssetChanged(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	for name, s := range r.shaders {
		if s.asset != nil && s.asset.DependsOn(data.Data.S) {
			core.LogInfo("shader %s changed on disk (%s), rebuilding before the next frame", name, data.Data.S)
			s.dirty = true
		}
	}
	return false
}

// CreateShader builds a shader from a description and its stage code. It
// replaces nothing: creating a second shader with a loaded name fails.
func (r *Renderer) CreateShader(desc metadata.ShaderDescription, code map[metadata.ShaderStage][]uint32) (*vulkan.VulkanShader, error) {
	if _, exists := r.shaders[desc.Name]; exists {
		return nil, errors.Wrapf(core.ErrContractViolation, "shader %s already exists", desc.Name)
	}
	shader, err := vulkan.NewShader(r.context, desc, code, r.defaultTexture)
	if err != nil {
		return nil, err
	}
	r.shaders[shader.Name] = &rendererShader{
		shader:         shader,
		materials:      make(map[uuid.UUID]*metadata.Material),
		globalTextures: make(map[string]metadata.Texture),
	}
	return shader, nil
}

// LoadShader builds a shader from a .shadercfg asset. Shaders loaded this
// way are rebuilt when one of their files changes.
func (r *Renderer) LoadShader(assetName string) (*vulkan.VulkanShader, error) {
	if r.assets == nil {
		return nil, errors.New("renderer has no asset manager")
	}
	asset, err := r.assets.LoadShader(assetName)
	if err != nil {
		return nil, err
	}
	shader, err := r.CreateShader(asset.Description, asset.Code)
	if err != nil {
		return nil, err
	}
	s := r.shaders[shader.Name]
	s.asset = asset
	s.assetName = assetName
	return shader, nil
}

func (r *Renderer) Shader(name string) (*vulkan.VulkanShader, bool) {
	s, ok := r.shaders[name]
	if !ok {
		return nil, false
	}
	return s.shader, true
}

// SetGlobalTexture binds texture to a global sampler of a shader. The
// binding survives shader rebuilds.
func (r *Renderer) SetGlobalTexture(shaderName, sampler string, texture metadata.Texture) error {
	s, ok := r.shaders[shaderName]
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "shader %s", shaderName)
	}
	if err := s.shader.SetTexture(sampler, texture); err != nil {
		return err
	}
	s.globalTextures[sampler] = texture
	return nil
}

// AcquireMaterial gives material an object slot in a shader.
func (r *Renderer) AcquireMaterial(shaderName string, material *metadata.Material) error {
	s, ok := r.shaders[shaderName]
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "shader %s", shaderName)
	}
	if held, ok := s.materials[material.ID]; ok && held != material {
		core.LogError("shader %s: material %s (%s) is already acquired through another copy", shaderName, material.Name, material.ID)
		return errors.Wrapf(core.ErrContractViolation, "material %s acquired twice", material.ID)
	}
	if _, err := s.shader.AcquireResources(material); err != nil {
		return err
	}
	s.materials[material.ID] = material
	return nil
}

func (r *Renderer) ReleaseMaterial(shaderName string, material *metadata.Material) error {
	s, ok := r.shaders[shaderName]
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "shader %s", shaderName)
	}
	if held, ok := s.materials[material.ID]; !ok || held != material {
		return errors.Wrapf(core.ErrInvalidHandle, "material %s is not acquired on shader %s", material.ID, shaderName)
	}
	delete(s.materials, material.ID)
	return s.shader.ReleaseResources(material)
}

// CreateTexture uploads RGBA8 pixels under name.
func (r *Renderer) CreateTexture(name string, width, height uint32, pixels []byte, mipmaps bool) (*vulkan.VulkanTexture, error) {
	if t, ok := r.textures[name]; ok {
		return t, nil
	}
	t, err := vulkan.NewTexture(r.context, name, width, height, pixels, mipmaps)
	if err != nil {
		return nil, err
	}
	r.textures[name] = t
	return t, nil
}

// LoadTexture decodes an image asset and uploads it with a full mip chain.
func (r *Renderer) LoadTexture(assetName string, params *metadata.ImageResourceParams) (*vulkan.VulkanTexture, error) {
	if t, ok := r.textures[assetName]; ok {
		return t, nil
	}
	if r.assets == nil {
		return nil, errors.New("renderer has no asset manager")
	}
	img, err := r.assets.LoadImage(assetName, params)
	if err != nil {
		return nil, err
	}
	return r.CreateTexture(assetName, img.Width, img.Height, img.Pixels, true)
}

// CreateGeometry uploads vertices and indices into the shared geometry buffers.
func (r *Renderer) CreateGeometry(vertices []math.Vertex3D, indices []uint32) (core.ID, error) {
	if len(vertices) == 0 {
		return core.InvalidID, errors.Wrap(core.ErrContractViolation, "geometry without vertices")
	}
	data, err := binary.Append(nil, binary.LittleEndian, vertices)
	if err != nil {
		return core.InvalidID, errors.Wrap(err, "encoding vertices")
	}
	stride := uint32(len(data) / len(vertices))
	return r.geometry.Upload(stride, uint32(len(vertices)), data, indices)
}

// DestroyGeometry waits for the GPU before handing the space back.
func (r *Renderer) DestroyGeometry(id core.ID) error {
	if err := r.context.Device().WaitIdle(); err != nil {
		return err
	}
	return r.geometry.Release(id)
}

// DrawFrame records and presents one frame. A skipped frame (minimised
// window, swapchain rebuild) is not an error. Dirty shaders are rebuilt
// before the frame starts.
func (r *Renderer) DrawFrame(packet *metadata.RenderPacket) error {
	r.rebuildDirtyShaders()

	ok, err := r.context.BeginFrame(packet.DeltaTime)
	if err != nil {
		core.LogError("renderer begin frame failed: %s", err)
		return err
	}
	if !ok {
		return nil
	}

	recordErr := r.record(packet)
	if err := r.context.EndFrame(packet.DeltaTime); err != nil {
		core.LogError("renderer end frame failed: %s", err)
		return err
	}
	return recordErr
}

// record draws the packet grouped by shader, in order of first use.
func (r *Renderer) record(packet *metadata.RenderPacket) error {
	var order []string
	byShader := map[string][]metadata.DrawCommand{}
	for _, d := range packet.Draws {
		if _, seen := byShader[d.Shader]; !seen {
			order = append(order, d.Shader)
		}
		byShader[d.Shader] = append(byShader[d.Shader], d)
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, name := range order {
		s, ok := r.shaders[name]
		if !ok {
			keep(errors.Wrapf(core.ErrInvalidHandle, "shader %s", name))
			continue
		}
		shader := s.shader
		if err := shader.Use(); err != nil {
			keep(err)
			continue
		}
		shader.BindGlobal()
		if shader.HasUniform("projection") {
			keep(shader.SetUniform("projection", packet.Projection))
		}
		if shader.HasUniform("view") {
			keep(shader.SetUniform("view", packet.View))
		}
		if err := shader.UpdateGlobalState(); err != nil {
			keep(err)
			continue
		}
		for _, d := range byShader[name] {
			keep(r.drawOne(shader, d))
		}
	}
	return firstErr
}

func (r *Renderer) drawOne(shader *vulkan.VulkanShader, d metadata.DrawCommand) error {
	if d.Material != nil {
		if err := shader.BindObject(d.Material.ObjectID); err != nil {
			return err
		}
		for name, value := range d.Material.Uniforms {
			if err := shader.SetUniform(name, value); err != nil {
				return err
			}
		}
		if err := shader.UpdateObject(d.Material); err != nil {
			return err
		}
	}
	if shader.HasUniform("model") {
		if err := shader.SetUniform("model", d.Model); err != nil {
			return err
		}
	}
	return r.geometry.Draw(d.Geometry)
}

// rebuildDirtyShaders reloads changed shaders and moves their materials and
// global textures over. A shader that fails to rebuild keeps running the
// old version.
func (r *Renderer) rebuildDirtyShaders() {
	for name, s := range r.shaders {
		if !s.dirty {
			continue
		}
		s.dirty = false

		asset, err := r.assets.LoadShader(s.assetName)
		if err != nil {
			core.LogError("shader %s: reload failed, keeping the old version: %s", name, err)
			continue
		}
		if asset.Description.Name != name {
			core.LogError("shader %s: reloaded description is named %s, keeping the old version", name, asset.Description.Name)
			continue
		}
		shader, err := vulkan.NewShader(r.context, asset.Description, asset.Code, r.defaultTexture)
		if err != nil {
			core.LogError("shader %s: rebuild failed, keeping the old version: %s", name, err)
			continue
		}

		for id, material := range s.materials {
			if err := s.shader.ReleaseResources(material); err != nil {
				core.LogWarn("shader %s: releasing material %s (%s): %s", name, material.Name, id, err)
			}
			if _, err := shader.AcquireResources(material); err != nil {
				core.LogError("shader %s: material %s (%s) lost its slot: %s", name, material.Name, id, err)
				delete(s.materials, id)
			}
		}
		for sampler, texture := range s.globalTextures {
			if err := shader.SetTexture(sampler, texture); err != nil {
				core.LogWarn("shader %s: global texture %s dropped: %s", name, sampler, err)
				delete(s.globalTextures, sampler)
			}
		}
		s.shader.Destroy()
		s.shader = shader
		s.asset = asset
		core.LogInfo("shader %s rebuilt", name)
	}
}
