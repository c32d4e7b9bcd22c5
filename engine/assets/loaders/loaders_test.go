package loaders

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

const triangleWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i) - 1.0;
    return vec4<f32>(x, 0.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 1.0, 1.0, 1.0);
}
`

const objectShaderConfig = `
stages = [
  { stage = "vertex", file = "object.vert.spv" },
  { stage = "fragment", file = "object.frag.spv" },
]
attributes = [
  { name = "in_position", type = "vec3" },
  { name = "in_texcoord", type = "vec2" },
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
cull_mode = "back"
depth_test = true
depth_write = true
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestBinaryLoaderReadsSPIRV(t *testing.T) {
	path := writeFile(t, "a.spv", []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00})
	res, err := (&BinaryLoader{}).Load(path, metadata.ResourceTypeShaderBinary, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{SPIRVMagic, 0x00010000}, res.Data)
	assert.Equal(t, uint64(8), res.DataSize)
	assert.Equal(t, "a.spv", res.Name)

	_, err = BytesToBytecode([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = BytesToBytecode([]byte{1, 2, 3, 4})
	assert.Error(t, err)
	_, err = (&BinaryLoader{}).Load(filepath.Join(t.TempDir(), "missing.spv"), metadata.ResourceTypeShaderBinary, nil)
	assert.Error(t, err)
}

func TestShaderConfigLoader(t *testing.T) {
	path := writeFile(t, "Builtin.Object.shadercfg", []byte(objectShaderConfig))
	res, err := (&ShaderConfigLoader{}).Load(path, metadata.ResourceTypeShader, nil)
	require.NoError(t, err)

	desc, ok := res.Data.(*metadata.ShaderDescription)
	require.True(t, ok)
	assert.Equal(t, "Builtin.Object", desc.Name)
	require.Len(t, desc.Stages, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "object.vert.spv"), desc.Stages[0].File)
	assert.Equal(t, "main", desc.Stages[0].EntryPoint)
	assert.Equal(t, metadata.ShaderStageFragment, desc.Stages[1].Stage)
	assert.Equal(t, metadata.CullModeBack, desc.CullMode)
	assert.Equal(t, metadata.DefaultMaxObjects, desc.MaxObjects)

	// Uniforms without an offset are packed per scope.
	global := desc.UniformsIn(metadata.ShaderScopeGlobal)
	require.Len(t, global, 2)
	assert.Equal(t, uint32(64), global[1].Offset)
	assert.Equal(t, uint32(128), desc.BlockSize(metadata.ShaderScopeGlobal))
	assert.Equal(t, uint32(16), desc.BlockSize(metadata.ShaderScopeObject))
}

func TestShaderConfigRejectsBadInput(t *testing.T) {
	for name, config := range map[string]string{
		"unknown key":   "name = \"x\"\ncolour = 1\nstages = [{ stage = \"vertex\", file = \"a.spv\" }]",
		"unknown stage": "name = \"x\"\nstages = [{ stage = \"tessellation\", file = \"a.spv\" }]",
		"no stages":     "name = \"x\"",
		"local sampler": "name = \"x\"\nstages = [{ stage = \"vertex\", file = \"a.spv\" }]\nsamplers = [{ name = \"s\", binding = 1, scope = \"local\" }]",
		"not toml":      "stages = [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseShaderConfig([]byte(config), "fallback")
			assert.Error(t, err)
		})
	}
}

func TestCompileWGSL(t *testing.T) {
	code, err := CompileWGSL(triangleWGSL)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	assert.Equal(t, SPIRVMagic, code[0])

	path := writeFile(t, "broken.wgsl", []byte("fn broken( {"))
	_, err = (&WGSLLoader{}).Load(path, metadata.ResourceTypeShaderSource, nil)
	kind, fatal := core.IsFatal(err)
	assert.True(t, fatal)
	assert.Equal(t, core.FatalShaderCompile, kind)
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func TestTextureLoaderDecodesFormats(t *testing.T) {
	src := gradient(4, 2)

	pngFile, err := os.Create(filepath.Join(t.TempDir(), "g.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(pngFile, src))
	require.NoError(t, pngFile.Close())

	bmpFile, err := os.Create(filepath.Join(t.TempDir(), "g.bmp"))
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(bmpFile, src))
	require.NoError(t, bmpFile.Close())

	for _, path := range []string{pngFile.Name(), bmpFile.Name()} {
		res, err := (&TextureLoader{}).Load(path, metadata.ResourceTypeImage, nil)
		require.NoError(t, err, path)
		data := res.Data.(*metadata.ImageResourceData)
		assert.Equal(t, uint32(4), data.Width)
		assert.Equal(t, uint32(2), data.Height)
		assert.Equal(t, uint8(4), data.ChannelCount)
		require.Len(t, data.Pixels, 4*2*4)
		// Pixel (3, 1).
		assert.Equal(t, []uint8{3, 1, 7, 255}, data.Pixels[(1*4+3)*4:(1*4+3)*4+4], path)
	}
}

func TestToRGBAFlipAndScale(t *testing.T) {
	src := gradient(8, 4)

	flipped := ToRGBA(src, metadata.ImageResourceParams{FlipY: true})
	assert.Equal(t, []uint8{0, 3, 7, 255}, flipped.Pixels[:4])

	scaled := ToRGBA(src, metadata.ImageResourceParams{MaxExtent: 4})
	assert.Equal(t, uint32(4), scaled.Width)
	assert.Equal(t, uint32(2), scaled.Height)
	assert.Len(t, scaled.Pixels, 4*2*4)

	tall := ToRGBA(gradient(2, 8), metadata.ImageResourceParams{MaxExtent: 4})
	assert.Equal(t, uint32(1), tall.Width)
	assert.Equal(t, uint32(4), tall.Height)
}
