package metadata

import "path/filepath"

type ResourceType int

const (
	ResourceTypeNone ResourceType = iota
	// TOML shader description (.shadercfg).
	ResourceTypeShader
	// Compiled SPIR-V stage (.spv).
	ResourceTypeShaderBinary
	// WGSL source compiled at load time (.wgsl).
	ResourceTypeShaderSource
	ResourceTypeImage
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeShaderBinary:
		return "shader_binary"
	case ResourceTypeShaderSource:
		return "shader_source"
	case ResourceTypeImage:
		return "image"
	}
	return "none"
}

// ResourceTypeOf maps a file to the resource type its extension implies.
func ResourceTypeOf(path string) ResourceType {
	switch filepath.Ext(path) {
	case ".shadercfg":
		return ResourceTypeShader
	case ".spv":
		return ResourceTypeShaderBinary
	case ".wgsl":
		return ResourceTypeShaderSource
	case ".png", ".jpg", ".jpeg", ".bmp":
		return ResourceTypeImage
	}
	return ResourceTypeNone
}

// Resource is a loaded asset. Data holds the loader specific payload:
// *ShaderDescription, []uint32 SPIR-V words or *ImageResourceData.
type Resource struct {
	Name     string
	FullPath string
	Type     ResourceType
	DataSize uint64
	Data     interface{}
}

type ImageResourceParams struct {
	FlipY bool
	// Images larger than this on either side are scaled down to fit. 0 keeps the size.
	MaxExtent uint32
}

// ImageResourceData holds tightly packed RGBA8 pixels.
type ImageResourceData struct {
	ChannelCount uint8
	Width        uint32
	Height       uint32
	Pixels       []uint8
}
