package loaders

import (
	"os"
	"path/filepath"

	"github.com/gogpu/naga"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// WGSLLoader compiles WGSL source to SPIR-V. One WGSL file usually carries
// several entry points, the shader description picks them per stage.
type WGSLLoader struct{}

func (wl *WGSLLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	code, err := CompileWGSL(string(source))
	if err != nil {
		core.LogError("failed to compile %s: %s", path, err)
		return nil, core.NewFatalError(core.FatalShaderCompile, errors.Wrap(err, path))
	}
	return &metadata.Resource{
		Name:     filepath.Base(path),
		FullPath: path,
		Type:     metadata.ResourceTypeShaderSource,
		DataSize: uint64(len(code) * 4),
		Data:     code,
	}, nil
}

func (wl *WGSLLoader) Unload(*metadata.Resource) error {
	return nil
}

func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, errors.Wrap(err, "compiling WGSL")
	}
	return BytesToBytecode(spirvBytes)
}
