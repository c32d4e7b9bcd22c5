package assets

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"golang.org/x/sync/errgroup"
)

// ShaderAsset is a shader description plus the SPIR-V of each of its stages.
type ShaderAsset struct {
	Description metadata.ShaderDescription
	Code        map[metadata.ShaderStage][]uint32
	// The description file followed by every stage file, absolute paths.
	Files []string
}

// DependsOn reports whether the shader was built from path.
func (s *ShaderAsset) DependsOn(path string) bool {
	for _, f := range s.Files {
		if f == path {
			return true
		}
	}
	return false
}

// LoadShader reads a .shadercfg description and loads its stage files in
// parallel. Stages sharing one file (a WGSL module with several entry
// points) load it once.
func (am *AssetManager) LoadShader(name string) (*ShaderAsset, error) {
	res, err := am.LoadAsset(name, nil)
	if err != nil {
		return nil, err
	}
	desc, ok := res.Data.(*metadata.ShaderDescription)
	if !ok {
		return nil, errors.Errorf("%s is a %s, not a shader description", name, res.Type)
	}

	shader := &ShaderAsset{
		Description: *desc,
		Code:        make(map[metadata.ShaderStage][]uint32, len(desc.Stages)),
		Files:       []string{res.FullPath},
	}

	var (
		mu    sync.Mutex
		code  = map[string][]uint32{}
		seen  = map[string]bool{}
		group errgroup.Group
	)
	for _, stage := range desc.Stages {
		if seen[stage.File] {
			continue
		}
		seen[stage.File] = true
		shader.Files = append(shader.Files, stage.File)

		file := stage.File
		group.Go(func() error {
			stageRes, err := am.LoadAsset(file, nil)
			if err != nil {
				return errors.Wrapf(err, "shader %s", desc.Name)
			}
			words, ok := stageRes.Data.([]uint32)
			if !ok {
				return errors.Errorf("shader %s: %s is a %s, not shader code", desc.Name, file, stageRes.Type)
			}
			mu.Lock()
			code[file] = words
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, stage := range desc.Stages {
		shader.Code[stage.Stage] = code[stage.File]
	}
	return shader, nil
}

// LoadImage decodes an image asset into RGBA8 pixels.
func (am *AssetManager) LoadImage(name string, params *metadata.ImageResourceParams) (*metadata.ImageResourceData, error) {
	res, err := am.LoadAsset(name, params)
	if err != nil {
		return nil, err
	}
	data, ok := res.Data.(*metadata.ImageResourceData)
	if !ok {
		return nil, errors.Errorf("%s is a %s, not an image", name, res.Type)
	}
	return data, nil
}
