package loaders

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// ShaderConfigLoader reads a TOML shader description. Stage files are
// resolved relative to the description's directory.
type ShaderConfigLoader struct{}

func (sl *ShaderConfigLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	desc, err := ParseShaderConfig(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	dir := filepath.Dir(path)
	for i := range desc.Stages {
		if !filepath.IsAbs(desc.Stages[i].File) {
			desc.Stages[i].File = filepath.Join(dir, desc.Stages[i].File)
		}
	}
	return &metadata.Resource{
		Name:     desc.Name,
		FullPath: path,
		Type:     metadata.ResourceTypeShader,
		DataSize: uint64(len(data)),
		Data:     desc,
	}, nil
}

func (sl *ShaderConfigLoader) Unload(*metadata.Resource) error {
	return nil
}

// ParseShaderConfig decodes, normalizes and validates a shader description.
// Unknown keys are rejected. A description without a name gets defaultName.
func ParseShaderConfig(data []byte, defaultName string) (*metadata.ShaderDescription, error) {
	desc := &metadata.ShaderDescription{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(desc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, errors.New(strict.String())
		}
		return nil, errors.Wrap(err, "decoding shader config")
	}
	if desc.Name == "" {
		desc.Name = defaultName
	}
	desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}
