package engine

import (
	"bytes"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
)

type ApplicationConfig struct {
	Window   platform.Config `toml:"window"`
	Renderer renderer.Config `toml:"renderer"`
	// One of debug, info, warn, error, fatal.
	LogLevel string `toml:"log_level"`
	// Root of the watched asset directory, relative to the working directory.
	AssetsDir string `toml:"assets_dir"`
	// Frames per second to cap to. Zero renders as fast as presentation allows.
	TargetFrameRate float64 `toml:"target_frame_rate"`
}

func DefaultApplicationConfig(name string) ApplicationConfig {
	rc := renderer.DefaultConfig()
	rc.Vulkan.ApplicationName = name
	return ApplicationConfig{
		Window: platform.Config{
			Name:   name,
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer:  rc,
		LogLevel:  "info",
		AssetsDir: "assets",
	}
}

// LoadApplicationConfig reads a TOML file over base. Keys missing from the
// file keep the value in base; unknown keys are an error.
func LoadApplicationConfig(path string, base ApplicationConfig) (ApplicationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrapf(err, "reading config %s", path)
	}
	return ParseApplicationConfig(data, base)
}

func ParseApplicationConfig(data []byte, base ApplicationConfig) (ApplicationConfig, error) {
	config := base
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return base, errors.Errorf("config: %s", strict.String())
		}
		return base, errors.Wrap(err, "config")
	}
	if err := config.Validate(); err != nil {
		return base, err
	}
	return config, nil
}

func (c ApplicationConfig) Validate() error {
	if _, err := core.ParseLogLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "config: log_level")
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return errors.Errorf("config: window size %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Renderer.Vulkan.MaxFramesInFlight == 0 {
		return errors.New("config: renderer.vulkan.max_frames_in_flight must be at least 1")
	}
	if c.TargetFrameRate < 0 {
		return errors.Errorf("config: target_frame_rate %f", c.TargetFrameRate)
	}
	return nil
}
