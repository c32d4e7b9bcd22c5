//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every GLSL stage in assets/shaders to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary.
func (Build) Testbed() error {
	mg.Deps(Build.Shaders)
	_, err := runTool("go", withArgs("build", "-o", "bin/prism", "."))
	return err
}

func buildShaders() error {
	var sources []string
	for _, pattern := range []string{"*.vert", "*.frag"} {
		matches, err := filepath.Glob(filepath.Join(shaderDir, pattern))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no GLSL sources under %s", shaderDir)
	}

	for _, src := range sources {
		out := outputFor(src)
		stale, err := target.Path(out, src)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}
		if _, err := runTool("glslc", withArgs(filepath.Base(src), "-o", filepath.Base(out)), withDir(shaderDir)); err != nil {
			return err
		}
	}
	return nil
}

// outputFor maps Builtin.Object.vert to Builtin.Object.vert.spv.
func outputFor(src string) string {
	return src + ".spv"
}
