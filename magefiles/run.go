//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := runTool("go", withArgs("run", ".", "-config", "prism.toml")); err != nil {
		return err
	}
	return nil
}

// Runs the test suite. The Vulkan backend is tested against the headless driver.
func (Run) Tests() error {
	// -race needs cgo, which glfw wants anyway.
	_, err := runTool("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED=1"))
	return err
}

// Tidies the module and runs go vet.
func (Run) Vet() error {
	if _, err := runTool("go", withArgs("mod", "tidy"), withQuiet()); err != nil {
		return err
	}
	_, err := runTool("go", withArgs("vet", "./..."))
	return err
}
