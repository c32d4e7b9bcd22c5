//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/pkg/errors"
)

type toolRun struct {
	args  []string
	env   []string
	dir   string
	quiet bool
}

type toolOption func(*toolRun)

func withArgs(args ...string) toolOption {
	return func(r *toolRun) {
		r.args = append(r.args, args...)
	}
}

func withDir(dir string) toolOption {
	return func(r *toolRun) {
		r.dir = dir
	}
}

// withEnv adds KEY=value pairs on top of the current environment.
func withEnv(env ...string) toolOption {
	return func(r *toolRun) {
		r.env = append(r.env, env...)
	}
}

// withQuiet keeps the output unless the tool fails or mage runs verbose.
func withQuiet() toolOption {
	return func(r *toolRun) {
		r.quiet = true
	}
}

// runTool runs tool from PATH and returns everything it wrote.
func runTool(tool string, options ...toolOption) (string, error) {
	run := &toolRun{}
	for _, o := range options {
		o(run)
	}

	path, err := exec.LookPath(tool)
	if err != nil {
		return "", errors.Wrapf(err, "%s is required", tool)
	}

	line := strings.TrimSpace(tool + " " + strings.Join(run.args, " "))
	if run.dir != "" {
		fmt.Printf("[%s] %s\n", run.dir, line)
	} else {
		fmt.Println(line)
	}

	cmd := exec.Command(path, run.args...)
	cmd.Dir = run.dir
	if len(run.env) > 0 {
		cmd.Env = append(os.Environ(), run.env...)
	}

	var out bytes.Buffer
	echo := mg.Verbose() || !run.quiet
	if echo {
		cmd.Stdout = io.MultiWriter(&out, os.Stdout)
		cmd.Stderr = io.MultiWriter(&out, os.Stderr)
	} else {
		cmd.Stdout = &out
		cmd.Stderr = &out
	}
	if err := cmd.Run(); err != nil {
		if !echo {
			os.Stderr.Write(out.Bytes())
		}
		return "", errors.Wrapf(err, "running %s", line)
	}
	return out.String(), nil
}
