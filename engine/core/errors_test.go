package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestFatalErrorSurvivesWrapping(t *testing.T) {
	err := errors.Wrap(NewFatalError(FatalShaderCompile, errors.New("bad spirv")), "loading builtin shader")

	kind, ok := IsFatal(err)
	assert.True(t, ok)
	assert.Equal(t, FatalShaderCompile, kind)
	assert.Contains(t, err.Error(), "shader compilation failed: bad spirv")

	_, ok = IsFatal(errors.Wrap(ErrCapacityExceeded, "acquire"))
	assert.False(t, ok)
}
