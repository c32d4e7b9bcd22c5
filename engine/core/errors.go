package core

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrSwapchainBooting   = errors.New("swapchain resized or recreated, booting")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrMemoryTypeNotFound = errors.New("required memory type not found")
	ErrOutOfBounds        = errors.New("write outside of allocated range")
	ErrInvalidHandle      = errors.New("invalid or stale handle")
	ErrContractViolation  = errors.New("contract violation")
	ErrUniformNotFound    = errors.New("uniform not found")
	ErrUniformSize        = errors.New("uniform value size mismatch")
	ErrContextExists      = errors.New("a graphics context is already alive")
	ErrUnknown            = errors.New("unknown")
)

// FatalErrorKind enumerates the failures that cannot be recovered into a
// running renderer.
type FatalErrorKind int

const (
	FatalNoDevice FatalErrorKind = iota
	FatalDeviceCreation
	FatalShaderCompile
)

func (k FatalErrorKind) String() string {
	switch k {
	case FatalNoDevice:
		return "no suitable device"
	case FatalDeviceCreation:
		return "device creation failed"
	case FatalShaderCompile:
		return "shader compilation failed"
	}
	return fmt.Sprintf("fatal(%d)", int(k))
}

type FatalError struct {
	Kind FatalErrorKind
	Err  error
}

func NewFatalError(kind FatalErrorKind, err error) error {
	return &FatalError{Kind: kind, Err: err}
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Cause() error { return e.Err }

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) (FatalErrorKind, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
