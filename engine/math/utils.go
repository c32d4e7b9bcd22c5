package math

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds value up to the next multiple of granularity. A zero
// granularity leaves value untouched.
func AlignUp[T constraints.Unsigned](value, granularity T) T {
	if granularity == 0 {
		return value
	}
	return ((value + granularity - 1) / granularity) * granularity
}

// MipLevels is the length of a full mip chain for a width x height image.
func MipLevels(width, height uint32) uint32 {
	largest := max(width, height)
	if largest == 0 {
		return 1
	}
	return uint32(bits.Len32(largest))
}
