package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocatorLedger(t *testing.T) {
	a := NewNativeAllocator()
	a.Track(1, 256, "buffer")
	a.Track(2, 1024, "image")
	a.Track(3, 64, "buffer")
	assert.Equal(t, 3, a.Count())
	assert.Equal(t, uint64(1344), a.TotalBytes())
	assert.Equal(t, map[string]uint64{"buffer": 320, "image": 1024}, a.Report())

	a.Retrack(1, 10, 512)
	assert.Zero(t, a.SizeOf(1))
	assert.Equal(t, uint64(512), a.SizeOf(10))
	assert.Equal(t, uint64(1600), a.TotalBytes())

	// Tracking a key again replaces its size instead of double counting.
	a.Track(2, 2048, "image")
	assert.Equal(t, uint64(2624), a.TotalBytes())

	a.Untrack(10)
	a.Untrack(2)
	a.Untrack(3)
	a.Untrack(3)
	assert.Zero(t, a.Count())
	assert.Zero(t, a.TotalBytes())
	assert.Empty(t, a.Report())
}
