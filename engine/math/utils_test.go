package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(10, 0, 5))
	assert.Equal(t, uint32(2), Clamp(uint32(1), 2, 8))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
}

func TestAlignUp(t *testing.T) {
	cases := []struct {
		value, granularity, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{64, 0, 64},
		{100, 64, 128},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, AlignUp(c.value, c.granularity), "AlignUp(%d, %d)", c.value, c.granularity)
	}
}

func TestMipLevels(t *testing.T) {
	assert.Equal(t, uint32(1), MipLevels(1, 1))
	assert.Equal(t, uint32(9), MipLevels(256, 256))
	assert.Equal(t, uint32(10), MipLevels(512, 3))
	assert.Equal(t, uint32(1), MipLevels(0, 0))
}

func TestMat4IdentityMul(t *testing.T) {
	tr := NewMat4Translation(NewVec3(1, 2, 3))
	assert.Equal(t, tr, NewMat4Identity().Mul(tr))
	assert.Equal(t, tr, tr.Mul(NewMat4Identity()))
}
