package containers

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueWrapsAround(t *testing.T) {
	q := NewRingQueue[string](2)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.True(t, q.IsFull())
	assert.True(t, errors.Is(q.Enqueue("c"), ErrQueueFull))

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	require.NoError(t, q.Enqueue("c"))

	front, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, "b", front)
	assert.Equal(t, []string{"b", "c"}, q.Drain())
	assert.True(t, q.IsEmpty())

	_, err = q.Dequeue()
	assert.True(t, errors.Is(err, ErrQueueEmpty))
}

func TestRingQueueConcurrentProducers(t *testing.T) {
	q := NewRingQueue[int](64)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				assert.NoError(t, q.Enqueue(p*16+i))
			}
		}(p)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, v := range q.Drain() {
		seen[v] = true
	}
	assert.Len(t, seen, 64)
}

func TestFreeListFirstFitAndMerge(t *testing.T) {
	f := NewFreeList(100)

	a, ok := f.Allocate(30)
	require.True(t, ok)
	b, ok := f.Allocate(30)
	require.True(t, ok)
	c, ok := f.Allocate(40)
	require.True(t, ok)
	assert.Equal(t, []uint64{0, 30, 60}, []uint64{a, b, c})
	assert.Zero(t, f.FreeSpace())

	_, ok = f.Allocate(1)
	assert.False(t, ok)

	require.True(t, f.Free(a, 30))
	require.True(t, f.Free(c, 40))
	// Neither hole fits 50 bytes yet.
	_, ok = f.Allocate(50)
	assert.False(t, ok)

	require.True(t, f.Free(b, 30))
	assert.Equal(t, uint64(100), f.FreeSpace())
	offset, ok := f.Allocate(100)
	require.True(t, ok)
	assert.Zero(t, offset)
}

func TestFreeListRejectsBadFrees(t *testing.T) {
	f := NewFreeList(64)
	offset, ok := f.Allocate(16)
	require.True(t, ok)

	assert.False(t, f.Free(60, 8), "outside the region")
	assert.False(t, f.Free(offset+8, 16), "overlaps free space")
	assert.True(t, f.Free(offset, 16))
	assert.False(t, f.Free(offset, 16), "double free")
	assert.False(t, f.Free(0, 0))
}

func TestFreeListResize(t *testing.T) {
	f := NewFreeList(32)
	_, ok := f.Allocate(32)
	require.True(t, ok)

	assert.False(t, f.Resize(16))
	require.True(t, f.Resize(96))
	assert.Equal(t, uint64(96), f.Total())
	offset, ok := f.Allocate(64)
	require.True(t, ok)
	assert.Equal(t, uint64(32), offset)
}
