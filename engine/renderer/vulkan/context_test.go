package vulkan

import (
	"fmt"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}

func assertSizedBySwapchain(t *testing.T, ctx *GraphicsContext) {
	t.Helper()
	sc := ctx.Swapchain()
	n := int(sc.ImageCount)
	assert.Len(t, sc.Images, n)
	assert.Len(t, sc.Views, n)
	assert.Len(t, sc.Framebuffers, n)
	assert.Len(t, ctx.GraphicsCommandBuffers, n)
	assert.Len(t, ctx.ImagesInFlight, n)
}

func TestFramesAdvanceRoundRobin(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	for i := 0; i < 7; i++ {
		assert.Equal(t, uint32(i%2), ctx.CurrentFrame())
		require.True(t, runFrame(t, ctx, nil))
	}
	assert.Equal(t, uint64(7), ctx.FrameNumber())
	assert.Equal(t, uint32(3), ctx.ImageCount())
	assert.Empty(t, driver.Violations())
}

func TestImageReuseWaitsForItsLastFence(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	driver.SetAcquireOrder(0, 0)

	first := ctx.InFlightFences[0].Handle
	require.True(t, runFrame(t, ctx, nil))
	require.True(t, runFrame(t, ctx, nil))

	events := driver.Events()
	wait := indexOf(events, fmt.Sprintf("wait fence=%d", first))
	require.NotEqual(t, -1, wait, "second use of image 0 never waited on the fence of the first")
	assert.Less(t, indexOf(events, fmt.Sprintf("submit submission=1 fence=%d", first)), wait)
	assert.Less(t, wait, indexOf(events, fmt.Sprintf("submit submission=2 fence=%d", ctx.InFlightFences[1].Handle)))
	assert.Empty(t, driver.Violations())
}

func TestInFlightFenceGatesFrameReuse(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	require.True(t, runFrame(t, ctx, nil))
	require.True(t, runFrame(t, ctx, nil))
	assert.Equal(t, 2, driver.PendingSubmissions())

	// Frame slot 0 comes around again and has to wait for submission 1.
	require.True(t, runFrame(t, ctx, nil))
	assert.NotEqual(t, -1, indexOf(driver.Events(), "complete submission=1"))
	assert.Empty(t, driver.Violations())
}

func TestResizeBetweenFramesRebuildsEverything(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	require.True(t, runFrame(t, ctx, nil))

	ctx.Resize(1024, 768)

	assert.Equal(t, Extent{Width: 1024, Height: 768}, ctx.Swapchain().Extent)
	assert.Equal(t, ctx.FramebufferSizeGeneration, ctx.FramebufferSizeLastGeneration)
	assert.Equal(t, float32(1024), ctx.MainRenderPass().RenderArea.Z)
	assertSizedBySwapchain(t, ctx)

	for i := 0; i < 4; i++ {
		require.True(t, runFrame(t, ctx, nil))
	}
	assert.Empty(t, driver.Violations())
}

func TestResizeDuringFrameIsDeferred(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	ok, err := ctx.BeginFrame(0)
	require.NoError(t, err)
	require.True(t, ok)
	ctx.Resize(640, 480)
	assert.Equal(t, Extent{Width: 800, Height: 600}, ctx.Swapchain().Extent)
	require.NoError(t, ctx.EndFrame(0))

	// The next frame notices the new size, rebuilds and boots.
	assert.False(t, runFrame(t, ctx, nil))
	assert.Equal(t, Extent{Width: 640, Height: 480}, ctx.Swapchain().Extent)
	assertSizedBySwapchain(t, ctx)

	assert.True(t, runFrame(t, ctx, nil))
	assert.Empty(t, driver.Violations())
}

func TestSurfaceExtentWinsOverRequestedSize(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	driver.SetSurfaceExtent(1280, 720)
	ctx.Resize(1000, 1000)
	assert.Equal(t, Extent{Width: 1280, Height: 720}, ctx.Swapchain().Extent)
	assert.True(t, runFrame(t, ctx, nil))
	assert.Empty(t, driver.Violations())
}

func TestAcquireOutOfDateRecreatesOnce(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	require.True(t, runFrame(t, ctx, nil))

	driver.QueueAcquireResult(vk.ErrorOutOfDate)
	ok, err := ctx.BeginFrame(0)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, countEvents(driver.Events(), "create swapchain="))
	assertSizedBySwapchain(t, ctx)

	for i := 0; i < 3; i++ {
		require.True(t, runFrame(t, ctx, nil))
	}
	assert.Equal(t, 2, countEvents(driver.Events(), "create swapchain="))
	assert.Empty(t, driver.Violations())
}

func TestSuboptimalAcquireStillRenders(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	driver.QueueAcquireResult(vk.Suboptimal)
	assert.True(t, runFrame(t, ctx, nil))
	assert.Equal(t, 1, countEvents(driver.Events(), "create swapchain="))
	assert.Empty(t, driver.Violations())
}

func TestPresentOutOfDateOrSuboptimalRecreates(t *testing.T) {
	for _, result := range []vk.Result{vk.ErrorOutOfDate, vk.Suboptimal} {
		t.Run(VulkanResultString(result, false), func(t *testing.T) {
			ctx, driver := newTestContext(t, HeadlessConfig{})

			driver.QueuePresentResult(result)
			assert.True(t, runFrame(t, ctx, nil))
			assert.Equal(t, 2, countEvents(driver.Events(), "create swapchain="))
			for _, f := range ctx.ImagesInFlight {
				assert.Nil(t, f)
			}
			assertSizedBySwapchain(t, ctx)

			for i := 0; i < 3; i++ {
				require.True(t, runFrame(t, ctx, nil))
			}
			assert.Empty(t, driver.Violations())
		})
	}
}

func TestMinimisedWindowSkipsFrames(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	require.True(t, runFrame(t, ctx, nil))

	ctx.Resize(0, 0)
	driver.ClearEvents()
	for i := 0; i < 3; i++ {
		assert.False(t, runFrame(t, ctx, nil))
	}
	assert.Zero(t, countEvents(driver.Events(), "acquire"))

	ctx.Resize(800, 600)
	assert.True(t, runFrame(t, ctx, nil))
	assert.Empty(t, driver.Violations())
}

func TestFailedFenceWaitSkipsFrame(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	require.True(t, runFrame(t, ctx, nil))
	require.True(t, runFrame(t, ctx, nil))

	driver.QueueWaitResult(vk.Timeout)
	assert.False(t, runFrame(t, ctx, nil))
	assert.Equal(t, uint64(2), ctx.FrameNumber())

	assert.True(t, runFrame(t, ctx, nil))
	assert.Empty(t, driver.Violations())
}

func TestFrameProtocolMisuse(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})

	err := ctx.EndFrame(0)
	assert.True(t, errors.Is(err, core.ErrContractViolation))

	ok, err := ctx.BeginFrame(0)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = ctx.BeginFrame(0)
	assert.True(t, errors.Is(err, core.ErrContractViolation))
	assert.False(t, ctx.RegenerateSwapchain())
	require.NoError(t, ctx.EndFrame(0))

	assert.True(t, ctx.RegenerateSwapchain())
	assert.Empty(t, driver.Violations())
}

func TestOnlyOneContextAlive(t *testing.T) {
	driver := NewHeadlessDriver(HeadlessConfig{})
	ctx, err := NewGraphicsContext(driver, &testWindow{width: 800, height: 600}, DefaultConfig())
	require.NoError(t, err)

	_, err = NewGraphicsContext(NewHeadlessDriver(HeadlessConfig{}), &testWindow{width: 800, height: 600}, DefaultConfig())
	assert.True(t, errors.Is(err, core.ErrContextExists))

	ctx.Shutdown()
	ctx.Shutdown()

	again, err := NewGraphicsContext(NewHeadlessDriver(HeadlessConfig{}), &testWindow{width: 800, height: 600}, DefaultConfig())
	require.NoError(t, err)
	again.Shutdown()
}

func TestShutdownReleasesEveryNativeObject(t *testing.T) {
	driver := NewHeadlessDriver(HeadlessConfig{})
	ctx, err := NewGraphicsContext(driver, &testWindow{width: 800, height: 600}, DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.True(t, runFrame(t, ctx, nil))
	}
	ctx.Resize(1024, 768)
	require.True(t, runFrame(t, ctx, nil))

	allocator := ctx.Allocator()
	ctx.Shutdown()

	assert.Empty(t, driver.LiveObjects())
	assert.Zero(t, allocator.Count())
	assert.Zero(t, driver.PendingSubmissions())
	assert.Empty(t, driver.Violations())
}

func TestSwapchainListenersRunAfterRebuild(t *testing.T) {
	ctx, _ := newTestContext(t, HeadlessConfig{})

	var calls int
	var sawExtent Extent
	unregister := ctx.OnSwapchainRecreated(func(c *GraphicsContext) {
		calls++
		sawExtent = c.Swapchain().Extent
		// Nested rebuilds are refused.
		assert.False(t, c.RegenerateSwapchain())
	})

	ctx.Resize(320, 200)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Extent{Width: 320, Height: 200}, sawExtent)

	unregister()
	ctx.Resize(640, 400)
	assert.Equal(t, 1, calls)
}

func TestFailedSubmitDoesNotStallLaterFrames(t *testing.T) {
	ctx, driver := newTestContext(t, HeadlessConfig{})
	require.True(t, runFrame(t, ctx, nil))
	frame := ctx.CurrentFrame()
	oldFence := ctx.InFlightFences[frame].Handle
	swapchain := ctx.Swapchain().Handle

	driver.QueueSubmitResult(vk.ErrorDeviceLost)
	ok, err := ctx.BeginFrame(1.0 / 60.0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Error(t, ctx.EndFrame(1.0/60.0))

	// The frame slot got a fresh signalled fence and the swapchain was rebuilt.
	assert.NotEqual(t, oldFence, ctx.InFlightFences[frame].Handle)
	assert.True(t, ctx.InFlightFences[frame].IsSignaled)
	assert.NotEqual(t, swapchain, ctx.Swapchain().Handle)
	for _, f := range ctx.ImagesInFlight {
		assert.Nil(t, f)
	}

	for i := 0; i < 4; i++ {
		require.True(t, runFrame(t, ctx, nil), "frame %d after the failed submit", i)
	}
	assertSizedBySwapchain(t, ctx)
	assert.Empty(t, driver.Violations())
}
