package platform

import (
	"io"
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func TestResizeFiresOnlyOnChange(t *testing.T) {
	events := core.NewEventBus()
	p := New(Config{Width: 800, Height: 600}, events)

	var sizes [][2]uint32
	events.Register(core.EVENT_CODE_RESIZED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		assert.Same(t, p, sender)
		sizes = append(sizes, [2]uint32{data.Data.U32[0], data.Data.U32[1]})
		return true
	})

	p.onResize(800, 600)
	p.onResize(1024, 768)
	p.onResize(1024, 768)
	p.onResize(0, 0)

	assert.Equal(t, [][2]uint32{{1024, 768}, {0, 0}}, sizes)
	w, h := p.FramebufferSize()
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestEscapeRequestsQuit(t *testing.T) {
	events := core.NewEventBus()
	p := New(Config{VSync: true}, events)
	assert.True(t, p.VSync())

	quits := 0
	events.Register(core.EVENT_CODE_APPLICATION_QUIT, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		quits++
		return true
	})

	p.onKey(glfw.KeyA, glfw.Press)
	p.onKey(glfw.KeyEscape, glfw.Release)
	assert.Zero(t, quits)
	p.onKey(glfw.KeyEscape, glfw.Press)
	assert.Equal(t, 1, quits)
}
