package engine

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Window is what the engine drives each frame. platform.Platform is the
// real one.
type Window interface {
	vulkan.WindowProvider
	Startup() error
	Shutdown() error
	PumpMessages() bool
	GetAbsoluteTime() float64
	Sleep(ms float64)
}

// DriverFactory opens the driver once the window exists.
type DriverFactory func() (vulkan.Driver, error)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       ApplicationConfig
	isRunning    atomic.Bool
	isSuspended  bool

	events       *core.EventBus
	window       Window
	newDriver    DriverFactory
	assetManager *assets.AssetManager
	renderer     *renderer.Renderer
	clock        *core.Clock
	metrics      *core.Metrics
	lastTime     float64
	runningTime  float64
}

// New builds an engine presenting to a GLFW window through the Vulkan loader.
func New(g *Game) (*Engine, error) {
	events := core.NewEventBus()
	p := platform.New(g.ApplicationConfig.Window, events)
	return NewWithWindow(g, events, p, func() (vulkan.Driver, error) {
		return vulkan.NewVulkanDriver(p, g.ApplicationConfig.Renderer.Vulkan)
	})
}

// NewWithWindow builds an engine on any window and driver. events must be the
// bus the window reports on.
func NewWithWindow(g *Game, events *core.EventBus, window Window, newDriver DriverFactory) (*Engine, error) {
	if g.ApplicationConfig == nil {
		return nil, errors.New("game without application config")
	}
	if err := g.ApplicationConfig.Validate(); err != nil {
		return nil, err
	}
	am, err := assets.NewAssetManager(events)
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       *g.ApplicationConfig,
		events:       events,
		window:       window,
		newDriver:    newDriver,
		assetManager: am,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	level, err := core.ParseLogLevel(e.config.LogLevel)
	if err != nil {
		return err
	}
	core.SetLogLevel(level)

	// register some events
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if err := e.window.Startup(); err != nil {
		return err
	}
	if err := e.assetManager.Initialize(e.config.AssetsDir); err != nil {
		return err
	}

	driver, err := e.newDriver()
	if err != nil {
		return err
	}
	r, err := renderer.New(driver, e.window, e.assetManager, e.events, e.config.Renderer)
	if err != nil {
		return err
	}
	e.renderer = r

	if err := e.gameInstance.FnInitialize(e.renderer); err != nil {
		return err
	}
	width, height := e.window.FramebufferSize()
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run loops until the window closes or EVENT_CODE_APPLICATION_QUIT fires. It
// returns the error of a failed game callback or a fatal renderer error.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if !e.window.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		e.assetManager.PollChanges()

		if e.isSuspended {
			// Nothing to present to, give the time back to the OS.
			e.window.Sleep(100)
			continue
		}
		if err := e.frame(); err != nil {
			e.isRunning.Store(false)
			return err
		}
	}
	return nil
}

// frame runs one update and render pass of the game and draws the result.
func (e *Engine) frame() error {
	// Update clock and get delta time.
	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	frameStartTime := e.window.GetAbsoluteTime()

	if err := e.gameInstance.FnUpdate(delta); err != nil {
		core.LogError("Game update failed, shutting down: %s", err)
		return err
	}

	packet := &metadata.RenderPacket{DeltaTime: delta}
	// Call the game's render routine.
	if err := e.gameInstance.FnRender(packet, delta); err != nil {
		core.LogError("Game render failed, shutting down: %s", err)
		return err
	}
	if err := e.renderer.DrawFrame(packet); err != nil {
		if _, fatal := core.IsFatal(err); fatal {
			return err
		}
		core.LogWarn("frame dropped: %s", err)
	}

	// Figure out how long the frame took and, if below the target, give the
	// rest back to the OS.
	frameElapsedTime := e.window.GetAbsoluteTime() - frameStartTime
	e.metrics.Update(frameElapsedTime)
	if e.config.TargetFrameRate > 0 {
		remainingMS := (1.0/e.config.TargetFrameRate - frameElapsedTime) * 1000
		if remainingMS > 1 {
			e.window.Sleep(remainingMS - 1)
		}
	}

	e.runningTime += frameElapsedTime
	if e.runningTime >= 5 {
		fps, frameTime := e.metrics.Frame()
		core.LogDebug("%.0f fps, %.2f ms/frame", fps, frameTime)
		e.runningTime = 0
	}

	// Update last time
	e.lastTime = currentTime
	return nil
}

// Quit asks the loop to stop after the current frame. Safe to call from any
// goroutine.
func (e *Engine) Quit() {
	e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)
	e.events.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.events.Unregister(core.EVENT_CODE_RESIZED, e)

	var firstErr error
	if e.renderer != nil {
		if e.gameInstance.FnShutdown != nil {
			if err := e.gameInstance.FnShutdown(e.renderer); err != nil {
				firstErr = err
			}
		}
		e.renderer.Shutdown()
		e.renderer = nil
	}
	if err := e.assetManager.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.window.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.events.Shutdown()
	e.currentStage = EngineStageUninitialized
	return firstErr
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) IsSuspended() bool {
	return e.isSuspended
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError("game resize: %s", err)
	}
	// The renderer listens too.
	return false
}
