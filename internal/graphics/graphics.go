// Package graphics implements the graphics/render loop (C6): the only
// component required to run pinned to the process's start-up OS thread,
// since the window and GPU context it owns are thread-affine. No concrete
// windowing/GPU binding ships here (render content is an out-of-scope
// plugin concern); this package owns the state machine, monitor probing,
// and per-frame adoption/teardown sequencing around an injectable Surface.
package graphics

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/errkind"
	"github.com/reyer-project/reyer-rt/internal/message"
	"github.com/reyer-project/reyer-rt/internal/pipeline"
	"github.com/reyer-project/reyer-rt/internal/plugin"
	"github.com/reyer-project/reyer-rt/internal/queue"
)

// MonitorInfo describes one display the host could render to.
type MonitorInfo struct {
	Index    int
	Name     string
	WidthPx  int
	HeightPx int
	WidthMM  uint32
	HeightMM uint32
}

// Surface is the windowing/GPU abstraction a real windowing plugin (or a
// test double) implements. Every method is called only from the graphics
// goroutine.
type Surface interface {
	PollMonitors() []MonitorInfo
	ApplySettings(settings message.GraphicsSettingsRequest) error
	BeginFrame()
	EndFrame()
	ClearBackground()
	PaintStandby(protocolName string)
	ShouldClose() bool
	StartKeyPressed() bool
	Close()
}

// defaultViewDistanceMM is the assumed participant viewing distance used to
// derive pixels-per-degree until a calibration plugin reports a measured
// value. The coordination fabric has no sensor of its own for this.
const defaultViewDistanceMM = 600

// State is the graphics component's own two-state machine. It does not
// enter the observable message.RuntimeState, which the reply server derives
// from the protocol controller's state alone.
type State int32

const (
	StateDefault State = iota
	StateReady
)

type settingsRequest struct {
	settings message.GraphicsSettingsRequest
	reply    chan error
}

type pendingTask struct {
	handle *plugin.Handle
	render plugin.Render
}

// Config configures a Graphics loop at construction.
type Config struct {
	Surface  Surface
	Pipeline *pipeline.Pipeline
	Log      *log.Logger
}

// Graphics is the C6 component. It implements worker.Runner but, unlike
// every other worker, MUST be run via its own Run method on the goroutine
// locked to the process's start-up OS thread rather than through worker.Spawn.
type Graphics struct {
	log      *log.Logger
	surface  Surface
	pipeline *pipeline.Pipeline

	state atomic.Int32

	mu          sync.Mutex
	pending     *pendingTask
	current     *pendingTask
	standbyName string
	monitors    []MonitorInfo
	renderCtx   core.RenderContext

	settingsQueue *queue.Queue[settingsRequest]
	lastSettings  message.GraphicsSettingsRequest

	stopRequested       atomic.Bool
	startRequested      atomic.Bool
	taskFinished        atomic.Bool
	graphicsInitialized atomic.Bool
}

// New constructs a Graphics loop around surface.
func New(cfg Config) *Graphics {
	l := cfg.Log
	if l == nil {
		l = log.New(log.Writer(), "[graphics] ", log.LstdFlags)
	}
	return &Graphics{
		log:           l,
		surface:       cfg.Surface,
		pipeline:      cfg.Pipeline,
		settingsQueue: queue.New[settingsRequest](4),
	}
}

// Init probes monitor geometry once. Called on the main goroutine before Run;
// graphics does not use worker.Spawn since its loop must stay pinned to the
// process's start-up OS thread.
func (g *Graphics) Init(ctx context.Context) error {
	g.mu.Lock()
	g.monitors = g.surface.PollMonitors()
	g.mu.Unlock()
	return nil
}

// State returns the graphics component's own DEFAULT/READY state.
func (g *Graphics) State() State {
	return State(g.state.Load())
}

// Settings returns the graphics settings applied at the DEFAULT->READY
// transition, or (zero, false) if none have been applied yet.
func (g *Graphics) Settings() (message.GraphicsSettingsRequest, bool) {
	if g.State() != StateReady {
		return message.GraphicsSettingsRequest{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSettings, true
}

// Monitors returns the geometry probed at Init.
func (g *Graphics) Monitors() []MonitorInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]MonitorInfo, len(g.monitors))
	copy(out, g.monitors)
	return out
}

// ApplyGraphicsSettings is called from the reply server. It blocks until
// the graphics goroutine has processed the one-shot request.
func (g *Graphics) ApplyGraphicsSettings(ctx context.Context, settings message.GraphicsSettingsRequest) error {
	req := settingsRequest{settings: settings, reply: make(chan error, 1)}
	if !g.settingsQueue.Push(req) {
		return fmt.Errorf("graphics: settings queue closed")
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetStandbyInfo updates the protocol name shown on the standby screen.
func (g *Graphics) SetStandbyInfo(name string) {
	g.mu.Lock()
	g.standbyName = name
	g.mu.Unlock()
}

// SetPendingTask hands a task to the graphics goroutine for adoption at the
// top of its next frame. Adoption shuts down any active task first, so a
// nil handle has the same effect as ClearCurrentTask.
func (g *Graphics) SetPendingTask(handle *plugin.Handle, render plugin.Render) {
	g.mu.Lock()
	g.pending = &pendingTask{handle: handle, render: render}
	g.taskFinished.Store(false)
	g.mu.Unlock()
}

// ClearCurrentTask requests the graphics goroutine drop its active task at
// the top of the next frame without adopting a replacement.
func (g *Graphics) ClearCurrentTask() {
	g.mu.Lock()
	g.pending = &pendingTask{}
	g.mu.Unlock()
}

// IsCurrentTaskFinished reports whether the active render task's
// IsFinished() most recently returned true.
func (g *Graphics) IsCurrentTaskFinished() bool {
	return g.taskFinished.Load()
}

// ConsumeStartRequest reports and clears whether the standby screen
// observed the start key since the last call.
func (g *Graphics) ConsumeStartRequest() bool {
	return g.startRequested.CompareAndSwap(true, false)
}

// RequestStop asks the graphics loop to shut down at the top of its next
// frame.
func (g *Graphics) RequestStop() {
	g.stopRequested.Store(true)
}

// Run is the graphics goroutine's body. It must be called on the OS thread
// locked at process start (runtime.LockOSThread), and returns once ctx is
// cancelled, the surface reports ShouldClose, or RequestStop is called.
func (g *Graphics) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || g.stopRequested.Load() || g.surface.ShouldClose() {
			g.stopRequested.Store(true)
			g.shutdownActiveTask()
			g.surface.Close()
			return
		}
		g.frame(ctx)
	}
}

func (g *Graphics) frame(ctx context.Context) {
	g.drainSettingsRequest()
	g.adoptPendingTask()

	g.mu.Lock()
	cur := g.current
	standby := g.standbyName
	g.mu.Unlock()

	g.surface.BeginFrame()
	if cur != nil && cur.render != nil {
		g.surface.ClearBackground()
		cur.render.Render()
		if points := cur.render.CalibrationPoints(); len(points) > 0 {
			if calib, ok := g.pipeline.CalibrationHandle(); ok {
				calib.PushCalibrationPoints(points)
			}
		}
		if cur.render.IsFinished() {
			g.taskFinished.Store(true)
		}
	} else {
		g.surface.PaintStandby(standby)
		if g.surface.StartKeyPressed() {
			g.startRequested.Store(true)
		}
	}
	g.surface.EndFrame()
}

func (g *Graphics) drainSettingsRequest() {
	req, ok := g.settingsQueue.TryPop()
	if !ok {
		return
	}
	if g.State() != StateDefault {
		req.reply <- errkind.New(errkind.NotPermitted, "graphics: settings already applied")
		return
	}
	if err := g.surface.ApplySettings(req.settings); err != nil {
		req.reply <- err
		return
	}

	g.mu.Lock()
	var mon MonitorInfo
	for _, m := range g.monitors {
		if m.Index == req.settings.MonitorIndex {
			mon = m
			break
		}
	}
	g.mu.Unlock()

	g.renderCtx = core.RenderContext{
		ViewDistanceMM:  defaultViewDistanceMM,
		MonitorWidthMM:  mon.WidthMM,
		MonitorHeightMM: mon.HeightMM,
		PPDX:            core.PPD(req.settings.WidthPx, mon.WidthMM, defaultViewDistanceMM),
		PPDY:            core.PPD(req.settings.HeightPx, mon.HeightMM, defaultViewDistanceMM),
	}
	g.mu.Lock()
	g.lastSettings = req.settings
	g.mu.Unlock()
	g.state.Store(int32(StateReady))
	g.graphicsInitialized.Store(true)
	req.reply <- nil
}

func (g *Graphics) adoptPendingTask() {
	g.mu.Lock()
	pending := g.pending
	g.pending = nil
	g.mu.Unlock()

	if pending == nil {
		return
	}

	g.shutdownActiveTask()

	if pending.handle == nil {
		return
	}

	dir := filepath.Dir(pending.handle.Path())
	if err := os.Chdir(dir); err != nil {
		g.log.Printf("task %q: chdir %s: %v", pending.handle.Name(), dir, err)
	}
	pending.render.SetRenderContext(g.renderCtx)
	if err := pending.handle.Lifecycle().Init(); err != nil {
		g.log.Printf("task %q: init: %v", pending.handle.Name(), err)
	}

	g.mu.Lock()
	g.current = pending
	g.mu.Unlock()
	g.taskFinished.Store(false)
}

func (g *Graphics) shutdownActiveTask() {
	g.mu.Lock()
	cur := g.current
	g.current = nil
	g.mu.Unlock()
	if cur != nil && cur.handle != nil {
		cur.handle.Lifecycle().Shutdown()
	}
}
