package app

import (
	"sync/atomic"

	"github.com/reyer-project/reyer-rt/internal/graphics"
	"github.com/reyer-project/reyer-rt/internal/message"
)

// HeadlessSurface is the Surface reyerd wires in by default. It tracks state
// transitions and reports a single virtual monitor but owns no window or GPU
// context; a deployment that needs an on-screen window supplies its own
// Surface (a windowing binding is a plugin concern, not part of this host).
type HeadlessSurface struct {
	closeRequested atomic.Bool
	widthPx        int
	heightPx       int
}

// NewHeadlessSurface builds a HeadlessSurface reporting one virtual monitor
// of the given pixel dimensions.
func NewHeadlessSurface(widthPx, heightPx int) *HeadlessSurface {
	return &HeadlessSurface{widthPx: widthPx, heightPx: heightPx}
}

var _ graphics.Surface = (*HeadlessSurface)(nil)

func (h *HeadlessSurface) PollMonitors() []graphics.MonitorInfo {
	return []graphics.MonitorInfo{{
		Index:    0,
		Name:     "headless-0",
		WidthPx:  h.widthPx,
		HeightPx: h.heightPx,
		WidthMM:  0,
		HeightMM: 0,
	}}
}

func (h *HeadlessSurface) ApplySettings(settings message.GraphicsSettingsRequest) error {
	return nil
}

func (h *HeadlessSurface) BeginFrame()        {}
func (h *HeadlessSurface) EndFrame()          {}
func (h *HeadlessSurface) ClearBackground()   {}
func (h *HeadlessSurface) PaintStandby(string) {}

func (h *HeadlessSurface) ShouldClose() bool {
	return h.closeRequested.Load()
}

func (h *HeadlessSurface) StartKeyPressed() bool { return false }

func (h *HeadlessSurface) Close() {}

// RequestClose flips ShouldClose, letting an operator (e.g. a signal
// handler) drive the graphics loop to exit exactly as a real window's close
// button would.
func (h *HeadlessSurface) RequestClose() {
	h.closeRequested.Store(true)
}
