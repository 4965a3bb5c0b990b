// Command fixation-task is a reference Render task plugin: it presents a
// single fixation target for a fixed duration, records the gaze samples it
// sees while active as calibration points, and reports itself finished once
// the duration elapses. It draws nothing itself (no windowing binding ships
// with the host); it only tracks state a real on-screen task would render
// from.
package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/plugin"
)

type config struct {
	DurationMS  int64   `json:"duration_ms"`
	TargetXNorm float64 `json:"target_x_norm"`
	TargetYNorm float64 `json:"target_y_norm"`
}

var defaultConfig = config{DurationMS: 2000, TargetXNorm: 0.5, TargetYNorm: 0.5}

type fixationTask struct {
	mu         sync.Mutex
	cfg        config
	renderCtx  core.RenderContext
	startedAt  time.Time
	points     []core.CalibrationPoint
}

func newFixationTask() *fixationTask { return &fixationTask{cfg: defaultConfig} }

func (f *fixationTask) Init() error {
	f.mu.Lock()
	f.startedAt = time.Now()
	f.points = nil
	f.mu.Unlock()
	return nil
}

func (f *fixationTask) Pause()  {}
func (f *fixationTask) Resume() {}

func (f *fixationTask) Reset() {
	f.mu.Lock()
	f.startedAt = time.Now()
	f.points = nil
	f.mu.Unlock()
}

func (f *fixationTask) Shutdown() {}

func (f *fixationTask) ConfigSchema() string {
	return `{"type":"object","properties":{"duration_ms":{"type":"integer"},"target_x_norm":{"type":"number"},"target_y_norm":{"type":"number"}}}`
}

func (f *fixationTask) DefaultConfig() string {
	b, _ := json.Marshal(defaultConfig)
	return string(b)
}

func (f *fixationTask) SetConfigStr(configJSON string) error {
	var c config
	if err := json.Unmarshal([]byte(configJSON), &c); err != nil {
		return err
	}
	f.mu.Lock()
	f.cfg = c
	f.mu.Unlock()
	return nil
}

// SetRenderContext is called once, before Init, by the graphics component
// with the pixel geometry it derived from the applied graphics settings and
// the monitor's physical size.
func (f *fixationTask) SetRenderContext(ctx core.RenderContext) {
	f.mu.Lock()
	f.renderCtx = ctx
	f.mu.Unlock()
}

// Render draws nothing on its own; a concrete windowing Surface is expected
// to own the actual draw calls for the target this task describes via its
// config. This plugin only advances the task's own clock-driven state.
func (f *fixationTask) Render() {}

func (f *fixationTask) IsFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.startedAt) >= time.Duration(f.cfg.DurationMS)*time.Millisecond
}

// CalibrationPoints drains and returns every point recorded via Consume
// since the last call.
func (f *fixationTask) CalibrationPoints() []core.CalibrationPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.points
	f.points = nil
	return out
}

// Consume lets this task double as a Sink while a calibration procedure is
// running: every sample seen while the fixation target is showing becomes
// a calibration point pairing the known target location against the
// measured gaze.
func (f *fixationTask) Consume(data core.EyeSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := core.Vec2{X: f.cfg.TargetXNorm, Y: f.cfg.TargetYNorm}
	f.points = append(f.points,
		core.CalibrationPoint{Control: target, Measured: data.Left.Gaze.Raw, Eye: core.EyeLeft},
		core.CalibrationPoint{Control: target, Measured: data.Right.Gaze.Raw, Eye: core.EyeRight},
	)
}

var _ plugin.Instance = (*fixationTask)(nil)
var _ plugin.Render = (*fixationTask)(nil)
var _ plugin.Sink = (*fixationTask)(nil)
var _ plugin.Configurable = (*fixationTask)(nil)

func Create() plugin.Instance { return newFixationTask() }

func Name() string        { return "fixation" }
func Author() string      { return "reyer-rt" }
func Description() string { return "presents a single fixation target for a fixed duration" }
func Version() uint32     { return plugin.EncodeVersion(1, 0, 0) }

func main() {}
