// Command dummy-source is a reference Source plugin: it manufactures a
// synthetic EyeSample on a fixed interval instead of reading real tracker
// hardware, so the pipeline and protocol state machine can be exercised
// without a physical eye tracker attached.
package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/plugin"
)

type config struct {
	SampleRateHz float64 `json:"sample_rate_hz"`
}

var defaultConfig = config{SampleRateHz: 60}

type dummySource struct {
	mu     sync.Mutex
	cfg    config
	frame  uint64
	cancel chan struct{}
}

func newDummySource() *dummySource {
	return &dummySource{cfg: defaultConfig, cancel: make(chan struct{})}
}

func (d *dummySource) Init() error {
	d.mu.Lock()
	d.frame = 0
	d.mu.Unlock()
	return nil
}

func (d *dummySource) Pause()  {}
func (d *dummySource) Resume() {}

func (d *dummySource) Reset() {
	d.mu.Lock()
	d.frame = 0
	d.mu.Unlock()
}

func (d *dummySource) Shutdown() { d.Cancel() }

func (d *dummySource) ConfigSchema() string {
	return `{"type":"object","properties":{"sample_rate_hz":{"type":"number"}}}`
}

func (d *dummySource) DefaultConfig() string {
	b, _ := json.Marshal(defaultConfig)
	return string(b)
}

func (d *dummySource) SetConfigStr(configJSON string) error {
	var c config
	if err := json.Unmarshal([]byte(configJSON), &c); err != nil {
		return err
	}
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = defaultConfig.SampleRateHz
	}
	d.mu.Lock()
	d.cfg = c
	d.mu.Unlock()
	return nil
}

// WaitForSample blocks for one sample interval, producing a synthetic
// sweep pattern, or returns false if ctx is cancelled or Cancel is called
// first.
func (d *dummySource) WaitForSample(ctx context.Context, out *core.EyeSample) bool {
	d.mu.Lock()
	rate := d.cfg.SampleRateHz
	d.mu.Unlock()
	interval := time.Duration(float64(time.Second) / rate)

	select {
	case <-ctx.Done():
		return false
	case <-d.cancel:
		return false
	case <-time.After(interval):
	}

	d.mu.Lock()
	frame := d.frame
	d.frame++
	d.mu.Unlock()

	val := float64(frame % 100)
	point := core.Vec2{X: val, Y: val}
	*out = core.EyeSample{
		Left:      core.Tracker{Dpi: core.DpiData{P1: point, P4: point}, Gaze: core.GazeData{Raw: point}, IsValid: true},
		Right:     core.Tracker{Dpi: core.DpiData{P1: point, P4: point}, Gaze: core.GazeData{Raw: point}, IsValid: true},
		Timestamp: frame,
	}
	return true
}

// Cancel unblocks any in-flight WaitForSample. Safe to call from another
// goroutine and more than once.
func (d *dummySource) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.cancel:
	default:
		close(d.cancel)
	}
}

var _ plugin.Instance = (*dummySource)(nil)
var _ plugin.Source = (*dummySource)(nil)
var _ plugin.Configurable = (*dummySource)(nil)

// Create is the plugin ABI entry point the registry resolves by name.
func Create() plugin.Instance { return newDummySource() }

func Name() string        { return "dummy-source" }
func Author() string      { return "reyer-rt" }
func Description() string { return "synthetic eye sample generator for testing without hardware" }
func Version() uint32     { return plugin.EncodeVersion(1, 0, 0) }

func main() {}
