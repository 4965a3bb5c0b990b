// Command dummy-calibration is a reference Calibration plugin: it applies a
// fixed offset to every sample's raw gaze point rather than fitting a real
// correction model, so the calibration slot in a pipeline can be exercised
// end to end.
package main

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/plugin"
)

type config struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

var defaultConfig = config{}

type dummyCalibration struct {
	mu  sync.Mutex
	cfg config
}

func newDummyCalibration() *dummyCalibration { return &dummyCalibration{cfg: defaultConfig} }

func (d *dummyCalibration) Init() error { return nil }
func (d *dummyCalibration) Pause()      {}
func (d *dummyCalibration) Resume()     {}
func (d *dummyCalibration) Reset()      {}
func (d *dummyCalibration) Shutdown()   {}

func (d *dummyCalibration) ConfigSchema() string {
	return `{"type":"object","properties":{"offset_x":{"type":"number"},"offset_y":{"type":"number"}}}`
}

func (d *dummyCalibration) DefaultConfig() string {
	b, _ := json.Marshal(defaultConfig)
	return string(b)
}

func (d *dummyCalibration) SetConfigStr(configJSON string) error {
	var c config
	if err := json.Unmarshal([]byte(configJSON), &c); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = c
	d.mu.Unlock()
	return nil
}

// PushCalibrationPoints is handed the points a render task accumulated
// during its calibration procedure. A real implementation would fit a
// correction model from them; this one just logs how many arrived.
func (d *dummyCalibration) PushCalibrationPoints(points []core.CalibrationPoint) {
	log.Printf("dummy-calibration: received %d calibration points", len(points))
}

func (d *dummyCalibration) Calibrate(data *core.EyeSample) {
	d.mu.Lock()
	ox, oy := d.cfg.OffsetX, d.cfg.OffsetY
	d.mu.Unlock()

	data.Left.Gaze.Raw.X += ox
	data.Left.Gaze.Raw.Y += oy
	data.Right.Gaze.Raw.X += ox
	data.Right.Gaze.Raw.Y += oy
}

var _ plugin.Instance = (*dummyCalibration)(nil)
var _ plugin.Calibration = (*dummyCalibration)(nil)
var _ plugin.Configurable = (*dummyCalibration)(nil)

func Create() plugin.Instance { return newDummyCalibration() }

func Name() string        { return "dummy-calibration" }
func Author() string      { return "reyer-rt" }
func Description() string { return "applies a fixed offset in place of a fitted correction model" }
func Version() uint32     { return plugin.EncodeVersion(1, 0, 0) }

func main() {}
