// Command dummy-stage is a reference Stage plugin: it applies a uniform
// scale factor to the raw gaze point of both eyes, the simplest possible
// demonstration of the in-place Process transform every filter/smoothing
// stage implements.
package main

import (
	"encoding/json"
	"sync"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/plugin"
)

type config struct {
	ScaleFactor float64 `json:"scale_factor"`
}

var defaultConfig = config{ScaleFactor: 1.0}

type dummyStage struct {
	mu  sync.Mutex
	cfg config
}

func newDummyStage() *dummyStage { return &dummyStage{cfg: defaultConfig} }

func (d *dummyStage) Init() error   { return nil }
func (d *dummyStage) Pause()        {}
func (d *dummyStage) Resume()       {}
func (d *dummyStage) Reset()        {}
func (d *dummyStage) Shutdown()     {}

func (d *dummyStage) ConfigSchema() string {
	return `{"type":"object","properties":{"scale_factor":{"type":"number"}}}`
}

func (d *dummyStage) DefaultConfig() string {
	b, _ := json.Marshal(defaultConfig)
	return string(b)
}

func (d *dummyStage) SetConfigStr(configJSON string) error {
	var c config
	if err := json.Unmarshal([]byte(configJSON), &c); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = c
	d.mu.Unlock()
	return nil
}

func (d *dummyStage) Process(data *core.EyeSample) {
	d.mu.Lock()
	scale := d.cfg.ScaleFactor
	d.mu.Unlock()

	data.Left.Gaze.Raw.X *= scale
	data.Left.Gaze.Raw.Y *= scale
	data.Right.Gaze.Raw.X *= scale
	data.Right.Gaze.Raw.Y *= scale
}

var _ plugin.Instance = (*dummyStage)(nil)
var _ plugin.Stage = (*dummyStage)(nil)
var _ plugin.Configurable = (*dummyStage)(nil)

func Create() plugin.Instance { return newDummyStage() }

func Name() string        { return "dummy-stage" }
func Author() string      { return "reyer-rt" }
func Description() string { return "scales raw gaze data by a configurable factor" }
func Version() uint32     { return plugin.EncodeVersion(1, 0, 0) }

func main() {}
