// Command dummy-sink is a reference Sink plugin: it counts samples as they
// pass through, optionally logging each one, without writing them anywhere
// durable (that's the dataset writer sink's job).
package main

import (
	"encoding/json"
	"log"
	"sync/atomic"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/plugin"
)

type config struct {
	Verbose bool `json:"verbose"`
}

var defaultConfig = config{Verbose: false}

type dummySink struct {
	verbose atomic.Bool
	count   atomic.Uint64
}

func newDummySink() *dummySink { return &dummySink{} }

func (d *dummySink) Init() error {
	d.count.Store(0)
	return nil
}

func (d *dummySink) Pause()    {}
func (d *dummySink) Resume()   {}
func (d *dummySink) Reset()    { d.count.Store(0) }
func (d *dummySink) Shutdown() {}

func (d *dummySink) ConfigSchema() string {
	return `{"type":"object","properties":{"verbose":{"type":"boolean"}}}`
}

func (d *dummySink) DefaultConfig() string {
	b, _ := json.Marshal(defaultConfig)
	return string(b)
}

func (d *dummySink) SetConfigStr(configJSON string) error {
	var c config
	if err := json.Unmarshal([]byte(configJSON), &c); err != nil {
		return err
	}
	d.verbose.Store(c.Verbose)
	return nil
}

func (d *dummySink) Consume(data core.EyeSample) {
	n := d.count.Add(1)
	if d.verbose.Load() {
		log.Printf("dummy-sink: sample %d at ts=%d", n, data.Timestamp)
	}
}

var _ plugin.Instance = (*dummySink)(nil)
var _ plugin.Sink = (*dummySink)(nil)
var _ plugin.Configurable = (*dummySink)(nil)

func Create() plugin.Instance { return newDummySink() }

func Name() string        { return "dummy-sink" }
func Author() string      { return "reyer-rt" }
func Description() string { return "counts samples passing through the pipeline" }
func Version() uint32     { return plugin.EncodeVersion(1, 0, 0) }

func main() {}
