// Package pipeline implements the data pipeline engine (source -> optional
// calibration -> stage chain -> sinks), reconfigurable while its pump
// goroutine is running.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/plugin"
)

const noSourceRetryInterval = 10 * time.Millisecond

type stageBinding struct {
	handle *plugin.Handle
	stage  plugin.Stage
}

type sinkBinding struct {
	name   string
	handle *plugin.Handle // nil for internally constructed sinks (e.g. the data writer)
	sink   plugin.Sink
}

// Config configures a Pipeline at construction.
type Config struct {
	Log *log.Logger
}

// Pipeline is the C4 data pipeline engine. All mutable interior state is
// guarded by mu; Configure/AddSink/RemoveSink are the control plane, RunOnce
// is the data plane (called only from the pipeline's own goroutine).
type Pipeline struct {
	log *log.Logger

	mu                sync.Mutex
	sourceHandle      *plugin.Handle
	source            plugin.Source
	calibrationHandle *plugin.Handle
	calibration       plugin.Calibration
	stages            []stageBinding
	sinks             []sinkBinding
	needsInit         bool
}

// New constructs an empty Pipeline; it pumps no samples until Configure
// installs a source.
func New(cfg Config) *Pipeline {
	l := cfg.Log
	if l == nil {
		l = log.New(log.Writer(), "[pipeline] ", log.LstdFlags)
	}
	return &Pipeline{log: l}
}

// CalibrationHandle returns the currently bound calibration view, used by
// the graphics loop to deliver calibration points collected by the active
// render task. Returns (nil, false) if no calibration is bound.
func (p *Pipeline) CalibrationHandle() (plugin.Calibration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calibration, p.calibration != nil
}

// Configure replaces the source, calibration, and stage chain. It first
// cancels any source currently blocked in WaitForSample (outside the lock,
// so the pump loop wakes promptly), then swaps the topology atomically
// under the lock. The new plugins are Init'd by the pipeline goroutine
// itself on its next iteration, not by the calling goroutine.
func (p *Pipeline) Configure(sourceHandle *plugin.Handle, calibrationHandle *plugin.Handle, stageHandles []*plugin.Handle) error {
	source, ok := sourceHandle.AsSource()
	if !ok {
		return fmt.Errorf("pipeline: %q does not implement Source", sourceHandle.Name())
	}

	var calibration plugin.Calibration
	if calibrationHandle != nil {
		calibration, ok = calibrationHandle.AsCalibration()
		if !ok {
			return fmt.Errorf("pipeline: %q does not implement Calibration", calibrationHandle.Name())
		}
	}

	stages := make([]stageBinding, 0, len(stageHandles))
	for _, h := range stageHandles {
		st, ok := h.AsStage()
		if !ok {
			return fmt.Errorf("pipeline: %q does not implement Stage", h.Name())
		}
		stages = append(stages, stageBinding{handle: h, stage: st})
	}

	p.mu.Lock()
	prev := p.source
	p.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdownTopologyLocked()

	p.sourceHandle = sourceHandle
	p.source = source
	sourceHandle.Acquire()

	p.calibrationHandle = calibrationHandle
	p.calibration = calibration
	if calibrationHandle != nil {
		calibrationHandle.Acquire()
	}

	p.stages = stages
	for _, s := range stages {
		s.handle.Acquire()
	}

	p.needsInit = true
	return nil
}

// shutdownTopologyLocked shuts down the current source/calibration/stages
// in reverse dependency order (stages -> calibration -> source) and
// releases their handles. Callers must hold mu.
func (p *Pipeline) shutdownTopologyLocked() {
	for i := len(p.stages) - 1; i >= 0; i-- {
		h := p.stages[i].handle
		h.Lifecycle().Shutdown()
		h.Release()
	}
	p.stages = nil

	if p.calibrationHandle != nil {
		p.calibrationHandle.Lifecycle().Shutdown()
		p.calibrationHandle.Release()
		p.calibrationHandle = nil
		p.calibration = nil
	}

	if p.sourceHandle != nil {
		p.sourceHandle.Lifecycle().Shutdown()
		p.sourceHandle.Release()
		p.sourceHandle = nil
		p.source = nil
	}
}

// AddSink installs a sink at the end of the current sink order. handle may
// be nil for an internally constructed sink with no backing plugin module.
func (p *Pipeline) AddSink(name string, sink plugin.Sink, handle *plugin.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if handle != nil {
		handle.Acquire()
	}
	p.sinks = append(p.sinks, sinkBinding{name: name, handle: handle, sink: sink})
}

// RemoveSink uninstalls the named sink, if present.
func (p *Pipeline) RemoveSink(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.sinks {
		if s.name == name {
			if s.handle != nil {
				s.handle.Release()
			}
			p.sinks = append(p.sinks[:i], p.sinks[i+1:]...)
			return
		}
	}
}

// Init satisfies worker.Runner. The pipeline needs no setup before its
// first iteration; new topologies are initialized lazily inside RunOnce.
func (p *Pipeline) Init(ctx context.Context) error {
	return nil
}

// RunOnce satisfies worker.Runner: one pump iteration.
func (p *Pipeline) RunOnce(ctx context.Context) {
	p.mu.Lock()
	if p.needsInit {
		p.initPendingLocked()
		p.needsInit = false
	}
	source := p.source
	p.mu.Unlock()

	if source == nil {
		time.Sleep(noSourceRetryInterval)
		return
	}

	var sample core.EyeSample
	if !source.WaitForSample(ctx, &sample) {
		return
	}

	p.process(&sample)
}

// initPendingLocked calls Init on the currently bound source/calibration/
// stages. Called only from the pipeline goroutine while mu is held.
func (p *Pipeline) initPendingLocked() {
	if p.sourceHandle != nil {
		if err := p.sourceHandle.Lifecycle().Init(); err != nil {
			p.log.Printf("source %q failed to initialize: %v", p.sourceHandle.Name(), err)
		}
	}
	if p.calibrationHandle != nil {
		if err := p.calibrationHandle.Lifecycle().Init(); err != nil {
			p.log.Printf("calibration %q failed to initialize: %v", p.calibrationHandle.Name(), err)
		}
	}
	for _, s := range p.stages {
		if err := s.handle.Lifecycle().Init(); err != nil {
			p.log.Printf("stage %q failed to initialize: %v", s.handle.Name(), err)
		}
	}
}

// process runs one sample through calibration, the stage chain, and every
// sink, recovering from any plugin panic so the pump loop never dies.
func (p *Pipeline) process(sample *core.EyeSample) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Printf("recovered from panic while processing a sample: %v", r)
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calibration != nil {
		p.calibration.Calibrate(sample)
	}
	for _, s := range p.stages {
		s.stage.Process(sample)
	}
	for _, s := range p.sinks {
		s.sink.Consume(*sample)
	}
}

// Shutdown satisfies worker.Runner: tears down whatever topology remains.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownTopologyLocked()
	for _, s := range p.sinks {
		if s.handle != nil {
			s.handle.Release()
		}
	}
	p.sinks = nil
}
