// Package protocol implements the protocol controller (C7): the state
// machine sequencing a protocol's tasks and binding them to the graphics
// and pipeline components.
package protocol

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reyer-project/reyer-rt/internal/broadcast"
	"github.com/reyer-project/reyer-rt/internal/dataset"
	"github.com/reyer-project/reyer-rt/internal/errkind"
	"github.com/reyer-project/reyer-rt/internal/graphics"
	"github.com/reyer-project/reyer-rt/internal/history"
	"github.com/reyer-project/reyer-rt/internal/message"
	"github.com/reyer-project/reyer-rt/internal/pipeline"
	"github.com/reyer-project/reyer-rt/internal/plugin"
	"github.com/reyer-project/reyer-rt/internal/queue"
	"github.com/reyer-project/reyer-rt/internal/writer"
)

const (
	runningPollInterval = 16 * time.Millisecond
	idlePollInterval    = 50 * time.Millisecond
)

// State is the protocol controller's own state machine.
type State int32

const (
	StateIdle State = iota
	StateStandby
	StateRunning
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateStandby:
		return "STANDBY"
	case StateRunning:
		return "RUNNING"
	case StateSaving:
		return "SAVING"
	default:
		return "IDLE"
	}
}

type commandEnvelope struct {
	cmd   message.Command
	reply chan error
}

// Config configures a Controller at construction.
type Config struct {
	Registry     *plugin.Registry
	Pipeline     *pipeline.Pipeline
	Graphics     *graphics.Graphics
	Broadcaster  *broadcast.Publisher
	History      *history.Store
	DatasetDir   string
	Log          *log.Logger
	RequestStop  func() // called once on Command::EXIT to stop the whole host
}

// Controller is the C7 protocol controller.
type Controller struct {
	registry    *plugin.Registry
	pipeline    *pipeline.Pipeline
	graphics    *graphics.Graphics
	broadcaster *broadcast.Publisher
	hist        *history.Store
	datasetDir  string
	log         *log.Logger
	requestStop func()

	state atomic.Int32

	mu              sync.Mutex
	protocol        *message.ProtocolRequest
	pendingProtocol bool
	taskIndex       int
	run             *dataset.Run
	taskHandle      *plugin.Handle
	taskWriter      *writer.Sink
	runStartedAt    time.Time

	commands *queue.Queue[commandEnvelope]
}

// New constructs a Controller.
func New(cfg Config) *Controller {
	l := cfg.Log
	if l == nil {
		l = log.New(log.Writer(), "[protocol] ", log.LstdFlags)
	}
	return &Controller{
		registry:    cfg.Registry,
		pipeline:    cfg.Pipeline,
		graphics:    cfg.Graphics,
		broadcaster: cfg.Broadcaster,
		hist:        cfg.History,
		datasetDir:  cfg.DatasetDir,
		log:         l,
		requestStop: cfg.RequestStop,
		commands:    queue.New[commandEnvelope](8),
	}
}

// State returns the current controller state.
func (c *Controller) State() State { return State(c.state.Load()) }

// CurrentProtocol returns a copy of the armed/active protocol, if any.
func (c *Controller) CurrentProtocol() (message.ProtocolRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.protocol == nil {
		return message.ProtocolRequest{}, false
	}
	return *c.protocol, true
}

// CurrentTask returns the task currently loaded, if any.
func (c *Controller) CurrentTask() (message.Task, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.protocol == nil || c.taskHandle == nil || c.taskIndex >= len(c.protocol.Tasks) {
		return message.Task{}, 0, false
	}
	return c.protocol.Tasks[c.taskIndex], c.taskIndex, true
}

// SetProtocol arms a new protocol. Rejected with Busy while RUNNING.
func (c *Controller) SetProtocol(p message.ProtocolRequest) error {
	if c.State() == StateRunning {
		return errkind.New(errkind.Busy, "cannot set protocol while RUNNING")
	}
	c.mu.Lock()
	c.protocol = &p
	c.pendingProtocol = true
	c.mu.Unlock()
	return nil
}

// EnqueueCommand submits a command and blocks until the controller has
// processed it.
func (c *Controller) EnqueueCommand(ctx context.Context, cmd message.Command) error {
	env := commandEnvelope{cmd: cmd, reply: make(chan error, 1)}
	if !c.commands.Push(env) {
		return errkind.New(errkind.ResourceUnavailable, "protocol controller is shutting down")
	}
	select {
	case err := <-env.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Init satisfies worker.Runner.
func (c *Controller) Init(ctx context.Context) error { return nil }

// RunOnce satisfies worker.Runner: one state-poll iteration.
func (c *Controller) RunOnce(ctx context.Context) {
	switch c.State() {
	case StateIdle:
		c.promoteLoadedProtocol()
		c.drainCommands(ctx)
		time.Sleep(idlePollInterval)

	case StateStandby:
		if c.graphics.ConsumeStartRequest() {
			c.commands.Push(commandEnvelope{cmd: message.CommandStart, reply: make(chan error, 1)})
		}
		c.drainCommands(ctx)
		time.Sleep(idlePollInterval)

	case StateRunning:
		if c.graphics.IsCurrentTaskFinished() {
			c.commands.Push(commandEnvelope{cmd: message.CommandNext, reply: make(chan error, 1)})
		}
		c.drainCommands(ctx)
		time.Sleep(runningPollInterval)

	default: // StateSaving is always transient; see enterSaving.
		time.Sleep(idlePollInterval)
	}
}

// Shutdown satisfies worker.Runner.
func (c *Controller) Shutdown(ctx context.Context) {
	if c.State() == StateRunning {
		c.cleanupCurrentTask()
		c.enterSaving()
	}
}

func (c *Controller) promoteLoadedProtocol() {
	c.mu.Lock()
	pending := c.pendingProtocol
	proto := c.protocol
	c.pendingProtocol = false
	c.mu.Unlock()

	if !pending || proto == nil {
		return
	}
	c.state.Store(int32(StateStandby))
	c.graphics.SetStandbyInfo(proto.Name)
	c.broadcaster.PublishProtocolEvent(message.ProtocolEventPayload{
		Event:        message.EventProtocolLoaded,
		ProtocolName: proto.Name,
	})
}

func (c *Controller) drainCommands(ctx context.Context) {
	for {
		env, ok := c.commands.TryPop()
		if !ok {
			return
		}
		env.reply <- c.dispatch(ctx, env.cmd)
	}
}

func (c *Controller) dispatch(ctx context.Context, cmd message.Command) error {
	switch cmd {
	case message.CommandStart:
		return c.handleStart(ctx)
	case message.CommandNext:
		return c.handleNext(ctx)
	case message.CommandStop:
		return c.handleStop()
	case message.CommandExit:
		return c.handleExit()
	default:
		return errkind.New(errkind.InvalidArgument, "unknown command")
	}
}

func (c *Controller) handleStart(ctx context.Context) error {
	if c.State() != StateStandby {
		return errkind.New(errkind.Busy, "START is only valid in STANDBY")
	}

	c.mu.Lock()
	proto := c.protocol
	c.mu.Unlock()
	if proto == nil {
		return errkind.New(errkind.InvalidArgument, "no protocol armed")
	}
	if proto.ProtocolUUID == "" {
		proto.ProtocolUUID = uuid.NewString()
	}

	run, err := dataset.CreateRun(c.datasetDir, proto.ProtocolUUID)
	if err != nil {
		return errkind.Wrap(errkind.ResourceUnavailable, "create dataset run", err)
	}

	c.mu.Lock()
	c.run = run
	c.taskIndex = 0
	c.runStartedAt = time.Now()
	c.mu.Unlock()

	c.state.Store(int32(StateRunning))
	c.broadcaster.PublishProtocolEvent(message.ProtocolEventPayload{
		Event:        message.EventProtocolNew,
		ProtocolUUID: proto.ProtocolUUID,
		ProtocolName: proto.Name,
	})

	if c.hist != nil {
		if err := c.hist.RecordStart(history.RunRecord{
			ProtocolUUID:  proto.ProtocolUUID,
			Name:          proto.Name,
			ParticipantID: proto.ParticipantID,
			Notes:         proto.Notes,
			TaskCount:     len(proto.Tasks),
			StartedAt:     c.runStartedAt,
			DatasetPath:   run.Path(),
		}); err != nil {
			c.log.Printf("record run start: %v", err)
		}
	}

	return c.loadTask(ctx, 0)
}

func (c *Controller) handleNext(ctx context.Context) error {
	if c.State() != StateRunning {
		return errkind.New(errkind.Busy, "NEXT is only valid in RUNNING")
	}
	c.cleanupCurrentTask()

	c.mu.Lock()
	c.taskIndex++
	idx := c.taskIndex
	proto := c.protocol
	c.mu.Unlock()

	if proto == nil || idx >= len(proto.Tasks) {
		c.enterSaving()
		return nil
	}
	return c.loadTask(ctx, idx)
}

func (c *Controller) handleStop() error {
	if c.State() != StateRunning {
		return errkind.New(errkind.Busy, "STOP is only valid in RUNNING")
	}
	c.cleanupCurrentTask()
	c.enterSaving()
	return nil
}

func (c *Controller) handleExit() error {
	if c.State() == StateRunning {
		c.cleanupCurrentTask()
		c.enterSaving()
	}
	if c.requestStop != nil {
		c.requestStop()
	}
	return nil
}

// loadTask resolves name by task index, applies its configuration, hands it
// to graphics for adoption, and binds the pipeline's active sink plus a
// per-task data writer.
func (c *Controller) loadTask(ctx context.Context, index int) error {
	c.mu.Lock()
	proto := c.protocol
	run := c.run
	c.mu.Unlock()
	if proto == nil || index >= len(proto.Tasks) {
		return errkind.New(errkind.InvalidArgument, "task index out of range")
	}
	task := proto.Tasks[index]

	handle, err := c.registry.Get(task.Name)
	if err != nil {
		return err
	}
	render, ok := handle.AsRender()
	if !ok {
		return errkind.New(errkind.InvalidArgument, fmt.Sprintf("%q is not a render task", task.Name))
	}
	if cfg, ok := handle.AsConfigurable(); ok && task.Configuration != "" {
		if err := cfg.SetConfigStr(task.Configuration); err != nil {
			return errkind.Wrap(errkind.InvalidArgument, "apply task configuration", err)
		}
	}

	if err := run.OpenTask(index); err != nil {
		return errkind.Wrap(errkind.ResourceUnavailable, "open task dataset file", err)
	}

	handle.Acquire()
	c.graphics.SetPendingTask(handle, render)

	if renderSink, ok := handle.AsSink(); ok {
		c.pipeline.AddSink("render-task", renderSink, nil)
	}

	w := writer.New(run, index, c.log)
	w.Start(ctx)
	c.pipeline.AddSink("data-writer", w, nil)

	c.mu.Lock()
	c.taskHandle = handle
	c.taskWriter = w
	c.taskIndex = index
	c.mu.Unlock()

	c.broadcaster.PublishProtocolEvent(message.ProtocolEventPayload{
		Event:     message.EventTaskStart,
		TaskIndex: index,
		TaskName:  task.Name,
	})
	return nil
}

// cleanupCurrentTask tears down the active task in the mirror order of
// loadTask: broadcast end, stop and drop the writer, then hand the plugin
// off to the graphics goroutine to shut down. Shutdown() must only ever be
// called from the graphics goroutine, so this never calls it directly —
// ClearCurrentTask's adoption path is the single place that does.
func (c *Controller) cleanupCurrentTask() {
	c.mu.Lock()
	handle := c.taskHandle
	w := c.taskWriter
	run := c.run
	idx := c.taskIndex
	c.taskHandle = nil
	c.taskWriter = nil
	c.mu.Unlock()

	if handle == nil {
		return
	}

	c.broadcaster.PublishProtocolEvent(message.ProtocolEventPayload{
		Event:     message.EventTaskEnd,
		TaskIndex: idx,
		TaskName:  handle.Name(),
	})

	c.pipeline.RemoveSink("render-task")
	c.pipeline.RemoveSink("data-writer")
	if w != nil {
		w.Stop()
	}
	if run != nil {
		if err := run.CloseTask(idx); err != nil {
			c.log.Printf("close task %d: %v", idx, err)
		}
	}

	c.graphics.ClearCurrentTask()
	handle.Release()
}

// enterSaving closes the dataset file, records the run end, and returns to
// STANDBY. SAVING is intentionally transient: by the time a caller can
// observe it, cleanup has already completed.
func (c *Controller) enterSaving() {
	c.state.Store(int32(StateSaving))

	c.mu.Lock()
	run := c.run
	proto := c.protocol
	c.run = nil
	c.mu.Unlock()

	if run != nil {
		if err := run.Close(); err != nil {
			c.log.Printf("close dataset run: %v", err)
		}
	}

	if c.hist != nil && proto != nil {
		if err := c.hist.RecordEnd(proto.ProtocolUUID, time.Now()); err != nil {
			c.log.Printf("record run end: %v", err)
		}
	}

	c.state.Store(int32(StateStandby))
}
