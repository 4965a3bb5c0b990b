// Package server implements the reply server (C9): the request/response
// side of the host's IPC surface. One goroutine reads framed requests off a
// REP socket, decodes the wire's tagged union, dispatches to whichever
// component owns the answer, and replies with a uniform envelope.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/reyer-project/reyer-rt/internal/broadcast"
	"github.com/reyer-project/reyer-rt/internal/errkind"
	"github.com/reyer-project/reyer-rt/internal/graphics"
	"github.com/reyer-project/reyer-rt/internal/history"
	"github.com/reyer-project/reyer-rt/internal/message"
	"github.com/reyer-project/reyer-rt/internal/pipeline"
	"github.com/reyer-project/reyer-rt/internal/plugin"
	"github.com/reyer-project/reyer-rt/internal/protocol"
	"github.com/reyer-project/reyer-rt/internal/transport"
)

const recentRunsDefaultLimit = 50

// Socket is the subset of *transport.ReplySocket the server needs, so tests
// can drive it without a real ipc socket.
type Socket interface {
	Recv() (payload []byte, reply transport.ReplyFunc, timedOut bool, err error)
}

var _ Socket = (*transport.ReplySocket)(nil)

// Config configures a Server at construction.
type Config struct {
	Socket      Socket
	Registry    *plugin.Registry
	Pipeline    *pipeline.Pipeline
	Graphics    *graphics.Graphics
	Protocol    *protocol.Controller
	History     *history.Store
	Broadcaster *broadcast.Publisher
	Log         *log.Logger
}

// Server is the C9 component.
type Server struct {
	sock        Socket
	registry    *plugin.Registry
	pipeline    *pipeline.Pipeline
	graphics    *graphics.Graphics
	protocol    *protocol.Controller
	hist        *history.Store
	broadcaster *broadcast.Publisher
	log         *log.Logger
}

// New constructs a Server.
func New(cfg Config) *Server {
	l := cfg.Log
	if l == nil {
		l = log.New(log.Writer(), "[server] ", log.LstdFlags)
	}
	return &Server{
		sock:        cfg.Socket,
		registry:    cfg.Registry,
		pipeline:    cfg.Pipeline,
		graphics:    cfg.Graphics,
		protocol:    cfg.Protocol,
		hist:        cfg.History,
		broadcaster: cfg.Broadcaster,
		log:         l,
	}
}

// Init satisfies worker.Runner.
func (s *Server) Init(ctx context.Context) error { return nil }

// RunOnce satisfies worker.Runner: answers at most one request, or returns
// promptly on a receive timeout so the loop can observe cancellation.
func (s *Server) RunOnce(ctx context.Context) {
	raw, reply, timedOut, err := s.sock.Recv()
	if timedOut {
		return
	}
	if err != nil {
		s.log.Printf("recv: %v", err)
		return
	}

	resp := s.handle(ctx, raw)
	out, err := json.Marshal(resp)
	if err != nil {
		s.log.Printf("marshal response: %v", err)
		return
	}
	if err := reply(out); err != nil {
		s.log.Printf("reply: %v", err)
	}
}

// Shutdown satisfies worker.Runner.
func (s *Server) Shutdown(ctx context.Context) {}

func (s *Server) handle(ctx context.Context, raw []byte) message.Response {
	req, err := message.DecodeRequest(raw)
	if err != nil {
		return message.Fail(errkind.BadMessage.String(), err.Error())
	}

	switch {
	case req.Ping != nil:
		return message.OK(message.Pong{Ts: req.Ping.Ts})
	case req.GraphicsSettings != nil:
		return s.handleGraphicsSettings(ctx, *req.GraphicsSettings)
	case req.Protocol != nil:
		return s.handleProtocol(*req.Protocol)
	case req.PipelineConfig != nil:
		return s.handlePipelineConfig(*req.PipelineConfig)
	case req.Resource != nil:
		return s.handleResource(*req.Resource)
	case req.Command != nil:
		return s.handleCommand(ctx, *req.Command)
	default:
		return message.Fail(errkind.BadMessage.String(), "request matches no known variant")
	}
}

// handleGraphicsSettings applies the one-shot DEFAULT->READY transition and,
// on success, broadcasts GRAPHICS_READY. ApplyGraphicsSettings only ever
// succeeds once, so a nil error here always means this call performed the
// transition.
func (s *Server) handleGraphicsSettings(ctx context.Context, g message.GraphicsSettingsRequest) message.Response {
	if err := s.graphics.ApplyGraphicsSettings(ctx, g); err != nil {
		return errorResponse(err)
	}
	if s.broadcaster != nil {
		s.broadcaster.PublishProtocolEvent(message.ProtocolEventPayload{Event: message.EventGraphicsReady})
	}
	return message.OK(nil)
}

// handleProtocol validates every task name against the registry, soft-
// logging unknowns, fails with BadMessage if that leaves zero valid tasks,
// assigns a UUID if none was supplied, and hands the result to the
// Protocol Controller.
func (s *Server) handleProtocol(p message.ProtocolRequest) message.Response {
	valid := make([]message.Task, 0, len(p.Tasks))
	for _, task := range p.Tasks {
		if _, err := s.registry.Get(task.Name); err != nil {
			s.log.Printf("protocol %q: dropping unknown task %q: %v", p.Name, task.Name, err)
			continue
		}
		valid = append(valid, task)
	}
	if len(valid) == 0 {
		return message.Fail(errkind.BadMessage.String(), "protocol has no tasks resolving to a known plugin")
	}
	p.Tasks = valid
	if p.ProtocolUUID == "" {
		p.ProtocolUUID = uuid.NewString()
	}

	if err := s.protocol.SetProtocol(p); err != nil {
		return errorResponse(err)
	}
	return message.OK(nil)
}

// handlePipelineConfig resolves every name before calling Configure so an
// unknown plugin name never leaves a partially-installed pipeline.
func (s *Server) handlePipelineConfig(req message.PipelineConfigRequest) message.Response {
	sourceHandle, err := s.registry.Get(req.Source)
	if err != nil {
		return errorResponse(errkind.Wrap(errkind.InvalidArgument, fmt.Sprintf("unknown source %q", req.Source), err))
	}

	var calibrationHandle *plugin.Handle
	if req.Calibration != "" {
		calibrationHandle, err = s.registry.Get(req.Calibration)
		if err != nil {
			return errorResponse(errkind.Wrap(errkind.InvalidArgument, fmt.Sprintf("unknown calibration %q", req.Calibration), err))
		}
	}

	stageHandles := make([]*plugin.Handle, 0, len(req.Stages))
	for _, name := range req.Stages {
		h, err := s.registry.Get(name)
		if err != nil {
			return errorResponse(errkind.Wrap(errkind.InvalidArgument, fmt.Sprintf("unknown stage %q", name), err))
		}
		stageHandles = append(stageHandles, h)
	}

	if err := s.pipeline.Configure(sourceHandle, calibrationHandle, stageHandles); err != nil {
		return errorResponse(errkind.Wrap(errkind.InvalidArgument, "configure pipeline", err))
	}
	return message.OK(nil)
}

func (s *Server) handleResource(req message.ResourceRequest) message.Response {
	switch req.Code {
	case message.ResourceRuntimeState:
		return message.OK(struct {
			State string `json:"state"`
		}{State: s.runtimeState().String()})

	case message.ResourceMonitors:
		return message.OK(s.graphics.Monitors())

	case message.ResourcePlugins:
		return message.OK(struct {
			Sources      []string `json:"sources"`
			Stages       []string `json:"stages"`
			Sinks        []string `json:"sinks"`
			Tasks        []string `json:"tasks"`
			Calibrations []string `json:"calibrations"`
		}{
			Sources:      s.registry.Sources(),
			Stages:       s.registry.Stages(),
			Sinks:        s.registry.Sinks(),
			Tasks:        s.registry.Tasks(),
			Calibrations: s.registry.Calibrations(),
		})

	case message.ResourceGraphicsConfig:
		settings, ok := s.graphics.Settings()
		if !ok {
			return message.Fail(errkind.NotFound.String(), "graphics settings not yet applied")
		}
		return message.OK(settings)

	case message.ResourceProtocol:
		p, ok := s.protocol.CurrentProtocol()
		if !ok {
			return message.Fail(errkind.NotFound.String(), "no protocol armed")
		}
		return message.OK(p)

	case message.ResourceCurrentTask:
		task, index, ok := s.protocol.CurrentTask()
		if !ok {
			return message.Fail(errkind.NotFound.String(), "no task currently loaded")
		}
		return message.OK(struct {
			message.Task
			Index int `json:"index"`
		}{Task: task, Index: index})

	case message.ResourceRecentRuns:
		if s.hist == nil {
			return message.OK([]history.RunRecord{})
		}
		runs, err := s.hist.Recent(recentRunsDefaultLimit)
		if err != nil {
			return errorResponse(errkind.Wrap(errkind.ResourceUnavailable, "query recent runs", err))
		}
		return message.OK(runs)

	default:
		return message.Fail(errkind.InvalidArgument.String(), fmt.Sprintf("unknown resource %q", req.Code))
	}
}

func (s *Server) handleCommand(ctx context.Context, req message.CommandRequest) message.Response {
	cmd, ok := message.ParseCommand(req.Command)
	if !ok {
		return message.Fail(errkind.InvalidArgument.String(), fmt.Sprintf("unknown command %q", req.Command))
	}
	if err := s.protocol.EnqueueCommand(ctx, cmd); err != nil {
		return errorResponse(err)
	}
	return message.OK(nil)
}

// runtimeState combines the protocol controller's own state machine into
// the wire's RuntimeState taxonomy.
func (s *Server) runtimeState() message.RuntimeState {
	switch s.protocol.State() {
	case protocol.StateStandby:
		return message.StateStandby
	case protocol.StateRunning:
		return message.StateRunning
	case protocol.StateSaving:
		return message.StateSaving
	default:
		return message.StateDefault
	}
}

func errorResponse(err error) message.Response {
	return message.Fail(errkind.Of(err).String(), err.Error())
}
