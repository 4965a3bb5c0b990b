// Package message defines the JSON wire schema exchanged over the reply and
// broadcast sockets (internal/transport): requests, the tagged-union
// dispatch shape the reply server decodes, and the broadcast event taxonomy.
package message

import "encoding/json"

// Command is an action enqueued to the protocol controller.
type Command int

const (
	CommandStart Command = iota
	CommandStop
	CommandNext
	CommandExit
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "START"
	case CommandStop:
		return "STOP"
	case CommandNext:
		return "NEXT"
	case CommandExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// RuntimeState is the observable state exposed over
// ResourceRequest{RUNTIME_STATE}. The reply server derives it from the
// protocol controller's state alone (IDLE reports DEFAULT); graphics
// readiness does not enter it.
type RuntimeState int

const (
	StateDefault RuntimeState = iota
	StateStandby
	StateRunning
	StateSaving
)

func (s RuntimeState) String() string {
	switch s {
	case StateStandby:
		return "STANDBY"
	case StateRunning:
		return "RUNNING"
	case StateSaving:
		return "SAVING"
	default:
		return "DEFAULT"
	}
}

// ProtocolEvent is the lifecycle taxonomy broadcast on the PROTOCOL topic,
// adopted verbatim from the native message_types.hpp event set.
type ProtocolEvent string

const (
	EventGraphicsReady ProtocolEvent = "GRAPHICS_READY"
	EventProtocolLoaded ProtocolEvent = "PROTOCOL_LOADED"
	EventProtocolNew    ProtocolEvent = "PROTOCOL_NEW"
	EventTaskStart      ProtocolEvent = "TASK_START"
	EventTaskEnd        ProtocolEvent = "TASK_END"
)

// ResourceCode selects which introspection resource a ResourceRequest wants.
type ResourceCode string

const (
	ResourceRuntimeState   ResourceCode = "RUNTIME_STATE"
	ResourceMonitors       ResourceCode = "MONITORS"
	ResourcePlugins        ResourceCode = "PLUGINS"
	ResourceGraphicsConfig ResourceCode = "GRAPHICS_CONFIG"
	ResourceProtocol       ResourceCode = "PROTOCOL"
	ResourceCurrentTask    ResourceCode = "CURRENT_TASK"
	ResourceRecentRuns     ResourceCode = "RECENT_RUNS"
)

// Task is one entry of a ProtocolRequest: a render plugin name plus its
// configuration string.
type Task struct {
	Name          string `json:"name"`
	Configuration string `json:"configuration"`
}

// ProtocolRequest arms a protocol without starting it.
type ProtocolRequest struct {
	Name          string `json:"name"`
	ParticipantID string `json:"participant_id"`
	Notes         string `json:"notes"`
	Tasks         []Task `json:"tasks"`
	ProtocolUUID  string `json:"protocol_uuid"`
}

// PipelineConfigRequest reconfigures the pipeline's source/calibration/stage
// chain. The sink list is never part of this request; sinks are bound
// dynamically by the protocol controller.
type PipelineConfigRequest struct {
	Source      string   `json:"source"`
	Calibration string   `json:"calibration,omitempty"`
	Stages      []string `json:"stages"`
}

// GraphicsSettingsRequest applies the one-shot DEFAULT->READY graphics
// configuration.
type GraphicsSettingsRequest struct {
	MonitorIndex  int  `json:"monitor_index"`
	Vsync         bool `json:"vsync"`
	FullScreen    bool `json:"full_screen"`
	AntiAliasing  bool `json:"anti_aliasing"`
	TargetFPS     int  `json:"target_fps"`
	WidthPx       int  `json:"width_px"`
	HeightPx      int  `json:"height_px"`
}

// ResourceRequest asks for a read-only introspection value.
type ResourceRequest struct {
	Code ResourceCode `json:"resource"`
}

// CommandRequest enqueues a protocol command.
type CommandRequest struct {
	Command string `json:"command"`
}

// PingRequest is a liveness probe; the server always replies Pong{Ts}.
type PingRequest struct {
	Ts int64 `json:"ts"`
}

// Request is the tagged union the reply server decodes: exactly one of
// these pointers is non-nil, determined by which distinctive field set was
// present in the raw payload (see DecodeRequest).
type Request struct {
	Ping            *PingRequest             `json:"-"`
	GraphicsSettings *GraphicsSettingsRequest `json:"-"`
	Protocol        *ProtocolRequest         `json:"-"`
	PipelineConfig  *PipelineConfigRequest   `json:"-"`
	Resource        *ResourceRequest         `json:"-"`
	Command         *CommandRequest          `json:"-"`
}

// Pong is the payload of a successful Ping reply.
type Pong struct {
	Ts int64 `json:"ts"`
}

// Response is the uniform envelope returned for every request, including
// error paths.
type Response struct {
	Success      bool            `json:"success"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// OK builds a successful Response, marshaling payload into the envelope.
func OK(payload any) Response {
	if payload == nil {
		return Response{Success: true}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Fail("Unknown", err.Error())
	}
	return Response{Success: true, Payload: raw}
}

// Fail builds a failed Response.
func Fail(errorCode, message string) Response {
	return Response{Success: false, ErrorCode: errorCode, ErrorMessage: message}
}

// BroadcastMessage is what the publisher writes for every lifecycle event.
type BroadcastMessage struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// ProtocolEventPayload is the payload carried by PROTOCOL-topic broadcasts.
type ProtocolEventPayload struct {
	Event        ProtocolEvent `json:"event"`
	ProtocolUUID string        `json:"protocol_uuid,omitempty"`
	ProtocolName string        `json:"protocol_name,omitempty"`
	TaskIndex    int           `json:"task_index,omitempty"`
	TaskName     string        `json:"task_name,omitempty"`
}

// NewProtocolBroadcast serializes a ProtocolEventPayload onto the PROTOCOL
// topic.
func NewProtocolBroadcast(p ProtocolEventPayload) (BroadcastMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return BroadcastMessage{}, err
	}
	return BroadcastMessage{Topic: "PROTOCOL", Payload: raw}, nil
}

// LogBroadcastPayload is the payload carried by LOG-topic broadcasts.
type LogBroadcastPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// NewLogBroadcast serializes a LogBroadcastPayload onto the LOG topic.
func NewLogBroadcast(level, msg string) (BroadcastMessage, error) {
	raw, err := json.Marshal(LogBroadcastPayload{Level: level, Message: msg})
	if err != nil {
		return BroadcastMessage{}, err
	}
	return BroadcastMessage{Topic: "LOG", Payload: raw}, nil
}
