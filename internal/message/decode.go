package message

import (
	"encoding/json"
	"fmt"
)

// DecodeRequest sniffs raw for the distinctive field set of each request
// variant and decodes into it. No discriminator field exists on the wire;
// presence of a variant-unique field picks the branch.
func DecodeRequest(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Request{}, fmt.Errorf("decode request envelope: %w", err)
	}

	switch {
	case has(fields, "tasks"):
		var p ProtocolRequest
		if err := json.Unmarshal(raw, &p); err != nil {
			return Request{}, fmt.Errorf("decode ProtocolRequest: %w", err)
		}
		return Request{Protocol: &p}, nil

	case has(fields, "stages"):
		var p PipelineConfigRequest
		if err := json.Unmarshal(raw, &p); err != nil {
			return Request{}, fmt.Errorf("decode PipelineConfigRequest: %w", err)
		}
		return Request{PipelineConfig: &p}, nil

	case has(fields, "resource"):
		var r ResourceRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			return Request{}, fmt.Errorf("decode ResourceRequest: %w", err)
		}
		return Request{Resource: &r}, nil

	case has(fields, "command"):
		var c CommandRequest
		if err := json.Unmarshal(raw, &c); err != nil {
			return Request{}, fmt.Errorf("decode CommandRequest: %w", err)
		}
		return Request{Command: &c}, nil

	case has(fields, "monitor_index"):
		var g GraphicsSettingsRequest
		if err := json.Unmarshal(raw, &g); err != nil {
			return Request{}, fmt.Errorf("decode GraphicsSettingsRequest: %w", err)
		}
		return Request{GraphicsSettings: &g}, nil

	case has(fields, "ts"):
		var p PingRequest
		if err := json.Unmarshal(raw, &p); err != nil {
			return Request{}, fmt.Errorf("decode PingRequest: %w", err)
		}
		return Request{Ping: &p}, nil

	default:
		return Request{}, fmt.Errorf("request matches no known variant")
	}
}

func has(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}

// ParseCommand maps a wire command name to the Command enum.
func ParseCommand(name string) (Command, bool) {
	switch name {
	case "START":
		return CommandStart, true
	case "STOP":
		return CommandStop, true
	case "NEXT":
		return CommandNext, true
	case "EXIT":
		return CommandExit, true
	default:
		return 0, false
	}
}
