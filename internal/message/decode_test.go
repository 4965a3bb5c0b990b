package message

import "testing"

func TestDecodeRequest_Ping(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"ts": 1234}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Ping == nil || req.Ping.Ts != 1234 {
		t.Fatalf("req = %+v, want Ping{1234}", req)
	}
}

func TestDecodeRequest_GraphicsSettings(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"monitor_index": 1, "vsync": true, "target_fps": 60}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.GraphicsSettings == nil || req.GraphicsSettings.TargetFPS != 60 {
		t.Fatalf("req = %+v", req)
	}
}

func TestDecodeRequest_Protocol(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"name": "p1", "tasks": [{"name": "fixation", "configuration": "{}"}]}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Protocol == nil || len(req.Protocol.Tasks) != 1 || req.Protocol.Tasks[0].Name != "fixation" {
		t.Fatalf("req = %+v", req)
	}
}

func TestDecodeRequest_PipelineConfig(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"source": "tobii", "stages": ["smoothing"]}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.PipelineConfig == nil || req.PipelineConfig.Source != "tobii" {
		t.Fatalf("req = %+v", req)
	}
}

func TestDecodeRequest_Resource(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"resource": "RECENT_RUNS"}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Resource == nil || req.Resource.Code != ResourceRecentRuns {
		t.Fatalf("req = %+v", req)
	}
}

func TestDecodeRequest_Command(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"command": "NEXT"}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Command == nil || req.Command.Command != "NEXT" {
		t.Fatalf("req = %+v", req)
	}
}

func TestDecodeRequest_UnknownShape(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"unexpected": 1}`))
	if err == nil {
		t.Fatalf("expected an error for an unrecognized request shape")
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	_, err := DecodeRequest([]byte(`not json`))
	if err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}

func TestParseCommand(t *testing.T) {
	cases := map[string]Command{
		"START": CommandStart,
		"STOP":  CommandStop,
		"NEXT":  CommandNext,
		"EXIT":  CommandExit,
	}
	for name, want := range cases {
		got, ok := ParseCommand(name)
		if !ok || got != want {
			t.Errorf("ParseCommand(%q) = (%v, %v), want (%v, true)", name, got, ok, want)
		}
	}
	if _, ok := ParseCommand("BOGUS"); ok {
		t.Errorf("ParseCommand(BOGUS) should fail")
	}
}

func TestOKAndFail(t *testing.T) {
	ok := OK(Pong{Ts: 5})
	if !ok.Success || len(ok.Payload) == 0 {
		t.Fatalf("OK() = %+v", ok)
	}

	fail := Fail("Busy", "protocol running")
	if fail.Success || fail.ErrorCode != "Busy" {
		t.Fatalf("Fail() = %+v", fail)
	}
}
