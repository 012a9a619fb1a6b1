package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseFrameType(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"request", `{"type":"req","id":"1","method":"ping"}`, FrameTypeRequest, false},
		{"response", `{"type":"res","id":"1","ok":true}`, FrameTypeResponse, false},
		{"event", `{"type":"event","event":"tick"}`, FrameTypeEvent, false},
		{"missing_type", `{"id":"1"}`, "", false},
		{"not_json", `nope`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrameType([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewOKResponse(t *testing.T) {
	resp := NewOKResponse("req-1", map[string]string{"status": "ok"})
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got ResponseFrame
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != FrameTypeResponse || got.ID != "req-1" || !got.OK {
		t.Errorf("frame = %+v", got)
	}
	if got.Error != nil {
		t.Error("ok response must not carry an error")
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("req-2", ErrInvalidRequest, "bad params")
	if resp.OK {
		t.Error("error response must have ok=false")
	}
	if resp.Error == nil || resp.Error.Code != ErrInvalidRequest {
		t.Errorf("error = %+v", resp.Error)
	}

	// Omitted payload must not appear on the wire.
	data, _ := json.Marshal(resp)
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	if _, ok := raw["payload"]; ok {
		t.Error("payload should be omitted for error responses")
	}
}

func TestRequestFrameRoundTrip(t *testing.T) {
	wire := `{"type":"req","id":"abc","method":"chat.send","params":{"message":"hi"}}`
	var frame RequestFrame
	if err := json.Unmarshal([]byte(wire), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Method != MethodChatSend {
		t.Errorf("method = %q, want %q", frame.Method, MethodChatSend)
	}

	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.Message != "hi" {
		t.Errorf("message = %q", params.Message)
	}
}

func TestNewEvent_SeqAssignedByCaller(t *testing.T) {
	evt := NewEvent(EventTick, nil)
	if evt.Seq != 0 {
		t.Errorf("fresh event seq = %d, want 0", evt.Seq)
	}
	evt.Seq = 7
	data, _ := json.Marshal(evt)
	var got EventFrame
	json.Unmarshal(data, &got)
	if got.Seq != 7 || got.Event != EventTick {
		t.Errorf("frame = %+v", got)
	}
}
