package websocket

import (
	"errors"
	"reflect"
	"testing"

	"roomhub-server/hub"
)

func TestExtractAck(t *testing.T) {
	var got []any
	datas := []any{"room-1", func(args ...any) { got = args }}

	ack, args := extractAck(datas)
	if ack == nil {
		t.Fatal("Expected ack callback")
	}
	if len(args) != 1 || args[0] != "room-1" {
		t.Errorf("Unexpected args: %v", args)
	}
	ack(nil, map[string]any{"status": "ok"})
	if len(got) != 1 || !reflect.DeepEqual(got[0], map[string]any{"status": "ok"}) {
		t.Errorf("Variadic ack got %v", got)
	}

	ack, args = extractAck([]any{"room-1", "label"})
	if ack != nil || len(args) != 2 {
		t.Errorf("Non-func trailing arg should not be treated as ack: %v", args)
	}

	if ack, args := extractAck(nil); ack != nil || len(args) != 0 {
		t.Error("Empty args should yield no ack")
	}
}

func TestAck_TwoParameterCallback(t *testing.T) {
	var gotErr error
	var gotPayload map[string]any
	ack := wrapAck(func(err error, payload map[string]any) {
		gotErr = err
		gotPayload = payload
	})

	ack(nil, map[string]any{"status": "ok"})
	if gotErr != nil || gotPayload["status"] != "ok" {
		t.Errorf("Unexpected ack values: %v, %v", gotErr, gotPayload)
	}

	boom := errors.New("boom")
	ack(boom, ackPayload(boom))
	if !errors.Is(gotErr, boom) || gotPayload["error"] != "boom" {
		t.Errorf("Unexpected ack values on error: %v, %v", gotErr, gotPayload)
	}
}

func TestAck_SingleParameterCallback(t *testing.T) {
	var got any
	ack := wrapAck(func(v any) { got = v })

	ack(nil, map[string]any{"status": "ok"})
	if m, ok := got.(map[string]any); !ok || m["status"] != "ok" {
		t.Errorf("Expected payload, got %v", got)
	}

	ack(errors.New("nope"), nil)
	if err, ok := got.(error); !ok || err.Error() != "nope" {
		t.Errorf("Expected error, got %v", got)
	}
}

func TestAck_StringAndUnsupportedCallbacks(t *testing.T) {
	var msg string
	wrapAck(func(s string) { msg = s })(errors.New("failed"), nil)
	if msg != "failed" {
		t.Errorf("String coercion mismatch: got %q", msg)
	}

	typed := map[string]string{"stale": "value"}
	wrapAck(func(_ error, m map[string]string) { typed = m })(nil, map[string]any{"status": "ok"})
	if typed != nil {
		t.Errorf("Unsupported parameter type should receive its zero value, got %v", typed)
	}
}

func TestParseBroadcast(t *testing.T) {
	payload := map[string]any{"x": 1.0, "messageId": "m-1"}
	req, ack, err := parseBroadcast([]any{"R", payload, func(...any) {}})
	if err != nil {
		t.Fatalf("parseBroadcast() failed: %v", err)
	}
	if ack == nil {
		t.Error("Expected ack")
	}
	if req.roomID != "R" || req.messageID != "m-1" {
		t.Errorf("Unexpected request: %+v", req)
	}

	req, _, _ = parseBroadcast([]any{"R", map[string]any{"__collabMessageId": "c-7"}})
	if req.messageID != "c-7" {
		t.Errorf("Collab message id not read: %+v", req)
	}

	if _, _, err := parseBroadcast([]any{"R"}); err == nil {
		t.Error("Missing payload should fail")
	}
	if _, _, err := parseBroadcast([]any{"", payload}); err == nil {
		t.Error("Empty room id should fail")
	}
	if _, _, err := parseBroadcast([]any{42, payload}); err == nil {
		t.Error("Non-string room id should fail")
	}
}

func TestAckPayload(t *testing.T) {
	if got := ackPayload(nil); got["status"] != "ok" || got["error"] != nil {
		t.Errorf("Unexpected ok payload: %v", got)
	}
	if got := ackPayload(errors.New("x")); got["status"] != "error" || got["error"] != "x" {
		t.Errorf("Unexpected error payload: %v", got)
	}
}

func TestFrameBody(t *testing.T) {
	body := frameBody(hub.Frame{Type: hub.FrameUpdate, Payload: []byte(`{"x":2}`), Username: "alice"})
	if !reflect.DeepEqual(body["payload"], map[string]any{"x": 2.0}) {
		t.Errorf("Payload mismatch: %v", body["payload"])
	}
	if body["username"] != "alice" {
		t.Errorf("Username mismatch: %v", body["username"])
	}

	body = frameBody(hub.Frame{Type: hub.FrameError, Error: "bad"})
	if body["error"] != "bad" || body["payload"] != nil {
		t.Errorf("Unexpected error body: %v", body)
	}
}

func TestSocketIOOrigins(t *testing.T) {
	if got := socketIOOrigins(nil); len(got) != 2 || got[0] != "tauri://localhost" {
		t.Errorf("Default origins mismatch: %v", got)
	}
	if got := socketIOOrigins([]string{"https://a", "*"}); !reflect.DeepEqual(got, []any{"*"}) {
		t.Errorf("Wildcard should collapse: %v", got)
	}
	if got := socketIOOrigins([]string{"https://a"}); !reflect.DeepEqual(got, []any{"https://a"}) {
		t.Errorf("Explicit origins mismatch: %v", got)
	}
	if !localhostOrigin.MatchString("http://127.0.0.1:5173") || localhostOrigin.MatchString("http://example.com") {
		t.Error("localhost origin pattern mismatch")
	}
}

func TestSetupSocketIO(t *testing.T) {
	h := hub.New(hub.Options{})
	srv := SetupSocketIO(nil, h, Options{QueueSize: 4, MaxMessageBytes: 1024})
	if srv == nil {
		t.Fatal("SetupSocketIO() returned nil")
	}
	srv.Close(nil)
}
