package websocket

import (
	"fmt"
	"reflect"
)

// ackInvoker calls the client-supplied acknowledgement callback, whatever its signature.
type ackInvoker func(err error, payload map[string]any)

// extractAck splits a trailing acknowledgement callback off the event arguments.
func extractAck(datas []any) (ackInvoker, []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack := wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	fn := reflect.ValueOf(candidate)
	if fn.Kind() != reflect.Func {
		return nil
	}
	typ := fn.Type()
	if typ.IsVariadic() && typ.NumIn() == 1 {
		// Socket.IO clients acknowledge with func(...any); the payload carries the status.
		return func(_ error, payload map[string]any) {
			fn.Call([]reflect.Value{reflect.ValueOf(payload)})
		}
	}
	return func(err error, payload map[string]any) {
		fn.Call(ackArgs(typ, err, payload))
	}
}

// ackArgs maps (err, payload) onto the callback's parameters. A single-parameter
// callback receives the error when there is one and the payload otherwise.
func ackArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	args := make([]reflect.Value, typ.NumIn())
	for i := range args {
		var v any
		switch {
		case len(args) == 1 && err != nil:
			v = err
		case len(args) == 1:
			v = payload
		case i == 0 && err != nil:
			v = err
		case i == 1:
			v = payload
		}
		args[i] = coerce(v, typ.In(i))
	}
	return args
}

// coerce adapts an ack argument to a callback parameter; anything else gets the zero value.
func coerce(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	}
	return reflect.Zero(target)
}

// respond acknowledges an event through the callback when the client sent one,
// and otherwise emits event back to the socket.
func respond(e emitter, ack ackInvoker, event string, payload map[string]any, err error) {
	if ack != nil {
		ack(err, payload)
		return
	}
	if event != "" {
		_ = e.Emit(event, payload)
	}
}

func ackPayload(err error) map[string]any {
	if err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return map[string]any{"status": "ok"}
}

type broadcastRequest struct {
	roomID    string
	payload   any
	messageID string
}

// messageIDKeys are the payload fields a client may use to tag a broadcast.
var messageIDKeys = []string{"__collabMessageId", "messageId"}

// parseBroadcast reads server-broadcast(roomId, payload[, ack]). A client-side
// message id carried in the payload is echoed back in the acknowledgement.
func parseBroadcast(datas []any) (broadcastRequest, ackInvoker, error) {
	ack, args := extractAck(datas)
	if len(args) < 2 {
		return broadcastRequest{}, ack, fmt.Errorf("room id and payload are required")
	}
	roomID, _ := args[0].(string)
	if roomID == "" {
		return broadcastRequest{}, ack, fmt.Errorf("missing room id")
	}

	req := broadcastRequest{roomID: roomID, payload: args[1]}
	if m, ok := args[1].(map[string]any); ok {
		for _, key := range messageIDKeys {
			if id, ok := m[key].(string); ok && id != "" {
				req.messageID = id
				break
			}
		}
	}
	return req, ack, nil
}
