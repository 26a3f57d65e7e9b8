package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage is returned for inbound messages that cannot be decoded or lack required fields.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownMessage is returned for inbound messages with an unrecognised type.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrInvalidPayload is returned when a snapshot is not valid JSON.
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

const (
	MessageInit   = "init"
	MessageUpdate = "update"
)

// InboundMessage is a message received from a duplex channel.
//
//	{"type":"init","label":"alice"}
//	{"type":"update","payload":{...}}
type InboundMessage struct {
	Type     string          `json:"type"`
	Label    string          `json:"label,omitempty"`
	Username string          `json:"username,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// DecodeInbound parses a raw inbound frame.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// label prefers the explicit label and falls back to username, which older clients send.
func (m InboundMessage) label() string {
	if m.Label != "" {
		return m.Label
	}
	return m.Username
}
