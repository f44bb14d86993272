package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known message types.
const (
	TypeHeartbeat          = "heartbeat"
	TypeHeartbeatAck       = "heartbeat_ack"
	TypeSessionValidate    = "session_validate"
	TypeSessionInvalidated = "session_invalidated"
	TypeStreamStart        = "stream_start"
	TypeStreamStop         = "stream_stop"
	TypeOrderSubmit        = "order_submit"
	TypeError              = "error"
)

// ErrMissingType indicates an inbound message without the required type field.
var ErrMissingType = errors.New("wire: message missing type field")

// Envelope is the wire message envelope.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // Unix milliseconds
	DeviceID  string          `json:"deviceId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a correlated request envelope with a fresh request id
// and the current client timestamp.
func NewRequest(msgType, deviceID string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		DeviceID:  deviceID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload: %w", err)
		}
		env.Payload = data
	}
	return env, nil
}

// NewHeartbeat builds a heartbeat probe envelope.
func NewHeartbeat(deviceID string) Envelope {
	return Envelope{
		Type:      TypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
		DeviceID:  deviceID,
	}
}

// Decode parses raw bytes into an Envelope. A message without a type field
// is rejected so malformed traffic is surfaced instead of silently routed.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// Encode serializes an Envelope for the transport.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals an envelope payload into v.
func DecodePayload(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// HeartbeatAck is the payload of a heartbeat_ack message. The server echoes
// the client timestamp so round-trip latency needs no clock agreement.
type HeartbeatAck struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
	Alive           bool  `json:"alive"`
	SessionValid    bool  `json:"sessionValid"`
}

// SessionInvalidated is the payload of a session_invalidated push.
type SessionInvalidated struct {
	Reason string `json:"reason"`
}

// ErrorPayload is the payload of an error response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
