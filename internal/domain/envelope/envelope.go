package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type discriminates the routing behaviour of an envelope.
type Type string

const (
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeMessage      Type = "message"
	TypeSignal       Type = "signal"
	TypeCallMetadata Type = "call_metadata"
	TypePresence     Type = "presence"
)

var (
	ErrMalformed      = errors.New("envelope: malformed frame")
	ErrMissingRoom    = errors.New("envelope: room is required")
	ErrMissingPayload = errors.New("envelope: payload is required")
)

// Envelope is the unit of everything that flows through the gateway:
// inbound client frames, local broadcasts and relay traffic share this shape.
// Origin is stamped exactly once, by the instance that first publishes the
// envelope on the relay channel; it is never overwritten downstream.
type Envelope struct {
	Type    Type            `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

// Decode parses a raw frame into a validated envelope.
// An unknown type is coerced to TypeMessage rather than rejected.
func Decode(raw []byte) (*Envelope, error) {
	env := &Envelope{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeJoin, TypeLeave, TypeMessage, TypeSignal, TypeCallMetadata, TypePresence:
	default:
		env.Type = TypeMessage
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// DecodeInbound parses a frame received from a client connection. Clients are
// never allowed to claim an origin, so any supplied value is discarded here.
func DecodeInbound(raw []byte) (*Envelope, error) {
	env, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	env.Origin = ""
	return env, nil
}

// Encode serializes the envelope for the wire or the relay channel.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Envelope) validate() error {
	switch e.Type {
	case TypeJoin, TypeLeave:
		if e.Room == "" {
			return ErrMissingRoom
		}
	case TypeMessage, TypeSignal, TypeCallMetadata:
		// A signal without target and room falls back to broadcast-all, so
		// only the payload itself is mandatory here.
		if len(e.Payload) == 0 {
			return ErrMissingPayload
		}
	}
	return nil
}

// PayloadText unwraps a string payload, or returns the raw JSON verbatim for
// object payloads. The gateway treats both as opaque.
func (e *Envelope) PayloadText() string {
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return string(e.Payload)
}

// CallInfo is the minimal shape the gateway reads out of a call_metadata
// payload before handing the rest to persistence untouched.
type CallInfo struct {
	CallID string `json:"callId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// CallInfo extracts call routing fields from a call_metadata payload.
func (e *Envelope) CallInfo() (*CallInfo, error) {
	info := &CallInfo{}
	if err := json.Unmarshal(e.Payload, info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if info.CallID == "" || info.From == "" || info.To == "" {
		return nil, fmt.Errorf("%w: callId, from and to are required", ErrMissingPayload)
	}
	return info, nil
}

// PresencePayload is the payload of gateway-emitted presence envelopes.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// NewPresence builds the envelope broadcast on every presence transition.
func NewPresence(userID, status string, lastSeen time.Time) *Envelope {
	payload, _ := json.Marshal(&PresencePayload{
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen.UnixMilli(),
	})
	return &Envelope{
		Type:    TypePresence,
		From:    userID,
		Payload: payload,
	}
}
