// Package event defines the gateway's immutable Event value and its SSE
// wire serialization.
package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event is an immutable dispatch unit: an event type, a payload, and
// optional business id / replay stream id / client retry hint.
//
// Once built, an Event is never mutated; the With* methods return a new
// value.
type Event struct {
	eventType string
	payload   Payload
	id        string
	streamID  string
	retryMS   int
	hasRetry  bool
}

// Payload is either raw text or a structured JSON value, serialized to its
// textual form at emit time.
type Payload interface {
	// text returns the wire representation of this payload.
	text() (string, error)
}

// Raw is a payload already in its final textual form.
type Raw string

func (r Raw) text() (string, error) { return string(r), nil }

// Structured is a payload serialized to canonical JSON text at emit time.
type Structured struct{ Value any }

func (s Structured) text() (string, error) {
	b, err := json.Marshal(s.Value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Message builds an Event with event_type "message" and a raw string
// payload.
func Message(data string) Event {
	return Event{eventType: "message", payload: Raw(data)}
}

// New builds an Event of the given type carrying a structured JSON payload,
// with a fresh business id auto-assigned. Callers that need a caller-supplied
// id instead (e.g. one already carried by an upstream message) call WithID
// afterward to overwrite it.
func New(eventType string, data any) Event {
	return Event{eventType: eventType, payload: Structured{Value: data}, id: uuid.NewString()}
}

// NewRaw builds an Event of the given type carrying a raw string payload.
func NewRaw(eventType string, data string) Event {
	return Event{eventType: eventType, payload: Raw(data)}
}

// WithID returns a copy with the business id set.
func (e Event) WithID(id string) Event {
	e.id = id
	return e
}

// WithStreamID returns a copy with the replay stream id set.
func (e Event) WithStreamID(streamID string) Event {
	e.streamID = streamID
	return e
}

// WithRetry returns a copy with the client reconnect delay hint set, in
// milliseconds.
func (e Event) WithRetry(ms int) Event {
	e.retryMS = ms
	e.hasRetry = true
	return e
}

// Type returns the event_type field.
func (e Event) Type() string { return e.eventType }

// ID returns the business id, if any.
func (e Event) ID() string { return e.id }

// StreamID returns the replay stream id, if any.
func (e Event) StreamID() string { return e.streamID }

// WireID resolves the SSE `id:` field per the spec: stream_id takes
// precedence over id; if neither is set the id line is omitted.
func (e Event) WireID() (value string, ok bool) {
	if e.streamID != "" {
		return e.streamID, true
	}
	if e.id != "" {
		return e.id, true
	}
	return "", false
}

// Text renders the payload to its wire text form.
func (e Event) Text() (string, error) {
	if e.payload == nil {
		return "", nil
	}
	return e.payload.text()
}

// Retry returns the retry hint in milliseconds and whether it was set.
func (e Event) Retry() (ms int, ok bool) {
	return e.retryMS, e.hasRetry
}

// Heartbeat builds the synthetic heartbeat event emitted on every tick. It
// carries no business id — heartbeats aren't individually replayable, so the
// `id:` line is omitted rather than burning an id on every tick.
func Heartbeat(tsMillis int64) Event {
	return Event{eventType: "heartbeat", payload: Structured{Value: map[string]int64{"ts": tsMillis}}}
}
