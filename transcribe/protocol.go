package transcribe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType discriminates outbound socket events.
type EventType string

// Outbound event types.
const (
	EventTextDelta EventType = "transcription.text.delta"
	EventDone      EventType = "transcription.done"
	EventError     EventType = "error"
)

// WebSocket close codes used to end a session.
const (
	CloseNormal        = 1000
	CloseInternalError = 1011
)

// Event is one outbound message to the client.
type Event struct {
	Type  EventType
	Text  string
	Error string
}

// DeltaEvent returns a text delta event.
func DeltaEvent(text string) Event { return Event{Type: EventTextDelta, Text: text} }

// DoneEvent returns the normal terminal event.
func DoneEvent() Event { return Event{Type: EventDone} }

// ErrorEvent returns the abnormal terminal event.
func ErrorEvent(message string) Event { return Event{Type: EventError, Error: message} }

// Terminal reports whether e ends a session.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Validate checks e against the outbound protocol.
func (e Event) Validate() error {
	switch e.Type {
	case EventTextDelta:
		if e.Error != "" {
			return &StreamProtocolError{Type: e.Type, Reason: "text delta must not carry an error"}
		}
	case EventDone:
		if e.Text != "" || e.Error != "" {
			return &StreamProtocolError{Type: e.Type, Reason: "done event carries no fields"}
		}
	case EventError:
		if strings.TrimSpace(e.Error) == "" {
			return &StreamProtocolError{Type: e.Type, Reason: "error message is required"}
		}
		if e.Text != "" {
			return &StreamProtocolError{Type: e.Type, Reason: "error event must not carry text"}
		}
	default:
		return &StreamProtocolError{Type: e.Type, Reason: "unknown event type"}
	}
	return nil
}

// MarshalJSON encodes the discriminated union. A delta always carries
// "text", even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTextDelta:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Text string    `json:"text"`
		}{e.Type, e.Text})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// Encode validates and serializes e.
func (e Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return data, nil
}
