package transcribe

import "fmt"

// StreamProtocolError reports an outbound event that does not match the
// protocol. Such events are logged and dropped, never sent.
type StreamProtocolError struct {
	Type   EventType
	Reason string
}

func (e *StreamProtocolError) Error() string {
	return fmt.Sprintf("invalid %q event: %s", e.Type, e.Reason)
}

// EngineError is a failure reported by the transcription engine itself.
type EngineError struct {
	Code    string
	Message string
}

// genericEngineMessage is sent when the engine gives neither message nor code.
const genericEngineMessage = "transcription engine error"

func (e *EngineError) Error() string {
	switch {
	case e.Code == "":
		return e.Message
	case e.Message == "":
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ClientMessage is the text sent to the client: the message, else the code.
func (e *EngineError) ClientMessage() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	}
	return genericEngineMessage
}
