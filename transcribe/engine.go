// Package transcribe bridges a client audio socket and a streaming
// transcription engine.
//
// A FrameChannel adapts pushed socket frames into a pull-based audio source.
// A Driver feeds that source to an Engine and maps the engine's events onto
// the outbound protocol: text deltas, then exactly one terminal event (done
// or error), then exactly one socket close.
package transcribe

import "context"

// Encoding names a raw audio encoding.
type Encoding string

// EncodingPCMS16LE is signed 16-bit little-endian PCM.
const EncodingPCMS16LE Encoding = "pcm_s16le"

// AudioFormat describes the frames a client sends.
type AudioFormat struct {
	Encoding   Encoding `yaml:"encoding" json:"encoding"`
	SampleRate int      `yaml:"sample_rate" json:"sample_rate"`
	Channels   int      `yaml:"channels" json:"-"`
}

// DefaultAudioFormat is PCM16LE mono at 16 kHz.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{Encoding: EncodingPCMS16LE, SampleRate: 16000, Channels: 1}
}

// AudioSource is a pull-based frame sequence. Next returns io.EOF once the
// source is exhausted.
type AudioSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// EngineEventKind discriminates engine events.
type EngineEventKind int

// Engine event kinds.
const (
	EngineTextDelta EngineEventKind = iota
	EngineDone
	EngineFailed
)

func (k EngineEventKind) String() string {
	switch k {
	case EngineTextDelta:
		return "text_delta"
	case EngineDone:
		return "done"
	case EngineFailed:
		return "error"
	}
	return "unknown"
}

// EngineEvent is one event yielded by an engine.
type EngineEvent struct {
	Kind EngineEventKind
	Text string
	Err  *EngineError
}

// Engine runs one streaming transcription.
//
// Transcribe pulls audio until the source returns io.EOF or ctx is done, and
// calls emit for every event in the order observed. It returns when the
// stream ends; a non-nil error is an uncaught failure. emit is never called
// concurrently.
type Engine interface {
	Transcribe(ctx context.Context, audio AudioSource, format AudioFormat, emit func(EngineEvent)) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, audio AudioSource, format AudioFormat, emit func(EngineEvent)) error

// Transcribe implements Engine.
func (f EngineFunc) Transcribe(ctx context.Context, audio AudioSource, format AudioFormat, emit func(EngineEvent)) error {
	return f(ctx, audio, format, emit)
}
