package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sink is the client end of a session: JSON text frames out and a close.
type Sink interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

// Outcome is how a session ended.
type Outcome string

// Session outcomes.
const (
	OutcomeDone  Outcome = "done"
	OutcomeError Outcome = "error"
)

// Observer receives session lifecycle notifications, typically for metrics.
type Observer interface {
	SessionStarted()
	EventSent(t EventType)
	SessionEnded(outcome Outcome, deltas, dropped int64, duration time.Duration)
}

// Session is one transcription connection.
type Session struct {
	ID        string
	StartedAt time.Time

	deltas atomic.Int64
}

// DeltaCount returns the number of text deltas relayed so far.
func (s *Session) DeltaCount() int64 {
	return s.deltas.Load()
}

// Result summarizes a finished session.
type Result struct {
	SessionID string
	Outcome   Outcome
	Deltas    int64
	Dropped   int64
	Duration  time.Duration

	// Err is the engine failure behind an error outcome.
	Err error
}

// Driver runs transcription sessions against an Engine.
type Driver struct {
	engine   Engine
	format   AudioFormat
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the logger.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithDriverObserver sets the session observer.
func WithDriverObserver(o Observer) DriverOption {
	return func(d *Driver) {
		d.observer = o
	}
}

// WithAudioFormat overrides the default PCM16LE 16 kHz mono format.
func WithAudioFormat(f AudioFormat) DriverOption {
	return func(d *Driver) {
		d.format = f
	}
}

// WithDriverClock replaces time.Now.
func WithDriverClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		d.now = now
	}
}

// NewDriver creates a Driver for engine.
func NewDriver(engine Engine, opts ...DriverOption) *Driver {
	d := &Driver{
		engine: engine,
		format: DefaultAudioFormat(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives one session: frames feed the engine, engine events go to sink.
// Exactly one terminal event is sent and sink is closed exactly once,
// with CloseNormal after done and CloseInternalError after an error.
// Run closes frames before returning.
func (d *Driver) Run(ctx context.Context, frames *FrameChannel, sink Sink) Result {
	session := &Session{ID: uuid.NewString(), StartedAt: d.now()}
	logger := d.logger.With("session_id", session.ID)
	logger.Info("Transcription session started",
		"encoding", d.format.Encoding, "sample_rate", d.format.SampleRate)
	if d.observer != nil {
		d.observer.SessionStarted()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{driver: d, session: session, sink: sink, logger: logger, cancel: cancel}
	err := d.transcribe(ctx, frames, r.handle)
	frames.Close()
	r.finish(err)

	res := Result{
		SessionID: session.ID,
		Outcome:   r.outcome,
		Deltas:    session.DeltaCount(),
		Dropped:   frames.Dropped(),
		Duration:  d.now().Sub(session.StartedAt),
		Err:       r.err,
	}
	logger.Info("Transcription session ended",
		"outcome", res.Outcome,
		"delta_count", res.Deltas,
		"dropped_frames", res.Dropped,
		"ignored_events", r.ignored,
		"duration_ms", res.Duration.Milliseconds())
	if d.observer != nil {
		d.observer.SessionEnded(res.Outcome, res.Deltas, res.Dropped, res.Duration)
	}
	return res
}

// transcribe calls the engine, turning a panic into an error.
func (d *Driver) transcribe(ctx context.Context, frames *FrameChannel, emit func(EngineEvent)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transcription engine panic: %v", p)
		}
	}()
	return d.engine.Transcribe(ctx, frames, d.format, emit)
}

// run is the per-session terminal state machine.
type run struct {
	driver  *Driver
	session *Session
	sink    Sink
	logger  *slog.Logger
	cancel  context.CancelFunc

	mu         sync.Mutex
	terminated bool
	closeOnce  sync.Once
	outcome    Outcome
	err        error
	ignored    int
}

func (r *run) handle(ev EngineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated {
		r.ignored++
		return
	}

	switch ev.Kind {
	case EngineTextDelta:
		r.session.deltas.Add(1)
		r.send(DeltaEvent(ev.Text))
	case EngineDone:
		r.terminate(OutcomeDone, nil)
	case EngineFailed:
		engineErr := ev.Err
		if engineErr == nil {
			engineErr = &EngineError{}
		}
		r.logger.Error("Transcription error", "error", engineErr)
		r.terminate(OutcomeError, engineErr)
	default:
		r.logger.Warn("Unknown engine event ignored", "kind", ev.Kind)
	}
}

// finish terminates a session the engine ended without a terminal event.
func (r *run) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return
	}
	switch {
	case err == nil:
		r.terminate(OutcomeDone, nil)
	case errors.Is(err, context.Canceled):
		r.terminate(OutcomeError, &EngineError{Message: "transcription cancelled"})
	default:
		r.logger.Error("Unexpected error during transcription", "error", err)
		r.terminate(OutcomeError, err)
	}
}

// terminate sends the terminal event and closes the sink. Callers hold r.mu.
func (r *run) terminate(outcome Outcome, err error) {
	r.terminated = true
	r.outcome = outcome
	r.err = err
	r.cancel()

	if outcome == OutcomeDone {
		r.send(DoneEvent())
		r.close(CloseNormal, "Transcription complete")
		return
	}
	message := err.Error()
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		message = engineErr.ClientMessage()
	}
	r.send(ErrorEvent(message))
	r.close(CloseInternalError, "Transcription error")
}

func (r *run) send(ev Event) {
	data, err := ev.Encode()
	if err != nil {
		r.logger.Error("Invalid outgoing event dropped", "type", ev.Type, "error", err)
		return
	}
	if err := r.sink.Send(data); err != nil {
		r.logger.Debug("Failed to send event", "type", ev.Type, "error", err)
		return
	}
	if r.driver.observer != nil {
		r.driver.observer.EventSent(ev.Type)
	}
}

func (r *run) close(code int, reason string) {
	r.closeOnce.Do(func() {
		if err := r.sink.Close(code, reason); err != nil {
			r.logger.Debug("Failed to close client socket", "code", code, "error", err)
		}
	})
}
