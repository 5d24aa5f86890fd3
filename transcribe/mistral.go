package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Realtime engine defaults.
const (
	DefaultRealtimeURL   = "wss://api.mistral.ai/v1/audio/transcriptions/realtime"
	DefaultRealtimeModel = "voxtral-mini-transcribe-realtime-2602"
	DefaultDialAttempts  = 3
	DefaultDialBackoff   = time.Second

	maxEventBytes = 1 << 20
)

// ErrMissingAPIKey is returned when the engine has no credentials.
var ErrMissingAPIKey = errors.New("MISTRAL_API_KEY environment variable is required")

// RealtimeConfig configures the realtime engine.
type RealtimeConfig struct {
	URL          string        `yaml:"url"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"-"`
	DialAttempts int           `yaml:"dial_attempts"`
	DialBackoff  time.Duration `yaml:"dial_backoff"`
}

// DefaultRealtimeConfig returns the hosted endpoint settings without a key.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		URL:          DefaultRealtimeURL,
		Model:        DefaultRealtimeModel,
		DialAttempts: DefaultDialAttempts,
		DialBackoff:  DefaultDialBackoff,
	}
}

// RealtimeEngine streams audio to the Mistral realtime transcription API over
// a WebSocket.
type RealtimeEngine struct {
	cfg    RealtimeConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// RealtimeOption configures a RealtimeEngine.
type RealtimeOption func(*RealtimeEngine)

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d *websocket.Dialer) RealtimeOption {
	return func(e *RealtimeEngine) {
		e.dialer = d
	}
}

// WithRealtimeLogger sets the logger.
func WithRealtimeLogger(logger *slog.Logger) RealtimeOption {
	return func(e *RealtimeEngine) {
		e.logger = logger
	}
}

// NewRealtimeEngine creates an engine. Zero config fields take defaults.
func NewRealtimeEngine(cfg RealtimeConfig, opts ...RealtimeOption) *RealtimeEngine {
	def := DefaultRealtimeConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = def.DialAttempts
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = def.DialBackoff
	}

	e := &RealtimeEngine{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wire messages of the realtime API.
type (
	sessionUpdate struct {
		Type    string        `json:"type"`
		Session sessionConfig `json:"session"`
	}
	sessionConfig struct {
		AudioFormat AudioFormat `json:"audio_format"`
	}
	audioAppend struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	audioEnd struct {
		Type string `json:"type"`
	}
	realtimeEvent struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		Error *realtimeError `json:"error"`
	}
	realtimeError struct {
		Code    json.RawMessage `json:"code"`
		Message json.RawMessage `json:"message"`
	}
)

// Transcribe implements Engine.
func (e *RealtimeEngine) Transcribe(ctx context.Context, audio AudioSource, format AudioFormat, emit func(EngineEvent)) error {
	if e.cfg.APIKey == "" {
		return ErrMissingAPIKey
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(maxEventBytes)

	// Closing the connection unblocks the reader when the session is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	update := sessionUpdate{Type: "session.update", Session: sessionConfig{AudioFormat: format}}
	if err := conn.WriteJSON(update); err != nil {
		return fmt.Errorf("configure realtime session: %w", err)
	}

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()

	var g errgroup.Group
	g.Go(func() error {
		err := e.pump(pumpCtx, conn, audio)
		if err == nil || pumpCtx.Err() != nil {
			return nil
		}
		_ = conn.Close()
		return err
	})
	g.Go(func() error {
		defer stopPump()
		err := e.receive(conn, emit)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})
	return g.Wait()
}

func (e *RealtimeEngine) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(e.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", e.cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := e.dialer.DialContext(ctx, u.String(), header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(fmt.Errorf("dial realtime engine: %s", resp.Status))
			}
			return fmt.Errorf("dial realtime engine: %w", err)
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.DialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.DialAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		e.logger.Warn("Realtime engine dial failed, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// pump forwards audio frames until the source is exhausted, then ends the input.
func (e *RealtimeEngine) pump(ctx context.Context, conn *websocket.Conn, audio AudioSource) error {
	for {
		frame, err := audio.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := conn.WriteJSON(audioEnd{Type: "input_audio.end"}); err != nil {
				return fmt.Errorf("end realtime input: %w", err)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if len(frame) == 0 {
			continue
		}
		msg := audioAppend{Type: "input_audio.append", Audio: base64.StdEncoding.EncodeToString(frame)}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
	}
}

// receive relays engine events until a terminal one or the end of the stream.
func (e *RealtimeEngine) receive(conn *websocket.Conn, emit func(EngineEvent)) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read realtime event: %w", err)
		}

		var ev realtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			e.logger.Debug("Unparseable realtime event ignored", "error", err)
			continue
		}

		switch EventType(ev.Type) {
		case EventTextDelta:
			emit(EngineEvent{Kind: EngineTextDelta, Text: ev.Text})
		case EventDone:
			emit(EngineEvent{Kind: EngineDone})
			return nil
		case EventError:
			emit(EngineEvent{Kind: EngineFailed, Err: ev.Error.engineError()})
			return nil
		default:
			e.logger.Debug("Realtime event ignored", "type", ev.Type)
		}
	}
}

// engineError converts the wire error. A non-string message is kept as its
// JSON text.
func (r *realtimeError) engineError() *EngineError {
	if r == nil {
		return &EngineError{Message: "transcription engine error"}
	}
	return &EngineError{Code: rawText(r.Code), Message: rawText(r.Message)}
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
