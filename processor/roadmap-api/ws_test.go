package roadmapapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/braindump/synthesis"
	"github.com/c360studio/braindump/transcribe"
)

type wsEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// echoEngine emits one delta per audio frame, then done at end of audio.
func echoEngine() transcribe.Engine {
	return transcribe.EngineFunc(func(ctx context.Context, audio transcribe.AudioSource, _ transcribe.AudioFormat, emit func(transcribe.EngineEvent)) error {
		for {
			frame, err := audio.Next(ctx)
			if errors.Is(err, io.EOF) {
				emit(transcribe.EngineEvent{Kind: transcribe.EngineDone})
				return nil
			}
			if err != nil {
				return err
			}
			emit(transcribe.EngineEvent{Kind: transcribe.EngineTextDelta, Text: string(frame)})
		}
	})
}

func startTranscribeServer(t *testing.T, engine transcribe.Engine) (*Component, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FrameQueueSize = 8
	var driver *transcribe.Driver
	if engine != nil {
		driver = transcribe.NewDriver(engine)
	}
	c := setupTestComponent(t, synthesis.DemoCompleter{}, testOptions{config: cfg, transcriber: driver})
	srv := registerHandlers(c)
	t.Cleanup(srv.Close)
	return c, srv
}

func dialTranscribe(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/transcribe"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilClose collects events until the server closes the socket.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]wsEvent, int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var events []wsEvent
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			var closeErr *websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "expected a close frame, got %v", err)
			return events, closeErr.Code
		}
		events = append(events, ev)
	}
}

func TestTranscribe_StreamsDeltasThenDone(t *testing.T) {
	_, srv := startTranscribeServer(t, echoEngine())
	conn := dialTranscribe(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"ignored"}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("bonjour")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(" tout le monde")))

	var got []wsEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(got) < 2 {
		var ev wsEvent
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev)
	}
	assert.Equal(t, []wsEvent{
		{Type: string(transcribe.EventTextDelta), Text: "bonjour"},
		{Type: string(transcribe.EventTextDelta), Text: " tout le monde"},
	}, got)

	// Ending the audio stream lets the engine finish.
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	rest, code := readUntilClose(t, conn)
	require.Len(t, rest, 1)
	assert.Equal(t, string(transcribe.EventDone), rest[0].Type)
	assert.Equal(t, websocket.CloseNormalClosure, code)
}

func TestTranscribe_EngineErrorClosesAbnormally(t *testing.T) {
	engine := transcribe.EngineFunc(func(ctx context.Context, audio transcribe.AudioSource, _ transcribe.AudioFormat, emit func(transcribe.EngineEvent)) error {
		if _, err := audio.Next(ctx); err != nil {
			return err
		}
		emit(transcribe.EngineEvent{Kind: transcribe.EngineTextDelta, Text: "partial"})
		emit(transcribe.EngineEvent{Kind: transcribe.EngineFailed, Err: &transcribe.EngineError{Message: "quota exceeded"}})
		emit(transcribe.EngineEvent{Kind: transcribe.EngineTextDelta, Text: "late"})
		return nil
	})
	_, srv := startTranscribeServer(t, engine)
	conn := dialTranscribe(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2, 3}))

	events, code := readUntilClose(t, conn)
	assert.Equal(t, []wsEvent{
		{Type: string(transcribe.EventTextDelta), Text: "partial"},
		{Type: string(transcribe.EventError), Error: "quota exceeded"},
	}, events)
	assert.Equal(t, websocket.CloseInternalServerErr, code)
}

func TestTranscribe_StopCancelsSessions(t *testing.T) {
	c, srv := startTranscribeServer(t, echoEngine())
	conn := dialTranscribe(t, srv)

	require.Eventually(t, func() bool { return c.ActiveSessions() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(2*time.Second))

	events, code := readUntilClose(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, string(transcribe.EventError), events[0].Type)
	assert.Equal(t, "transcription cancelled", events[0].Error)
	assert.Equal(t, websocket.CloseInternalServerErr, code)
	assert.Equal(t, int64(0), c.ActiveSessions())
}

func TestTranscribe_ClientDisconnect(t *testing.T) {
	c, srv := startTranscribeServer(t, echoEngine())
	conn := dialTranscribe(t, srv)

	require.Eventually(t, func() bool { return c.ActiveSessions() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return c.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestTranscribe_NotConfigured(t *testing.T) {
	_, srv := startTranscribeServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/transcribe"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	c := &Component{config: Config{AllowedOrigins: []string{"https://app.example"}}}

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example", true},
		{"", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("origin %q", tt.origin), func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/transcribe", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, c.checkOrigin(r))
		})
	}

	open := &Component{}
	assert.True(t, open.checkOrigin(httptest.NewRequest(http.MethodGet, "/ws/transcribe", nil)))
}
