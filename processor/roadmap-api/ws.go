package roadmapapi

import (
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/braindump/transcribe"
)

// ----------------------------------------------------------------------------
// GET /ws/transcribe
// ----------------------------------------------------------------------------

// handleTranscribe upgrades the request and runs one transcription session.
// Binary frames are audio; text frames are ignored. The session ends with
// one terminal event and a close frame, or when the client goes away.
func (c *Component) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	driver := c.deps.Transcriber
	if driver == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "Transcription is not configured", nil)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  c.config.ReadBufferSize,
		WriteBufferSize: c.config.WriteBufferSize,
		CheckOrigin:     c.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		c.logger.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(c.config.MaxBodyBytes)
	// Clear the server read timeout inherited from the HTTP request.
	_ = conn.SetReadDeadline(time.Time{})
	// The session answers a client close itself, after its terminal event.
	conn.SetCloseHandler(func(int, string) error { return nil })

	c.sessions.Add(1)
	c.active.Add(1)
	defer func() {
		c.active.Add(-1)
		c.sessions.Done()
	}()

	frames := transcribe.NewFrameChannel(transcribe.WithQueueSize(c.config.FrameQueueSize))
	sink := &socketSink{conn: conn, timeout: c.config.WriteTimeout}
	ctx := c.sessionContext()

	var g errgroup.Group
	g.Go(func() error {
		c.readFrames(conn, frames)
		return nil
	})
	g.Go(func() error {
		driver.Run(ctx, frames, sink)
		// Unblocks readFrames if the client never sends a close.
		return sink.Close(websocket.CloseNormalClosure, "")
	})
	_ = g.Wait()
}

// readFrames pushes binary messages into frames until the socket fails or closes.
func (c *Component) readFrames(conn *websocket.Conn, frames *transcribe.FrameChannel) {
	defer frames.Close()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Transcription socket read failed", "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		frames.Push(data)
	}
}

func (c *Component) checkOrigin(r *http.Request) bool {
	if len(c.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(c.config.AllowedOrigins, origin)
}

// socketSink writes session events to a websocket. Writes are serialized and
// only the first Close reaches the socket.
type socketSink struct {
	conn    *websocket.Conn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

var errSinkClosed = errors.New("socket closed")

func (s *socketSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if err := s.conn.SetWriteDeadline(s.deadline()); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *socketSink) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	writeErr := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), s.deadline())
	if errors.Is(writeErr, websocket.ErrCloseSent) {
		writeErr = nil
	}
	return errors.Join(writeErr, s.conn.Close())
}

func (s *socketSink) deadline() time.Time {
	if s.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.timeout)
}

var _ transcribe.Sink = (*socketSink)(nil)
