package transcribe

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrConcurrentPull is returned when a second consumer pulls while a pull is pending.
var ErrConcurrentPull = errors.New("frame channel already has a pending pull")

// FrameChannel turns pushed socket frames into a pull-based sequence for a
// single consumer.
//
// With the default queue size of zero it is a single-slot handoff: a frame
// pushed while a pull is pending resolves that pull, and a frame pushed while
// nobody is waiting is dropped and counted. A positive queue size buffers up
// to that many frames instead; pushes beyond it are rejected and counted.
//
// After Close every pull returns io.EOF (buffered frames are drained first).
type FrameChannel struct {
	mu       sync.Mutex
	waiter   chan []byte
	queue    [][]byte
	capacity int
	closed   bool
	done     chan struct{}

	pushed  atomic.Int64
	dropped atomic.Int64
}

// FrameOption configures a FrameChannel.
type FrameOption func(*FrameChannel)

// WithQueueSize enables a bounded queue of n frames. 0 keeps the lossy
// single-slot handoff.
func WithQueueSize(n int) FrameOption {
	return func(c *FrameChannel) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// NewFrameChannel creates an open channel.
func NewFrameChannel(opts ...FrameOption) *FrameChannel {
	c := &FrameChannel{done: make(chan struct{})}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push offers a frame. It reports whether the frame was handed to a pending
// pull or queued; false means it was dropped or the channel is closed.
// The channel takes ownership of frame.
func (c *FrameChannel) Push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.pushed.Add(1)

	if c.waiter != nil {
		c.waiter <- frame // buffered, never blocks
		c.waiter = nil
		return true
	}
	if len(c.queue) < c.capacity {
		c.queue = append(c.queue, frame)
		return true
	}
	c.dropped.Add(1)
	return false
}

// Next returns the next frame, blocking until one is pushed, the channel is
// closed (io.EOF) or ctx is done.
func (c *FrameChannel) Next(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		frame := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return frame, nil
	}
	if c.closed {
		c.mu.Unlock()
		return nil, io.EOF
	}
	if c.waiter != nil {
		c.mu.Unlock()
		return nil, ErrConcurrentPull
	}
	w := make(chan []byte, 1)
	c.waiter = w
	c.mu.Unlock()

	select {
	case frame := <-w:
		return frame, nil
	case <-c.done:
		// A push may have won the race with Close.
		select {
		case frame := <-w:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.waiter == w {
			c.waiter = nil
			return nil, ctx.Err()
		}
		// Either Push handed a frame over or Close ran.
		select {
		case frame := <-w:
			return frame, nil
		default:
			return nil, io.EOF
		}
	}
}

// Close marks the channel closed and resolves a pending pull with io.EOF.
// It is idempotent.
func (c *FrameChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.waiter = nil
	close(c.done)
}

// Done is closed once the channel is closed.
func (c *FrameChannel) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close was called.
func (c *FrameChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pushed returns the number of frames offered while open.
func (c *FrameChannel) Pushed() int64 {
	return c.pushed.Load()
}

// Dropped returns the number of frames discarded for lack of a waiter or queue room.
func (c *FrameChannel) Dropped() int64 {
	return c.dropped.Load()
}
