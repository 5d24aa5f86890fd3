package roadmapapi

import (
	"fmt"
	"time"
)

// Config holds configuration for the roadmap-api component.
type Config struct {
	// Version is reported by /health.
	Version string `json:"version"`

	// MaxBodyBytes caps JSON request bodies (default 1 MB).
	MaxBodyBytes int64 `json:"max_body_bytes"`

	// FrameQueueSize > 0 buffers audio frames per session instead of the
	// lossy single-slot handoff.
	FrameQueueSize int `json:"frame_queue_size"`

	// TemplateWatchDir, when set, is watched and invalidates the template cache.
	TemplateWatchDir string `json:"template_watch_dir"`

	// AllowedOrigins restricts websocket upgrades by Origin header. Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins"`

	// ReadBufferSize and WriteBufferSize size the websocket buffers.
	ReadBufferSize  int `json:"read_buffer_size"`
	WriteBufferSize int `json:"write_buffer_size"`

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Version:         "dev",
		MaxBodyBytes:    maxRequestBodySize,
		ReadBufferSize:  16 << 10,
		WriteBufferSize: 4 << 10,
		WriteTimeout:    10 * time.Second,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.FrameQueueSize < 0 {
		return fmt.Errorf("frame_queue_size must not be negative")
	}
	if c.ReadBufferSize < 0 || c.WriteBufferSize < 0 {
		return fmt.Errorf("websocket buffer sizes must not be negative")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout must not be negative")
	}
	return nil
}
