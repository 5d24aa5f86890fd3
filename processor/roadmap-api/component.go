// Package roadmapapi provides the HTTP and WebSocket surface of braindump.
// It exposes roadmap structuring, revision and clarification, stored project
// lookup, starter templates, health, metrics and the realtime transcription
// socket.
package roadmapapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/braindump/metrics"
	"github.com/c360studio/braindump/synthesis"
	"github.com/c360studio/braindump/templates"
	"github.com/c360studio/braindump/transcribe"
)

// Dependencies are the services the component serves.
type Dependencies struct {
	Service   *synthesis.Service
	Templates *templates.Cache

	// Transcriber drives /ws/transcribe sessions. Nil disables the socket.
	Transcriber *transcribe.Driver

	// Metrics instruments the HTTP routes. Gatherer backs /metrics.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Component implements the roadmap-api component.
type Component struct {
	name   string
	config Config
	deps   Dependencies
	logger *slog.Logger

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	baseCtx   context.Context
	cancel    context.CancelFunc
	watcher   *templates.Watcher

	// sessions tracks open transcription sockets.
	sessions sync.WaitGroup
	active   atomic.Int64
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// HealthStatus describes the component state.
type HealthStatus struct {
	Healthy   bool
	Status    string
	LastCheck time.Time
	Uptime    time.Duration
}

// NewComponent constructs a roadmap-api Component.
func NewComponent(config Config, deps Dependencies) (*Component, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Service == nil {
		return nil, errors.New("synthesis service is required")
	}
	if deps.Templates == nil {
		loader := templates.NewLoader("", deps.Logger)
		deps.Templates = templates.NewCache(loader.Load)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Component{
		name:    "roadmap-api",
		config:  config,
		deps:    deps,
		logger:  logger,
		baseCtx: context.Background(),
	}, nil
}

// Start begins serving the component.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		current := c.state.Load()
		if current == stateRunning || current == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	baseCtx, cancel := context.WithCancel(ctx)

	var watcher *templates.Watcher
	if dir := c.config.TemplateWatchDir; dir != "" {
		w, err := templates.NewWatcher(dir, c.deps.Templates, c.logger)
		if err != nil {
			cancel()
			return fmt.Errorf("create template watcher: %w", err)
		}
		if err := w.Start(baseCtx); err != nil {
			cancel()
			return fmt.Errorf("start template watcher: %w", err)
		}
		watcher = w
	}

	c.mu.Lock()
	c.baseCtx = baseCtx
	c.cancel = cancel
	c.watcher = watcher
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)
	c.logger.Info("roadmap-api started",
		"storage", c.storageBackend(),
		"transcription", c.deps.Transcriber != nil,
		"template_watch_dir", c.config.TemplateWatchDir)
	return nil
}

// Stop gracefully stops the component. Open transcription sessions are
// cancelled and given up to timeout to send their terminal event.
func (c *Component) Stop(timeout time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	cancel := c.cancel
	watcher := c.watcher
	c.cancel = nil
	c.watcher = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			c.logger.Warn("Failed to stop template watcher", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.sessions.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("%d transcription sessions still open after %s", c.active.Load(), timeout)
	}

	c.state.Store(stateStopped)
	c.logger.Info("roadmap-api stopped")
	return err
}

// Health returns the current health status.
func (c *Component) Health() HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    uptime,
		Status:    status,
	}
}

// ActiveSessions returns the number of open transcription sockets.
func (c *Component) ActiveSessions() int64 {
	return c.active.Load()
}

func (c *Component) sessionContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseCtx
}

func (c *Component) storageBackend() string {
	if store := c.deps.Service.Store(); store != nil {
		return store.Backend()
	}
	return "none"
}
