package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"github.com/c360studio/braindump/config"
	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/metrics"
	roadmapapi "github.com/c360studio/braindump/processor/roadmap-api"
	"github.com/c360studio/braindump/storage"
	"github.com/c360studio/braindump/synthesis"
	"github.com/c360studio/braindump/templates"
	"github.com/c360studio/braindump/transcribe"
)

// App is the main application that wires together all components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Metrics
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Storage
	store     storage.ProjectStore
	callStore *llm.CallStore

	service *synthesis.Service
	api     *roadmapapi.Component

	listener   net.Listener
	httpServer *http.Server
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start initializes all components and binds the listener. Serve accepts
// connections afterwards. A failed Start releases what it had started.
func (a *App) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = a.Shutdown(a.cfg.Server.ShutdownTimeout)
		}
	}()

	a.registry, a.metrics = metrics.NewRegistry()

	if a.cfg.Storage.Backend == config.BackendNATS || a.cfg.NATS.URL != "" {
		if err := a.startNATS(); err != nil {
			return fmt.Errorf("start NATS: %w", err)
		}
	}

	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	a.service = synthesis.NewService(a.generator(), a.store, a.cfg.Generation.Synthesis, synthesis.WithLogger(a.logger))

	api, err := roadmapapi.NewComponent(a.apiConfig(), roadmapapi.Dependencies{
		Service:     a.service,
		Templates:   a.templateCache(),
		Transcriber: a.transcriber(),
		Metrics:     a.metrics,
		Gatherer:    a.registry,
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("create roadmap-api: %w", err)
	}
	if err := api.Start(ctx); err != nil {
		return fmt.Errorf("start roadmap-api: %w", err)
	}
	a.api = api

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr, err)
	}
	if n := a.cfg.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:           api.Handler(),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	a.logger.Info("Braindump ready",
		"version", Version,
		"addr", ln.Addr().String(),
		"storage", a.store.Backend(),
		"demo_mode", a.cfg.DemoMode,
		"nats_embedded", a.embeddedServer != nil)
	return nil
}

// Serve accepts HTTP connections until Shutdown.
func (a *App) Serve() error {
	if a.httpServer == nil {
		return errors.New("app not started")
	}
	if err := a.httpServer.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) startNATS() error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		// Connect to external NATS
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL, nats.Name("braindump"))
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		// Start embedded NATS server
		a.logger.Info("Starting embedded NATS server", "store_dir", a.cfg.NATS.StoreDir)
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			StoreDir:  a.cfg.NATS.StoreDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		// Wait for server to be ready
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		// Connect to embedded server
		conn, err := nats.Connect(ns.ClientURL(), nats.Name("braindump"))
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	// Get JetStream context
	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	var store storage.ProjectStore
	switch a.cfg.Storage.Backend {
	case config.BackendNATS:
		kv, err := storage.NewKVStore(ctx, a.js,
			storage.WithBucket(a.cfg.Storage.Bucket),
			storage.WithKVLogger(a.logger))
		if err != nil {
			return err
		}
		store = kv
	case config.BackendFile:
		fs, err := storage.NewFileStore(a.cfg.Storage.Dir, storage.WithFileLogger(a.logger))
		if err != nil {
			return err
		}
		store = fs
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	a.store = a.metrics.InstrumentStore(store)

	if a.js != nil {
		callStore, err := llm.NewCallStore(ctx, a.js, llm.WithStoreLogger(a.logger))
		if err != nil {
			// Call records are optional
			a.logger.Warn("Failed to initialize LLM call store", "error", err)
		} else {
			a.callStore = callStore
		}
	}
	return nil
}

// generator builds the generation loop over the model client, or over the
// demo completer in demo mode.
func (a *App) generator() *llm.Generator {
	var completer llm.Completer
	if a.cfg.DemoMode {
		completer = synthesis.DemoCompleter{Delay: 600 * time.Millisecond}
	} else {
		opts := []llm.ClientOption{llm.WithLogger(a.logger)}
		if a.callStore != nil {
			opts = append(opts, llm.WithCallStore(a.callStore))
		}
		completer = llm.NewClient(a.cfg.Registry(), opts...)
	}
	return llm.NewGenerator(completer, a.cfg.Generation.Loop,
		llm.WithGeneratorLogger(a.logger),
		llm.WithObserver(a.metrics))
}

func (a *App) templateCache() *templates.Cache {
	loader := templates.NewLoader(a.cfg.Templates.Dir, a.logger)
	return templates.NewCache(loader.Load,
		templates.WithTTL(a.cfg.Templates.TTL),
		templates.WithCacheLogger(a.logger))
}

func (a *App) transcriber() *transcribe.Driver {
	engineCfg := a.cfg.Transcription.Engine
	if engineCfg.APIKey == "" {
		a.logger.Warn("No transcription API key set; sessions will end with an error", "env", config.EnvAPIKey)
	}
	engine := transcribe.NewRealtimeEngine(engineCfg, transcribe.WithRealtimeLogger(a.logger))
	return transcribe.NewDriver(engine,
		transcribe.WithDriverLogger(a.logger),
		transcribe.WithDriverObserver(a.metrics),
		transcribe.WithAudioFormat(a.cfg.Transcription.AudioFormat()))
}

func (a *App) apiConfig() roadmapapi.Config {
	cfg := roadmapapi.DefaultConfig()
	cfg.Version = Version
	cfg.MaxBodyBytes = a.cfg.Server.MaxBodyBytes
	cfg.FrameQueueSize = a.cfg.Transcription.QueueSize
	if a.cfg.Templates.Watch {
		cfg.TemplateWatchDir = a.cfg.Templates.Dir
	}
	return cfg
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) error {
	a.logger.Info("Shutting down", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	if a.api != nil {
		if err := a.api.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop roadmap-api: %w", err))
		}
	}

	// Close NATS connection
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	a.logger.Info("Goodbye")
	return errors.Join(errs...)
}
