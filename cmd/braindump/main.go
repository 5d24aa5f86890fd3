// Package main provides the braindump binary entry point.
// Braindump turns spoken or typed brain dumps into structured, dependency
// aware roadmaps.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	// Register LLM providers via init()
	_ "github.com/c360studio/braindump/llm/providers"

	"github.com/c360studio/braindump/config"
	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/storage"
	"github.com/c360studio/braindump/synthesis"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "braindump"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Brain dump to roadmap service",
		Long: `Braindump structures free-form brain dumps into roadmaps of objectives
and dependency-ordered tasks, revises them from natural-language
instructions, and relays live audio to a streaming transcription engine.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")

	cmd.AddCommand(serveCmd(flags), structureCmd(flags), versionCmd())
	return cmd
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat)
			slog.SetDefault(logger)

			cfg, err := loadConfig(flags.configPath, logger)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		_ = app.Shutdown(cfg.Server.ShutdownTimeout)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.Serve)
	g.Go(func() error {
		<-gctx.Done()
		return app.Shutdown(cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}

func structureCmd(flags *globalFlags) *cobra.Command {
	var (
		planning bool
		file     string
		userID   string
	)

	cmd := &cobra.Command{
		Use:   "structure",
		Short: "Structure one brain dump and print the roadmap JSON",
		Long: `Structure reads a brain dump from --file or stdin, runs it through the
generation pipeline and prints the resulting roadmap. The roadmap is
stored with the file backend under storage.dir.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat)

			cfg, err := loadConfig(flags.configPath, logger)
			if err != nil {
				return err
			}

			text, err := readBrainDump(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			svc, err := newOfflineService(cfg, logger)
			if err != nil {
				return err
			}
			res, err := svc.Generate(cmd.Context(), synthesis.GenerateRequest{
				Text:            text,
				IncludePlanning: planning,
				UserID:          userID,
			})
			if err != nil {
				return fmt.Errorf("structure brain dump: %w", err)
			}

			logger.Info("Roadmap stored",
				"project_id", res.Roadmap.ProjectID,
				"dir", cfg.Storage.Dir,
				"attempts", res.Telemetry.Attempts,
				"estimated_cost", res.Telemetry.EstimatedCost)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res.Roadmap)
		},
	}

	cmd.Flags().BoolVar(&planning, "planning", false, "Include a day-by-day planning")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the brain dump from a file instead of stdin")
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the stored roadmap (default: generation.default_owner)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

// newOfflineService builds a synthesis service over the file backend.
func newOfflineService(cfg *config.Config, logger *slog.Logger) (*synthesis.Service, error) {
	store, err := storage.NewFileStore(cfg.Storage.Dir, storage.WithFileLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	var completer llm.Completer
	if cfg.DemoMode {
		completer = synthesis.DemoCompleter{}
	} else {
		completer = llm.NewClient(cfg.Registry(), llm.WithLogger(logger))
	}
	gen := llm.NewGenerator(completer, cfg.Generation.Loop, llm.WithGeneratorLogger(logger))
	return synthesis.NewService(gen, store, cfg.Generation.Synthesis, synthesis.WithLogger(logger)), nil
}

func readBrainDump(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("read brain dump: %w", err)
	}
	return string(data), nil
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	var opts []config.LoaderOption
	if path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	cfg, err := config.NewLoader(logger, opts...).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
