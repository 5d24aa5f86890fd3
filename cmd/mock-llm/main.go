// Package main implements a fixture-backed chat completions server.
//
// It answers OpenAI-compatible /v1/chat/completions requests with canned
// assistant content chosen by the request's model, so braindump can be run
// and tested end to end against the real llm client without a provider.
//
// Usage:
//
//	mock-llm --fixtures ./fixtures --addr :11434
//
// A fixture named "<model>.json" is the content returned for that model.
// Numbered fixtures ("<model>.1.json", "<model>.2.json") are served in order
// on successive calls, then the base fixture repeats. "default.json" answers
// models without fixtures of their own.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// EnvFixtures overrides the fixture directory when --fixtures is not given.
const EnvFixtures = "MOCK_LLM_FIXTURES"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		fixtureDir string
		addr       string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          "mock-llm",
		Short:        "Serve canned chat completions from fixture files",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fixtureDir == "" {
				fixtureDir = os.Getenv(EnvFixtures)
			}
			if fixtureDir == "" {
				return fmt.Errorf("--fixtures or %s is required", EnvFixtures)
			}

			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			fixtures, err := loadFixtures(fixtureDir)
			if err != nil {
				return fmt.Errorf("load fixtures from %s: %w", fixtureDir, err)
			}
			for _, name := range fixtures.models() {
				logger.Info("Fixture loaded", "model", name, "responses", len(fixtures[name]))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, newServer(fixtures, logger), logger)
		},
	}

	cmd.Flags().StringVar(&fixtureDir, "fixtures", "", "directory containing fixture files")
	cmd.Flags().StringVar(&addr, "addr", ":11434", "listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func serve(ctx context.Context, addr string, s *server, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock LLM listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
