// Package main provides the feedeater worker binary: the event-driven feed
// aggregation worker that dispatches module jobs, archives bus traffic, and
// maintains per-source contexts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedeater/feedeater/config"

	// Register built-in module entries via init().
	_ "github.com/feedeater/feedeater/modules/heartbeat"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "feedeater"
)

func main() {
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

func rootCmd() *cobra.Command {
	var (
		logLevel string
		envFile  string
	)

	cmd := &cobra.Command{
		Use:   "feedeater",
		Short: "Event-driven feed aggregation worker",
		Long: `Feedeater runs ingestion modules against a NATS bus and a Postgres
archive.

It provides:
- Module discovery from module.json manifests and compiled-in entries
- Cron, event-trigger, and queue-driven job dispatch with a persisted
  run lifecycle
- A bus archive with startup replay and versioned per-source contexts

Messages, contexts, and job runs all travel as JSON events on
feedeater.* subjects.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(logLevel, envFile)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Dotenv file to load before reading the environment")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(logLevel, envFile string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(envFile, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		app.Shutdown(5 * time.Second)
		return err
	}

	<-ctx.Done()
	app.Shutdown(10 * time.Second)
	return nil
}
