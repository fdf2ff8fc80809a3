// Command engine is the entry point for the trading engine. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and runs the engine until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/polyengine/internal/app"
	"github.com/alanyoungcy/polyengine/internal/config"
)

// Exit codes: 0 clean shutdown, 1 fatal config error, 2 unrecoverable
// persistent-store error, 3 credentials or authentication error.
const (
	exitOK         = 0
	exitConfig     = 1
	exitStore      = 2
	exitCredential = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return exitConfig
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitConfig
	}

	logger.Info("engine starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("engine shut down gracefully")
			return exitOK
		}

		logger.Error("engine exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)

		switch {
		case errors.Is(err, app.ErrStoreUnavailable):
			return exitStore
		case errors.Is(err, app.ErrCredentials):
			return exitCredential
		default:
			return exitConfig
		}
	}

	logger.Info("engine stopped")
	return exitOK
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
