package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skobkin/intelgputop/internal/app"
	"github.com/skobkin/intelgputop/internal/config"
	"github.com/skobkin/intelgputop/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cfg, err := config.Load()
	if err != nil {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		slog.New(handler).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	parsed, err := config.ParseFlags(os.Args[1:], cfg, os.Stderr)
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			config.PrintUsage(os.Stdout, cfg, versionLine())
			return
		}
		fmt.Fprintf(os.Stderr, "intel-gpu-top: %v\n\n", err)
		config.PrintUsage(os.Stderr, cfg, versionLine())
		os.Exit(1)
	}
	cfg = parsed

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)
	logger.Info("starting", "version", version.Current().Version, "mode", cfg.Mode, "period", cfg.SampleInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, logger, cfg); err != nil {
		logger.Error("application error", "err", err)
		stop()
		os.Exit(1)
	}
}

func versionLine() string {
	return version.Current().Line("intel-gpu-top")
}
