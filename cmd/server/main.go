package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/procureplan/internal/app"
	"github.com/andresuchdata/procureplan/internal/config"
	"github.com/andresuchdata/procureplan/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Configure(cfg.LogLevel, cfg.Server.Mode == "release")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialise planner")
	}

	if err := a.Serve(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Server stopped with error")
	}

	// In-flight runs get a bounded window to record their outcome.
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Shutdown incomplete")
	}
	logger.Log.Info().Msg("Server exiting")
}
