package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"custody-vault/internal/config"
	"custody-vault/internal/logger"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked, recovering")
			os.Exit(1)
		}
	}()

	logger.Init("info", "console")

	cfg, err := config.Load()
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Failed to initialize vault daemon")
	}

	if err := d.run(ctx); err != nil {
		logger.GetLogger().Error().Err(err).Msg("Vault daemon stopped with error")
		d.close()
		os.Exit(1)
	}
	d.close()
}
