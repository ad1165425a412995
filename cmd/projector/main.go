package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/example/bank-event-sourcing/internal/app"
	"github.com/example/bank-event-sourcing/internal/config"
	"github.com/example/bank-event-sourcing/internal/logger"
)

// The projector runs the read-model subscription on its own, for deployments
// where the API is started with RUN_PROJECTOR=false.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.With("service", "projector")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}
	defer a.Close()

	log.Info("starting", "bus", cfg.Bus, "readModel", cfg.ReadModel)
	if err := a.RunProjector(ctx); err != nil {
		log.Error("projector stopped with error", "error", err)
		return
	}
	log.Info("stopped")
}
