package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/bank-event-sourcing/internal/app"
	"github.com/example/bank-event-sourcing/internal/config"
	"github.com/example/bank-event-sourcing/internal/logger"
)

const shutdownTimeout = 10 * time.Second

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
	log = log.With("service", "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}
	defer a.Close()

	log.Info("starting",
		"addr", cfg.HTTPAddr,
		"bus", cfg.Bus,
		"readModel", cfg.ReadModel,
		"projector", cfg.RunProjector,
		"auth", cfg.JWTSecret != "",
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.RunProjector {
		g.Go(func() error {
			return a.RunProjector(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", "error", err)
		return
	}
	log.Info("stopped")
}
