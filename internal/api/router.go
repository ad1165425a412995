package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/bank-event-sourcing/internal/api/middleware"
	"github.com/example/bank-event-sourcing/internal/auth"
	"github.com/example/bank-event-sourcing/internal/logger"
)

const readyTimeout = 2 * time.Second

type RouterConfig struct {
	Logger *logger.Logger
	// Metrics and Gatherer are optional; /metrics is only served with a Gatherer.
	Metrics  middleware.RequestObserver
	Gatherer prometheus.Gatherer
	// JWT, when set, guards every command route and attaches claims on reads.
	JWT *auth.JWTService
	// Ready reports backing store health for /healthz.
	Ready func(ctx context.Context) error
}

func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(cfg.Logger), middleware.Metrics(cfg.Metrics))

	r.GET("/healthz", healthCheck(cfg.Ready))
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	bank := r.Group("/api/v1/bank")
	reads := bank.Group("")
	writes := bank.Group("")
	if cfg.JWT != nil {
		reads.Use(middleware.OptionalAuth(cfg.JWT))
		writes.Use(middleware.RequireAuth(cfg.JWT))
	}
	reads.Use(middleware.EventMetadata())
	writes.Use(middleware.EventMetadata())

	writes.POST("/account", handlers.CreateAccount)
	writes.POST("/deposit/:id", handlers.DepositBalance)
	writes.POST("/email/:id", handlers.ChangeEmail)

	reads.GET("/account/:id", handlers.GetAccount)
	reads.GET("/account", handlers.GetAccounts)

	return r
}

func healthCheck(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
			defer cancel()
			if err := ready(ctx); err != nil {
				_ = c.Error(err)
				c.String(http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		c.String(http.StatusOK, "ok")
	}
}
