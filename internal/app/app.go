// Package app wires configuration into the stores, bus and handlers shared by
// the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/example/bank-event-sourcing/internal/api"
	"github.com/example/bank-event-sourcing/internal/auth"
	"github.com/example/bank-event-sourcing/internal/command"
	"github.com/example/bank-event-sourcing/internal/config"
	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
	"github.com/example/bank-event-sourcing/internal/infrastructure/kafka"
	"github.com/example/bank-event-sourcing/internal/infrastructure/nats"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/logger"
	"github.com/example/bank-event-sourcing/internal/metrics"
	"github.com/example/bank-event-sourcing/internal/projection"
	"github.com/example/bank-event-sourcing/internal/query"
	"github.com/example/bank-event-sourcing/internal/readmodel"
)

type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Aggregates *store.AggregateStore
	ReadStore  readmodel.AccountReadStore

	db      *sqlx.DB
	mongo   *mongo.Client
	js      jetstream.JetStream
	closers []func() error
}

// New connects every backing service named by cfg. On error everything
// opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = store.ConnectPostgres(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)
	if cfg.DBMigrate {
		if err := store.Migrate(ctx, a.db); err != nil {
			return nil, err
		}
	}

	if a.ReadStore, err = a.openReadStore(ctx); err != nil {
		return nil, err
	}

	bus, err := a.openBus(ctx)
	if err != nil {
		return nil, err
	}

	a.Aggregates = store.NewAggregateStore(
		store.NewPostgresEventLog(a.db, cfg.DBLockTimeout),
		account.NewSerializer(),
		bus,
		aggregate.Factories{account.AggregateType: account.NewAggregate},
		store.WithSnapshotFrequency(cfg.SnapshotFrequency),
		store.WithLogger(log),
		store.WithMetrics(a.Metrics),
	)
	return a, nil
}

func (a *App) openReadStore(ctx context.Context) (readmodel.AccountReadStore, error) {
	switch a.Config.ReadModel {
	case config.ReadModelMemory:
		return readmodel.NewMemoryStore(), nil
	case config.ReadModelMongo:
		client, err := readmodel.ConnectMongo(ctx, a.Config.MongoURI)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })
		s := readmodel.NewMongoStore(client.Database(a.Config.MongoDatabase))
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		s := readmodel.NewPostgresStore(a.db)
		if a.Config.DBMigrate {
			if err := s.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
}

func (a *App) openBus(ctx context.Context) (store.EventBus, error) {
	cfg := a.Config
	if cfg.Bus == config.BusNats {
		nc, js, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Drain)
		if _, err := nats.EnsureStream(ctx, js, cfg.NatsStream, cfg.NatsSubjectPrefix); err != nil {
			return nil, err
		}
		a.js = js
		return nats.NewEventBus(js, cfg.NatsSubjectPrefix, cfg.PublishTimeout), nil
	}

	if cfg.KafkaCreateTopic {
		if err := kafka.EnsureTopic(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaPartitions, cfg.KafkaReplicationFactor); err != nil {
			return nil, err
		}
	}
	bus := kafka.NewEventBus(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.PublishTimeout)
	a.closers = append(a.closers, bus.Close)
	return bus, nil
}

// Router builds the HTTP API on top of the command and query handlers.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	cmdHandler := command.NewHandler(a.Aggregates,
		command.WithMaxAttempts(cfg.CommandMaxRetries),
		command.WithLogger(a.Logger),
	)
	queryHandler := query.NewHandler(a.ReadStore, a.Aggregates, a.Logger)

	var jwtService *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtService = auth.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	}

	return api.NewRouter(api.NewHandlers(cmdHandler, queryHandler), api.RouterConfig{
		Logger:   a.Logger.With("component", "API"),
		Metrics:  a.Metrics,
		Gatherer: a.Registry,
		JWT:      jwtService,
		Ready:    a.Ready,
	})
}

// Ready pings the event log database and, when used, MongoDB.
func (a *App) Ready(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.mongo != nil {
		if err := a.mongo.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
	}
	return nil
}

// RunProjector consumes the bus into the read model until ctx is done.
func (a *App) RunProjector(ctx context.Context) error {
	cfg := a.Config
	log := a.Logger.With("component", "Projector")
	sub := projection.NewSubscription(
		projection.NewBankAccountProjection(a.ReadStore, account.NewSerializer()),
		a.ReadStore,
		a.Aggregates,
		projection.WithTimeout(cfg.ProjectionTimeout),
		projection.WithLogger(log),
		projection.WithMetrics(a.Metrics),
	)

	if cfg.Bus == config.BusNats {
		consumer, err := nats.NewConsumer(ctx, a.js, cfg.NatsStream, cfg.NatsDurable, cfg.NatsSubjectPrefix, log)
		if err != nil {
			return err
		}
		log.Info("consuming", "stream", cfg.NatsStream, "durable", cfg.NatsDurable)
		return ignoreCanceled(consumer.Consume(ctx, sub.HandleMessage))
	}

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, log)
	defer consumer.Close()
	log.Info("consuming", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
	return ignoreCanceled(consumer.Consume(ctx, sub.HandleMessage))
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close", "error", err)
		}
	}
	a.closers = nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
