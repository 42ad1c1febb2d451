package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"campus-messaging/internal/app/feed"
	"campus-messaging/internal/app/inbox"
	"campus-messaging/internal/config"
	"campus-messaging/internal/domain/chat"
	"campus-messaging/internal/infra/broker/kafka"
	mongodb "campus-messaging/internal/infra/db/mongo"
	ginserver "campus-messaging/internal/infra/http/gin"
	"campus-messaging/internal/infra/messagestore"
	"campus-messaging/internal/infra/realtime"
	"campus-messaging/internal/infra/storage/memory"
	"campus-messaging/internal/infra/storage/scylla"
	"campus-messaging/internal/infra/storage/sqlite"
	"campus-messaging/internal/obs"
)

type application struct {
	handlers ginserver.Handlers
	checks   []obs.DependencyCheck
	closers  []func() error
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}
	built := false
	defer func() {
		if !built {
			app.close(logger)
		}
	}()

	repo, err := app.buildRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	hub := realtime.NewHub(cfg.SubscriberBuffer, logger)
	app.closers = append(app.closers, func() error { hub.Close(); return nil })

	broker, err := app.buildBroker(ctx, cfg, hub, logger)
	if err != nil {
		return nil, err
	}
	directory, err := app.buildDirectory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store := messagestore.New(repo, broker, messagestore.Options{
		OwnsClock:   cfg.StoreOwnsClock,
		CallTimeout: cfg.StoreCallTimeout,
		Logger:      logger,
	})
	agg := inbox.Aggregator{Directory: directory, Logger: logger}
	app.handlers = ginserver.Handlers{
		Chat: ginserver.ChatHandler{Store: store, Aggregator: agg, Logger: logger},
		Live: ginserver.LiveHandler{
			Store:          store,
			Aggregator:     agg,
			Feed:           feed.Options{HistoryTimeout: cfg.HistoryTimeout, Logger: logger},
			AllowedOrigins: cfg.CORSOrigins,
			Logger:         logger,
		},
	}
	built = true
	return app, nil
}

func (a *application) buildRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (messagestore.Repository, error) {
	switch cfg.StoreDriver {
	case config.DriverScylla:
		session, err := scylla.NewSession(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("scylla init: %w", err)
		}
		a.closers = append(a.closers, func() error { session.Close(); return nil })
		a.checks = append(a.checks, obs.DependencyCheck{Name: "scylla", Check: func(context.Context) error {
			if session.Closed() {
				return errors.New("scylla session closed")
			}
			return nil
		}})
		return scylla.NewMessageRepository(session, cfg.ScyllaConsistency, logger), nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := sqlite.InitSchema(ctx, db); err != nil {
			return nil, err
		}
		a.checks = append(a.checks, obs.DependencyCheck{Name: "sqlite", Check: db.PingContext})
		logger.Info("sqlite opened", "path", cfg.SQLitePath)
		return sqlite.NewMessageRepository(db), nil
	default:
		logger.Warn("using in-memory message store; messages are lost on restart")
		return memory.NewMessageRepository(), nil
	}
}

func (a *application) buildBroker(ctx context.Context, cfg config.Config, hub *realtime.Hub, logger *slog.Logger) (messagestore.Broker, error) {
	if cfg.BrokerDriver != config.DriverKafka {
		return hub, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.NewConfig("campus-messaging-producer"), logger)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	a.closers = append(a.closers, producer.Close)

	broker := kafka.NewBroker(producer, hub, kafka.BrokerOptions{
		Topic:  cfg.KafkaTopic,
		Source: "app://campus-messaging",
		Logger: logger,
	})
	groupID := kafka.GroupID(cfg.KafkaGroupPrefix)
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, groupID, kafka.NewConfig(groupID), broker)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	a.closers = append(a.closers, consumer.Close)

	go broker.WatchErrors(ctx, consumer.Errors())
	go func() {
		if err := broker.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("kafka broker stopped", "error", err)
		}
	}()
	logger.Info("kafka broker started", "brokers", cfg.KafkaBrokers, "topic", broker.Topic(), "group", groupID)
	return broker, nil
}

func (a *application) buildDirectory(ctx context.Context, cfg config.Config, logger *slog.Logger) (chat.Directory, error) {
	if cfg.DirectoryDriver == config.DriverMongo {
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Close(ctx)
		})
		a.checks = append(a.checks, obs.DependencyCheck{Name: "mongo", Check: client.Ping})
		return client.Directory(), nil
	}
	directory := memory.NewDirectory()
	if cfg.DirectoryFixtures != "" {
		n, err := memory.LoadDirectoryFixtures(directory, cfg.DirectoryFixtures)
		if err != nil {
			logger.Warn("directory fixtures load failed", "error", err, "path", cfg.DirectoryFixtures)
		} else {
			logger.Info("directory fixtures loaded", "entries", n, "path", cfg.DirectoryFixtures)
		}
	}
	return directory, nil
}

func (a *application) health() obs.HealthHandlers {
	return obs.HealthHandlers{Checks: a.checks}
}

func (a *application) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}
