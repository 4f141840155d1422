package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chainrelay/internal/ledger"
	"chainrelay/internal/ledger/ethereum"
	"chainrelay/internal/message"
	"chainrelay/internal/notarization"
	"chainrelay/internal/platform/config"
	"chainrelay/internal/platform/kafka"
	"chainrelay/internal/platform/postgres"
	redisplatform "chainrelay/internal/platform/redis"
	"chainrelay/internal/relay/registry"
	"chainrelay/internal/users"
)

// userStore is the directory plus the seeding operation the CLI needs.
type userStore interface {
	users.Directory
	Create(ctx context.Context, username string) (*users.User, error)
}

// app holds the process-wide dependency graph shared by subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB
	redis    *redisplatform.Client
	producer *kafka.Producer

	messages message.Store
	users    userStore
	ledger   ledger.Ledger
	registry *registry.Registry
	pipeline *notarization.Pipeline
	sweeper  *notarization.Sweeper
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	a.redis, err = redisplatform.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	signer, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}

	var publisher notarization.Publisher = notarization.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		a.producer, err = kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return nil, err
		}
		if err := a.producer.EnsureTopic(ctx, cfg.Kafka.Topic, 3, 1); err != nil {
			logger.WarnContext(ctx, "could not ensure notarization topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		publisher = notarization.NewKafkaPublisher(a.producer, cfg.Kafka.Topic, a.logger)
	}

	var lane notarization.Lane = notarization.NewLocalLane()
	if cfg.Pipeline.Lane == "redis" {
		lane = notarization.NewRedisLane(a.redis, signer, cfg.Pipeline.LaneTTL)
	}

	var notifier registry.PresenceNotifier = registry.NopNotifier{}
	if a.redis != nil {
		notifier = registry.NewRedisNotifier(a.redis, cfg.Redis.PresenceChannel)
	}
	a.registry = registry.New(logger,
		registry.WithNotifier(notifier),
		registry.WithMetrics(registry.NewMetrics()),
	)

	a.pipeline = notarization.New(a.messages, a.ledger, logger, notarization.ConfigFrom(cfg.Pipeline),
		notarization.WithLane(lane),
		notarization.WithPublisher(publisher),
		notarization.WithMetrics(notarization.NewMetrics()),
	)
	a.sweeper = notarization.NewSweeper(a.messages, a.pipeline, cfg.Pipeline.SweepBatch, logger)
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	if a.cfg.Database.URL == "" {
		a.logger.WarnContext(ctx, "database.url not set, using in-memory stores")
		a.messages = message.NewInMemory()
		a.users = users.NewInMemory()
		return nil
	}
	db, err := postgres.Open(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	a.db = db
	a.messages = message.NewPostgres(db)
	a.users = users.NewPostgres(db)
	return nil
}

// openLedger connects the ledger and returns the signing identity used to
// key the submission lane.
func (a *app) openLedger(ctx context.Context) (string, error) {
	if a.cfg.Ledger.Mode != "ethereum" {
		a.logger.WarnContext(ctx, "using the simulated in-memory ledger")
		a.ledger = ledger.NewMemory()
		return ledger.SimulatedRegistrar, nil
	}
	client, err := ethereum.Dial(ctx, a.cfg.Ledger, a.logger)
	if err != nil {
		return "", err
	}
	a.ledger = client
	signer := client.Registrar()
	if signer == "" {
		a.logger.WarnContext(ctx, "no ledger private key configured, submissions will fail")
		signer = "read-only"
	}
	return signer, nil
}

func (a *app) close() {
	if a.producer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.producer.Flush(ctx); err != nil {
			a.logger.Warn("flushing kafka producer", "error", err)
		}
		cancel()
		a.producer.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			a.logger.Warn("closing database", "error", err)
		}
	}
}
