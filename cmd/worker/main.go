// The worker runs the full delivery pipeline in one process: the outbox
// poller feeding RabbitMQ, and the queue consumer routing deliveries through
// the channel dispatchers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/outbox"
	outboxpg "github.com/tsu-platform/notify/outbox/postgres"
	"github.com/tsu-platform/notify/postgres"
	"github.com/tsu-platform/notify/queue"
	"github.com/tsu-platform/notify/queue/rabbitmq"
	"github.com/tsu-platform/notify/redis"
	"github.com/tsu-platform/notify/runtime"
	"github.com/tsu-platform/notify/zap"
)

func main() {
	cfg := LoadConfig()

	logger, err := buildLogger(cfg)
	if err != nil {
		os.Exit(1)
	}

	defer func() {
		_ = logger.Sync(context.Background())
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		log.SafeError(logger, ctx, "worker exited with error", err)
		os.Exit(1)
	}
}

func buildLogger(cfg Config) (log.Logger, error) {
	level := cfg.LogLevel
	if _, err := log.ParseLevel(level); err != nil {
		level = "info"
	}

	return zap.New(zap.Config{
		Level:       level,
		Development: cfg.LogDevelopment,
		InitialFields: []log.Field{
			log.String("service", "notify-worker"),
		},
	})
}

func run(ctx context.Context, cfg Config, logger log.Logger) error {
	// Storage.
	db := &postgres.Connection{
		ConnectionStringPrimary: cfg.PostgresPrimaryDSN,
		ConnectionStringReplica: cfg.PostgresReplicaDSN,
		DatabaseName:            cfg.PostgresDatabase,
		Component:               "notify-worker",
		MigrationsPath:          cfg.MigrationsPath,
		Logger:                  logger,
	}
	if err := db.Connect(ctx); err != nil {
		return err
	}

	defer func() {
		_ = db.Close()
	}()

	// Coordination.
	redisConn := &redis.Connection{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Logger:   logger,
	}
	if err := redisConn.Connect(ctx); err != nil {
		return err
	}

	defer func() {
		_ = redisConn.Close()
	}()

	redisClient, err := redisConn.Client(ctx)
	if err != nil {
		return err
	}

	locker, err := redis.NewLockManager(redisClient)
	if err != nil {
		return err
	}

	// Transport.
	broker := rabbitmq.NewClient(rabbitmq.Config{
		ConnectionString: cfg.RabbitURI,
		QueueName:        cfg.RabbitQueueName,
	}, logger)
	if err := broker.Connect(ctx); err != nil {
		return err
	}

	defer func() {
		_ = broker.Close()
	}()

	// Repositories.
	outboxRepo, err := outboxpg.NewRepository(db, outboxpg.WithLogger(logger))
	if err != nil {
		return err
	}

	stores, err := buildStores(db)
	if err != nil {
		return err
	}

	// Dispatchers and router.
	router, err := buildRouter(outboxRepo, stores, logger)
	if err != nil {
		return err
	}

	// Consumer.
	consumer, err := queue.NewConsumer(broker, router.Route, queue.WithConsumerLogger(logger))
	if err != nil {
		return err
	}

	// Poller.
	transport, err := queue.NewPublisher(broker, logger)
	if err != nil {
		return err
	}

	pollerCfg := outbox.DefaultPollerConfig()
	pollerCfg.PollInterval = cfg.PollInterval
	pollerCfg.BatchSize = cfg.PollBatchSize
	pollerCfg.StuckThreshold = cfg.StuckThreshold
	pollerCfg.RetentionPeriod = cfg.RetentionPeriod

	poller, err := outbox.NewPoller(outboxRepo, transport,
		outbox.WithConfig(pollerCfg),
		outbox.WithLogger(logger),
		outbox.WithLocker(locker),
	)
	if err != nil {
		return err
	}

	runtime.SafeGo(logger, "worker.poller", func() {
		if err := poller.Run(ctx); err != nil {
			log.SafeError(logger, ctx, "poller stopped with error", err)
		}
	})

	runtime.SafeGo(logger, "worker.consumer", func() {
		if err := consumer.Run(ctx); err != nil {
			log.SafeError(logger, ctx, "consumer stopped with error", err)
		}
	})

	logger.Log(ctx, log.LevelInfo, "worker started",
		log.String("queue", cfg.RabbitQueueName),
	)

	<-ctx.Done()

	logger.Log(context.Background(), log.LevelInfo, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := poller.Shutdown(shutdownCtx); err != nil {
		log.SafeError(logger, shutdownCtx, "poller shutdown failed", err)
	}

	if err := consumer.Shutdown(shutdownCtx); err != nil {
		log.SafeError(logger, shutdownCtx, "consumer shutdown failed", err)
	}

	logger.Log(context.Background(), log.LevelInfo, "worker stopped")

	return nil
}
