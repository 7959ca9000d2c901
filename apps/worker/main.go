package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	inactivityconfig "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/config"
	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/consumer"
	inactivityrepo "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/repo"
	inactivityservice "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-campus/platform/go/logging"
	"github.com/zenGate-Global/palmyra-campus/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-campus/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-campus/platform/go/queue"
)

type config struct {
	inactivityconfig.Database
	inactivityconfig.Redis
	inactivityconfig.Engine
	inactivityconfig.Queue

	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogConsole      bool          `env:"LOG_CONSOLE" envDefault:"false"`
	Workers         int           `env:"CONSUMER_WORKERS" envDefault:"4"`
	HandleTimeout   time.Duration `env:"CONSUMER_HANDLE_TIMEOUT" envDefault:"15s"`
	MaxRedeliveries int           `env:"CONSUMER_MAX_REDELIVERIES" envDefault:"3"`
	DeadLetterKey   string        `env:"QUEUE_DEAD_LETTER_KEY" envDefault:"attendance:recorded:dead"`
	MetricsPort     string        `env:"METRICS_PORT" envDefault:"9090"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "campus-worker",
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	svcCfg, err := cfg.Engine.ServiceConfig()
	if err != nil {
		logger.Fatal("invalid engine config", zap.Error(err))
	}

	pool, err := persistence.NewPool(ctx, cfg.Database.PoolConfig("campus-worker"))
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	repo, err := inactivityrepo.NewPostgresRepository(persistence.NewDB(pool))
	if err != nil {
		logger.Fatal("init inactivity repository", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collectorSet := metrics.New(promRegistry)

	inactivityService := inactivityservice.New(repo.Deps(), svcCfg, logger.Named("inactivity"), collectorSet)

	var q queue.Queue
	var deadLetter consumer.Publisher
	switch cfg.Queue.Backend {
	case "redis":
		if cfg.Redis.Addr == "" {
			logger.Fatal("REDIS_ADDR required when QUEUE_BACKEND=redis")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("ping redis", zap.Error(err))
		}
		q = queue.NewRedisQueue(client, cfg.Queue.Key, func(err error) {
			logger.Warn("attendance queue error", zap.Error(err))
		})
		deadLetter = queue.NewRedisQueue(client, cfg.DeadLetterKey, nil)
	case "memory":
		logger.Warn("using in-memory queue; events are only visible inside this process")
		q = queue.NewInMemory(cfg.Queue.Size)
	default:
		logger.Fatal("invalid QUEUE_BACKEND (use redis or memory)", zap.String("backend", cfg.Queue.Backend))
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	c := consumer.New(inactivityService, q, consumer.Config{
		Workers:         cfg.Workers,
		HandleTimeout:   cfg.HandleTimeout,
		MaxRedeliveries: cfg.MaxRedeliveries,
		DeadLetter:      deadLetter,
	}, logger.Named("consumer"))

	logger.Info("starting attendance consumer",
		zap.String("backend", cfg.Queue.Backend),
		zap.Int("workers", cfg.Workers),
	)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}
