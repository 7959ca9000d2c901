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
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/contracts"
	inactivityconfig "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/config"
	inactivityhandler "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/handler"
	inactivityrepo "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/repo"
	inactivityservice "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	platformauth "github.com/zenGate-Global/palmyra-campus/platform/go/auth"
	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
	platformlogging "github.com/zenGate-Global/palmyra-campus/platform/go/logging"
	"github.com/zenGate-Global/palmyra-campus/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/palmyra-campus/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-campus/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-campus/platform/go/storage"
)

type config struct {
	inactivityconfig.Database
	inactivityconfig.Redis
	inactivityconfig.Engine
	inactivityconfig.Jobs
	inactivityconfig.Archive

	Port                string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	MaxRequestBodyBytes int64         `env:"MAX_REQUEST_BODY_BYTES" envDefault:"65536"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	LogConsole          bool          `env:"LOG_CONSOLE" envDefault:"false"`
	AuthProvider        string        `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | dev
	FirebaseProjectID   string        `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentials string        `env:"FIREBASE_CONFIG"`
	CORSAllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	SchedulerEnabled    bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "campus-api",
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
	schedCfg, err := cfg.Jobs.Scheduler()
	if err != nil {
		logger.Fatal("invalid scheduler config", zap.Error(err))
	}

	pool, err := persistence.NewPool(ctx, cfg.Database.PoolConfig("campus-api"))
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

	alerters := jobs.MultiAlerter{jobs.NewLogAlerter(logger)}
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		alerters = append(alerters, jobs.NewRedisAlerter(redisClient, cfg.Jobs.AlertChannel))
	}

	archive, closeArchive := buildReportArchive(ctx, cfg, logger)
	defer closeArchive()
	if archiver := storage.NewArchiver(archive, cfg.Archive.Timeout, logger.Named("archive")); archiver != nil {
		schedCfg.Wrap = archiver.Wrap
	}

	registry := jobs.NewRegistry(cfg.Jobs.Registry(), logger.Named("jobs"), alerters, collectorSet)
	scheduler := jobs.NewScheduler(registry, logger.Named("scheduler"), schedCfg)

	inactivityService := inactivityservice.New(repo.Deps(), svcCfg, logger.Named("inactivity"), collectorSet)

	specs := inactivityService.JobSpecs(cfg.Jobs.Schedule())
	for i := range specs {
		if !cfg.SchedulerEnabled {
			specs[i].Cron = ""
		}
	}
	for _, spec := range specs {
		if err := scheduler.Add(spec); err != nil {
			logger.Fatal("register job", zap.String("job", spec.Name), zap.Error(err))
		}
	}

	inactivityHTTPHandler := inactivityhandler.New(inactivityService, scheduler, registry, logger)
	authMiddleware := buildAuthMiddleware(ctx, cfg, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		platformmiddleware.CORS(cfg.CORSAllowedOrigins),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger, "/healthz", "/readyz", "/metrics"))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry}))

	contract, err := contracts.Inactivity()
	if err != nil {
		logger.Fatal("load inactivity contract", zap.Error(err))
	}

	apiRouter := chi.NewRouter()
	apiRouter.Use(chimw.RequestSize(cfg.MaxRequestBodyBytes))
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformmiddleware.SpecValidator(contract))
	apiRouter.Use(platformmiddleware.RequestTrace)

	// Manual runs can take longer than a request; they are not bounded by the request timeout.
	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireAdmin)
		inactivityHTTPHandler.MountTriggers(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		inactivityHTTPHandler.MountQueries(r)
		inactivityHTTPHandler.MountHealth(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           rootRouter,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	scheduler.Start()

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled jobs still running at shutdown")
	}
}
