package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/common/middleware"
	"github.com/relaypoint-io/relaypoint/internal/audit"
	"github.com/relaypoint-io/relaypoint/internal/breaker"
	"github.com/relaypoint-io/relaypoint/internal/config"
	"github.com/relaypoint-io/relaypoint/internal/dispatcher"
	"github.com/relaypoint-io/relaypoint/internal/handlers"
	"github.com/relaypoint-io/relaypoint/internal/lease"
	"github.com/relaypoint-io/relaypoint/internal/mapping"
	"github.com/relaypoint-io/relaypoint/internal/normalizer"
	"github.com/relaypoint-io/relaypoint/internal/queue"
	"github.com/relaypoint-io/relaypoint/internal/ratelimit"
	"github.com/relaypoint-io/relaypoint/internal/repository"
	"github.com/relaypoint-io/relaypoint/internal/scheduler"
	"github.com/relaypoint-io/relaypoint/internal/server"
	"github.com/relaypoint-io/relaypoint/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(slog.String("service", "hub"))
	slog.SetDefault(logger.Logger)

	slog.Info("Starting hub",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Run database migrations
	connString := cfg.Database.ConnString()
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database migrations completed")

	repo, err := repository.NewPostgresRepository(context.Background(), connString)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// Redis backs the rate limiter, circuit breaker, and event leases.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid Redis URL: %v", err)
	}
	redisOpts.MaxRetries = cfg.Redis.MaxRetries
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	var limiter ratelimit.Limiter
	if cfg.Gateway.RateLimitEnabled {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.Gateway.RateLimitPerMinute, time.Minute)
		slog.Info("Rate limiting enabled",
			slog.Int("per_minute", cfg.Gateway.RateLimitPerMinute))
	} else {
		limiter = ratelimit.NoOpLimiter{}
		slog.Info("Rate limiting disabled in configuration")
	}

	// Delivery queue: JetStream in production, in-process for dev
	var q queue.Queue
	if cfg.NATS.Enabled {
		jsCfg := queue.DefaultJetStreamConfig(cfg.NATS.URL)
		jsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		jsCfg.ReconnectWait = cfg.NATS.ReconnectWait
		q, err = queue.NewJetStreamQueue(context.Background(), jsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		slog.Info("JetStream delivery queue connected", slog.String("url", cfg.NATS.URL))
	} else {
		q = queue.NewMemoryQueue()
		slog.Warn("NATS disabled, using in-process queue; tasks are lost on restart")
	}
	defer q.Close()

	var recorder audit.Recorder = audit.NoopRecorder{}
	if cfg.Audit.Enabled {
		osRecorder, err := audit.NewOpenSearchRecorder(audit.Config{
			URL:      cfg.Audit.URL,
			Username: cfg.Audit.Username,
			Password: cfg.Audit.Password,
			Insecure: cfg.Audit.Insecure,
			Index:    cfg.Audit.Index,
		}, func(err error) {
			slog.Warn("Audit record failed", slog.String("error", err.Error()))
		})
		if err != nil {
			slog.Warn("Audit trail unavailable, continuing without it",
				slog.String("error", err.Error()))
		} else {
			recorder = osRecorder
			slog.Info("Audit trail enabled", slog.String("url", cfg.Audit.URL))
		}
	}

	auth := service.NewAuthenticator(repo, cfg.Gateway.JWTSecret)
	gateway := service.NewGatewayService(
		repo,
		normalizer.Default(),
		limiter,
		q,
		auth,
		recorder,
		cfg.Gateway.SignatureTolerance,
		logger,
	)

	handler := handlers.NewHandler(
		gateway,
		service.NewEventService(repo, q, logger),
		service.NewDLQService(repo, q, logger),
		service.NewMappingService(repo),
		service.NewCredentialService(repo),
		auth,
		logger,
		cfg.Gateway.MaxBodySize,
	)
	router := server.NewRouter(handler)
	if len(cfg.Server.CORSOrigins) > 0 {
		router = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: cfg.Server.CORSOrigins,
		})(router)
	}

	// Start the delivery dispatcher
	disp := dispatcher.New(
		repo,
		mapping.NewEngine(repo),
		q,
		breaker.New(redisClient, cfg.Breaker.FailureThreshold, cfg.Breaker.FailureWindow, cfg.Breaker.CoolDown),
		lease.New(redisClient, cfg.Delivery.LeaseTTL),
		dispatcher.Config{
			MaxAttempts: cfg.Delivery.MaxAttempts,
			Backoff: dispatcher.BackoffPolicy{
				Base:       cfg.Delivery.BaseDelay,
				Multiplier: cfg.Delivery.BackoffMultiplier,
				Max:        cfg.Delivery.MaxDelay,
				Jitter:     cfg.Delivery.MaxJitter,
			},
			ConnectTimeout: cfg.Delivery.ConnectTimeout,
			RequestTimeout: cfg.Delivery.RequestTimeout,
			Workers: map[string]int{
				queue.High:    cfg.Delivery.Workers.High,
				queue.Default: cfg.Delivery.Workers.Default,
				queue.Low:     cfg.Delivery.Workers.Low,
				queue.Retry:   cfg.Delivery.Workers.Retry,
			},
		},
		logger,
	)

	dispCtx, dispCancel := context.WithCancel(context.Background())
	defer dispCancel()
	if err := disp.Start(dispCtx); err != nil {
		log.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer disp.Stop()

	// Background schedulers: retry sweep and terminal event cleanup
	sweeper := scheduler.NewRetrySweeper(repo, q, cfg.Scheduler.RetryInterval, cfg.Scheduler.RetryBatchSize, logger)
	go sweeper.Start(dispCtx)
	defer sweeper.Stop()

	janitor := scheduler.NewJanitor(repo, cfg.Scheduler.CleanupInterval, cfg.Scheduler.Retention, logger)
	go janitor.Start(dispCtx)
	defer janitor.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Hub listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	slog.Info("Server stopped")
}
