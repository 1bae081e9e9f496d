package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/api"
	"github.com/beaconhq/beacon/internal/auth"
	"github.com/beaconhq/beacon/internal/circuitbreaker"
	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/hub"
	"github.com/beaconhq/beacon/internal/janitor"
	"github.com/beaconhq/beacon/internal/metrics"
	"github.com/beaconhq/beacon/internal/observ"
	"github.com/beaconhq/beacon/internal/push"
	"github.com/beaconhq/beacon/internal/redis"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting beacon gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := store.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := store.NewRepository(database, logger)

	// Redis backs rate limiting and idempotency. The gateway runs without it.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
		defer redisClient.Close()
	}

	// Authentication gatekeeper
	gate := auth.NewGatekeeper(cfg.JWTSecret, repo, logger)

	// Session hub
	sessions := hub.New(logger)

	// Push gateway: SNS provider behind a circuit breaker
	provider, err := push.NewSNSProvider(ctx, push.SNSConfig{
		Region: cfg.AWSRegion,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create push provider: %w", err)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:                "push-provider",
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}, logger)

	pushGateway := push.NewGateway(
		push.NewProtectedProvider(provider, breaker),
		repo,
		cfg.PushTimeout,
		logger,
	)

	// Delivery dispatcher
	dispatcher := dispatch.New(sessions, repo, pushGateway, logger)

	// Expired notification sweep
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go janitor.New(repo, cfg.CleanupInterval, logger).Start(sweepCtx)

	// Websocket entrypoint
	wsHandler := ws.NewHandler(sessions, gate, repo, cfg.SendTimeout, logger)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Websocket route stays outside the timeout and metrics wrappers: the
	// connection is long-lived and the upgrade needs the raw ResponseWriter.
	r.Get("/v1/ws", wsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(metrics.Middleware)

		// Custom logging middleware
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				start := time.Now()
				ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

				next.ServeHTTP(ww, req)

				logger.Info("request completed",
					zap.String("method", req.Method),
					zap.String("path", req.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration_ms", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(req.Context())),
				)
			})
		})

		var handler *api.Handler
		if idempotencyService != nil {
			handler = api.NewHandlerWithIdempotency(logger, repo, dispatcher, pushGateway, idempotencyService)
		} else {
			handler = api.NewHandler(logger, repo, dispatcher, pushGateway)
		}

		r.Route("/v1", func(r chi.Router) {
			r.Use(api.AuthMiddleware(gate, logger))
			r.Use(api.RateLimitMiddleware(rateLimiter, logger))

			r.Post("/notifications", handler.CreateNotification)
			r.Get("/notifications", handler.ListNotifications)
			r.Patch("/notifications/read-all", handler.MarkAllRead)
			r.Patch("/notifications/{id}/read", handler.MarkRead)
			r.Post("/notifications/push-test", handler.PushTest)

			r.Post("/devices/register", handler.RegisterDevice)
			r.Post("/devices/unregister", handler.UnregisterDevice)

			r.Get("/preferences", handler.GetPreferences)
			r.Patch("/preferences", handler.UpdatePreferences)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := database.Health(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// hijacked websocket connections outlive Shutdown; close them
		sessions.Shutdown()

		logger.Info("server stopped gracefully")
	}

	return nil
}
