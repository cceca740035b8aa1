package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-rentals/internal/auth"
	"ms-rentals/internal/booking"
	"ms-rentals/internal/booking/booking_api"
	"ms-rentals/internal/booking/db"
	"ms-rentals/internal/cache"
	"ms-rentals/internal/config"
	"ms-rentals/internal/confirmation"
	"ms-rentals/internal/database/migrations"
	"ms-rentals/internal/kafka"
	"ms-rentals/internal/logger"
	"ms-rentals/internal/metrics"
	"ms-rentals/internal/notify"
	"ms-rentals/internal/payment"
	"ms-rentals/internal/payment/payment_api"
	"ms-rentals/internal/policy"
	"ms-rentals/internal/ratelimit"
	"ms-rentals/internal/utils"
)

func verifyConnections(cfg config.DatabaseConfig, logger *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		_ = sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	logger.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

// newTokenCache prefers redis and falls back to process memory when redis is
// disabled or unreachable. The memory fallback is swept until ctx is done.
func newTokenCache(ctx context.Context, cfg config.RedisConfig, logger *logger.Logger) (cache.Cache, func()) {
	if cfg.Enabled {
		client, err := cache.Connect(cfg, logger)
		if err == nil {
			return cache.NewRedisCache(client, "rentals"), func() { _ = client.Close() }
		}
		logger.Warn("CACHE", fmt.Sprintf("Redis unavailable, using in-memory token cache: %v", err))
	}
	mem := cache.NewMemoryCache()
	go mem.Run(ctx, time.Minute, logger)
	return mem, func() {}
}

// newSender publishes notifications to kafka, or only logs them when kafka is
// disabled.
func newSender(cfg config.KafkaConfig, logger *logger.Logger) (notify.Sender, func()) {
	if !cfg.Enabled {
		logger.Warn("KAFKA", "Kafka disabled, notifications will only be logged")
		return notify.LogSender{Log: logger}, func() {}
	}

	producer := kafka.NewProducer(cfg.Brokers)
	sender := notify.NewKafkaSender(producer, cfg.TopicPrefix)
	if err := kafka.EnsureTopicsExist(cfg.Brokers, sender.Topics(), logger); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		logger.Info("KAFKA", "Required topics ensured successfully")
	}
	return sender, func() {
		if err := producer.Close(); err != nil {
			logger.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, logger *logger.Logger) auth.Verifier {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			logger.Fatal("AUTH", err.Error())
		}
		logger.Info("AUTH", fmt.Sprintf("Verifying tokens issued by %s", cfg.OIDCIssuer))
		return v
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("CONFIG", "either OIDC_ISSUER or AUTH_JWT_SECRET must be set")
	}
	logger.Warn("AUTH", "OIDC_ISSUER not set, verifying HS256 tokens with AUTH_JWT_SECRET")
	return auth.NewHMACVerifier(cfg.JWTSecret)
}

func runCleanup(ctx context.Context, svc *booking.Service, cfg config.CleanupConfig, logger *logger.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.PurgeCancelled(ctx, cfg.CancelledMaxAge); err != nil {
				logger.Error("CLEANUP", err.Error())
			}
		}
	}
}

func healthHandler(bunDB *bun.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := bunDB.PingContext(ctx); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Unhealthy", "database unreachable"))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Healthy", nil))
	}
}

func main() {
	logger := logger.NewLogger("rentals")
	defer logger.Close()

	logger.Info("APP", "Starting Rentals Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	bunDB := verifyConnections(cfg.Database, logger)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, cfg.Database.MigrationsDir, logger)
		if err := runner.Up(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	tokenCache, closeCache := newTokenCache(ctx, cfg.Redis, logger)
	defer closeCache()

	sender, closeSender := newSender(cfg.Kafka, logger)
	defer closeSender()
	dispatcher := notify.NewDispatcher(sender, logger, 10*time.Second)

	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, logger)
	store := db.New(bunDB, sql.LevelSerializable)
	bookingService := booking.NewService(store, gateway, dispatcher,
		confirmation.NewQRGenerator(cfg.Auth.QRSecret), policy.FromConfig(cfg.Policy), logger)
	logger.Info("APP", fmt.Sprintf("Cancellation policy: %s", bookingService.Policy().Describe()))

	processor := payment.NewProcessor(store, bookingService, logger)
	webhookHandler := payment_api.NewHandler(gateway, processor, logger)
	authn := auth.NewAuthenticator(newVerifier(ctx, cfg.Auth, logger), tokenCache, cfg.Cache.ProfileTTL, logger)
	limiter := ratelimit.NewStore(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	bookingHandler := booking_api.NewHandler(bookingService, logger, cfg.Cleanup.CancelledMaxAge).
		WithRateLimit(ratelimit.Middleware(limiter, ratelimit.ClientKey, logger))

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument(logger))

	r.Get("/health", healthHandler(bunDB))
	r.Handle("/metrics", promhttp.Handler())

	// Stripe retries on its own schedule, so webhooks are not rate limited.
	r.Post("/api/webhooks/stripe", webhookHandler.StripeWebhook)

	bookingHandler.Register(r, authn)
	logger.Info("ROUTER", "Booking routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go runCleanup(ctx, bookingService, cfg.Cleanup, logger)
	go limiter.Run(ctx, time.Minute, cfg.RateLimit.IdleTTL, logger)

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Rentals Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopBackground()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	dispatcher.Wait()
	logger.Info("APP", "Rentals Service shutdown complete")
}
