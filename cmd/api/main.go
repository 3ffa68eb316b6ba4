package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"eventregistration/config"
	_ "eventregistration/docs"
	"eventregistration/internal/adapters/auth"
	"eventregistration/internal/adapters/email"
	"eventregistration/internal/adapters/notify"
	"eventregistration/internal/adapters/ratelimit"
	"eventregistration/internal/clock"
	deliveryhttp "eventregistration/internal/delivery/http"
	"eventregistration/internal/delivery/http/controllers"
	"eventregistration/internal/domain"
	"eventregistration/internal/repository/memory"
	"eventregistration/internal/repository/postgres"
	"eventregistration/internal/repository/postgres/migrations"
	"eventregistration/internal/services"
)

// @title Event Registration API
// @version 1.0
// @description Capacity-limited event registration with verified sign-ups.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the organizer JWT.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// storage bundles the two ports every backend implements.
type storage struct {
	events domain.EventRepository
	ledger domain.ParticipantLedger
	health func(ctx context.Context) error
	close  func() error
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if cfg.StorageDriver == "memory" {
		logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &storage{events: store, ledger: store, close: func() error { return nil }}, nil
	}

	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("database ready")
	return &storage{
		events: postgres.NewEventRepository(db),
		ledger: postgres.NewParticipantLedger(db),
		health: db.PingContext,
		close:  db.Close,
	}, nil
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.AttemptLimiter, func() error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR empty: verify attempts are not rate limited")
		return nil, func() error { return nil }
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// The limiter fails open, so a missing Redis is not fatal.
		logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "err", err)
	}
	return ratelimit.NewFixedWindowLimiter(rdb, cfg.VerifyAttemptLimit, cfg.VerifyAttemptWindow), rdb.Close
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.close() }()

	notifier, closeNotifier, err := notify.New(notify.Config{
		Provider:         cfg.NotifierProvider,
		RabbitMQURL:      cfg.RabbitMQURL,
		RabbitMQExchange: cfg.RabbitMQExchange,
		Mailer: email.MailerConfig{
			Provider:    cfg.EmailProvider,
			FromAddress: cfg.EmailFromAddress,
			FromName:    cfg.EmailFromName,
			SES: email.SESConfig{
				Region:             cfg.AWSRegion,
				AccessKeyID:        cfg.AWSAccessKeyID,
				SecretAccessKey:    cfg.AWSSecretAccessKey,
				InsecureSkipVerify: cfg.SESInsecureSkipVerify,
			},
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	defer func() { _ = closeNotifier() }()
	logger.Info("notifier ready", "provider", cfg.NotifierProvider)

	limiter, closeLimiter := newLimiter(ctx, cfg, logger)
	defer func() { _ = closeLimiter() }()

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET empty: organizer endpoints will reject every token")
	}

	clk := clock.NewSystem()
	dispatcher := services.NewNotificationDispatcher(notifier, logger, cfg.NotificationTimeout)
	eventSvc := services.NewEventService(store.events, clk, cfg.ContextTimeout)
	regSvc := services.NewRegistrationService(services.RegistrationDeps{
		Events:        store.events,
		Ledger:        store.ledger,
		Hasher:        auth.NewBcryptCodeHasher(cfg.BcryptCost),
		Limiter:       limiter,
		Notifications: dispatcher,
		Clock:         clk,
		Logger:        logger,
		CodeTTL:       cfg.VerificationCodeTTL,
		Timeout:       cfg.ContextTimeout,
	})

	mux := deliveryhttp.NewRouter(deliveryhttp.RouterDeps{
		Events:        controllers.NewEventController(logger, eventSvc),
		Registrations: controllers.NewRegistrationController(logger, regSvc),
		Verifier:      auth.NewJWTVerifier(cfg.JWTSecret),
		Logger:        logger,
		HealthCheck:   store.health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deliveryhttp.NewHandler(mux, logger, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}

	// Requests have drained; let queued notifications finish before the
	// notifier and storage are closed by the deferred calls.
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for notifications")
	}
	logger.Info("server stopped")
	return nil
}
