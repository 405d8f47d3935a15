package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"spotto-service/internal/access"
	"spotto-service/internal/auth"
	"spotto-service/internal/checkout"
	"spotto-service/internal/config"
	"spotto-service/internal/db"
	"spotto-service/internal/entitlement"
	"spotto-service/internal/event"
	"spotto-service/internal/kafka"
	"spotto-service/internal/logging"
	"spotto-service/internal/metrics"
	"spotto-service/internal/places"
	"spotto-service/internal/server"
	"spotto-service/internal/signature"
	"spotto-service/internal/users"
	"spotto-service/internal/webhook"
)

func main() {
	cfg := config.MustLoadConfig(".")

	logger, closeLogger := logging.GetLogger(cfg.Logs)
	defer closeLogger()

	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.Database.DSN()); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	entitlementRepo := entitlement.NewRepository(dbpool)
	reader := entitlement.NewReader(entitlementRepo, cfg.Access.CacheTTL(), logger,
		entitlement.WithLookupTimeout(cfg.Database.QueryTimeout()))

	var notifier entitlement.Notifier = kafka.NoopPublisher{}
	if cfg.Kafka.Broker.URL != "" {
		entitlementWriter := kafka.NewWriter(cfg.Kafka.Broker.URL, cfg.Kafka.Topic.Entitlements)
		defer entitlementWriter.Close()
		notifier = kafka.NewPublisher(entitlementWriter)

		// every instance reads every grant, so the group is per host
		hostname, _ := os.Hostname()
		entitlementReader := kafka.NewReader(cfg.Kafka.Broker.URL, cfg.Kafka.Topic.Entitlements, cfg.Kafka.Reader.GroupID+"-"+hostname)
		defer entitlementReader.Close()
		go kafka.ReadEntitlementEvents(ctx, entitlementReader, reader, logger)
	} else {
		logger.Info("No kafka broker configured, cache invalidation stays local")
	}

	writer := entitlement.NewWriter(entitlementRepo, logger,
		entitlement.WithNotifier(notifier),
		entitlement.WithInvalidator(reader),
		entitlement.WithTimeout(cfg.Database.QueryTimeout()),
	)

	webhookHandler := webhook.NewHandler(
		signature.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance()),
		event.NewInterpreter(users.NewRepository(dbpool), logger),
		writer,
		logger,
		webhook.WithTimeout(cfg.Database.QueryTimeout()),
		webhook.WithMaxBodyBytes(cfg.Server.MaxWebhookBodySize),
	)

	router := server.NewRouter(server.Deps{
		Logger:  logger,
		Webhook: webhookHandler,
		Checkout: checkout.NewHandler(
			checkout.NewStripeSessions(cfg.Stripe.SecretKey, cfg.Stripe.PriceID, nil),
			reader,
			cfg.Server.PublicBaseURL,
			cfg.Server.PricingPath,
			logger,
		),
		Places: places.NewHandler(places.NewRepository(dbpool, cfg.Database.QueryTimeout()), logger),
		Tokens: auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.CookieName),
		Gate: access.NewGate(reader, cfg.Server.ProtectedPrefixes,
			cfg.Server.LoginPath, cfg.Server.PricingPath, logger),
		Ready:          dbpool.Ping,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}
}
