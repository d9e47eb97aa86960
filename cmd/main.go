/**
 * @description
 * Entry point for the relayer service. It wires configuration, logging, storage, the
 * ledger connection, the submission worker and the HTTP API, and optionally the AMQP
 * intake consumer, then serves until SIGINT or SIGTERM.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/remitchain/relayer-service/internal/api"
	"github.com/remitchain/relayer-service/internal/app"
	"github.com/remitchain/relayer-service/internal/catalog"
	"github.com/remitchain/relayer-service/internal/config"
	"github.com/remitchain/relayer-service/internal/logging"
	"github.com/remitchain/relayer-service/internal/metrics"
	"github.com/remitchain/relayer-service/internal/store"
	"github.com/remitchain/relayer-service/pkg/ledgerclient"
	"github.com/remitchain/relayer-service/pkg/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relayer exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logCloser := logging.Setup(logging.Options{Service: "relayer", Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	startupCtx, startupCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startupCancel()
	relayStore, err := store.Open(startupCtx, store.Options{
		Backend:     cfg.StoreBackend,
		RedisURL:    cfg.RedisURL,
		RedisPrefix: cfg.RedisKeyPrefix,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer relayStore.Close()
	logger.Info("store ready", "backend", relayStore.Backend())

	var signer *ledgerclient.Signer
	if strings.TrimSpace(cfg.RelayerSeed) != "" {
		signer, err = ledgerclient.NewSigner(cfg.RelayerSeed)
		if err != nil {
			return fmt.Errorf("invalid RELAYER_SEED: %w", err)
		}
		logger.Info("relayer signer loaded", "address", signer.Address())
	} else {
		logger.Warn("RELAYER_SEED not set; submissions will fail until a signer is configured")
	}

	ledger := ledgerclient.NewManager(ledgerclient.Config{
		Endpoint:       cfg.ChainWSURL,
		CallTimeout:    cfg.LedgerCallTimeout,
		SubmitMethod:   cfg.LedgerSubmitRPC,
		HeightCacheTTL: cfg.LedgerHeightCacheTTL,
		Signer:         signer,
		Logger:         logger,
		OnDial:         m.RecordLedgerDial,
	})
	defer ledger.Close()

	assets, err := catalog.Load(cfg.AssetCatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load asset catalog: %w", err)
	}
	assetCount, corridorCount := assets.Size()
	logger.Info("asset catalog loaded", "assets", assetCount, "corridors", corridorCount)

	var redisClient redis.UniversalClient
	if rs, ok := relayStore.(*store.RedisStore); ok {
		redisClient = rs.Client()
	}
	limiter := app.NewRateLimiter(redisClient, cfg.RedisKeyPrefix, cfg.IntakeRateLimitPerMinute)

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange); err == nil {
			publisher = producer
			defer producer.Close()
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}

	service := app.NewService(app.Dependencies{
		Store:       relayStore,
		Ledger:      ledger,
		Verifier:    app.NewSignatureVerifier(cfg.SignatureScheme, app.SigningParams{Domain: cfg.SigningDomain, Action: cfg.SigningAction, ChainID: cfg.ChainID}),
		Catalog:     assets,
		RateLimiter: limiter,
		Publisher:   publisher,
		Metrics:     m,
		Logger:      logger,
	}, app.Options{
		RequireSignature:      cfg.RequireSignature,
		IdempotencyTTL:        cfg.IdempotencyTTL(),
		PendingIdempotencyTTL: cfg.PendingIdempotencyTTL(),
		RequeuePolicy:         cfg.RequeuePolicy,
	})
	if !cfg.RequireSignature {
		logger.Warn("signature enforcement disabled; signature, nonce and deadline are not checked")
	}

	builder := app.NewTxBuilder(cfg.TxPallet, cfg.TxMethod, cfg.TxArgKeys(), cfg.ChainID)
	worker := app.NewWorker(service.Queue(), ledger, builder, publisher, m, logger, app.WorkerOptions{
		Interval:   cfg.WorkerInterval,
		MaxRetries: cfg.MaxRetries,
	})
	if err := worker.Start(); err != nil {
		return err
	}
	defer func() {
		<-worker.Stop().Done()
		logger.Info("submission worker stopped")
	}()

	if cfg.RabbitMQURL != "" && cfg.IntakeQueue != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("failed to connect intake consumer; AMQP intake disabled", "error", err)
		} else {
			defer consumer.Close()
			intake := app.NewIntakeConsumer(service, logger)
			if err := consumer.ConsumeWithBindings(ctx, cfg.EventsExchange, cfg.IntakeQueue, intake.Bindings()); err != nil {
				return fmt.Errorf("failed to start intake consumer: %w", err)
			}
			logger.Info("intake consumer started", "queue", cfg.IntakeQueue)
		}
	}

	router := api.NewRouter(api.NewHandler(service), api.RouterOptions{
		APIKey:         cfg.APIKey,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
		Metrics:        m,
	})
	if cfg.APIKey == "" && cfg.JWTSecret == "" {
		logger.Warn("RELAYER_API_KEY and RELAYER_JWT_SECRET unset; relayer routes are unauthenticated")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.ServerPort, "chain_ws", cfg.ChainWSURL, "require_signature", cfg.RequireSignature)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
