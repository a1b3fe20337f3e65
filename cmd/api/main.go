// Package main is the entry point for the ad-event relay: the track/
// callback HTTP surface, backed by a Redis debounce manager, a pooled HTTP
// forwarder, a Postgres request-log store and a NATS JetStream audit
// publisher.
//
// @title        Ad Event Relay
// @version      1.0
// @description  Routes ad-network click/impression/callback events to configured upstreams, with Redis-backed debounce coalescing and downstream callback forwarding.
// @host         localhost:8080
// @BasePath     /
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/callback"
	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/debounce"
	"github.com/arc-self/apps/adrelay-service/internal/eventbus"
	"github.com/arc-self/apps/adrelay-service/internal/goshared/natsclient"
	"github.com/arc-self/apps/adrelay-service/internal/goshared/telemetry"
	"github.com/arc-self/apps/adrelay-service/internal/goshared/vaultconfig"
	"github.com/arc-self/apps/adrelay-service/internal/handler"
	db "github.com/arc-self/apps/adrelay-service/internal/repository/db"
	"github.com/arc-self/apps/adrelay-service/internal/httpclient"
	"github.com/arc-self/apps/adrelay-service/internal/track"
	"github.com/arc-self/apps/adrelay-service/internal/upstream"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// --- OpenTelemetry ---
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "adrelay-service", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), "adrelay-service", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// --- Vault Secret Loading ---
	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		vaultAddr = "http://localhost:8200"
	}
	vaultToken := os.Getenv("VAULT_TOKEN")
	if vaultToken == "" {
		vaultToken = "root"
	}
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/arc/adrelay-service"
	}

	vaultManager, err := vaultconfig.NewSecretManager(vaultAddr, vaultToken)
	if err != nil {
		logger.Fatal("Vault connection failed", zap.Error(err))
	}
	secrets, err := vaultManager.GetKV2(secretPath)
	if err != nil {
		logger.Fatal("Failed to load secrets from Vault", zap.Error(err))
	}

	pgURL, err := vaultconfig.StringSecret(secrets, "PG_URL")
	if err != nil {
		logger.Fatal("missing PG_URL secret", zap.Error(err))
	}
	natsURL, err := vaultconfig.StringSecret(secrets, "NATS_URL")
	if err != nil {
		logger.Fatal("missing NATS_URL secret", zap.Error(err))
	}

	// --- Routing Configuration ---
	configPath := os.Getenv("ADRELAY_CONFIG_PATH")
	if configPath == "" {
		configPath = "config/routes.yaml"
	}
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Fatal("failed to load routing configuration", zap.Error(err))
	}

	// --- Database ---
	poolCfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		logger.Fatal("failed to parse PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database (OTel-instrumented)")

	querier := db.New(pool)

	// --- Redis: two independently-sized pools, one for low-latency submit
	// writes and one for the worker loop's batch scans/drains ---
	writerRedis := redis.NewClient(&redis.Options{
		Addr:         redisAddr(cfg.Settings.Redis),
		Password:     cfg.Settings.Redis.Password,
		DB:           cfg.Settings.Redis.DB,
		PoolSize:     poolSizeOrDefault(cfg.Settings.Debounce.WriterPool.PoolSize, 64),
		DialTimeout:  millisOrDefault(cfg.Settings.Debounce.WriterPool.DialTimeoutMs, 5000),
		ReadTimeout:  millisOrDefault(cfg.Settings.Debounce.WriterPool.ReadTimeoutMs, 3000),
	})
	defer writerRedis.Close()

	workerRedis := redis.NewClient(&redis.Options{
		Addr:         redisAddr(cfg.Settings.Redis),
		Password:     cfg.Settings.Redis.Password,
		DB:           cfg.Settings.Redis.DB,
		PoolSize:     poolSizeOrDefault(cfg.Settings.Debounce.WorkerPool.PoolSize, 32),
		DialTimeout:  millisOrDefault(cfg.Settings.Debounce.WorkerPool.DialTimeoutMs, 5000),
		ReadTimeout:  millisOrDefault(cfg.Settings.Debounce.WorkerPool.ReadTimeoutMs, 3000),
	})
	defer workerRedis.Close()

	if err := writerRedis.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	logger.Info("Redis connected", zap.String("addr", writerRedis.Options().Addr))

	// --- NATS JetStream ---
	natsClient, err := natsclient.NewClient(natsURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()
	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	publisher := eventbus.New(natsClient, logger)
	httpClient := httpclient.New(logger)
	adapter := upstream.New(httpClient, querier, logger, cfg.Settings.CallbackBase)

	dispatcher := track.NewDeferredDispatcher(cfg, adapter, publisher, logger)
	debouncer := debounce.New(writerRedis, workerRedis, dispatcher, logger, debounce.Options{
		KeyPrefix:   cfg.Settings.Debounce.KeyPrefix,
		Shards:      cfg.Settings.Debounce.Shards,
		Batch:       cfg.Settings.Debounce.Batch,
		Concurrency: cfg.Settings.Debounce.Concurrency,
		LatestTTLMs: cfg.Settings.Debounce.LatestTTLMs,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go debouncer.Run(workerCtx, time.Second)

	trackSvc := track.New(cfg, adapter, debouncer, publisher, logger)
	callbackSvc := callback.New(cfg, httpClient, querier, publisher, logger)

	// --- HTTP Server ---
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("adrelay-service"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.NewTrackHandler(trackSvc, logger).Register(e)
	handler.NewCallbackHandler(callbackSvc, logger).Register(e)

	go func() {
		logger.Info("adrelay-service HTTP server listening on :8080")
		if err := e.Start(":8080"); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}

	debouncer.FlushAll(shutdownCtx, cfg.Settings.Debounce.Batch*cfg.Settings.Debounce.Shards)
	workerCancel()

	logger.Info("adrelay-service shut down cleanly")
}

func redisAddr(r config.RedisConfig) string {
	if r.Port == 0 {
		return r.Host
	}
	return r.Host + ":" + strconv.Itoa(r.Port)
}

func poolSizeOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func millisOrDefault(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}
