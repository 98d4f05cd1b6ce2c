// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command gateway starts the Chattia edge gateway HTTP server.
//
// This is the main entry point for the containerized gateway service.
// It reads configuration from environment variables and starts the
// server.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 8787)
//   - SHARED_KEY: base64 HMAC-SHA512 signing secret (required for mints)
//   - CHANNELLA: channel-binding secret gating deep integrity checks
//   - LLM_BACKEND_TYPE: model backend - openai, ollama (default: openai)
//   - GATEWAY_DATA_DIR: BadgerDB directory; empty runs in-memory
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
//
//	# Or via container
//	podman-compose up gateway
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opsonline/chattia-gateway/pkg/logging"
	"github.com/opsonline/chattia-gateway/services/gateway/abuse"
	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/escalate"
	"github.com/opsonline/chattia-gateway/services/gateway/handlers"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
	"github.com/opsonline/chattia-gateway/services/gateway/kb"
	"github.com/opsonline/chattia-gateway/services/gateway/observability"
	"github.com/opsonline/chattia-gateway/services/gateway/policy"
	"github.com/opsonline/chattia-gateway/services/gateway/routes"
	"github.com/opsonline/chattia-gateway/services/gateway/store"
	"github.com/opsonline/chattia-gateway/services/llm"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg := config.FromEnv()

	appLog := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "gateway",
		JSON:    true,
	})
	defer appLog.Close()
	logger := appLog.Slog()
	slog.SetDefault(logger)

	slog.Info("Starting gateway",
		"port", cfg.Port,
		"gateway", cfg.IntegrityGateway,
		"signature_ttl", cfg.SignatureTTLSeconds,
		"persistent", cfg.DataDir != "",
	)

	shutdownTracer, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("Tracing disabled; collector unavailable", "error", err, "endpoint", cfg.OTLPEndpoint)
	}
	if shutdownTracer != nil {
		defer shutdownTracer(context.Background())
	}

	db, err := openStore(&cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer db.Close()

	kv := store.NewKV(db)
	nonces := store.NewNonceStore(kv, time.Duration(cfg.SignatureTTLSeconds)*time.Second)
	verifier := integrity.NewVerifier(&cfg, nonces)
	defer verifier.Close()

	corpus, err := loadCorpus(&cfg)
	if err != nil {
		log.Fatalf("Failed to load knowledge corpus: %v", err)
	}

	models, err := llm.New()
	if err != nil {
		log.Fatalf("Failed to initialize model backend: %v", err)
	}

	deps := &handlers.Deps{
		Cfg:       &cfg,
		Verifier:  verifier,
		KV:        kv,
		Bans:      store.NewBanRegistry(kv),
		Strikes:   store.NewStrikeStore(kv, time.Duration(cfg.HoneypotBanTTLSeconds)*time.Second),
		Honeypot:  abuse.NewDetector(cfg.HoneypotFields),
		Turnstile: abuse.NewTurnstile(cfg.TurnstileSecret, cfg.TurnstileVerifyURL, nil),
		Policy:    policy.NewEngine(),
		KB:        kb.NewIndex(corpus),
		Models:    models,
		Escalator: escalate.NewClient(cfg.HighConfidenceURL, cfg.EscalationWebhook, verifier, nil, logger),
		Metrics:   observability.InitMetrics(),
		Logger:    logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("Gateway listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
	slog.Info("Gateway stopped")
}

// openStore opens BadgerDB at the configured directory, or in-memory
// when no directory is set. In-memory mode loses replay and ban state
// on restart; fine for development, not for production.
func openStore(cfg *config.Gateway) (*store.DB, error) {
	if cfg.DataDir == "" {
		slog.Warn("GATEWAY_DATA_DIR not set; using in-memory storage")
		return store.OpenInMemory()
	}
	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.DataDir
	return store.Open(storeCfg)
}

// loadCorpus reads the KB corpus override when configured, otherwise
// the embedded corpus.
func loadCorpus(cfg *config.Gateway) ([]kb.Document, error) {
	if cfg.KBCorpusPath == "" {
		return kb.DefaultCorpus(), nil
	}
	return kb.LoadCorpus(cfg.KBCorpusPath)
}

// initTracer sets up the OTLP trace exporter. A missing endpoint is not
// an error; tracing is simply left disabled.
func initTracer(endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		return nil, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chattia-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down tracer provider", "error", err)
		}
	}, nil
}
