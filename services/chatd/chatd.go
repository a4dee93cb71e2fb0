// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatd assembles the chat backend service.
//
// # Description
//
// The package wires every component behind the HTTP surface: the Weaviate
// stores (conversations, memory, attachments, quotas), the context
// assembler, the factual guard, the generation clients, the attachment
// purge scheduler, and the observability stack (OTLP tracing plus
// Prometheus metrics). New returns a ready service; Run blocks until a
// shutdown signal and then drains in-flight requests.
//
// # Assumptions
//
//   - Weaviate is reachable at startup; it is the system of record for
//     sessions, so the service refuses to start without it.
//   - The OTel collector and embedding service are internal endpoints
//     reachable over plaintext.
package chatd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KodiakAI/KodiakChat/services/chatd/assembly"
	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/conversation"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/files"
	"github.com/KodiakAI/KodiakChat/services/chatd/handlers"
	"github.com/KodiakAI/KodiakChat/services/chatd/memory"
	"github.com/KodiakAI/KodiakChat/services/chatd/routes"
	"github.com/KodiakAI/KodiakChat/services/chatd/ttl"
	"github.com/KodiakAI/KodiakChat/services/chatd/verification"
	"github.com/KodiakAI/KodiakChat/services/chatd/websearch"
	"github.com/KodiakAI/KodiakChat/services/llm"
)

// shutdownGrace bounds how long Run waits for in-flight requests after a
// termination signal.
const shutdownGrace = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the chat backend lifecycle.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the configured Gin engine for integration tests.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	cfg    config.Config
	logger *slog.Logger

	router         *gin.Engine
	weaviateClient *weaviate.Client
	handlers       *handlers.Handlers

	tracerCleanup func(context.Context)
	scheduler     *ttl.Scheduler
	auditSink     *ttl.FileAuditSink
}

// New builds the service from configuration.
//
// # Description
//
// Initialization order matters: tracing first so every later component
// picks up the global provider, then Weaviate and its schema, then the
// stores and domain services, then the router. Any failure rolls back
// the pieces already started.
func New(cfg config.Config, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{cfg: cfg, logger: logger}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize weaviate: %w", err)
	}

	if err := s.initComponents(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until a termination signal or a
// listener error. In-flight requests get shutdownGrace to finish;
// locked token buffers are purged before the process exits.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("chatd server starting", "port", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Initialization
// =============================================================================

// initTracer sets up the OTLP trace exporter against the configured
// collector. Uses an insecure gRPC connection; the collector lives on
// the internal network.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.cfg.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chatd-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initWeaviate connects to the vector database and ensures the schema.
// Unlike the optional observability endpoints, Weaviate is required:
// every store in the service persists through it.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.cfg.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("weaviate_url is not configured")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(client)
	s.weaviateClient = client
	s.logger.Info("weaviate client initialized", "url", weaviateURL)
	return nil
}

// initComponents builds the stores, domain services, and handler set.
func (s *service) initComponents() error {
	cfg := &s.cfg

	store, err := conversation.NewStore(s.weaviateClient, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create conversation store: %w", err)
	}

	defaultClient, err := llm.NewClient(cfg.LLMBackend, cfg.OllamaBaseURL, cfg.OllamaModel, cfg.OpenAIModel)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	s.logger.Info("LLM backend initialized", "backend", cfg.LLMBackend, "model", defaultClient.ModelName())

	embedder := datatypes.NewHTTPEmbedder(cfg.EmbeddingURL)

	memSvc, err := memory.NewService(s.weaviateClient, embedder, defaultClient, cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create memory service: %w", err)
	}

	fileStore, err := files.NewStore(s.weaviateClient, cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create attachment store: %w", err)
	}
	ingestor, err := files.NewIngestor(s.weaviateClient, embedder, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create chunk ingestor: %w", err)
	}

	quotas, err := websearch.NewQuotas(s.weaviateClient, cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create quota tracker: %w", err)
	}
	webSvc, err := websearch.NewService(cfg, quotas, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create web search service: %w", err)
	}

	assembler, err := assembly.NewAssembler(cfg, store, memSvc, webSvc, fileStore, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create assembler: %w", err)
	}

	extractor := verification.NewExtractor(verification.Strategy(cfg.NERStrategy))
	guard, err := verification.NewGuard(extractor, verification.GuardConfig{
		UncertaintyThreshold: cfg.UncertaintyThreshold,
		MediumCount:          cfg.RiskMediumCount,
		HighCount:            cfg.RiskHighCount,
		CapLow:               cfg.RiskCapLow,
		CapMedium:            cfg.RiskCapMedium,
		CapHigh:              cfg.RiskCapHigh,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create factual guard: %w", err)
	}

	// The model catalog talks to the Ollama tags API; with a remote
	// backend the endpoint reports just the configured model name.
	var catalog handlers.ModelCatalog
	if strings.EqualFold(cfg.LLMBackend, "openai") {
		catalog = llm.NewModelRegistry("", cfg.OpenAIModel)
	} else {
		catalog = llm.NewModelRegistry(cfg.OllamaBaseURL, cfg.OllamaModel)
	}

	h, err := handlers.New(handlers.Deps{
		Store:     store,
		Assembler: assembler,
		Guard:     guard,
		Memory:    memSvc,
		Files:     fileStore,
		Ingestor:  ingestor,
		Web:       webSvc,
		Models:    catalog,
		NewClient: s.clientFactory(),
		Config:    cfg,
		Logger:    s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}
	s.handlers = h

	if cfg.PurgeEnabled {
		if err := s.initPurgeScheduler(fileStore); err != nil {
			s.logger.Warn("purge scheduler initialization failed", "error", err)
			// Not fatal; attachments just outlive their expiry until restart.
		}
	}
	return nil
}

// clientFactory returns the per-turn generation client constructor. An
// empty model name selects the configured default for the backend.
func (s *service) clientFactory() handlers.ClientFactory {
	cfg := s.cfg
	return func(model string) (llm.LLMClient, error) {
		ollamaModel := cfg.OllamaModel
		openaiModel := cfg.OpenAIModel
		if model != "" {
			ollamaModel = model
			openaiModel = model
		}
		return llm.NewClient(cfg.LLMBackend, cfg.OllamaBaseURL, ollamaModel, openaiModel)
	}
}

// initPurgeScheduler starts the background attachment purge with a
// hash-chained file audit log plus the Prometheus counter.
func (s *service) initPurgeScheduler(store *files.Store) error {
	sink, err := ttl.NewFileAuditSink(s.cfg.PurgeLogPath, s.logger)
	if err != nil {
		s.logger.Warn("purge audit log unavailable, continuing without it",
			"path", s.cfg.PurgeLogPath, "error", err)
	} else {
		s.auditSink = sink
	}

	var audit ttl.AuditSink = ttl.NewMetricsAuditSink()
	if s.auditSink != nil {
		audit = ttl.NewMultiAuditSink(audit, s.auditSink)
	}

	schedCfg := ttl.DefaultSchedulerConfig()
	schedCfg.Interval = s.cfg.PurgeInterval

	scheduler, err := ttl.NewScheduler(store, ttl.SystemClock(), audit, schedCfg, s.logger)
	if err != nil {
		return err
	}
	if err := scheduler.Start(context.Background()); err != nil {
		return err
	}
	s.scheduler = scheduler

	s.logger.Info("attachment purge scheduler started",
		"interval", s.cfg.PurgeInterval.String(),
		"audit_log", s.cfg.PurgeLogPath,
	)
	return nil
}

// initRouter builds the Gin engine with tracing middleware and the full
// route surface.
func (s *service) initRouter() {
	if s.cfg.GinMode != "" {
		gin.SetMode(s.cfg.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("chatd-service"))

	routes.SetupRoutes(s.router, s.handlers)
}

// cleanup releases everything New started, in reverse order. Safe to
// call with partially initialized state.
func (s *service) cleanup() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.auditSink != nil {
		if err := s.auditSink.Close(); err != nil {
			s.logger.Warn("purge audit log close error", "error", err)
		}
	}

	// Wipe any locked token buffers a cancelled stream left behind.
	handlers.PurgeAllSecureMemory()

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
