// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/scoutly/scoutly/internal/api"
	"github.com/scoutly/scoutly/internal/auth"
	"github.com/scoutly/scoutly/internal/config"
	"github.com/scoutly/scoutly/internal/credit"
	"github.com/scoutly/scoutly/internal/embedding"
	"github.com/scoutly/scoutly/internal/explain"
	"github.com/scoutly/scoutly/internal/health"
	"github.com/scoutly/scoutly/internal/idempotency"
	"github.com/scoutly/scoutly/internal/jobs"
	"github.com/scoutly/scoutly/internal/lexical"
	"github.com/scoutly/scoutly/internal/middleware"
	"github.com/scoutly/scoutly/internal/query"
	"github.com/scoutly/scoutly/internal/ranking"
	"github.com/scoutly/scoutly/internal/retrieval"
	"github.com/scoutly/scoutly/internal/search"
	"github.com/scoutly/scoutly/internal/talent"
	"github.com/scoutly/scoutly/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Scoutly API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Tracing is opt-in via TRACING_ENABLED; the provider is a no-op when
	// disabled so the middleware can stay in the chain unconditionally.
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "scoutly-api",
		Enabled:      os.Getenv("TRACING_ENABLED") == "true",
		Environment:  cfg.Env,
		ExporterType: getEnvDefault("TRACING_EXPORTER", "otlp-grpc"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		SamplingRate: getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	cancelPing()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	// Metrics registry. Per-package metrics register into one registry
	// served at /metrics.
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	searchMetrics := search.NewMetrics()
	retrievalMetrics := retrieval.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for name, m := range map[string]interface {
		Register(prometheus.Registerer) error
	}{
		"http":      httpMetrics,
		"search":    searchMetrics,
		"retrieval": retrievalMetrics,
		"jobs":      jobMetrics,
	} {
		if err := m.Register(registry); err != nil {
			logger.Error("failed to register metrics", "collector", name, "error", err)
			os.Exit(1)
		}
	}

	// Repositories and ledger.
	people := talent.NewPostgresRepository(db, logger)
	ledger := credit.NewPostgresLedger(db)
	searchRepo := search.NewPostgresRepository(db, ledger)
	idempotencyRepo := idempotency.NewPostgresRepository(db)
	outbox := explain.NewPostgresOutbox(db)

	// Embedding provider. Without a configured host the service runs on the
	// deterministic mock, which is only useful for local development.
	var embedder embedding.Embedder
	if cfg.EmbeddingHost != "" {
		client, err := embedding.NewClient(embedding.Config{
			Host:      cfg.EmbeddingHost,
			Model:     cfg.EmbeddingModel,
			APIKey:    os.Getenv("EMBEDDING_API_KEY"),
			Dimension: cfg.EmbeddingDimension,
			Timeout:   cfg.EmbeddingTimeout,
		}, logger)
		if err != nil {
			logger.Error("failed to create embedding client", "error", err)
			os.Exit(1)
		}
		embedder = client
	} else {
		logger.Warn("EMBEDDING_HOST not set, using deterministic mock embedder")
		embedder = &embedding.MockEmbedder{Dim: cfg.EmbeddingDimension}
	}

	// Ranking weights, optionally calibrated from file.
	var weights *ranking.Weights
	if cfg.CalibrationPath != "" {
		weights, err = ranking.LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			logger.Error("failed to load calibration", "path", cfg.CalibrationPath, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded ranking calibration", "path", cfg.CalibrationPath)
	}

	retriever := retrieval.NewController(retrieval.NewPostgresStore(db), retrieval.Config{
		ParentLimit:       cfg.RetrievalCandidateLimit,
		ChildLimit:        cfg.RetrievalChildLimit,
		EvidencePerPerson: search.MaxDisplayRecords,
		MinPersons:        cfg.RetrievalMinPersons,
	}, retrievalMetrics, logger)

	searchService := search.NewService(
		query.NewKeywordParser(),
		embedder,
		lexical.NewPostgresProvider(db, cfg.LexicalTimeout, logger),
		retriever,
		ranking.NewScorer(weights),
		people,
		searchRepo,
		ledger,
		outbox,
		search.Config{
			DefaultCards:        cfg.DefaultCards,
			CostPerCard:         cfg.CostPerCard,
			LoadMoreCostPerCard: cfg.LoadMoreCostPerCard,
			Expiry:              cfg.SearchExpiry,
			LexicalLimit:        cfg.RetrievalCandidateLimit,
		},
		query.DefaultConfig(),
		searchMetrics,
		logger,
	)

	stopChan := make(chan struct{})

	// Explanation refinement worker. Without a refiner host, cards keep
	// their deterministic explanation lines.
	if cfg.RefinerHost != "" {
		refiner, err := explain.NewLLMRefiner(explain.RefinerConfig{
			Host:    cfg.RefinerHost,
			Model:   cfg.RefinerModel,
			APIKey:  os.Getenv("REFINER_API_KEY"),
			Timeout: cfg.RefinerTimeout,
		})
		if err != nil {
			logger.Error("failed to create explanation refiner", "error", err)
			os.Exit(1)
		}
		workerCfg := explain.DefaultWorkerConfig()
		workerCfg.PollInterval = cfg.WorkerInterval
		worker := explain.NewWorker(outbox, refiner, searchRepo, workerCfg, jobMetrics, logger)
		go worker.Run(stopChan)
	} else {
		logger.Info("REFINER_HOST not set, explanation refinement disabled")
	}

	go idempotency.RunPeriodicCleanup(idempotencyRepo, 1*time.Hour, idempotency.DefaultExpiry, stopChan)

	// Auth and rate limiting.
	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	requireAuth := middleware.RequireAuth(jwtService)

	var rateLimitStore middleware.RateLimitStore
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}
	rateLimiter := middleware.RateLimiter(rateLimitStore, middleware.RateLimitConfig{
		RequestsPerWindow: 120,
		WindowDuration:    time.Minute,
	}, middleware.UserKeyFunc(), httpMetrics)

	idempotentRoutes := map[string]bool{"/search": true}
	idempotent := middleware.Idempotency(idempotencyRepo, idempotentRoutes)

	// Handlers.
	searchHandlers := api.NewSearchHandlers(searchService)
	peopleHandlers := api.NewPeopleHandlers(people)

	creditPacks, err := api.ParseCreditPacks(cfg.StripeCreditPacks)
	if err != nil {
		logger.Error("invalid STRIPE_CREDIT_PACKS", "error", err)
		os.Exit(1)
	}
	var stripeClient credit.StripeClient
	var webhookRepo credit.WebhookRepository
	if cfg.StripeAPIKey != "" {
		stripeClient = credit.NewStripeClient(cfg.StripeAPIKey)
		webhookRepo = credit.NewPostgresWebhookRepository(db)
	}
	creditHandlers := api.NewCreditHandlers(ledger, stripeClient, creditPacks, cfg.StripeSuccessURL, cfg.StripeCancelURL)
	webhookHandlers := api.NewWebhookHandlers(cfg.StripeWebhookSecret, webhookRepo, ledger)

	healthConfig := api.HealthHandlersConfig{DBChecker: health.NewDBChecker(db)}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	if cfg.EmbeddingHost != "" {
		healthConfig.EmbeddingChecker = health.NewEmbeddingChecker(cfg.EmbeddingHost)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	// Routes. Search creation goes through auth then idempotency; reads go
	// through auth only. The Stripe webhook authenticates by signature.
	mux := http.NewServeMux()
	mux.Handle("POST /search", requireAuth(idempotent(http.HandlerFunc(searchHandlers.CreateSearch))))
	mux.Handle("GET /search/{id}/more", requireAuth(http.HandlerFunc(searchHandlers.LoadMore)))
	mux.Handle("GET /search/history", requireAuth(http.HandlerFunc(searchHandlers.History)))
	mux.Handle("GET /credits/balance", requireAuth(http.HandlerFunc(creditHandlers.GetBalance)))
	mux.Handle("GET /credits/ledger", requireAuth(http.HandlerFunc(creditHandlers.GetLedger)))
	mux.Handle("POST /credits/topup", requireAuth(http.HandlerFunc(creditHandlers.CreateTopUp)))
	mux.Handle("GET /people/{id}", requireAuth(http.HandlerFunc(peopleHandlers.GetPerson)))
	mux.Handle("GET /people/{id}/records", requireAuth(http.HandlerFunc(peopleHandlers.GetRecords)))
	if cfg.StripeAPIKey != "" {
		mux.HandleFunc("POST /webhooks/stripe", webhookHandlers.HandleStripeWebhook)
	}
	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.HandleFunc("GET /ready", healthHandlers.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	var handler http.Handler = rateLimiter(mux)

	if os.Getenv("CANARY_ENABLED") == "true" {
		canary := middleware.NewCanaryRouter(middleware.CanaryConfig{
			Enabled:          true,
			TrafficPercent:   getEnvFloat("CANARY_TRAFFIC_PERCENT", 5),
			ErrorThreshold:   getEnvFloat("CANARY_ERROR_THRESHOLD", 5),
			LatencyThreshold: getEnvFloat("CANARY_LATENCY_THRESHOLD", 1),
			AutoRollback:     true,
			MonitoringWindow: 300,
			Version:          getEnvDefault("CANARY_VERSION", "canary"),
		}, logger)
		canary.SetPrometheusMetrics(httpMetrics)
		handler = canary.Middleware(handler)
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   strings.Split(origins, ","),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}

	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     os.Getenv("ENABLE_PROFILING") == "true",
		Environment: cfg.Env,
	})(handler)

	handler = middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Tracing("scoutly-api")(handler),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := tracingProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracing", "error", err)
	}

	logger.Info("server stopped")
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
