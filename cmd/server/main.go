package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"trendaware-backend/internal/config"
	"trendaware-backend/internal/database"
	"trendaware-backend/internal/handlers"
	"trendaware-backend/internal/middleware"
	"trendaware-backend/internal/models"
	"trendaware-backend/internal/pipeline"
	"trendaware-backend/internal/repository"
	"trendaware-backend/internal/router"
	"trendaware-backend/internal/services"
	"trendaware-backend/internal/websocket"
	"trendaware-backend/internal/worker"
)

type researchStore interface {
	CreateWithSummary(ctx context.Context, rec *models.StoredResearch) error
	ListByUser(ctx context.Context, userID uuid.UUID, search string, limit, offset int) ([]*models.StoredResearch, error)
	GetByID(ctx context.Context, userID uuid.UUID, id string) (*models.StoredResearch, error)
}

type profileStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	Upsert(ctx context.Context, userID uuid.UUID, p *models.Profile) error
}

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)
	logger.Info("starting TrendAware backend", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Initialize the Research Store ────
	var (
		store    researchStore
		profiles profileStore
	)
	switch cfg.StoreBackend {
	case config.StoreBackendFirestore:
		client, err := database.NewFirestoreClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			fatal(logger, "firestore connection failed", err)
		}
		defer client.Close()
		store = repository.NewFirestoreResearchRepo(client)
		profiles = repository.NewFirestoreProfileRepo(client)
		logger.Info("firestore connected", "project", cfg.FirestoreProjectID)
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal(logger, "postgres connection failed", err)
		}
		defer pool.Close()
		logger.Info("postgres connected")

		if err := database.RunMigrations(ctx, pool, "migrations", logger); err != nil {
			fatal(logger, "database migration failed", err)
		}
		store = repository.NewResearchRepo(pool)
		profiles = repository.NewProfileRepo(pool)
	}

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		fatal(logger, "redis connection failed", err)
	}
	defer redisClients.Close()
	logger.Info("redis connected")

	// ──── Step 4: Initialize AI Providers ────
	var provider services.Provider
	switch cfg.SummaryProvider {
	case config.ProviderOpenAI:
		p, err := services.NewOpenAIProvider("openai", cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			fatal(logger, "openai client initialization failed", err)
		}
		provider = p
	default:
		p, err := services.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs)
		if err != nil {
			fatal(logger, "gemini client initialization failed", err)
		}
		defer p.Close()
		provider = p
	}
	logger.Info("summary provider initialized", "provider", provider.Name())

	// searcher stays a nil interface when research is not configured.
	var searcher services.Searcher
	if cfg.WebResearchEnabled() {
		p, err := services.NewOpenAIProvider("perplexity", cfg.PerplexityAPIKey, cfg.PerplexityModel, cfg.PerplexityBaseURL)
		if err != nil {
			fatal(logger, "perplexity client initialization failed", err)
		}
		searcher = services.NewPerplexitySearcher(p, cfg.ResearchMaxTokens)
		logger.Info("web research enabled", "model", cfg.PerplexityModel)
	} else {
		logger.Warn("PERPLEXITY_API_KEY not set, web research disabled")
	}

	// ──── Step 5: Initialize Services ────
	researchService := services.NewResearchService(
		searcher,
		services.NewRedisResearchCache(redisClients.Cache, cfg.ResearchCacheTTL),
		services.NewRedisJobQueue(redisClients.Queue),
		cfg.ResearchTimeout,
		logger,
	)
	summaryService := services.NewSummaryService(provider, services.SummaryOptions{
		MaxBodyChars:         cfg.MaxBodyChars,
		MaxTokens:            cfg.SummaryMaxTokens,
		Timeout:              cfg.SummaryTimeout,
		StreamAttemptTimeout: cfg.StreamAttemptTimeout,
		FallbackEnabled:      cfg.FallbackEnabled,
	}, logger)
	orchestrator := pipeline.NewOrchestrator(researchService, summaryService, store, profiles, pipeline.Options{
		SettleDelay:  cfg.SettleDelay,
		PollInterval: cfg.ResearchPollInterval,
		PollAttempts: cfg.ResearchPollAttempts,
		RunTimeout:   cfg.RunTimeout,
	}, logger)
	events := services.NewEventPublisher(redisClients.Cache, logger)
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	// ──── Step 6: Start Research Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, researchService, events, cfg.WorkerCount, logger)
	workerPool.Start(ctx)

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, logger)

	// ──── Step 8: Start HTTP Server ────
	runLimiter := middleware.NewRateLimiter(cfg.RunsPerMinute)
	defer runLimiter.Stop()

	r := router.New(
		jwtAuth,
		runLimiter,
		handlers.NewSummaryHandler(orchestrator, events, cfg.HeartbeatInterval, logger),
		handlers.NewResearchHandler(researchService),
		handlers.NewLibraryHandler(store),
		handlers.NewProfileHandler(profiles),
		wsHub,
		cfg.FrontendURL,
	)

	// Streaming handlers lift the write deadline per response.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		wsHub.Close()
		if err := workerPool.Stop(); err != nil {
			logger.Error("worker pool stop failed", "error", err)
		}
	}()

	logger.Info("TrendAware backend ready",
		"api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port),
		"ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port),
		"store", cfg.StoreBackend,
	)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "server error", err)
	}
	<-shutdownDone
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
