// Package main is the entry point for the orchestration API server.
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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/converso-ai/orchestration-platform/internal/config"
	"github.com/converso-ai/orchestration-platform/internal/engine"
	"github.com/converso-ai/orchestration-platform/internal/handler"
	"github.com/converso-ai/orchestration-platform/internal/llm"
	"github.com/converso-ai/orchestration-platform/internal/middleware"
	natsclient "github.com/converso-ai/orchestration-platform/internal/nats"
	"github.com/converso-ai/orchestration-platform/internal/sentiment"
	"github.com/converso-ai/orchestration-platform/internal/storage"
	"github.com/converso-ai/orchestration-platform/internal/vector"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
	"github.com/converso-ai/orchestration-platform/pkg/tracing"
)

func main() {
	// Local development convenience; ignored when absent.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting orchestration API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "orchestration-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	eventLog := natsclient.NewEventLog(natsClient)
	if err := eventLog.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Storage backend
	var store storage.Store
	switch cfg.StorageBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid redis URL", zap.Error(err))
			os.Exit(1)
		}
		store = storage.NewRedisStore(redis.NewClient(opts))
	default:
		store = storage.NewMemoryStore()
	}
	if err := store.Ping(ctx); err != nil {
		log.Error("storage unavailable", zap.Error(err))
		os.Exit(1)
	}

	// LLM provider chain, primary first.
	var providers []llm.Client
	if cfg.AnthropicAPIKey != "" {
		c, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client", zap.Error(err))
		} else {
			providers = append(providers, c)
		}
	}
	if cfg.OpenAIAPIKey != "" {
		c, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client", zap.Error(err))
		} else {
			providers = append(providers, c)
		}
	}
	if cfg.PrimaryLLM == "openai" && len(providers) == 2 {
		providers[0], providers[1] = providers[1], providers[0]
	}
	llmClient, err := llm.NewFallbackClient(log, providers...)
	if err != nil {
		log.Error("no LLM provider configured", zap.Error(err))
		os.Exit(1)
	}

	// Vector index backed by OpenAI embeddings.
	embedder := openai.NewClient(cfg.OpenAIAPIKey)
	index := vector.NewMemoryIndex(embedder, cfg.EmbeddingModel, log)

	generator := engine.NewGenerator(llmClient, log)
	eng, err := engine.New(engine.Deps{
		Store:          store,
		Retriever:      engine.NewRetriever(index, cfg.RetrievalScoreThreshold, cfg.KnowledgeLimit, cfg.MemoryLimit, log),
		Memory:         engine.NewMemoryManager(store, index, generator, cfg.ContextWindowMessages, cfg.SummaryThreshold, log),
		Evaluator:      engine.NewEvaluator(cfg.SentimentThreshold, cfg.MaxFallbacks),
		Generator:      generator,
		Analyzer:       sentiment.NewKeywordAnalyzer(),
		Events:         eventLog,
		Logger:         log,
		SessionTimeout: cfg.SessionTimeout,
	})
	if err != nil {
		log.Error("failed to build engine", zap.Error(err))
		os.Exit(1)
	}

	healthHandler := handler.NewHealthHandler(natsClient, store)
	turnHandler := handler.NewTurnHandler(eng, log)
	conversationHandler := handler.NewConversationHandler(eng, store, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.UserRateLimit(cfg.UserRateLimitRequests, cfg.RateLimitWindow))

		r.Post("/turns", turnHandler.Create)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/messages", conversationHandler.Messages)
				r.Post("/resolve", conversationHandler.Resolve)
				r.Post("/assign", conversationHandler.Assign)
				r.Post("/resume", conversationHandler.Resume)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
