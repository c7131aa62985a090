// askdocs is the documentation assistant query service: it answers support
// questions over indexed product documentation using hybrid retrieval and
// multi-provider LLM generation.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/askdocs/service/internal/cache"
	"github.com/askdocs/service/internal/config"
	"github.com/askdocs/service/internal/embedding"
	"github.com/askdocs/service/internal/handlers"
	"github.com/askdocs/service/internal/llm"
	"github.com/askdocs/service/internal/llm/providers/openaicompat"
	"github.com/askdocs/service/internal/llm/providers/yandex"
	"github.com/askdocs/service/internal/processor"
	"github.com/askdocs/service/internal/rag"
	"github.com/askdocs/service/internal/router"
	"github.com/askdocs/service/internal/vectordb/qdrant"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.Info("Starting askdocs query service")

	// Shared response cache.
	redisClient := cache.NewRedisClient(cfg)
	store := cache.New(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Redis unreachable, running without cache hits")
	}
	cancel()

	// Vector store.
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		URL:         cfg.Qdrant.URL,
		APIKey:      cfg.Qdrant.APIKey,
		Timeout:     cfg.Qdrant.Timeout,
		MaxInflight: cfg.Qdrant.MaxInflight,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid Qdrant configuration")
	}

	// Embedding services.
	embedder := embedding.NewClient(&embedding.Config{
		DenseURL:    cfg.Embedding.DenseURL,
		SparseURL:   cfg.Embedding.SparseURL,
		Model:       cfg.Embedding.Model,
		Timeout:     cfg.Embedding.Timeout,
		CacheTTL:    cfg.Embedding.CacheTTL,
		MaxInflight: cfg.Embedding.MaxInflight,
	}, store, logger)

	// Retrieval and reranking.
	retriever := rag.NewHybridRetriever(qdrantClient, cfg.Qdrant.Collection, &rag.HybridConfig{
		RRFK:                  cfg.Retrieval.RRFK,
		DenseWeight:           cfg.Retrieval.DenseWeight,
		SparseWeight:          cfg.Retrieval.SparseWeight,
		PreRetrieveMultiplier: cfg.Retrieval.PreRetrieveMultiplier,
	}, logger)

	reranker := rag.NewCrossEncoderReranker(&rag.RerankerConfig{
		Model:       cfg.Reranker.Model,
		Endpoint:    cfg.Reranker.Endpoint,
		APIKey:      cfg.Reranker.APIKey,
		Timeout:     cfg.Reranker.Timeout,
		MaxInflight: cfg.Reranker.MaxInflight,
	}, logger)

	// Generation providers behind circuit breakers.
	registry := llm.NewBreakerRegistry(llm.BreakerConfig{
		FailureThreshold: cfg.LLM.BreakerThreshold,
		OpenBase:         cfg.LLM.BreakerOpenBase,
		OpenMax:          cfg.LLM.BreakerOpenMax,
	})

	generator := llm.NewRouter(registry, store, cfg.LLM.CacheTTL, logger)
	generator.Register(yandex.New(cfg.LLM.YandexAPIURL, cfg.LLM.YandexAPIKey, cfg.LLM.YandexFolderID, cfg.LLM.YandexModel))
	generator.Register(openaicompat.New("openai", cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIModel))
	generator.Register(openaicompat.New("deepseek", cfg.LLM.DeepSeekAPIKey, cfg.LLM.DeepSeekAPIURL, cfg.LLM.DeepSeekModel))

	// Page-type boost profiles, hot-reloaded from disk.
	boosts := config.NewBoostTable(cfg.Retrieval.BoostFile)

	proc := processor.New(embedder, retriever, reranker, generator, boosts, store, processor.Config{
		MaxDepth:          cfg.Processor.MaxDepth,
		TopK:              cfg.Retrieval.TopK,
		RerankTopN:        cfg.Reranker.TopN,
		RerankTopK:        cfg.Reranker.TopK,
		MaxSubQueries:     cfg.Processor.MaxSubQueries,
		EmbedTimeout:      cfg.Processor.EmbedTimeout,
		RetrieveTimeout:   cfg.Processor.RetrieveTimeout,
		RerankTimeout:     cfg.Processor.RerankTimeout,
		RetrievalCacheTTL: cfg.Processor.RetrievalCacheTTL,
		Policy: llm.Policy{
			Order:       cfg.LLM.ProviderOrder,
			CallTimeout: cfg.LLM.CallTimeout,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	}, logger)

	// HTTP surface.
	chatHandler := handlers.NewChatHandler(proc, logger)
	adminHandler := handlers.NewAdminHandler(registry, store, cfg.Ingestion.URL, logger)

	engine := router.SetupRouter(chatHandler, adminHandler)
	srv := router.New(engine, router.WithLogger(logger), router.WithGinMode(cfg.Server.Mode))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Host + ":" + cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	if err := redisClient.Close(); err != nil {
		logger.WithError(err).Warn("Redis close failed")
	}
}
