package main

import (
	"time"

	"github.com/xaenox/recall-bot/internal/bot"
	"github.com/xaenox/recall-bot/internal/category"
	"github.com/xaenox/recall-bot/internal/classifier"
	"github.com/xaenox/recall-bot/internal/embedding"
	"github.com/xaenox/recall-bot/internal/extractor"
	"github.com/xaenox/recall-bot/internal/pipeline"
	"github.com/xaenox/recall-bot/internal/search"
	"github.com/xaenox/recall-bot/internal/storage"
	"github.com/xaenox/recall-bot/internal/tagger"
	"github.com/xaenox/recall-bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Content providers
	provider := extractor.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.VisionModel, cfg.OpenAI.AudioModel)
	ext := extractor.New(provider, provider, extractor.NewPDFParser(), logger)

	clf := classifier.NewGPTClassifier(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)

	tg := tagger.NewGPTTagger(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.Classifier.MaxTags,
		logger,
	)

	emb := embedding.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)

	// Core services
	categories := category.NewManager(store, cfg.Classifier.MinConfidence, cfg.Classifier.NearDupThreshold, logger)

	retry := pipeline.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Pipeline.MaxRetries
	p := pipeline.New(
		store,
		ext,
		clf,
		tg,
		emb,
		categories,
		time.Duration(cfg.Pipeline.ProviderTimeoutSeconds)*time.Second,
		retry,
		logger,
	)

	engine := search.NewEngine(
		store,
		emb,
		cfg.Search.VectorWeight,
		cfg.Search.LexicalWeight,
		cfg.Search.PageSize,
		logger,
	)

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, p, engine, categories, store, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Start the bot
	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
