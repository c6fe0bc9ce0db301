package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/agent"
	"github.com/study-agent/backend/internal/api/handlers"
	"github.com/study-agent/backend/internal/docstore"
	"github.com/study-agent/backend/internal/docstore/milvus"
	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/ingestion"
	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/internal/llm"
	"github.com/study-agent/backend/internal/metrics"
	"github.com/study-agent/backend/internal/middleware/ratelimit"
	"github.com/study-agent/backend/internal/middleware/security"
	"github.com/study-agent/backend/internal/middleware/validation"
	refgraph "github.com/study-agent/backend/internal/refgraph/neo4j"
	"github.com/study-agent/backend/internal/router"
	"github.com/study-agent/backend/internal/search/web"
	"github.com/study-agent/backend/internal/session"
	"github.com/study-agent/backend/internal/session/inmemory"
	"github.com/study-agent/backend/internal/session/redisstore"
	"github.com/study-agent/backend/internal/storage"
	"github.com/study-agent/backend/internal/storage/sqlite"
	"github.com/study-agent/backend/pkg/config"
	appLogger "github.com/study-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Study Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.EnsureCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	var threads session.Store
	if cfg.Redis.Enabled {
		threads, err = redisstore.NewStore(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis thread store", zap.Error(err))
		}
	} else {
		threads = inmemory.NewStore()
	}

	validator := evidence.NewValidator(cfg.Validator.CredibilityWeight, cfg.Validator.RelevanceWeight)
	documents := docstore.NewService(llmClient, milvusClient, sqliteClient)
	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient)

	classifier := intent.NewClassifier(llmClient, cfg.Classifier.ConfidenceFloor)

	orchestrator := router.New(classifier, threads, router.Config{
		SpecialistTimeout: cfg.Router.SpecialistTimeout(),
		RetryTransient:    cfg.Router.RetryTransient,
	})
	orchestrator.WithAudit(storage.NewAuditRecorder(sqliteClient))
	orchestrator.WithPersistSink(processor)

	orchestrator.Register(agent.NewSummarizerAgent(documents, llmClient))
	orchestrator.Register(agent.NewRAGQAAgent(documents, validator, llmClient,
		cfg.Validator.MinCredibility, cfg.Validator.MinRelevance))
	orchestrator.Register(agent.NewFlashcardAgent(documents, llmClient,
		cfg.Flashcards.DefaultCount, cfg.Flashcards.MaxCount))

	if cfg.Search.Enabled && cfg.Search.SerpAPIKey != "" {
		searchClient := web.NewClient(
			cfg.Search.SerpAPIKey,
			cfg.Search.MaxResults,
			time.Duration(cfg.Search.TimeoutSec)*time.Second,
		)
		orchestrator.Register(agent.NewResearchAgent(searchClient, validator, llmClient,
			cfg.Validator.MinCredibility, cfg.Validator.MinRelevance))
	} else {
		appLogger.Warn("Web search disabled; research requests will fail")
	}

	sessionHandler := handlers.NewSessionHandler(sqliteClient, nil)
	if cfg.Neo4j.Enabled {
		refClient, err := refgraph.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			appLogger.Fatal("Failed to create reference graph client", zap.Error(err))
		}
		defer refClient.Close(context.Background())

		orchestrator.WithReferences(refClient)
		sessionHandler = handlers.NewSessionHandler(sqliteClient, refClient)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.GetLogger(),
	}))

	turnHandler := handlers.NewTurnHandler(orchestrator)
	documentHandler := handlers.NewDocumentHandler(processor)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/turn", turnHandler.HandleTurn)
	api.Get("/sessions/:id/history", sessionHandler.GetHistory)
	api.Get("/sessions/:id/references", sessionHandler.GetReferences)
	api.Post("/documents", documentHandler.UploadDocument)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
