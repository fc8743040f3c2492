// Criabot Gateway - Chat Orchestration Service
//
// This service fronts a Retrieval-Augmented Generation backend with a chat
// orchestration layer: bots bound to DOCUMENT/QUESTION indexes, stateful
// cache-resident chat sessions, and the turn pipeline that ties retrieval,
// reranking, and LLM completion together.
//
// ARCHITECTURE ROLE:
// - API Gateway: Routes chat lifecycle requests from transport clients
// - Turn Orchestrator: Loads/persists ChatState, drives the retrieval +
//   reply state machine in internal/chat, bounds concurrent turns
// - Caching Layer: Redis-backed ChatState storage with a TTL and a memory
//   fallback for resilience if Redis is briefly unreachable
// - Bot Store: Postgres-backed BotParameters/Bot identity persistence
//
// KEY DESIGN DECISIONS:
// 1. Core chat logic (internal/chat) has no I/O dependencies of its own;
//    the orchestrator wires it to the cache, bot store, and RAG client.
// 2. Caching Strategy: Redis primary, memory cache fallback for resilience.
// 3. Error Handling: a single AppError taxonomy mapped to HTTP status
//    codes, consistent across every handler.
// 4. Turn concurrency is bounded by a worker pool rather than left
//    unbounded against the upstream RAG backend.
//
// SERVICE DEPENDENCIES:
// - RAG backend: index search, rerank, and LLM chat/related-prompts agents
// - Redis: chat session cache (TTL-bounded ChatState)
// - PostgreSQL: bot identity and tuning parameter persistence
//
// STARTUP SEQUENCE:
// 1. Load configuration from environment variables
// 2. Initialize structured logging with appropriate levels
// 3. Create worker pools for concurrent operations
// 4. Establish Redis connection with fallback to memory cache
// 5. Connect to PostgreSQL bot store
// 6. Build the tokenizer, RAG client, and orchestrator
// 7. Run the orchestrator's one-time startup check
// 8. Setup HTTP handlers with dependency injection
// 9. Configure Fiber web server with middleware
// 10. Register API routes and start server
// 11. Setup graceful shutdown handling
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"criabot-gateway/internal/botstore"
	"criabot-gateway/internal/cache"
	"criabot-gateway/internal/config"
	"criabot-gateway/internal/handlers"
	"criabot-gateway/internal/middleware"
	"criabot-gateway/internal/orchestrator"
	"criabot-gateway/internal/ragsdk"
	"criabot-gateway/internal/tokenizer"
	"criabot-gateway/internal/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

func main() {
	// PHASE 1: CONFIGURATION AND LOGGING SETUP
	// Load configuration from environment variables (.env files). This
	// includes server settings, the RAG backend URL, and Redis/Postgres
	// connection details.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup structured logging with environment-appropriate levels.
	// Development: Debug level for detailed troubleshooting.
	// Production: Info level for operational monitoring.
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.Server.Environment == "development" {
		opts.Level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// PHASE 2: WORKER POOL INITIALIZATION
	// TurnPool bounds how many chat turns run concurrently against the RAG
	// backend; BackgroundPool runs fire-and-forget work like post-turn
	// token/search-unit telemetry logging.
	pools := workers.New(workers.Config{
		TurnWorkers:       cfg.Workers.TurnWorkers,
		BackgroundWorkers: cfg.Workers.BackgroundWorkers,
	})

	// PHASE 3: REDIS CACHING SETUP WITH FALLBACK STRATEGY
	// Redis stores ChatState by chat_id with a sliding TTL. Fallback to
	// memory cache ensures the gateway can still start if Redis is down,
	// at the cost of sessions not surviving a restart.
	var redisAddr string
	if len(cfg.Redis.URL) > 8 && cfg.Redis.URL[:8] == "redis://" {
		redisAddr = cfg.Redis.URL[8:] // Remove "redis://" prefix for go-redis client
	} else {
		redisAddr = cfg.Redis.URL
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection with a timeout so a down Redis never blocks
	// startup.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	var sessionCache cache.SessionCache
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis connection failed, falling back to memory cache", "error", err)
		redisClient.Close()
		sessionCache = cache.NewMemoryCache()
	} else {
		slog.Info("Redis connection established successfully", "addr", redisAddr)
		sessionCache = cache.NewRedisCache(redisClient)
	}
	pingCancel()

	// PHASE 4: DATABASE CONNECTION SETUP
	// Initialize PostgreSQL connection for bot identity and parameter
	// persistence.
	slog.Info("Connecting to bot parameter store")
	db, err := botstore.Connect(botstore.Config{
		URL:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleTime:     time.Duration(cfg.Database.MaxIdleTime) * time.Second,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		slog.Error("Failed to connect to bot parameter store", "error", err)
		log.Fatal("bot parameter store connection required:", err)
	}
	defer db.Close()
	slog.Info("Bot parameter store connection established successfully")

	botStore := botstore.NewStore(db)

	// PHASE 5: SERVICE INITIALIZATION
	// Tokenizer is loaded once and shared across every turn's history
	// buffer; the RAG client talks to the upstream search/rerank/chat
	// backend over HTTP.
	counter, err := tokenizer.NewTiktokenCounter()
	if err != nil {
		log.Fatal("Failed to load tokenizer encoding:", err)
	}

	ragClient := ragsdk.NewRestyClient(ragsdk.Config{
		URL:     cfg.RAG.URL,
		Timeout: time.Duration(cfg.RAG.Timeout) * time.Second,
		Retries: cfg.RAG.Retries,
	})

	chatTTL, err := cache.ParseTTL(cfg.Chat.SessionTTL)
	if err != nil {
		log.Fatal("Invalid CHAT_SESSION_TTL:", err)
	}

	orch := orchestrator.New(botStore, sessionCache, ragClient, counter, chatTTL)

	// PHASE 6: ORCHESTRATOR STARTUP CHECK
	// Run the orchestrator's one-time initialization guard before accepting
	// any requests.
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := orch.Initialize(initCtx); err != nil {
		slog.Error("orchestrator initialization failed", "error", err)
		log.Fatal(err)
	}
	initCancel()

	// PHASE 7: HTTP HANDLER INITIALIZATION WITH DEPENDENCY INJECTION
	slog.Info("Initializing handlers")
	chatHandler := handlers.NewChatHandler(orch, pools)
	botHandler := handlers.NewBotHandler(botStore, ragClient)
	healthHandler := handlers.NewHealthHandler(cfg, pools)

	// PHASE 8: FIBER WEB SERVER CONFIGURATION
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorHandler: middleware.ErrorHandler(),
	})

	// PHASE 9: MIDDLEWARE STACK SETUP
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*", // configure for production
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	// PHASE 10: API ROUTE REGISTRATION
	app.Get("/health", healthHandler.HandleHealth)

	bots := app.Group("/bots")
	bots.Post("/", botHandler.HandleCreateBot)
	bots.Get("/:bot_name/about", botHandler.HandleAboutBot)
	bots.Patch("/:bot_name/parameters", botHandler.HandleUpdateParameters)
	bots.Post("/:bot_name/content/:index_type", botHandler.HandleUploadContent)
	bots.Put("/:bot_name/content/:index_type", botHandler.HandleUpdateContent)
	bots.Get("/:bot_name/content/:index_type", botHandler.HandleListContent)
	bots.Delete("/:bot_name/content/:index_type/:file_name", botHandler.HandleDeleteContent)

	chats := bots.Group("/chats")
	chats.Post("/start", chatHandler.HandleStartChat)
	chats.Delete("/:chat_id", chatHandler.HandleEndChat)
	chats.Get("/:chat_id/exists", chatHandler.HandleChatExists)
	chats.Get("/:chat_id/history", chatHandler.HandleChatHistory)
	chats.Post("/:chat_id/send", chatHandler.HandleSend)

	app.Post("/query", chatHandler.HandleQuery)

	// PHASE 11: GRACEFUL SHUTDOWN HANDLING
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		slog.Info("Shutting down server...")

		// 1. Stop accepting new work - shutdown worker pools first.
		pools.Shutdown()

		// 2. Close the bot store connection.
		if err := db.Close(); err != nil {
			slog.Error("bot store close error", "error", err)
		}

		// 3. Shutdown HTTP server gracefully - allows in-flight requests to
		// complete.
		if err := app.Shutdown(); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		slog.Info("Server shutdown complete")
		os.Exit(0)
	}()

	// PHASE 12: SERVER STARTUP
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	slog.Info("Starting criabot gateway",
		"address", addr,
		"environment", cfg.Server.Environment,
		"rag_backend_url", cfg.RAG.URL,
	)

	if err := app.Listen(addr); err != nil {
		slog.Error("server failed to start", "error", err)
		pools.Shutdown()
		log.Fatal(err)
	}
}
