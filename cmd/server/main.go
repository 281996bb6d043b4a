package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"chatcompose/internal/auth"
	"chatcompose/internal/cache"
	"chatcompose/internal/capabilities"
	"chatcompose/internal/config"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/events"
	"chatcompose/internal/handler"
	"chatcompose/internal/handler/sse"
	"chatcompose/internal/middleware"
	"chatcompose/internal/repository/postgres"
	postgresChat "chatcompose/internal/repository/postgres/chat"
	"chatcompose/internal/repository/sqlite"
	"chatcompose/internal/service/compose"
	"chatcompose/internal/service/converter"
	"chatcompose/internal/service/llm"
	"chatcompose/internal/service/llm/streaming"
	"chatcompose/internal/service/naming"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	var logOut io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}
	logger := config.NewLogger(logOut, cfg.Environment)
	slog.SetDefault(logger)

	if cfg.EngineConfigFile != "" {
		engineCfg, err := config.LoadEngineOverlay(cfg.EngineConfigFile, cfg.Engine)
		if err != nil {
			log.Fatalf("Failed to load engine config: %v", err)
		}
		cfg.Engine = engineCfg
	}

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store_driver", cfg.StoreDriver,
		"default_provider", cfg.DefaultProvider,
		"default_model", cfg.DefaultModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	var jwtVerifier auth.JWTVerifier
	if cfg.JWKSURL != "" {
		jwtVerifier, err = auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer jwtVerifier.Close()
	} else {
		logger.Warn("JWKS_URL not set, authentication disabled")
	}

	entityCache := cache.NewStore()
	hub := events.NewHub(events.DefaultChannelBuffer, logger)
	defer hub.Close()

	var namer compose.TopicNamer
	if cfg.NamingEnabled {
		namer = naming.NewFirstMessageNamer(store, hub, logger)
	}
	engine := compose.NewEngine(compose.Deps{
		Cache:     entityCache,
		Store:     store,
		Publisher: hub,
		Namer:     namer,
		Logger:    logger,
		Config:    cfg.Engine,
	})

	catalog, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to load model capabilities: %v", err)
	}

	streamRegistry := mstream.NewRegistry()
	go streamRegistry.StartCleanup(ctx)

	streamingService := streaming.NewService(
		store,
		entityCache,
		engine,
		streaming.FromFactory(llm.NewProviderFactory(cfg)),
		streamRegistry,
		converter.NewRegistry(),
		catalog,
		cfg,
		logger,
	)
	if n, err := streamingService.RecoverStale(ctx); err != nil {
		logger.Error("startup recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("startup recovery finished", "recovered", n)
	}

	origins := strings.Split(cfg.CORSOrigins, ",")
	chatHandler := handler.NewChatHandler(streamingService, logger)
	eventsHandler := handler.NewEventsHandler(hub, sse.DefaultConfig(), allowOrigins(origins), logger)

	logger.Info("services initialized")

	// Go 1.22+ enhanced patterns
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", chatHandler.HealthCheck)
	mux.HandleFunc("GET /api/models", chatHandler.ListModels)

	mux.HandleFunc("POST /api/topics", chatHandler.CreateTopic)
	mux.HandleFunc("GET /api/topics/{id}", chatHandler.GetTopic)
	mux.HandleFunc("POST /api/topics/{id}/responses", chatHandler.CreateResponse)
	mux.HandleFunc("GET /api/topics/{id}/events", eventsHandler.StreamTopic) // SSE feed
	mux.HandleFunc("GET /api/topics/{id}/ws", eventsHandler.SocketTopic)     // websocket feed

	mux.HandleFunc("GET /api/messages/{id}", chatHandler.GetMessage)
	mux.HandleFunc("POST /api/messages/{id}/interrupt", chatHandler.InterruptResponse)

	// Order: CORS → Recovery → Auth → Routes
	var h http.Handler = mux
	h = middleware.AuthMiddleware(jwtVerifier)(h)
	h = middleware.Recovery(logger)(h)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// interrupted responses persist their partial content before we exit
	if err := streamingService.Shutdown(shutdownCtx); err != nil {
		logger.Warn("responses still running at shutdown", "error", err)
	}
	if err := engine.Wait(shutdownCtx); err != nil {
		logger.Warn("topic naming still running at shutdown", "error", err)
	}
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

// openStore opens the configured durable store and returns its closer.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chatRepo.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		tables := postgres.NewTableNames(cfg.TablePrefix)
		if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connected", "driver", "postgres", "table_prefix", cfg.TablePrefix)
		store := postgresChat.NewStore(&postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger})
		return store, pool.Close, nil

	case config.StoreDriverSQLite, "":
		db, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("database connected", "driver", "sqlite", "path", cfg.SQLitePath)
		return db.Store(), func() { _ = db.Close() }, nil

	default:
		return nil, nil, errors.New("unknown STORE_DRIVER: " + cfg.StoreDriver)
	}
}

// allowOrigins accepts websocket upgrades from the CORS origins
func allowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}
