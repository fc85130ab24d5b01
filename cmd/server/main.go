package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/cache"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/contextmgr"
	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/handlers"
	"github.com/parleybot/parley/internal/logger"
	"github.com/parleybot/parley/internal/middleware"
	"github.com/parleybot/parley/internal/models"
	"github.com/parleybot/parley/internal/queue"
	"github.com/parleybot/parley/internal/ratelimit"
	"github.com/parleybot/parley/internal/router"
	"github.com/parleybot/parley/internal/services/ai"
	"github.com/parleybot/parley/internal/services/image"
	"github.com/parleybot/parley/internal/services/scm"
	"github.com/parleybot/parley/internal/session"
	"github.com/parleybot/parley/internal/telemetry"
	"github.com/parleybot/parley/internal/transport"
	"github.com/parleybot/parley/internal/turn"
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug mode for LLM API logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync(zapLogger) }()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("ai_model", cfg.AIModel),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// OpenTelemetry tracing if enabled
	if cfg.OTELEnabled && cfg.OTELEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "parley-api", cfg.OTELEndpoint)
		if err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_database")

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	// RabbitMQ is required; retry with exponential backoff to ride out
	// broker startup delays
	const maxRetries = 10
	const initialDelay = 2 * time.Second
	var jobQueue queue.JobQueue
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		jobQueue, err = queue.NewRabbitMQQueue(cfg.RabbitMQURL, zapLogger)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			defer func() {
				if err := jobQueue.Close(); err != nil {
					zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
				}
			}()
			break
		}

		lastErr = err
		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
			zap.Int("max_retries", maxRetries),
			zap.Error(lastErr),
		)
	}

	// Repositories
	sessionRepo := database.NewSessionRepository(db)
	messageRepo := database.NewMessageRepository(db)
	prefRepo := database.NewPreferenceRepository(db)
	intentLogRepo := database.NewIntentLogRepository(db)

	// Caches
	sessionCache := cache.NewSessionCache(redisClient, models.DefaultSessionTimeout)
	responseCache := cache.NewResponseCache(redisClient, cfg.ResponseTTL)
	pendingStore := cache.NewPendingStore(redisClient)

	// Routing policy and rate limits
	policies, err := router.LoadPolicyTable(cfg.PolicyFile)
	if err != nil {
		zapLogger.Fatal("failed_to_load_policy_table", zap.Error(err))
	}
	limiterStore, err := ratelimit.NewRedisStore(redisClient)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limit_store", zap.Error(err))
	}
	limiter, err := ratelimit.New(limiterStore, policies, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limiter", zap.Error(err))
	}

	// External services
	if cfg.OpenAIKey == "" {
		zapLogger.Fatal("openai_api_key_not_configured")
	}
	provider := ai.NewOpenAIProvider(cfg.OpenAIKey, cfg.AIBaseURL, cfg.AIModel, zapLogger, debugMode)
	imageGen := image.NewOpenAIGenerator(cfg.OpenAIKey, cfg.AIBaseURL, cfg.ImageModel, zapLogger)

	var scmClient scm.Client
	if cfg.GitHubToken != "" && cfg.GitHubRepo != "" {
		scmClient, err = scm.NewGitHubClient(cfg.GitHubToken, cfg.GitHubRepo, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed_to_create_github_client", zap.Error(err))
		}
	} else {
		zapLogger.Warn("github_not_configured_feature_requests_disabled")
		scmClient = scm.Disabled{}
	}

	// Core components
	store := session.NewStore(sessionRepo, messageRepo, sessionCache, jobQueue, zapLogger)
	intentRouter := router.New(policies, zapLogger)
	auditor := router.NewAuditor(intentLogRepo, zapLogger)
	ctxManager := contextmgr.New(contextmgr.DefaultTokenBudget, provider, zapLogger)

	processor := turn.NewProcessor(turn.Config{
		Store:       store,
		Preferences: prefRepo,
		Router:      intentRouter,
		Limiter:     limiter,
		Responses:   responseCache,
		Pending:     pendingStore,
		Context:     ctxManager,
		Provider:    provider,
		Images:      imageGen,
		SCM:         scmClient,
		Auditor:     auditor,
		Messenger:   transport.NewLogMessenger(zapLogger),
		Logger:      zapLogger,
		Timeout:     cfg.TurnTimeout,
	})

	// Handlers
	turnHandler := handlers.NewTurnHandler(processor, store, zapLogger)
	prefHandler := handlers.NewPreferenceHandler(prefRepo, zapLogger)
	healthChecker := handlers.NewHealthChecker(db, redisClient)

	// Router and middleware
	r := mux.NewRouter()

	if cfg.OTELEnabled {
		r.Use(otelmux.Middleware("parley-api"))
	}
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(cfg.TurnTimeout + 15*time.Second))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{cfg.CORSOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	httpLimit, err := middleware.RateLimit(redisClient, "")
	if err != nil {
		zapLogger.Fatal("failed_to_create_http_rate_limiter", zap.Error(err))
	}

	// Public routes
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/version", versionInfo).Methods("GET")

	// API v1 routes (authenticated, rate limited)
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	if cfg.AuthSecret != "" {
		apiRouter.Use(middleware.Auth(cfg.AuthSecret, zapLogger))
	} else {
		zapLogger.Warn("auth_secret_not_configured_api_is_open")
	}
	apiRouter.Use(httpLimit)

	apiRouter.HandleFunc("/turns", turnHandler.ProcessTurn).Methods("POST")
	apiRouter.HandleFunc("/sessions/end", turnHandler.EndSession).Methods("POST")
	apiRouter.HandleFunc("/preferences/{userID}", prefHandler.Get).Methods("GET")
	apiRouter.HandleFunc("/preferences/{userID}", prefHandler.Update).Methods("PATCH")

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        corsHandler.Handler(r),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	// DLQ garbage collection: hourly, 24h retention
	if dlqPurger, ok := jobQueue.(queue.DLQPurger); ok {
		dlqGC := queue.NewGarbageCollector(dlqPurger, zapLogger, 1*time.Hour, 24*time.Hour)
		go func() {
			if err := dlqGC.Start(backgroundCtx); err != nil && err != context.Canceled {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
	}

	// Periodic idle-session sweep so sessions whose users never return
	// still get closed in the durable store
	if cfg.SweepEnabled {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-backgroundCtx.Done():
					return
				case <-ticker.C:
					sweepCtx, cancel := context.WithTimeout(backgroundCtx, 1*time.Minute)
					closed, err := store.SweepIdle(sweepCtx, 100)
					cancel()
					if err != nil {
						zapLogger.Error("idle_session_sweep_failed", zap.Error(err))
					} else if closed > 0 {
						zapLogger.Info("idle_sessions_closed", zap.Int("count", closed))
					}
				}
			}
		}()
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	backgroundCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"version":"1.0.0","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
