package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skkn-server/internal/ai"
	"skkn-server/internal/config"
	"skkn-server/internal/credential"
	"skkn-server/internal/database"
	"skkn-server/internal/domain"
	"skkn-server/internal/generation"
	"skkn-server/internal/handler"
	"skkn-server/internal/messaging"
	"skkn-server/internal/repository"
	"skkn-server/internal/store"
	"skkn-server/internal/workflow"
	"skkn-server/pkg/logger"
	"skkn-server/pkg/taskmanager"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	sweepInterval   = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "skkn-server",
		Version:  version,

		SampleInitial:    cfg.LogSampleInitial,
		SampleThereafter: cfg.LogSampleThereafter,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zap.ReplaceGlobals(zapLogger)
	zapLogger.Info("Starting skkn-server", cfg.LogFields()...)

	ctx := context.Background()

	// --- Key-value store ---
	var kv store.KV = store.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
		kv = store.NewRedisStore(rdb, cfg.RedisPrefix, zapLogger)
		zapLogger.Info("Using Redis key-value store", zap.String("addr", cfg.RedisAddr))
	} else {
		zapLogger.Warn("REDIS_ADDR not set, credentials and settings are kept in memory")
	}

	// --- Result ledger ---
	var ledger repository.ResultRepository
	if cfg.DatabaseEnabled() {
		if err := database.ApplyMigrations(cfg.GetDSN(), zapLogger); err != nil {
			zapLogger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		dbPool, err := database.Connect(ctx, database.PoolConfig{
			DSN:         cfg.GetDSN(),
			MaxConns:    cfg.DBMaxConns,
			IdleTimeout: cfg.DBIdleTimeout,
		}, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer dbPool.Close()
		ledger = repository.NewPostgresResultRepository(dbPool, zapLogger)
	}

	// --- Stage events ---
	var notifier messaging.Notifier
	if cfg.RabbitMQURL != "" {
		conn, ch, n, err := setupNotifier(cfg, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to set up stage event notifier", zap.Error(err))
		}
		defer func() { _ = conn.Close() }()
		defer func() { _ = ch.Close() }()
		notifier = n
	}

	// --- Credentials and upstream ---
	pool := credential.NewPool(credential.Config{
		MaxKeys:          cfg.PoolMaxKeys,
		MaxErrorCount:    cfg.PoolMaxErrors,
		CooldownDuration: cfg.PoolCooldown,
	}, kv, zapLogger,
		credential.WithRotationHandler(func(e credential.RotationEvent) {
			zapLogger.Info("Credential rotated", zap.String("from", e.From), zap.String("to", e.To), zap.String("reason", e.Reason))
		}),
		credential.WithAllFailedHandler(func() {
			zapLogger.Warn("No usable credential left in the pool")
		}),
	)
	if err := pool.Load(ctx); err != nil {
		zapLogger.Fatal("Failed to load credentials", zap.Error(err))
	}
	for _, key := range cfg.APIKeys {
		if err := pool.Add(ctx, key, ""); err != nil && !errors.Is(err, domain.ErrCredentialExists) {
			zapLogger.Warn("Initial API key rejected", zap.String("key", credential.Mask(key)), zap.Error(err))
		}
	}

	streamer, needsKeys, err := ai.NewStreamer(ai.ProviderConfig{
		Provider: cfg.AIProvider,
		BaseURL:  cfg.AIBaseURL,
		Timeout:  cfg.AITimeout,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create upstream client", zap.Error(err))
	}
	settings := store.NewSettings(kv)
	var credentials ai.CredentialPool
	if needsKeys {
		credentials = pool
	}
	executor := ai.NewExecutor(streamer, credentials, settings, ai.ExecutorConfig{
		Models:         cfg.AIModels,
		PreferredModel: cfg.AIPreferredModel,
		Params: ai.Params{
			Temperature:     cfg.AITemperature,
			TopK:            cfg.AITopK,
			TopP:            cfg.AITopP,
			MaxOutputTokens: cfg.AIMaxOutput,
			ThinkingBudget:  cfg.AIThinkingBudget,
			GoogleSearch:    cfg.AIGoogleSearch,
		},
		AttemptTimeout: cfg.AITimeout,
	}, zapLogger)

	// --- Workflow ---
	lib, err := workflow.LoadLibrary(cfg.StagesFile)
	if err != nil {
		zapLogger.Fatal("Failed to load stage definition", zap.Error(err))
	}
	registry := generation.NewRegistry(lib, generation.Dependencies{
		Executor: executor,
		Ledger:   ledger,
		Notifier: notifier,
		Logger:   zapLogger,
	}, cfg.SessionTTL)
	tasks := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxActiveTasks}, zapLogger)

	// --- HTTP server ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(handler.ZapLoggingMiddlewareForGin(zapLogger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 0 || (len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(registry.List()), "activeTasks": tasks.ActiveCount()})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	handler.NewSessionHandler(registry, tasks, ledger, zapLogger).RegisterRoutes(router)
	handler.NewSettingsHandler(pool, executor, settings, zapLogger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go sweepSessions(sweepCtx, registry, tasks, zapLogger)

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zapLogger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	registry.CancelAll()
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("Background tasks did not finish in time", zap.Error(err))
	}
	zapLogger.Info("skkn-server stopped")
}

// setupNotifier connects to RabbitMQ and declares the stage events queue.
func setupNotifier(cfg *config.Config, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, messaging.Notifier, error) {
	conn, err := messaging.Connect(cfg.RabbitMQURL, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	notifier, err := messaging.NewRabbitMQNotifier(ch, cfg.EventsQueue, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, nil, err
	}
	return conn, ch, notifier, nil
}

// sweepSessions drops idle sessions and finished task records periodically.
func sweepSessions(ctx context.Context, registry *generation.Registry, tasks *taskmanager.TaskManager, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := registry.Sweep(now)
			cleaned := tasks.CleanupTasks(time.Hour)
			if removed > 0 || cleaned > 0 {
				logger.Debug("Sweep finished", zap.Int("sessions", removed), zap.Int("tasks", cleaned))
			}
		}
	}
}
