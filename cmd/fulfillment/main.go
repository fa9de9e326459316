package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/fulfillment/internal/application/analytics"
	"github.com/aescanero/fulfillment/internal/application/executor"
	"github.com/aescanero/fulfillment/internal/application/orchestrator"
	"github.com/aescanero/fulfillment/internal/application/planner"
	"github.com/aescanero/fulfillment/internal/application/templates"
	"github.com/aescanero/fulfillment/internal/application/tracker"
	"github.com/aescanero/fulfillment/internal/application/workers"
	"github.com/aescanero/fulfillment/internal/config"
	"github.com/aescanero/fulfillment/internal/tracing"
	"github.com/aescanero/fulfillment/pkg/adapters/collaborators"
	memoryevents "github.com/aescanero/fulfillment/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/fulfillment/pkg/adapters/events/redis"
	"github.com/aescanero/fulfillment/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/fulfillment/pkg/adapters/storage/memory"
	postgresstorage "github.com/aescanero/fulfillment/pkg/adapters/storage/postgres"
	redisstorage "github.com/aescanero/fulfillment/pkg/adapters/storage/redis"
	"github.com/aescanero/fulfillment/pkg/api/grpc"
	"github.com/aescanero/fulfillment/pkg/api/http"
	"github.com/aescanero/fulfillment/pkg/api/websocket"
	"github.com/aescanero/fulfillment/pkg/ports"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting fulfillment engine",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	if cfg.Tracing.Enabled {
		if err := tracing.Init("fulfillment", Version, cfg.Tracing.OutputFile); err != nil {
			logger.Fatal("failed to initialize tracing", zap.Error(err))
		}
	}

	// Initialize Redis client
	var redisClient *goredis.Client
	if cfg.NeedsRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Execution storage
	var (
		store  ports.ExecutionStore
		pgPool *pgxpool.Pool
	)
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		store = redisstorage.NewExecutionStore(redisClient, cfg.Storage.RedisTTL, logger)
	case config.BackendPostgres:
		pgPool, err = newPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		pgStore := postgresstorage.NewExecutionStore(pgPool, logger)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare PostgreSQL schema", zap.Error(err))
		}
		store = pgStore
	default:
		store = memorystorage.NewExecutionStore()
	}
	logger.Info("execution storage ready", zap.String("backend", cfg.Storage.Backend))

	// Event bus
	var eventBus ports.EventBus
	switch cfg.Events.Backend {
	case config.BackendRedis:
		consumer := cfg.Events.ConsumerName
		if cfg.Events.ConsumerGroup != "" {
			consumer = fmt.Sprintf("%s-%d", consumer, os.Getpid())
		}
		eventBus = redisevents.NewStreamsEventBus(
			redisClient,
			cfg.Events.ConsumerGroup,
			consumer,
			cfg.Events.StreamMaxLen,
			logger,
		)
	default:
		eventBus = memoryevents.NewEventBus(logger)
	}

	// Collaborators
	bundle, err := collaborators.New(&collaborators.Config{
		Provider:     cfg.Collaborators.Provider,
		SeedFile:     cfg.Collaborators.SeedFile,
		LabelBaseURL: cfg.Collaborators.LabelBaseURL,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create collaborators", zap.Error(err))
	}

	// Templates
	builder := templates.NewBuilder()
	if err := templates.RegisterAll(builder, templates.Builtin()); err != nil {
		logger.Fatal("failed to register built-in templates", zap.Error(err))
	}
	if cfg.Templates.File != "" {
		extra, err := templates.LoadFile(cfg.Templates.File)
		if err != nil {
			logger.Fatal("failed to load templates", zap.Error(err))
		}
		if err := templates.RegisterAll(builder, extra); err != nil {
			logger.Fatal("failed to register templates", zap.Error(err))
		}
	}
	registry := builder.Build()
	logger.Info("workflow templates registered", zap.Int("count", registry.Len()))

	metricsCollector := prometheus.NewCollector()

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(
		registry,
		planner.New(bundle.Orders, bundle.Warehouses, logger),
		executor.New(bundle.Collaborators, logger),
		tracker.New(store, logger),
		workerPool,
		eventBus,
		metricsCollector,
		logger,
		orchestrator.Config{
			ExecutionTimeout: cfg.Timeouts.ExecutionTimeout,
			StepTimeout:      cfg.Timeouts.StepTimeout,
			MaxStepTimeout:   cfg.Timeouts.MaxStepTimeout,
			MaxRetries:       cfg.Workers.MaxRetries,
			RetryDelay:       cfg.Workers.RetryDelay,
		},
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Analytics:    analytics.NewService(store, logger),
		Metrics:      metricsCollector.Handler(),
		Health:       workerPool.Health(),
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, orchestratorMgr, logger)
	httpServer.SetupWebSocket(wsHandler.HandleExecutionStream)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Checker:       workerPool.Health(),
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("fulfillment engine started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	// in-flight steps still need the pool
	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if pgPool != nil {
		pgPool.Close()
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("fulfillment engine shut down complete")
}

func newPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
