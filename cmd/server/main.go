package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deepquant/internal/config"
	"deepquant/internal/handler"
	"deepquant/internal/marketdata"
	"deepquant/internal/middleware"
	"deepquant/internal/parser"
	"deepquant/internal/repository"
	"deepquant/internal/service"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize stores
	policyStore, jobStore, cleanup, err := createStores(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer cleanup()

	// Build the provider mapping once and inject it; there is no
	// ambient registry.
	providers := marketdata.Providers{
		"http": marketdata.NewHTTPProvider(cfg.MarketData.URL, cfg.MarketData.Timeout, logger),
		"csv":  marketdata.NewCSVProvider(cfg.MarketData.CSVDir),
	}
	if _, err := providers.Get(cfg.MarketData.Provider); err != nil {
		logger.Fatal("Invalid market data configuration", zap.Error(err))
	}

	// Initialize services
	promptParser := parser.New(cfg.Backtest.BaseCurrency)
	policyService := service.NewPolicyService(policyStore, promptParser, logger)
	backtestService := service.NewBacktestService(
		jobStore,
		policyStore,
		promptParser,
		providers,
		cfg.MarketData.Provider,
		cfg.Backtest.Workers,
		cfg.Backtest.QueueSize,
		logger,
	)

	// Start the worker pool
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if err := backtestService.Start(workerCtx); err != nil {
		logger.Fatal("Failed to start job workers", zap.Error(err))
	}

	// Initialize handlers
	policyHandler := handler.NewPolicyHandler(policyService, logger)
	backtestHandler := handler.NewBacktestHandler(backtestService, logger)

	// Set up HTTP server with Gin
	router := setupRouter(policyHandler, backtestHandler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// Stop intake and let in-flight jobs finish
	backtestService.Stop()

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Create logger config
	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

// createStores selects the storage backend from configuration.
func createStores(dbConfig config.DatabaseConfig, logger *zap.Logger) (repository.PolicyStore, repository.JobStore, func(), error) {
	switch dbConfig.Driver {
	case "memory":
		return repository.NewMemoryPolicyStore(), repository.NewMemoryJobStore(), func() {}, nil
	case "postgres":
		db, err := connectToDB(dbConfig)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() { db.Close() }
		return repository.NewPostgresPolicyStore(db, logger), repository.NewPostgresJobStore(db, logger), cleanup, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown database driver %q", dbConfig.Driver)
	}
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.DBName,
		dbConfig.SSLMode,
	)

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

func setupRouter(
	policyHandler *handler.PolicyHandler,
	backtestHandler *handler.BacktestHandler,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		policies := v1.Group("/policies")
		{
			policies.POST("", policyHandler.CreatePolicy)
			policies.GET("", policyHandler.ListPolicies)
			policies.GET("/:id", policyHandler.GetPolicy)
			policies.DELETE("/:id", policyHandler.DeletePolicy)
		}

		backtests := v1.Group("/backtests")
		{
			backtests.POST("", backtestHandler.SubmitBacktest)
			backtests.GET("", backtestHandler.ListBacktests)
			backtests.GET("/:id", backtestHandler.GetBacktest)
		}
	}
	return router
}
