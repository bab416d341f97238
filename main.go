package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/scoreslip/internal/auth"
	"github.com/example/scoreslip/internal/backend"
	"github.com/example/scoreslip/internal/config"
	"github.com/example/scoreslip/internal/handlers"
	"github.com/example/scoreslip/internal/learning"
	"github.com/example/scoreslip/internal/logging"
	"github.com/example/scoreslip/internal/poller"
	"github.com/example/scoreslip/internal/repository"
	"github.com/example/scoreslip/internal/usecase"
)

func main() {
	cfg, logger, err := loadRuntime(getEnv("CONFIG_FILE", ""))
	if logger == nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.Database, logger)
	journal := repository.NewJournalRepository(db, logger)
	if err := journal.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis, logger)
	defer redisClient.Close()

	client := backend.NewClient(backend.Config{
		BaseURL:            cfg.Backend.BaseURL,
		InteractiveTimeout: cfg.Backend.InteractiveTimeout,
		ExtendedTimeout:    cfg.Backend.ExtendedTimeout,
	}, logger)

	cache := usecase.NewRedisCache(redisClient)
	submitter := learning.NewSubmitter(client, logger)
	analysisUC := usecase.NewAnalysisUseCase(client, submitter, cache, journal, cfg.Redis.ResultTTL, logger)
	referenceUC := usecase.NewReferenceUseCase(client, journal, logger)

	dashboard := poller.NewDashboardPoller(client, cfg.Backend.PollInterval, logger)
	stopPoller := dashboard.Start(context.Background())
	defer stopPoller()

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	handlers.RegisterRoutes(r, handlers.Services{
		Analysis:  analysisUC,
		Reference: referenceUC,
		Dashboard: dashboard,
		Logger:    logger,
	}, authMiddleware)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("scoreslip gateway listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("backend", cfg.Backend.BaseURL),
	)
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// loadRuntime builds a bootstrap logger from LOG_LEVEL, then loads the
// configuration. On a config error the bootstrap logger is returned so the
// caller can report it; a nil logger means no logger could be built.
func loadRuntime(configPath string) (*config.Config, *zap.Logger, error) {
	logger, err := logging.NewLogger(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, logger, logging.NewOperationError("config.load", "", err)
	}
	configured, err := logging.NewLogger(cfg.Logging.Level)
	if err != nil {
		return cfg, logger, nil
	}
	_ = logger.Sync()
	return cfg, configured, nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
