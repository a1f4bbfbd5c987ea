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

	"github.com/example/fruit-check/internal/auth"
	"github.com/example/fruit-check/internal/classifier"
	"github.com/example/fruit-check/internal/config"
	"github.com/example/fruit-check/internal/handlers"
	"github.com/example/fruit-check/internal/healthcheck"
	"github.com/example/fruit-check/internal/logging"
	"github.com/example/fruit-check/internal/repository"
	"github.com/example/fruit-check/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var store usecase.SessionStore = usecase.NewMemoryStore(cfg.SessionTTL)
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
		redisCancel()
		defer redisClient.Close()
		store = usecase.NewRedisStore(usecase.NewRedisCache(redisClient), cfg.SessionTTL, logger)
	}

	var history usecase.HistoryRepository
	if cfg.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		repo := repository.NewAnalysisRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		history = repo
	}

	client, err := classifier.NewHTTPClient(classifier.Options{
		BaseURL: cfg.ClassifierBaseURL,
		Timeout: cfg.ClassifierTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("invalid classifier configuration", zap.Error(err))
	}

	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Fatal("invalid session configuration", zap.Error(err))
	}

	uc := usecase.NewAnalysisUseCase(store, client, history, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.SessionMiddleware(sessions), logger)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	var health *healthcheck.Server
	if cfg.GRPCHealthAddr != "" {
		listener, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			logger.Fatal("failed to listen for gRPC health", zap.Error(err))
		}
		health = healthcheck.NewServer(logger)
		go func() {
			if err := health.Serve(listener); err != nil {
				logger.Error("gRPC health server failed", zap.Error(err))
			}
		}()
		defer health.Stop()
	}

	logger.Info("fruit check listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("classifier", client.Endpoint()),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("history", history != nil),
	)

	onShutdown := func(ctx context.Context) {
		if health != nil {
			health.Draining()
		}
		if err := uc.WaitContext(ctx); err != nil {
			logger.Warn("background analyses still running at shutdown", zap.Error(err))
		}
	}
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger, onShutdown); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
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

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, onShutdown func(context.Context)) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil, onShutdown)
}

// serveHTTPServerWithOptions serves until the server fails or a signal arrives.
// On a signal, onShutdown runs after in-flight requests drain and shares the
// shutdown deadline with them.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal, onShutdown func(context.Context)) error {
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
		if onShutdown != nil {
			onShutdown(ctx)
		}
		return <-errCh
	}
}
