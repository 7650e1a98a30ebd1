package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"roomsync/config"
	"roomsync/execution"
	"roomsync/persist"
	"roomsync/room"
	"roomsync/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	defer redisClient.Close()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()
	collection := mongoClient.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)

	var runner *execution.Runner
	if cfg.Execution.URL != "" {
		runner = execution.NewRunner(cfg.Execution.URL, cfg.Execution.Timeout, logger)
	}

	deps := room.Deps{
		Snapshots: persist.NewRedisSnapshotStore(redisClient, cfg.Redis.KeyPrefix),
		Records:   persist.NewRecordStore(collection, logger),
		Locker: func(roomKey string, ttl time.Duration) *persist.Lock {
			return persist.NewLock(redisClient, cfg.Redis.KeyPrefix, roomKey, ttl)
		},
		Runner: runner,
	}
	roomOpts := room.DefaultOptions()
	roomOpts.Gate = &persist.GateOptions{
		Debounce:     cfg.Persist.Debounce,
		MaxWait:      cfg.Persist.MaxWait,
		FlushTimeout: cfg.Persist.FlushTimeout,
	}
	roomOpts.LockTTL = cfg.Persist.LockTTL
	roomOpts.Logger = logger

	manager := server.NewManager(deps, roomOpts, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", server.NewHandler(manager, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Warn("room shutdown flush failed", zap.Error(err))
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.Level); err != nil {
		return nil, err
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
