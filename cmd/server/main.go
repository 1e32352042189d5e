package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/api"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/catalog"
	"github.com/atmx/item-exchange/internal/config"
	"github.com/atmx/item-exchange/internal/inventory"
	"github.com/atmx/item-exchange/internal/notify"
	"github.com/atmx/item-exchange/internal/store"
	"github.com/atmx/item-exchange/internal/trade"
	"github.com/atmx/item-exchange/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("item-exchange stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		st = store.NewPostgresStore(pool)
		logger.Info("connected to PostgreSQL")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Initialize cache ---
	var c cache.Cache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The cache is optional at runtime; every failure is a miss.
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		c = cache.NewRedisCache(rdb)
		logger.Info("Redis cache enabled")
	} else {
		logger.Warn("REDIS_URL not set, using in-memory cache")
		c = cache.NewMemoryCache()
	}
	aside := cache.NewAside(c, logger.Named("cache"))

	// --- Notifications ---
	hub := notify.NewHub(logger.Named("ws"))
	hubCtx, stopHub := context.WithCancel(context.Background())
	cleanup = append(cleanup, stopHub)
	go hub.Run(hubCtx)

	notifiers := notify.Fanout{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.Named("kafka"))
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				logger.Warn("kafka writer close failed", zap.Error(err))
			}
		})
		notifiers = append(notifiers, kp)
		logger.Info("Kafka notifications enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// --- Engines ---
	cat := catalog.NewService(st, aside, logger.Named("catalog"))
	inv := inventory.NewEngine(st, aside, cat, logger.Named("inventory"))
	cat.SetPurger(inv)
	trades := trade.NewService(st, aside, inv, wallet.NewLedger(logger.Named("wallet")),
		cat, cat, notifiers, logger.Named("trade"))

	// --- Server ---
	handler := api.NewHandler(inv, trades, cat, hub, logger.Named("api"))
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     api.NewRouter(handler, cfg.HTTPTimeout),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("item-exchange listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down item-exchange...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("item-exchange stopped")
	return nil
}
