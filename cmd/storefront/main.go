package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/api"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/cache"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/checkout"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/discount"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/engine"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/localstore"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/reconcile"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/remotestore"
	"github.com/Mhmdachkar/vlanco-cart-engine/pkg/config"
	"github.com/Mhmdachkar/vlanco-cart-engine/pkg/logger"
	"github.com/Mhmdachkar/vlanco-cart-engine/pkg/shutdown"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: "storefront",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	// Local storage for guest sessions.
	local, err := localstore.NewSQLiteStore(cfg.SQLitePath, localstore.DefaultKeys(), log)
	if err != nil {
		log.Error("failed to open local store", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer local.Close()

	// Remote storage for authenticated sessions.
	creds := &remotestore.Credentials{
		Host:              cfg.PostgresHost,
		Port:              cfg.PostgresPort,
		User:              cfg.PostgresUser,
		Password:          cfg.PostgresPassword,
		DBName:            cfg.PostgresDB,
		MigrationsDirPath: cfg.MigrationsDir,
	}
	remote, err := remotestore.NewPostgresStore(creds)
	if err != nil {
		log.Error("failed to connect to postgres", "host", cfg.PostgresHost, "error", err)
		os.Exit(1)
	}
	defer remote.Close()

	if err := remote.RunMigrations(creds); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres", "host", cfg.PostgresHost, "db", cfg.PostgresDB)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("redis connection failed", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	cartCache := cache.NewRedisCache(redisClient)
	log.Info("connected to redis", "addr", cfg.RedisAddr)

	coord := reconcile.NewCoordinator(local, remote, log)

	initiator := checkout.NewInitiator(cfg.CheckoutTopic, cfg.KafkaBrokers...)
	defer initiator.Close()

	eng := engine.New(engine.Config{
		Coordinator: coord,
		Cache:       cartCache,
		Discount:    discount.NewClient(cfg.DiscountServiceURL),
		Checkout:    initiator,
		Logger:      log,
	})
	defer eng.Close()

	if err := eng.Refetch(ctx); err != nil {
		log.Warn("initial cart load failed", "error", err)
	}

	// Clear carts when checkout completes.
	poller := checkout.NewPoller(remote, cartCache, log, cfg.CheckoutDoneTopic, cfg.KafkaBrokers...)
	go poller.Run(ctx)
	defer poller.Close()

	handler := api.NewHandler(eng, cfg.RequestTimeout, log)
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.NewRouter(handler, cfg.RequestTimeout),
	}

	go func() {
		log.Info("storefront listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	log.Info("storefront stopped")
}
