package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/bootstrap"
	"github.com/Domenick1991/carpool/internal/cache"
	"github.com/Domenick1991/carpool/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	base, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := base.Named("app")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg.Storage, cfg.Database)
	if err != nil {
		log.Fatal("open storage", zap.Error(err))
	}
	defer stores.Close()

	sharedCache, closeCache, err := bootstrap.OpenCache(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("open cache", zap.Error(err))
	}
	defer closeCache()

	if local, ok := sharedCache.(*cache.Local); ok {
		go sweep(ctx, local, time.Minute)
	}

	// The in-memory store lives in this process only, so the change feed has
	// to be drained here instead of by cmd/worker.
	if cfg.Storage.Driver == "memory" {
		transport, closeTransport, err := bootstrap.OpenTransport(ctx, *cfg, log)
		if err != nil {
			log.Fatal("open transport", zap.Error(err))
		}
		defer closeTransport()

		poller := bootstrap.NewPipeline(*cfg, stores, transport, sharedCache, log)
		poller.Start(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := poller.Stop(stopCtx); err != nil {
				log.Warn("stop poller", zap.Error(err))
			}
		}()
	}

	services := bootstrap.NewServices(*cfg, stores, sharedCache, log)
	router := bootstrap.NewRouter(services, log)

	if err := bootstrap.Run(ctx, cfg.HTTP, router, log); err != nil {
		log.Error("server error", zap.Error(err))
	}
}

func sweep(ctx context.Context, c *cache.Local, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
