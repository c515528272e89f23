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
	"github.com/Domenick1991/carpool/internal/email"
	"github.com/Domenick1991/carpool/internal/kafka"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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
	log := base.Named("worker")
	defer func() { _ = log.Sync() }()

	if cfg.Storage.Driver != "postgres" {
		log.Fatal("worker needs shared storage; with the memory driver the app drains the change feed itself")
	}

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

	transport, closeTransport, err := bootstrap.OpenTransport(ctx, *cfg, log)
	if err != nil {
		log.Fatal("open transport", zap.Error(err))
	}
	defer closeTransport()

	poller := bootstrap.NewPipeline(*cfg, stores, transport, sharedCache, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Start(ctx)
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return poller.Stop(stopCtx)
	})

	if cfg.Transport.Driver == "kafka" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, log)
		defer func() { _ = consumer.Close() }()

		sender := email.NewSender(log)
		g.Go(func() error {
			return consumer.Consume(ctx, func(ctx context.Context, env notify.Envelope) error {
				if err := sender.Send(ctx, env); err != nil {
					log.Warn("send email", zap.String("message_id", env.MessageID), zap.Error(err))
				}
				return nil
			})
		})
	}

	log.Info("worker started", zap.String("transport", cfg.Transport.Driver))
	if err := g.Wait(); err != nil {
		log.Error("worker stopped", zap.Error(err))
		return
	}
	log.Info("worker stopped")
}
