package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"levx/internal/config"
	"levx/internal/feed"
	"levx/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	writer := stream.NewWriter(cfg.KafkaBrokers, stream.PriceTopic)
	defer writer.Close()

	poller := feed.NewPoller(cfg.ExchangeWSURL, writer, logger)
	logger.Info("poller running", zap.String("url", cfg.ExchangeWSURL))
	if err := poller.Run(ctx); err != nil {
		logger.Fatal("poller failed", zap.Error(err))
	}
	logger.Info("poller stopped")
}
