package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"levx/internal/archive"
	"levx/internal/config"
	"levx/internal/ledger"
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

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	reader := stream.NewReader(cfg.KafkaBrokers, stream.PriceTopic, stream.ArchiveGroup)
	defer reader.Close()

	archiver := archive.New(logger, ledger.NewStore(pool), reader, cfg.ArchiveBatch, cfg.ArchiveFlush)
	logger.Info("archiver running", zap.Int("batch", cfg.ArchiveBatch))
	if err := archiver.Run(ctx); err != nil {
		logger.Fatal("archiver failed", zap.Error(err))
	}
	logger.Info("archiver stopped")
}
