package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"levx/internal/assetlock"
	"levx/internal/book"
	"levx/internal/config"
	"levx/internal/engine"
	"levx/internal/ledger"
	"levx/internal/matching"
	"levx/internal/prices"
	"levx/internal/settle"
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

	store := ledger.NewStore(pool)
	bk := book.NewStore()
	cache := prices.NewCache()
	locks := assetlock.New(cfg.LockTTL)
	match := matching.NewEngine(bk, store, logger)
	settler := settle.NewService(store, cache, logger)
	consumers := engine.NewConsumers(logger, bk, cache, locks, match, store, settler)

	// The book must be rebuilt before any stream entry is consumed.
	if err := consumers.Recover(ctx); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}

	// One reader per loop: independent cursors, independent backpressure.
	priceReader := stream.NewReader(cfg.KafkaBrokers, stream.PriceTopic, stream.PriceGroup)
	orderReader := stream.NewReader(cfg.KafkaBrokers, stream.OrderTopic, stream.OrderGroup)
	controlReader := stream.NewReader(cfg.KafkaBrokers, stream.ControlTopic, stream.ControlGroup)
	defer priceReader.Close()
	defer orderReader.Close()
	defer controlReader.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := consumers.RunPriceLoop(ctx, priceReader); err != nil {
			logger.Error("price loop exited", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := consumers.RunOrderLoop(ctx, orderReader); err != nil {
			logger.Error("order loop exited", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := consumers.RunControlLoop(ctx, controlReader); err != nil {
			logger.Error("control loop exited", zap.Error(err))
		}
	}()

	logger.Info("engine running")
	wg.Wait()
	logger.Info("engine stopped")
}
