package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"levx/internal/auth"
	"levx/internal/config"
	"levx/internal/httpserver"
	"levx/internal/ledger"
	"levx/internal/orders"
	"levx/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("missing required env: JWT_SECRET")
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

	orderWriter := stream.NewWriter(cfg.KafkaBrokers, stream.OrderTopic)
	controlWriter := stream.NewWriter(cfg.KafkaBrokers, stream.ControlTopic)
	defer orderWriter.Close()
	defer controlWriter.Close()

	store := ledger.NewStore(pool)
	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	orderSvc := orders.NewService(store, orderWriter, controlWriter, logger)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:  auth.NewHandler(authSvc),
		OrderHandler: orders.NewHandler(orderSvc),
		AuthService:  authSvc,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening", zap.String("addr", cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}
