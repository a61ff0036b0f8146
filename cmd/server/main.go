package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xtrntr/coinledger/internal/api"
	"github.com/xtrntr/coinledger/internal/auth"
	"github.com/xtrntr/coinledger/internal/catalog"
	"github.com/xtrntr/coinledger/internal/config"
	"github.com/xtrntr/coinledger/internal/events"
	"github.com/xtrntr/coinledger/internal/logger"
	"github.com/xtrntr/coinledger/internal/oracle"
	"github.com/xtrntr/coinledger/internal/storage"
	"github.com/xtrntr/coinledger/internal/trade"
)

// Main entry point: wires storage, price oracle, auth and trading behind the HTTP API
func main() {
	// A missing .env is fine; the environment and config file still apply
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting coinledger",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close storage", zap.Error(err))
		}
	}()

	coins, err := catalog.New(store, cfg.Catalog.CacheTTL)
	if err != nil {
		log.Fatal("failed to create coin catalog", zap.Error(err))
	}
	defer coins.Close()

	openingCash, err := cfg.Ledger.OpeningCash()
	if err != nil {
		log.Fatal("invalid ledger config", zap.Error(err))
	}

	authService := auth.NewAuthService(store, coins, auth.Options{
		TokenTTL:    cfg.Auth.TokenTTL,
		BcryptCost:  cfg.Auth.BcryptCost,
		CashSymbol:  cfg.Ledger.CashSymbol,
		InitialCash: openingCash,
	})

	prices := oracle.NewClient(oracle.Options{
		BaseURL:          cfg.Oracle.BaseURL,
		VsCurrency:       cfg.Oracle.VsCurrency,
		Timeout:          cfg.Oracle.Timeout,
		Retries:          cfg.Oracle.Retries,
		BreakerThreshold: cfg.Oracle.BreakerThreshold,
		BreakerReset:     cfg.Oracle.BreakerReset,
	}, log.Named("oracle"))

	hub := events.NewHub(log.Named("ws"))
	defer hub.Close()

	publishers := events.Fanout{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka"))
		defer func() {
			if err := kp.Close(); err != nil {
				log.Error("failed to close kafka writer", zap.Error(err))
			}
		}()
		publishers = append(publishers, kp)
		log.Info("publishing trades to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	handler := &api.Handler{
		Auth:    authService,
		Trader:  trade.NewExecutor(prices, store, publishers, cfg.Ledger.CashSymbol, log.Named("trade")),
		Catalog: coins,
		Ledger:  store,
		Prices:  prices,
		Hub:     hub,
		Log:     log.Named("http"),
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      handler.Routes(cfg.HTTP.CORSOrigins),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("got signal to shutdown server", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop server", zap.Error(err))
	}
	log.Info("server stopped")
}
