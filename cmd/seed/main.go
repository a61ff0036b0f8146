package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xtrntr/coinledger/internal/config"
	"github.com/xtrntr/coinledger/internal/logger"
	"github.com/xtrntr/coinledger/internal/storage"
)

var defaultCoins = []string{"bitcoin", "ripple", "ethereum", "dogecoin", "medibloc", "moviebloc"}

// Seed the catalog: activate coins and open zero balances for existing users
func main() {
	var coinList string
	flag.StringVar(&coinList, "coins", strings.Join(defaultCoins, ","), "comma separated coin ids to activate")

	_ = godotenv.Load()
	cfg := config.MustLoad()

	log, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	activated := 0
	for _, coin := range strings.Split(coinList, ",") {
		coin = strings.TrimSpace(coin)
		if coin == "" {
			continue
		}
		if err := store.ActivateCoin(ctx, coin); err != nil {
			log.Error("failed to activate coin", zap.String("coin", coin), zap.Error(err))
			continue
		}
		activated++
		log.Info("coin activated", zap.String("coin", coin))
	}

	log.Info("seeding finished", zap.Int("activated", activated))
}
