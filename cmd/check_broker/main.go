package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
	"github.com/davik/stock_day_trader/internal/infrastructure/broker"
	"github.com/davik/stock_day_trader/internal/infrastructure/logger"
	"github.com/davik/stock_day_trader/internal/infrastructure/storage"
)

// Connectivity check: issues a token, then prints balance and holdings for
// both markets. Run this after rotating credentials.
func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	creds := broker.Credentials{
		AppKey:    os.Getenv("KIS_APP_KEY"),
		AppSecret: os.Getenv("KIS_APP_SECRET"),
		AccountNo: os.Getenv("KIS_ACCOUNT_NO"),
	}
	kis := broker.NewKISAdapter(creds, cfg.Broker.RESTEndpoint,
		time.Duration(cfg.Broker.TimeoutSec)*time.Second, store, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, market := range []domain.Market{domain.MarketDomestic, domain.MarketForeign} {
		fmt.Printf("=== %s (%s) ===\n", market, market.Currency())

		bal, err := kis.GetBalance(ctx, market)
		if err != nil {
			fmt.Printf("balance error: %v\n", err)
			continue
		}
		fmt.Printf("cash: %.2f  equity: %.2f\n", bal.Cash, bal.TotalEquity)

		holdings, err := kis.GetHoldings(ctx, market)
		if err != nil {
			fmt.Printf("holdings error: %v\n", err)
			continue
		}
		if len(holdings) == 0 {
			fmt.Println("no holdings")
			continue
		}
		for _, h := range holdings {
			fmt.Printf("%-10s %-20s qty %-6d avg %.2f\n", h.Symbol, h.Name, h.Quantity, h.AverageCost)
		}
	}
}
