package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
	"github.com/davik/stock_day_trader/internal/infrastructure/advisory"
	"github.com/davik/stock_day_trader/internal/infrastructure/broker"
	"github.com/davik/stock_day_trader/internal/infrastructure/logger"
	"github.com/davik/stock_day_trader/internal/infrastructure/notify"
	"github.com/davik/stock_day_trader/internal/infrastructure/storage"
	"github.com/davik/stock_day_trader/internal/usecase"
)

func main() {
	// .env carries the secrets; config.yaml everything else.
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

	log, err := logger.NewFileLogger(cfg.Logging.Level, cfg.Logging.File)
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
	if creds.AppKey == "" || creds.AppSecret == "" || creds.AccountNo == "" {
		log.Fatal("KIS_APP_KEY, KIS_APP_SECRET and KIS_ACCOUNT_NO must be set")
	}

	kis := broker.NewKISAdapter(creds, cfg.Broker.RESTEndpoint,
		time.Duration(cfg.Broker.TimeoutSec)*time.Second, store, log)
	stream := broker.NewPriceStream(kis, cfg.Broker.WSEndpoint, os.Getenv("KIS_WS_APPROVAL_KEY"), log)
	if cfg.Broker.WSEndpoint != "" {
		if err := stream.Connect(); err != nil {
			// REST quotes still work, just slower.
			log.Warn("price stream unavailable, using REST quotes", zap.Error(err))
		}
	}

	var notifier domain.Notifier
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		notifier = notify.NewTelegramNotifier(token, os.Getenv("TELEGRAM_CHAT_ID"), log)
	} else {
		log.Warn("telegram not configured, notifications go to the log")
		notifier = notify.NewLogNotifier(log)
	}

	advisor := advisory.NewClient(cfg.Advisory.Endpoint,
		time.Duration(cfg.Advisory.TimeoutSec)*time.Second)

	marketCfg := map[domain.Market]*config.MarketConfig{
		domain.MarketDomestic: &cfg.Markets.Domestic,
		domain.MarketForeign:  &cfg.Markets.Foreign,
	}

	ledger := usecase.NewLedger()
	wallet := usecase.NewWallet(stream)
	strategies := usecase.NewStrategyStore(store, marketCfg, log)
	reconciler := usecase.NewReconciler(stream, ledger, strategies, stream, log)
	allocator := usecase.NewAllocator(wallet, ledger, reconciler, marketCfg, log)
	executor := usecase.NewExecutor(stream, wallet, marketCfg, log)
	trader := usecase.NewTradeService(ledger, allocator, executor, strategies, store, advisor, stream, notifier, log)
	monitor := usecase.NewMonitor(ledger, trader, stream, strategies, advisor, notifier, marketCfg, log)
	liquidator := usecase.NewLiquidator(stream, ledger, trader, executor,
		time.Duration(cfg.Liquidation.SettlePauseSec)*time.Second, log)

	// Rebuild the ledger from broker holdings before any trading decision.
	// Keep retrying briefly; the gateway may not be up yet at boot.
	bootPolicy := usecase.RetryPolicy{Interval: 5 * time.Second, MaxWait: time.Minute}
	if err := bootPolicy.Do(context.Background(), func(ctx context.Context) (bool, error) {
		if err := reconciler.Resync(ctx); err != nil {
			log.Warn("boot reconciliation failed, retrying", zap.Error(err))
			return false, err
		}
		return true, nil
	}); err != nil {
		log.Fatal("boot reconciliation exhausted", zap.Error(err))
	}

	paused := &atomic.Bool{}
	deps := usecase.SchedulerDeps{
		Trader:     trader,
		Monitor:    monitor,
		Liquidator: liquidator,
		Allocator:  allocator,
		Candidates: advisor,
		Strategies: strategies,
		Notifier:   notifier,
		Log:        log,
	}
	schedulers := []*usecase.Scheduler{
		usecase.NewScheduler(domain.MarketDomestic, cfg, &cfg.Markets.Domestic, deps, paused),
		usecase.NewScheduler(domain.MarketForeign, cfg, &cfg.Markets.Foreign, deps, paused),
	}

	if cfg.Metrics.Port > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("metrics server listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	// One tick loop per market; the sessions are independently clocked.
	for _, sched := range schedulers {
		go func(s *usecase.Scheduler) {
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.Tick(context.Background())
				case <-done:
					return
				}
			}
		}(sched)
	}

	notifier.Notify("trading bot started")
	log.Info("bot running")

	<-stop
	close(done)
	log.Info("Shutting down...")
	stream.Close()
}
