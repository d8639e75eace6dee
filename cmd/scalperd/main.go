package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sscvg8/scalperbot/internal/config"
	"github.com/sscvg8/scalperbot/internal/exchange"
	"github.com/sscvg8/scalperbot/internal/handler"
	"github.com/sscvg8/scalperbot/internal/middleware"
	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/notify"
	"github.com/sscvg8/scalperbot/internal/payment"
	"github.com/sscvg8/scalperbot/internal/pkg/logger"
	"github.com/sscvg8/scalperbot/internal/pricecache"
	"github.com/sscvg8/scalperbot/internal/store"
	"github.com/sscvg8/scalperbot/internal/subscription"
	"github.com/sscvg8/scalperbot/internal/supervisor"
	"github.com/sscvg8/scalperbot/internal/walletpool"
	"github.com/sscvg8/scalperbot/internal/worker"
)

// workerFactory builds one trading worker per tenant from their stored
// credentials.
type workerFactory struct {
	exchanges exchange.Factory
	prices    *pricecache.Cache
	settings  *store.SettingsRepo
	ledger    *store.LedgerRepo
	notifier  notify.Notifier
	cfg       worker.Config
}

func (f *workerFactory) NewWorker(s model.TenantSettings) (supervisor.Runner, error) {
	client, err := f.exchanges.NewClient(s.Creds.APIKey, s.Creds.APISecret)
	if err != nil {
		return nil, fmt.Errorf("exchange client for %s: %w", s.TenantID, err)
	}
	return worker.New(s.TenantID, client, f.prices, f.settings, f.ledger, f.notifier, f.cfg), nil
}

func main() {
	logger.Init("info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	settingsRepo, err := store.NewSettingsRepo(db,
		time.Duration(cfg.Subscription.TrialHours)*time.Hour, cfg.Payment.DefaultPrice)
	if err != nil {
		log.Fatalf("Failed to initialize settings store: %v", err)
	}
	ledgerRepo, err := store.NewLedgerRepo(db)
	if err != nil {
		log.Fatalf("Failed to initialize profit ledger: %v", err)
	}

	// Notification dedupe (Redis > Memory)
	var dedupe subscription.DedupeStore
	if cfg.Redis.Addr != "" {
		redisDedupe, err := store.NewRedisDedupe(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			logger.Info("Connected to Redis")
			dedupe = redisDedupe
		} else {
			logger.Error("Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if dedupe == nil {
		dedupe = subscription.NewMemoryDedupe()
	}

	var notifier notify.Notifier
	if cfg.Telegram.BotToken != "" {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken)
	} else {
		logger.Warn("No bot token configured, notifications go to the log")
		notifier = notify.Log{}
	}

	var exchanges exchange.Factory
	switch cfg.Exchange.Driver {
	case "", "sim":
		exchanges = &exchange.SimFactory{}
	default:
		log.Fatalf("Unknown exchange driver %q", cfg.Exchange.Driver)
	}

	// The price refresher uses one low-privilege client shared by all workers.
	tickerClient, err := exchanges.NewClient(cfg.Exchange.TickerAPIKey, cfg.Exchange.TickerAPISecret)
	if err != nil {
		log.Fatalf("Failed to create ticker client: %v", err)
	}
	prices := pricecache.New(tickerClient, settingsRepo, pricecache.Options{
		RefreshEvery: time.Duration(cfg.PriceCache.RefreshSeconds) * time.Second,
		SweepEvery:   time.Duration(cfg.PriceCache.SweepSeconds) * time.Second,
		EvictAfter:   time.Duration(cfg.PriceCache.EvictSeconds) * time.Second,
		FetchQPS:     cfg.PriceCache.FetchQPS,
	})
	prices.Start()

	subsSvc := subscription.NewService(settingsRepo, dedupe)
	expiryNotifier := subscription.NewNotifier(settingsRepo, dedupe, notifier,
		time.Duration(cfg.Subscription.NotifyIntervalSeconds)*time.Second)
	expiryNotifier.Start()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Payments need a wallet pool; without addresses the flow stays off and
	// subscriptions can only be extended by the admin endpoint.
	var paySvc *payment.Service
	var statusWallets *walletpool.Pool
	if len(cfg.Wallets.Addresses) > 0 {
		wallets, err := walletpool.New(cfg.Wallets.Addresses,
			time.Duration(cfg.Wallets.ReserveSeconds)*time.Second)
		if err != nil {
			log.Fatalf("Failed to build wallet pool: %v", err)
		}
		verifier := payment.NewExplorerVerifier(payment.ExplorerConfig{
			APIKey:    cfg.Payment.ExplorerAPIKey,
			BaseURL:   cfg.Payment.ExplorerBaseURL,
			ChainID:   cfg.Payment.ChainID,
			PollEvery: time.Duration(cfg.Payment.PollSeconds) * time.Second,
			MaxWait:   time.Duration(cfg.Payment.MaxWaitSeconds) * time.Second,
		})
		paySvc = payment.NewService(wallets, subsSvc, verifier, settingsRepo, notifier,
			time.Duration(cfg.Payment.ExtensionDays)*24*time.Hour, time.Minute)
		go paySvc.Run(rootCtx)

		statusWallets = wallets
	} else {
		logger.Warn("No payment wallets configured, deposit flow disabled")
	}

	factory := &workerFactory{
		exchanges: exchanges,
		prices:    prices,
		settings:  settingsRepo,
		ledger:    ledgerRepo,
		notifier:  notifier,
		cfg: worker.Config{
			BasePacing:             time.Duration(cfg.Trading.BasePacingSeconds) * time.Second,
			SubscriptionCheckEvery: time.Duration(cfg.Trading.SubscriptionCheckSeconds) * time.Second,
			RateLimitBackoff:       time.Duration(cfg.Trading.RateLimitBackoffSeconds) * time.Second,
			FundsBackoff:           time.Duration(cfg.Trading.FundsBackoffSeconds) * time.Second,
			ErrorBackoff:           time.Duration(cfg.Trading.ErrorBackoffSeconds) * time.Second,
			OrderAbandonAfter:      time.Duration(cfg.Trading.OrderAbandonSeconds) * time.Second,
		},
	}
	sup := supervisor.New(settingsRepo, factory, supervisor.Config{
		SweepEvery:    time.Duration(cfg.Supervisor.SweepSeconds) * time.Second,
		SuppressAfter: cfg.Supervisor.RestartSuppressAfter,
	})
	sup.StartAll(rootCtx)
	go sup.Run(rootCtx)

	r := gin.Default()

	statusHandler := handler.NewStatusHandler(sup, prices, statusWallets)
	tenantHandler := handler.NewTenantHandler(settingsRepo, ledgerRepo, subsSvc, sup)

	r.GET("/health", statusHandler.Health)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.Admin(cfg.Server.AdminKey))
	{
		v1.GET("/status", statusHandler.Status)
		v1.GET("/tenants", tenantHandler.List)
		v1.GET("/tenants/:id", tenantHandler.Get)
		v1.PUT("/tenants/:id", tenantHandler.Update)
		v1.POST("/tenants/:id/start", tenantHandler.Start)
		v1.POST("/tenants/:id/stop", tenantHandler.Stop)
		v1.GET("/tenants/:id/profit", tenantHandler.Profit)
		v1.POST("/tenants/:id/subscription/extend", tenantHandler.ExtendSubscription)
		if paySvc != nil {
			paymentHandler := handler.NewPaymentHandler(paySvc)
			v1.POST("/tenants/:id/payment", paymentHandler.Begin)
			v1.POST("/tenants/:id/payment/confirm", paymentHandler.Confirm)
			v1.DELETE("/tenants/:id/payment", paymentHandler.Cancel)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("scalperd started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rootCancel()
	sup.Shutdown(ctx)
	prices.Stop()
	expiryNotifier.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
