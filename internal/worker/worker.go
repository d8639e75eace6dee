// Package worker runs the buy-low/sell-high cycle for a single tenant.
//
// The loop walks Idle -> EvaluatingOrders -> EvaluatingEntry -> PlacingBuy /
// Cooldown -> Monitoring and back, and only leaves through the terminal stop:
// tenant disabled, subscription expired, or a fatal error. A worker never
// takes the process down and never touches another tenant's state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sscvg8/scalperbot/internal/exchange"
	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/notify"
	"github.com/sscvg8/scalperbot/internal/pkg/logger"
	"github.com/sscvg8/scalperbot/internal/pkg/metrics"
	"github.com/sscvg8/scalperbot/internal/subscription"
)

// SettingsStore is the worker's read/refresh handle onto tenant settings.
// Enabled is the only field a worker writes back.
type SettingsStore interface {
	Get(ctx context.Context, tenantID string) (model.TenantSettings, error)
	SetEnabled(ctx context.Context, tenantID string, enabled bool) error
}

// PriceSource abstracts the shared price cache.
type PriceSource interface {
	Get(ctx context.Context, symbol string) (float64, error)
}

// Ledger receives profit records for completed round trips.
type Ledger interface {
	AppendProfit(ctx context.Context, rec model.ProfitRecord) error
}

// Config carries the pacing knobs. Zero values get the production defaults.
type Config struct {
	BasePacing             time.Duration // sleep between full passes
	SubscriptionCheckEvery time.Duration // settings re-fetch cadence
	RateLimitBackoff       time.Duration // pause after a rate-limit error
	FundsBackoff           time.Duration // pause after an insufficient balance
	ErrorBackoff           time.Duration // pause after a generic pass failure
	PriceRetryBackoff      time.Duration // pause when no price is available
	OrderAbandonAfter      time.Duration // drop orders unresolved this long
}

func (c *Config) applyDefaults() {
	if c.BasePacing <= 0 {
		c.BasePacing = 2 * time.Second
	}
	if c.SubscriptionCheckEvery <= 0 {
		c.SubscriptionCheckEvery = 60 * time.Second
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 60 * time.Second
	}
	if c.FundsBackoff <= 0 {
		c.FundsBackoff = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 30 * time.Second
	}
	if c.PriceRetryBackoff <= 0 {
		c.PriceRetryBackoff = 10 * time.Second
	}
	if c.OrderAbandonAfter <= 0 {
		c.OrderAbandonAfter = 600 * time.Second
	}
}

type Worker struct {
	tenantID string
	cfg      Config

	client   exchange.Client
	prices   PriceSource
	settings SettingsStore
	ledger   Ledger
	notifier notify.Notifier
	log      *slog.Logger

	// Loop-local state, touched only by Run's goroutine.
	orders       []model.OpenOrder
	lastBuyPrice float64 // 0 = no buy-price memory
	lastNotice   string  // suppresses repeated identical notifications

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func New(tenantID string, client exchange.Client, prices PriceSource,
	settings SettingsStore, ledger Ledger, notifier notify.Notifier, cfg Config) *Worker {
	cfg.applyDefaults()
	return &Worker{
		tenantID: tenantID,
		cfg:      cfg,
		client:   client,
		prices:   prices,
		settings: settings,
		ledger:   ledger,
		notifier: notifier,
		log:      logger.With("tenant", tenantID),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// sleepCtx waits d or until the context is done; false means the worker
// should stop.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run executes the trading loop until stop. It always leaves the tenant
// disabled in the settings store on the way out, so a restarted process
// never resumes a state it did not validate.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			// Leave Enabled set so the supervisor restarts this tenant.
			w.log.Error("trading loop panic", "panic", r)
			bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			w.notifier.Notify(bg, w.tenantID, "The trading bot hit an unexpected error and will be restarted.")
			return
		}
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.settings.SetEnabled(bg, w.tenantID, false); err != nil {
			w.log.Error("persisting disabled state failed", "error", err)
		}
		w.notifier.Notify(bg, w.tenantID, "Trading bot stopped")
		w.log.Info("trading worker stopped")
	}()

	cfg, err := w.settings.Get(ctx, w.tenantID)
	if err != nil {
		w.log.Error("loading settings failed", "error", err)
		return
	}
	if !subscription.IsActive(cfg, w.now()) {
		w.notifier.Notify(ctx, w.tenantID, "Your subscription has expired. The bot cannot be started.")
		return
	}

	w.log.Info("trading worker started", "symbol", cfg.Symbol)
	w.notifier.Notify(ctx, w.tenantID, "Trading bot started")

	lastCheck := w.now()
	for cfg.Enabled {
		if ctx.Err() != nil {
			return
		}

		// Re-fetch settings at most once per interval so external edits
		// (admin disable, changed percents) and expiry are observed without
		// hammering the store every iteration.
		if w.now().Sub(lastCheck) > w.cfg.SubscriptionCheckEvery {
			lastCheck = w.now()
			fresh, err := w.settings.Get(ctx, w.tenantID)
			if err != nil {
				w.log.Error("settings refresh failed", "error", err)
			} else {
				cfg = fresh
			}
			if !subscription.IsActive(cfg, w.now()) {
				w.notifier.Notify(ctx, w.tenantID, "Your subscription has expired. The bot is stopped.")
				return
			}
			if !cfg.Enabled {
				return
			}
		}

		if err := w.cycle(ctx, cfg); err != nil {
			w.log.Error("trading cycle failed", "error", err)
			if !w.sleep(ctx, w.cfg.ErrorBackoff) {
				return
			}
			continue
		}

		if !w.sleep(ctx, w.cfg.BasePacing) {
			return
		}
	}
}

// cycle is one full pass: settle open orders, then evaluate a new entry.
// Only generic failures bubble up; taxonomy errors are absorbed with their
// own backoff so one bad call never kills the loop.
func (w *Worker) cycle(ctx context.Context, cfg model.TenantSettings) error {
	w.evaluateOrders(ctx, cfg)

	price, err := w.prices.Get(ctx, cfg.Symbol)
	if err != nil {
		w.log.Warn("current price unavailable, skipping cycle", "error", err)
		w.sleep(ctx, w.cfg.PriceRetryBackoff)
		return nil
	}
	if price <= 0 {
		w.log.Warn("non-positive price, skipping cycle", "symbol", cfg.Symbol, "price", price)
		return nil
	}

	if !w.shouldBuy(cfg, price) {
		return nil
	}
	if cfg.OrdersLimit != 0 && len(w.orders) > cfg.OrdersLimit {
		return nil
	}
	return w.placeBuy(ctx, cfg, price)
}

// shouldBuy: first entry is unconditional; afterwards the price must have
// fallen fallPercent below the last fill.
func (w *Worker) shouldBuy(cfg model.TenantSettings, price float64) bool {
	if w.lastBuyPrice <= 0 {
		return true
	}
	drop := (w.lastBuyPrice - price) / w.lastBuyPrice * 100
	return drop >= cfg.FallPercent
}

func (w *Worker) evaluateOrders(ctx context.Context, cfg model.TenantSettings) {
	for _, order := range append([]model.OpenOrder(nil), w.orders...) {
		info, err := w.client.FetchOrder(ctx, order.ID, cfg.Symbol)
		if err != nil {
			switch {
			case errors.Is(err, exchange.ErrOrderNotFound):
				// The exchange no longer knows this order; treat as lost.
				w.log.Warn("order not found on exchange, dropping", "order", order.ID)
				w.notifier.Notify(ctx, w.tenantID, fmt.Sprintf("Order %s not found, removed", order.ID))
				w.removeOrder(order.ID)
				w.resetNotice()
			case errors.Is(err, exchange.ErrRateLimited):
				w.log.Warn("rate limited while checking orders, backing off",
					"backoff", w.cfg.RateLimitBackoff)
				w.sleep(ctx, w.cfg.RateLimitBackoff)
				return // suspend the whole pass; retry this order next time
			case errors.Is(err, exchange.ErrNetwork):
				w.log.Warn("network error checking order, retrying next pass", "order", order.ID)
			default:
				w.log.Error("order lookup failed", "order", order.ID, "error", err)
				if w.now().Sub(order.PlacedAt) > w.cfg.OrderAbandonAfter {
					w.log.Warn("order unresolved beyond abandon window, dropping", "order", order.ID)
					w.removeOrder(order.ID)
				}
			}
			continue
		}

		switch info.Status {
		case exchange.StatusClosed:
			w.settleOrder(ctx, cfg, order, info)
		case exchange.StatusCanceled:
			w.log.Info("order canceled on exchange", "order", order.ID)
			w.notifier.Notify(ctx, w.tenantID, fmt.Sprintf("Order %s was canceled", order.ID))
			w.removeOrder(order.ID)
			w.resetNotice()
		}
	}
}

// settleOrder books profit for a filled sell and re-arms entry evaluation.
func (w *Worker) settleOrder(ctx context.Context, cfg model.TenantSettings, order model.OpenOrder, info *exchange.Order) {
	sellPrice := info.Price
	amount := info.Amount
	if sellPrice <= 0 || amount <= 0 {
		w.log.Error("fill data unusable for profit calculation, dropping order",
			"order", order.ID, "sell_price", sellPrice, "amount", amount)
		w.removeOrder(order.ID)
		return
	}

	profit := computeProfit(order.BuyPrice, sellPrice, amount, order.BuyFee, info.Fee)
	rec := model.ProfitRecord{
		TenantID:  w.tenantID,
		Profit:    profit,
		Timestamp: w.now(),
		Symbol:    cfg.Symbol,
		BuyPrice:  order.BuyPrice,
		SellPrice: sellPrice,
	}
	if err := w.ledger.AppendProfit(ctx, rec); err != nil {
		w.log.Error("recording profit failed", "order", order.ID, "error", err)
	}
	metrics.ProfitTotal.WithLabelValues(cfg.Symbol).Add(profit)

	w.removeOrder(order.ID)
	w.notifier.Notify(ctx, w.tenantID, fmt.Sprintf(
		"Order %s filled at %.6f\nProfit: %.6f USDT", order.ID, sellPrice, profit))
	w.resetNotice()

	if cfg.CooldownSeconds > 0 {
		// Blocking by design: this worker pauses, others keep trading.
		w.sleep(ctx, time.Duration(cfg.CooldownSeconds)*time.Second)
	}
	w.lastBuyPrice = 0
}

// computeProfit = (sell - buy) * amount - buyFee - sellFee, rounded to 6dp.
func computeProfit(buy, sell, amount, buyFee, sellFee float64) float64 {
	p := decimal.NewFromFloat(sell).
		Sub(decimal.NewFromFloat(buy)).
		Mul(decimal.NewFromFloat(amount)).
		Sub(decimal.NewFromFloat(buyFee)).
		Sub(decimal.NewFromFloat(sellFee)).
		Round(6)
	f, _ := p.Float64()
	return f
}

// placeBuy checks the balance, market-buys, then parks the filled amount in a
// limit sell risePercent above the fill. The buy/sell pair always completes
// within one call; the loop cannot exit between the two legs.
func (w *Worker) placeBuy(ctx context.Context, cfg model.TenantSettings, price float64) error {
	free := 0.0
	if bal, err := w.client.FetchBalance(ctx); err != nil {
		w.log.Error("balance fetch failed", "error", err)
	} else {
		free = bal.Free[cfg.QuoteAsset()]
	}
	if free < cfg.Amount {
		w.notifyThrottled(ctx, "Insufficient funds for the operation")
		w.sleep(ctx, w.cfg.FundsBackoff)
		return nil
	}

	tradeAmount := cfg.Amount / price
	buy, err := w.client.CreateMarketBuyOrder(ctx, cfg.Symbol, tradeAmount)
	if errors.Is(err, exchange.ErrInsufficientFunds) {
		w.notifier.Notify(ctx, w.tenantID, "Insufficient funds for the operation")
		w.resetNotice()
		return nil
	}
	if err != nil {
		return fmt.Errorf("market buy: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(cfg.Symbol, "buy").Inc()

	fill, err := w.client.FetchOrder(ctx, buy.ID, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch buy fill: %w", err)
	}
	if fill.Average <= 0 || fill.Amount <= 0 {
		w.log.Error("buy fill missing average or amount, skipping cycle", "order", buy.ID)
		return nil
	}

	w.lastBuyPrice = fill.Average
	sellPrice := fill.Average * (1 + cfg.RisePercent/100)
	sell, err := w.client.CreateLimitSellOrder(ctx, cfg.Symbol, fill.Amount, sellPrice)
	if errors.Is(err, exchange.ErrInsufficientFunds) {
		w.notifier.Notify(ctx, w.tenantID, "Insufficient funds for the operation")
		w.resetNotice()
		return nil
	}
	if err != nil {
		return fmt.Errorf("limit sell: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(cfg.Symbol, "sell").Inc()

	w.orders = append(w.orders, model.OpenOrder{
		ID:        sell.ID,
		Amount:    sell.Amount,
		SellPrice: sellPrice,
		BuyPrice:  fill.Average,
		BuyFee:    fill.Fee,
		PlacedAt:  w.now(),
	})
	w.notifier.Notify(ctx, w.tenantID, fmt.Sprintf(
		"Bought %.6f %s at %.6f\nPlaced sell order at %.6f",
		tradeAmount, cfg.Symbol, price, sellPrice))
	w.resetNotice()
	return nil
}

func (w *Worker) removeOrder(id string) {
	for i, o := range w.orders {
		if o.ID == id {
			w.orders = append(w.orders[:i], w.orders[i+1:]...)
			return
		}
	}
}

// notifyThrottled suppresses a repeat of the identical message until
// resetNotice re-arms it.
func (w *Worker) notifyThrottled(ctx context.Context, text string) {
	if w.lastNotice == text {
		return
	}
	w.notifier.Notify(ctx, w.tenantID, text)
	w.lastNotice = text
}

func (w *Worker) resetNotice() {
	w.lastNotice = ""
}
