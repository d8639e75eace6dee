package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sscvg8/scalperbot/internal/model"
	"github.com/sscvg8/scalperbot/internal/store"
	"github.com/sscvg8/scalperbot/internal/subscription"
	"github.com/sscvg8/scalperbot/internal/supervisor"
)

type TenantHandler struct {
	settings *store.SettingsRepo
	ledger   *store.LedgerRepo
	subs     *subscription.Service
	sup      *supervisor.Supervisor
}

func NewTenantHandler(settings *store.SettingsRepo, ledger *store.LedgerRepo,
	subs *subscription.Service, sup *supervisor.Supervisor) *TenantHandler {
	return &TenantHandler{settings: settings, ledger: ledger, subs: subs, sup: sup}
}

func (h *TenantHandler) List(c *gin.Context) {
	tenants, err := h.settings.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]*TenantPublic, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, toTenantPublic(t))
	}
	c.JSON(http.StatusOK, out)
}

func (h *TenantHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	cfg, err := h.settings.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	profit, trades, err := h.ledger.Totals(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	pub := toTenantPublic(cfg)
	pub.TotalProfit = profit
	pub.TotalTrades = trades
	c.JSON(http.StatusOK, pub)
}

// TenantUpdateRequest carries optional overrides; absent fields keep their
// stored values. Credentials are set here too, there is no separate endpoint.
type TenantUpdateRequest struct {
	Symbol          *string  `json:"symbol"`
	Amount          *float64 `json:"amount"`
	FallPercent     *float64 `json:"fall_percent"`
	RisePercent     *float64 `json:"rise_percent"`
	CooldownSeconds *int     `json:"cooldown_seconds"`
	OrdersLimit     *int     `json:"orders_limit"`
	APIKey          *string  `json:"api_key"`
	APISecret       *string  `json:"api_secret"`
}

func (h *TenantHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	var req TenantUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := h.settings.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if req.Symbol != nil {
		sym := strings.ToUpper(strings.TrimSpace(*req.Symbol))
		if !strings.Contains(sym, "/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "symbol must be BASE/QUOTE"})
			return
		}
		cfg.Symbol = sym
	}
	if req.Amount != nil {
		if *req.Amount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
			return
		}
		cfg.Amount = *req.Amount
	}
	if req.FallPercent != nil {
		if *req.FallPercent <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fall_percent must be positive"})
			return
		}
		cfg.FallPercent = *req.FallPercent
	}
	if req.RisePercent != nil {
		if *req.RisePercent <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rise_percent must be positive"})
			return
		}
		cfg.RisePercent = *req.RisePercent
	}
	if req.CooldownSeconds != nil {
		if *req.CooldownSeconds < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cooldown_seconds must not be negative"})
			return
		}
		cfg.CooldownSeconds = *req.CooldownSeconds
	}
	if req.OrdersLimit != nil {
		if *req.OrdersLimit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "orders_limit must not be negative"})
			return
		}
		cfg.OrdersLimit = *req.OrdersLimit
	}
	if req.APIKey != nil {
		cfg.Creds.APIKey = strings.TrimSpace(*req.APIKey)
	}
	if req.APISecret != nil {
		cfg.Creds.APISecret = strings.TrimSpace(*req.APISecret)
	}

	if err := h.settings.Put(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTenantPublic(cfg))
}

func (h *TenantHandler) Start(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}

	cfg, err := h.settings.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !subscription.IsActive(cfg, time.Now()) {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "subscription expired"})
		return
	}
	if err := h.sup.StartWorker(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *TenantHandler) Stop(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	if err := h.sup.StopWorker(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

// Profit reports lifetime totals, a per-symbol breakdown over the requested
// window (default 30 days) and the most recent trades.
func (h *TenantHandler) Profit(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	days := 30
	if raw := c.Query("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			days = parsed
		}
	}

	ctx := c.Request.Context()
	now := time.Now()
	summary, err := h.ledger.SummaryBetween(ctx, id, now.AddDate(0, 0, -days), now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	profit, trades, err := h.ledger.Totals(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	recent, err := h.ledger.RecentTrades(ctx, id, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":     id,
		"window_days":   days,
		"total_profit":  profit,
		"total_trades":  trades,
		"by_symbol":     summary,
		"recent_trades": recent,
	})
}

// ExtendSubscription is the manual override for support cases; normal
// extensions go through the payment flow.
func (h *TenantHandler) ExtendSubscription(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	var req struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be positive"})
		return
	}

	end, err := h.subs.Extend(c.Request.Context(), id, time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription_end": end})
}

type TenantPublic struct {
	TenantID          string    `json:"tenant_id"`
	Symbol            string    `json:"symbol"`
	Amount            float64   `json:"amount"`
	FallPercent       float64   `json:"fall_percent"`
	RisePercent       float64   `json:"rise_percent"`
	CooldownSeconds   int       `json:"cooldown_seconds"`
	OrdersLimit       int       `json:"orders_limit"`
	SubscriptionPrice float64   `json:"subscription_price"`
	SubscriptionEnd   time.Time `json:"subscription_end"`
	Active            bool      `json:"active"`
	Enabled           bool      `json:"enabled"`
	APIKey            string    `json:"api_key"`
	APISecret         string    `json:"api_secret"`
	TotalProfit       float64   `json:"total_profit,omitempty"`
	TotalTrades       int       `json:"total_trades,omitempty"`
}

func toTenantPublic(t model.TenantSettings) *TenantPublic {
	return &TenantPublic{
		TenantID:          t.TenantID,
		Symbol:            t.Symbol,
		Amount:            t.Amount,
		FallPercent:       t.FallPercent,
		RisePercent:       t.RisePercent,
		CooldownSeconds:   t.CooldownSeconds,
		OrdersLimit:       t.OrdersLimit,
		SubscriptionPrice: t.SubscriptionPrice,
		SubscriptionEnd:   t.SubscriptionEnd,
		Active:            subscription.IsActive(t, time.Now()),
		Enabled:           t.Enabled,
		APIKey:            maskSecret(t.Creds.APIKey),
		APISecret:         maskSecret(t.Creds.APISecret),
	}
}

func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
