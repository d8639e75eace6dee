package model

import (
	"strings"
	"time"
)

// ExchangeCreds are the tenant's trading credentials on the exchange.
type ExchangeCreds struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TenantSettings is the per-tenant trading configuration. The settings store
// owns persistence; workers hold a read/refresh handle and only ever write
// back the Enabled flag.
type TenantSettings struct {
	TenantID          string        `db:"tenant_id" json:"tenant_id"`
	Symbol            string        `db:"symbol" json:"symbol"`
	Amount            float64       `db:"amount" json:"amount"`
	FallPercent       float64       `db:"fall_percent" json:"fall_percent"`
	RisePercent       float64       `db:"rise_percent" json:"rise_percent"`
	CooldownSeconds   int           `db:"cooldown_seconds" json:"cooldown_seconds"`
	OrdersLimit       int           `db:"orders_limit" json:"orders_limit"` // 0 = unlimited
	SubscriptionPrice float64       `db:"subscription_price" json:"subscription_price"`
	SubscriptionEnd   time.Time     `db:"-" json:"subscription_end"`
	Enabled           bool          `db:"enabled" json:"enabled"`
	Creds             ExchangeCreds `db:"-" json:"creds"`
}

// QuoteAsset extracts the quote currency from a "BASE/QUOTE" symbol.
// Balance checks before a buy are done against this asset.
func (s TenantSettings) QuoteAsset() string {
	if i := strings.LastIndex(s.Symbol, "/"); i >= 0 {
		return s.Symbol[i+1:]
	}
	return "USDT"
}

// OpenOrder tracks a resting limit sell paired with the market buy that
// produced it. Owned exclusively by one worker, never shared.
type OpenOrder struct {
	ID        string    `json:"id"` // exchange order id of the limit sell
	Amount    float64   `json:"amount"`
	SellPrice float64   `json:"sell_price"`
	BuyPrice  float64   `json:"buy_price"`
	BuyFee    float64   `json:"buy_fee"`
	PlacedAt  time.Time `json:"placed_at"`
}

// ProfitRecord is an append-only ledger entry for a completed round trip.
type ProfitRecord struct {
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Profit    float64   `db:"profit" json:"profit"`
	Timestamp time.Time `db:"-" json:"timestamp"`
	Symbol    string    `db:"symbol" json:"symbol"`
	BuyPrice  float64   `db:"buy_price" json:"buy_price"`
	SellPrice float64   `db:"sell_price" json:"sell_price"`
}

// WalletReservation is an exclusive, time-boxed hold on a payment address.
type WalletReservation struct {
	Address           string    `json:"address"`
	TenantID          string    `json:"tenant_id"`
	ReservedAt        time.Time `json:"reserved_at"`
	AmountDue         float64   `json:"amount_due"`
	Checking          bool      `json:"checking"`
	CheckingStartedAt time.Time `json:"checking_started_at,omitempty"`
}
