// Package exchange defines the boundary to the upstream exchange. Connecting
// to a real venue is out of scope for this repo; callers program against the
// Client interface and main wires a concrete driver.
package exchange

import (
	"context"
	"errors"
)

// Error kinds the trading loop distinguishes. Drivers wrap their transport
// failures so errors.Is matches; anything else is a generic failure.
var (
	ErrOrderNotFound     = errors.New("exchange: order not found")
	ErrRateLimited       = errors.New("exchange: rate limit exceeded")
	ErrNetwork           = errors.New("exchange: network error")
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
)

type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
)

// Order is the exchange-reported view of an order.
type Order struct {
	ID      string
	Status  OrderStatus
	Price   float64 // limit price, or execution price once closed
	Amount  float64 // filled amount
	Average float64 // average fill price of a market order
	Fee     float64
}

// Balance holds free amounts per asset.
type Balance struct {
	Free map[string]float64
}

type Client interface {
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	FetchOrder(ctx context.Context, id, symbol string) (*Order, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (*Order, error)
	CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error)
	FetchBalance(ctx context.Context) (*Balance, error)
}

// Factory builds a client from a credential pair. One client per tenant plus
// a dedicated market-data client for the price refresher.
type Factory interface {
	NewClient(apiKey, apiSecret string) (Client, error)
}
