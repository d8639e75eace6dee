package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scalper_orders_total",
		Help: "Orders placed by trading workers",
	}, []string{"symbol", "side"})

	ProfitTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scalper_profit_usdt_total",
		Help: "Accumulated realized profit in quote currency, may go negative",
	}, []string{"symbol"})

	WorkersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scalper_workers_live",
		Help: "Number of live trading workers",
	})

	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scalper_worker_restarts_total",
		Help: "Worker restarts performed by the supervisor",
	})

	PriceCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scalper_price_cache_symbols",
		Help: "Symbols currently held in the price cache",
	})

	PriceFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scalper_price_fetch_errors_total",
		Help: "Failed ticker fetches by symbol",
	}, []string{"symbol"})

	WalletsReserved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scalper_wallets_reserved",
		Help: "Payment wallets currently under reservation",
	})
)
