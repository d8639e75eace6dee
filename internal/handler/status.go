package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sscvg8/scalperbot/internal/pricecache"
	"github.com/sscvg8/scalperbot/internal/supervisor"
	"github.com/sscvg8/scalperbot/internal/walletpool"
)

type StatusHandler struct {
	sup     *supervisor.Supervisor
	prices  *pricecache.Cache
	wallets *walletpool.Pool
}

func NewStatusHandler(sup *supervisor.Supervisor, prices *pricecache.Cache, wallets *walletpool.Pool) *StatusHandler {
	return &StatusHandler{sup: sup, prices: prices, wallets: wallets}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StatusHandler) Status(c *gin.Context) {
	out := gin.H{
		"workers":        h.sup.Snapshot(),
		"cached_symbols": h.prices.Len(),
	}
	// The wallet pool is absent when no payment addresses are configured.
	if h.wallets != nil {
		reservations := h.wallets.Snapshot()
		out["wallet_pool_size"] = h.wallets.Size()
		out["wallets_reserved"] = len(reservations)
		out["reservations"] = reservations
	}
	c.JSON(http.StatusOK, out)
}
