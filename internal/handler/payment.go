package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sscvg8/scalperbot/internal/payment"
	"github.com/sscvg8/scalperbot/internal/walletpool"
)

type PaymentHandler struct {
	svc *payment.Service
}

func NewPaymentHandler(svc *payment.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// Begin reserves a deposit wallet for the tenant and returns the address and
// amount due. Calling again while the hold is live returns the same address.
func (h *PaymentHandler) Begin(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	res, err := h.svc.Begin(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, walletpool.ErrNoWalletAvailable) {
			c.JSON(http.StatusConflict, gin.H{"error": "all payment wallets are busy, try again later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Confirm kicks off the background deposit check; the result arrives through
// the tenant's notification channel.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	res, err := h.svc.Confirm(c.Request.Context(), id)
	switch {
	case errors.Is(err, payment.ErrNoReservation):
		c.JSON(http.StatusNotFound, gin.H{"error": "no wallet reserved, request one first"})
	case errors.Is(err, payment.ErrCheckInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "verification already running"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, res)
	}
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	if err := h.svc.Cancel(id); err != nil {
		if errors.Is(err, payment.ErrNoReservation) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no wallet reserved"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}
