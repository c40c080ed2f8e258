package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for dealer balance and ledger history.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new ledger handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterDealerRoutes sets up routes that require dealer authentication.
func (h *Handler) RegisterDealerRoutes(r *gin.RouterGroup) {
	r.GET("/dealers/me/balance", h.GetBalance)
	r.GET("/dealers/me/ledger", h.GetLedger)
}

// RegisterAdminRoutes sets up admin-only ledger routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/dealers/:id/adjust", h.AdjustBalance)
}

// GetBalance handles GET /api/dealers/me/balance
func (h *Handler) GetBalance(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	balance, err := h.engine.Balance(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dealerId": dealerID,
		"balance":  balance,
	})
}

// GetLedger handles GET /api/dealers/me/ledger
func (h *Handler) GetLedger(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	entries, err := h.engine.History(c.Request.Context(), dealerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to read ledger",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type adjustRequest struct {
	Delta          int64  `json:"delta" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required"`
}

// AdjustBalance handles POST /api/admin/dealers/:id/adjust
//
// Positive delta credits the dealer, negative delta debits. Debits that
// would overdraw the balance are rejected with 402.
func (h *Handler) AdjustBalance(c *gin.Context) {
	dealerID := c.Param("id")

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "delta and idempotencyKey are required",
		})
		return
	}

	var (
		res ApplyResult
		err error
	)
	if req.Delta >= 0 {
		res, err = h.engine.CreditWithReason(c.Request.Context(), dealerID, req.Delta, ReasonAdminAdjustment, req.IdempotencyKey)
	} else {
		res, err = h.engine.Debit(c.Request.Context(), dealerID, -req.Delta, ReasonAdminAdjustment, req.IdempotencyKey)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "insufficient_credits",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "failed to adjust balance",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dealerId": dealerID,
		"applied":  res.Applied,
		"balance":  res.Balance,
	})
}
