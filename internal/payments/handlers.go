package payments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dealerdesk/marketplace/internal/logging"
)

// maxWebhookBody caps webhook payloads. Razorpay events are small; a
// larger body is not a legitimate delivery.
const maxWebhookBody = 256 * 1024

// Handler provides HTTP endpoints for billing and webhook ingestion.
type Handler struct {
	service       *Service
	webhookSecret string
	keySecret     string
}

// NewHandler creates a new payments handler.
func NewHandler(service *Service, webhookSecret, keySecret string) *Handler {
	return &Handler{
		service:       service,
		webhookSecret: webhookSecret,
		keySecret:     keySecret,
	}
}

// RegisterWebhookRoutes sets up the unauthenticated gateway callback.
// Authenticity comes from the HMAC signature, not an API key.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/razorpay", h.RazorpayWebhook)
}

// RegisterDealerRoutes sets up routes that require dealer authentication.
func (h *Handler) RegisterDealerRoutes(r *gin.RouterGroup) {
	r.POST("/billing/order", h.CreateOrder)
	r.POST("/billing/verify", h.VerifyPayment)
	r.GET("/billing/orders", h.ListOrders)
}

// RazorpayWebhook handles POST /api/webhooks/razorpay
//
// The raw body is verified against X-Razorpay-Signature before any
// parsing. Anything unverifiable is a 400; events we do not act on are
// acknowledged with 200 so the gateway stops retrying them.
func (h *Handler) RazorpayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Razorpay-Signature")
	if !Verify(body, signature, h.webhookSecret) {
		SignatureFailuresTotal.Inc()
		logging.L(c.Request.Context()).Warn("webhook signature rejected",
			"remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logging.L(c.Request.Context()).Warn("webhook payload unparseable",
			"error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	WebhookEventsTotal.WithLabelValues(event.Event).Inc()

	if event.Event != EventPaymentCaptured && event.Event != EventOrderPaid {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	settled, err := h.service.SettleWebhook(c.Request.Context(), &event.Payload.Payment.Entity)
	if err != nil {
		logging.L(c.Request.Context()).Error("webhook settlement failed",
			"order_id", event.Payload.Payment.Entity.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit update failed"})
		return
	}
	if !settled {
		// Verified but missing dealer/credit notes; nothing to do.
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "no credit metadata"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createOrderRequest struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

// CreateOrder handles POST /api/billing/order
func (h *Handler) CreateOrder(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "quantity must be a positive integer",
		})
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), dealerID, req.Quantity)
	if err != nil {
		if errors.Is(err, ErrBelowMinimum) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "below_minimum",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "order_failed",
			"message": "failed to create payment order",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"orderId":    order.ID,
		"amount":     order.TotalAmount,
		"baseAmount": order.BaseAmount,
		"gstAmount":  order.GSTAmount,
		"currency":   order.Currency,
		"keyId":      h.service.KeyID(),
	})
}

type verifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpayOrderId" binding:"required"`
	RazorpayPaymentID string `json:"razorpayPaymentId" binding:"required"`
	RazorpaySignature string `json:"razorpaySignature" binding:"required"`
}

// VerifyPayment handles POST /api/billing/verify
func (h *Handler) VerifyPayment(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "razorpayOrderId, razorpayPaymentId and razorpaySignature are required",
		})
		return
	}

	balance, err := h.service.SettleCheckout(c.Request.Context(), dealerID,
		req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature, h.keySecret)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_signature",
				"message": err.Error(),
			})
		case errors.Is(err, ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "order not found",
			})
		case errors.Is(err, ErrWrongDealer):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "payment verification failed",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"newBalance": balance,
	})
}

// ListOrders handles GET /api/billing/orders
func (h *Handler) ListOrders(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	orders, err := h.service.Orders(c.Request.Context(), dealerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list orders",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}
