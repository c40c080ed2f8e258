package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dealerdesk/marketplace/internal/ledger"
	"github.com/dealerdesk/marketplace/internal/logging"
)

const (
	testWebhookSecret = "whsec_test"
	testKeySecret     = "rzp_test_secret"
)

func newTestHandler() (*Handler, *Service, *ledger.Engine) {
	engine := ledger.NewEngine(ledger.NewMemoryStore())
	service := NewService(NewMemoryStore(), LocalGateway{}, engine, Pricing{
		LeadUnlockPrice:  1,
		MinLeadsPurchase: 100,
		GSTRatePercent:   18,
	}, "rzp_test_key")
	return NewHandler(service, testWebhookSecret, testKeySecret), service, engine
}

func setupWebhookRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterWebhookRoutes(r.Group("/api"))
	return r
}

func setupDealerRouter(h *Handler, dealerID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/api")
	grp.Use(func(c *gin.Context) { c.Set("dealerID", dealerID) })
	h.RegisterDealerRoutes(grp)
	return r
}

func capturedEvent(event, orderID, dealerID string, credits int64) []byte {
	body, _ := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       "pay_123",
					"order_id": orderID,
					"amount":   credits * 100,
					"notes": map[string]any{
						"dealer_id": dealerID,
						"credits":   fmt.Sprintf("%d", credits),
					},
				},
			},
		},
	})
	return body
}

func postWebhook(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Razorpay-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_PaymentCaptured(t *testing.T) {
	h, _, engine := newTestHandler()
	r := setupWebhookRouter(h)

	body := capturedEvent("payment.captured", "order_wh1", "dlr_1", 100)
	w := postWebhook(r, body, sign(body, testWebhookSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	bal, _ := engine.Balance(context.Background(), "dlr_1")
	if bal != 100 {
		t.Errorf("Expected balance 100 after webhook, got %d", bal)
	}
}

func TestWebhook_ReplayDelivery(t *testing.T) {
	h, _, engine := newTestHandler()
	r := setupWebhookRouter(h)

	body := capturedEvent("payment.captured", "order_wh1", "dlr_1", 100)
	sig := sign(body, testWebhookSecret)

	// Gateways redeliver; same order must credit exactly once.
	for i := 0; i < 3; i++ {
		if w := postWebhook(r, body, sig); w.Code != http.StatusOK {
			t.Fatalf("Delivery %d: expected 200, got %d", i, w.Code)
		}
	}

	bal, _ := engine.Balance(context.Background(), "dlr_1")
	if bal != 100 {
		t.Errorf("Expected balance 100 after replays, got %d", bal)
	}
}

func TestWebhook_OrderPaidEvent(t *testing.T) {
	h, _, engine := newTestHandler()
	r := setupWebhookRouter(h)

	body := capturedEvent("order.paid", "order_wh2", "dlr_2", 250)
	if w := postWebhook(r, body, sign(body, testWebhookSecret)); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	bal, _ := engine.Balance(context.Background(), "dlr_2")
	if bal != 250 {
		t.Errorf("Expected balance 250, got %d", bal)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	h, _, engine := newTestHandler()
	r := setupWebhookRouter(h)

	body := capturedEvent("payment.captured", "order_wh1", "dlr_1", 100)

	if w := postWebhook(r, body, sign(body, "wrong_secret")); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for wrong secret, got %d", w.Code)
	}
	if w := postWebhook(r, body, ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing signature, got %d", w.Code)
	}

	bal, _ := engine.Balance(context.Background(), "dlr_1")
	if bal != 0 {
		t.Errorf("Expected no credit from rejected webhooks, got %d", bal)
	}
}

func TestWebhook_MalformedBody(t *testing.T) {
	h, _, engine := newTestHandler()
	r := setupWebhookRouter(h)

	// Correctly signed but not parseable as JSON.
	body := []byte(`{"event": "payment.captured", "payload": {`)
	w := postWebhook(r, body, sign(body, testWebhookSecret))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for malformed body, got %d: %s", w.Code, w.Body.String())
	}

	bal, _ := engine.Balance(context.Background(), "dlr_1")
	if bal != 0 {
		t.Errorf("Expected no credit from malformed webhook, got %d", bal)
	}
}

func TestWebhook_RejectionsLogDistinctly(t *testing.T) {
	h, _, _ := newTestHandler()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), logger))
		c.Next()
	})
	h.RegisterWebhookRoutes(r.Group("/api"))

	// Both rejections answer an identical 400; only the logs tell them apart.
	body := capturedEvent("payment.captured", "order_wh1", "dlr_1", 100)
	if w := postWebhook(r, body, sign(body, "wrong_secret")); w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for bad signature, got %d", w.Code)
	}
	if !strings.Contains(logs.String(), "webhook signature rejected") {
		t.Errorf("Expected signature rejection log, got %s", logs.String())
	}

	logs.Reset()
	broken := []byte(`{"event":`)
	if w := postWebhook(r, broken, sign(broken, testWebhookSecret)); w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for malformed body, got %d", w.Code)
	}
	if !strings.Contains(logs.String(), "webhook payload unparseable") {
		t.Errorf("Expected malformed payload log, got %s", logs.String())
	}
	if strings.Contains(logs.String(), "webhook signature rejected") {
		t.Errorf("Expected no signature rejection log for parse failure, got %s", logs.String())
	}
}

func TestWebhook_IgnoredEvent(t *testing.T) {
	h, _, engine := newTestHandler()
	r := setupWebhookRouter(h)

	body := capturedEvent("payment.failed", "order_wh1", "dlr_1", 100)
	w := postWebhook(r, body, sign(body, testWebhookSecret))

	// Acknowledged so the gateway stops retrying, but no credit.
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for ignored event, got %d", w.Code)
	}
	bal, _ := engine.Balance(context.Background(), "dlr_1")
	if bal != 0 {
		t.Errorf("Expected no credit for ignored event, got %d", bal)
	}
}

func TestWebhook_MissingNotes(t *testing.T) {
	h, _, _ := newTestHandler()
	r := setupWebhookRouter(h)

	body, _ := json.Marshal(map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{"id": "pay_1", "order_id": "order_x", "amount": 100},
			},
		},
	})
	w := postWebhook(r, body, sign(body, testWebhookSecret))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for event without notes, got %d", w.Code)
	}
}

func TestCreateOrder(t *testing.T) {
	h, _, _ := newTestHandler()
	r := setupDealerRouter(h, "dlr_1")

	body, _ := json.Marshal(gin.H{"quantity": 200})
	req := httptest.NewRequest(http.MethodPost, "/api/billing/order", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		OrderID    string `json:"orderId"`
		Amount     int64  `json:"amount"`
		BaseAmount int64  `json:"baseAmount"`
		GSTAmount  int64  `json:"gstAmount"`
		KeyID      string `json:"keyId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	// 200 credits at 1 rupee, 18% GST
	if resp.BaseAmount != 200 || resp.GSTAmount != 36 || resp.Amount != 236 {
		t.Errorf("Unexpected amounts: %+v", resp)
	}
	if resp.OrderID == "" || resp.KeyID != "rzp_test_key" {
		t.Errorf("Unexpected order id or key: %+v", resp)
	}
}

func TestCreateOrder_BelowMinimum(t *testing.T) {
	h, _, _ := newTestHandler()
	r := setupDealerRouter(h, "dlr_1")

	body, _ := json.Marshal(gin.H{"quantity": 50})
	req := httptest.NewRequest(http.MethodPost, "/api/billing/order", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 below minimum, got %d", w.Code)
	}
}

func TestVerifyPayment(t *testing.T) {
	h, service, engine := newTestHandler()
	r := setupDealerRouter(h, "dlr_1")
	ctx := context.Background()

	order, err := service.CreateOrder(ctx, "dlr_1", 150)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	sig := sign([]byte(order.ID+"|pay_ok1"), testKeySecret)
	body, _ := json.Marshal(gin.H{
		"razorpayOrderId":   order.ID,
		"razorpayPaymentId": "pay_ok1",
		"razorpaySignature": sig,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/billing/verify", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 150 {
		t.Errorf("Expected balance 150 after verify, got %d", bal)
	}

	// Verify again: idempotent, still 150.
	req = httptest.NewRequest(http.MethodPost, "/api/billing/verify", bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on re-verify, got %d", w.Code)
	}
	bal, _ = engine.Balance(ctx, "dlr_1")
	if bal != 150 {
		t.Errorf("Expected balance 150 after re-verify, got %d", bal)
	}
}

func TestVerifyPayment_BadSignature(t *testing.T) {
	h, service, engine := newTestHandler()
	r := setupDealerRouter(h, "dlr_1")
	ctx := context.Background()

	order, _ := service.CreateOrder(ctx, "dlr_1", 150)

	body, _ := json.Marshal(gin.H{
		"razorpayOrderId":   order.ID,
		"razorpayPaymentId": "pay_ok1",
		"razorpaySignature": sign([]byte(order.ID+"|pay_ok1"), "wrong_secret"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/billing/verify", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad signature, got %d", w.Code)
	}
	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 0 {
		t.Errorf("Expected no credit on bad signature, got %d", bal)
	}
}

func TestVerifyPayment_WrongDealer(t *testing.T) {
	h, service, _ := newTestHandler()
	ctx := context.Background()

	order, _ := service.CreateOrder(ctx, "dlr_1", 150)

	// dlr_2 presents a valid signature for dlr_1's order.
	r := setupDealerRouter(h, "dlr_2")
	body, _ := json.Marshal(gin.H{
		"razorpayOrderId":   order.ID,
		"razorpayPaymentId": "pay_ok1",
		"razorpaySignature": sign([]byte(order.ID+"|pay_ok1"), testKeySecret),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/billing/verify", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for wrong dealer, got %d", w.Code)
	}
}

func TestWebhookAndCheckoutShareIdempotencyKey(t *testing.T) {
	h, service, engine := newTestHandler()
	ctx := context.Background()

	order, _ := service.CreateOrder(ctx, "dlr_1", 150)

	// Checkout verify settles first...
	sig := sign([]byte(order.ID+"|pay_ok1"), testKeySecret)
	if _, err := service.SettleCheckout(ctx, "dlr_1", order.ID, "pay_ok1", sig, testKeySecret); err != nil {
		t.Fatalf("SettleCheckout failed: %v", err)
	}

	// ...then the webhook for the same order arrives.
	r := setupWebhookRouter(h)
	body := capturedEvent("payment.captured", order.ID, "dlr_1", 150)
	if w := postWebhook(r, body, sign(body, testWebhookSecret)); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 150 {
		t.Errorf("Expected single credit of 150 across both paths, got %d", bal)
	}
}
