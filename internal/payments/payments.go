// Package payments handles the Razorpay integration: order creation,
// checkout verification, and webhook ingestion.
//
// Credits land on the ledger through one of two paths, both keyed by the
// gateway order ID, so a payment that is confirmed by the checkout
// callback AND the webhook still credits exactly once.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrBelowMinimum     = errors.New("quantity below minimum purchase")
	ErrWrongDealer      = errors.New("order belongs to a different dealer")
)

// Order statuses
const (
	OrderStatusCreated = "created"
	OrderStatusPaid    = "paid"
)

// Webhook event names we act on
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
)

// Order is a credit purchase awaiting (or past) payment. Amounts are in
// rupees; the gateway sees paise.
type Order struct {
	ID          string    `json:"orderId"`
	DealerID    string    `json:"dealerId"`
	Credits     int64     `json:"credits"`
	BaseAmount  int64     `json:"baseAmount"`
	GSTAmount   int64     `json:"gstAmount"`
	TotalAmount int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Receipt     string    `json:"receipt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WebhookEvent is the envelope Razorpay posts to the webhook endpoint.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentEntity is the payment object inside a webhook payload. Amount
// is in paise. Notes carry the metadata set at order creation.
type PaymentEntity struct {
	ID      string          `json:"id"`
	OrderID string          `json:"order_id"`
	Amount  int64           `json:"amount"`
	Notes   json.RawMessage `json:"notes"`
}

// ParsedNotes extracts the dealer and credit metadata from payment notes.
// Razorpay serializes note values as strings or numbers depending on how
// the order was created, so both are accepted.
func (p *PaymentEntity) ParsedNotes() (dealerID string, credits int64) {
	if len(p.Notes) == 0 {
		return "", 0
	}
	var raw map[string]any
	if err := json.Unmarshal(p.Notes, &raw); err != nil {
		return "", 0
	}

	dealerID = noteString(raw, "dealer_id")
	if dealerID == "" {
		dealerID = noteString(raw, "dealerId")
	}
	credits = noteInt(raw, "credits")
	return dealerID, credits
}

func noteString(notes map[string]any, key string) string {
	if v, ok := notes[key].(string); ok {
		return v
	}
	return ""
}

func noteInt(notes map[string]any, key string) int64 {
	switch v := notes[key].(type) {
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case float64:
		return int64(v)
	}
	return 0
}

// Verify checks a webhook body against the X-Razorpay-Signature header:
// hex-encoded HMAC-SHA256 of the raw body under the webhook secret.
// Comparison is constant-time.
func Verify(body []byte, signature, secret string) bool {
	if len(body) == 0 || signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyCheckout checks the signature the browser checkout returns:
// HMAC-SHA256 over orderID + "|" + paymentID under the API key secret.
func VerifyCheckout(orderID, paymentID, signature, keySecret string) bool {
	if signature == "" || keySecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
