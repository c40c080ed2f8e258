package payments

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dealerdesk/marketplace/internal/ledger"
	"github.com/dealerdesk/marketplace/internal/traces"
)

// Store persists credit purchase orders.
type Store interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	MarkPaid(ctx context.Context, id, paymentID string) error
	ListByDealer(ctx context.Context, dealerID string, limit int) ([]*Order, error)
}

// Gateway creates orders at the payment provider. The returned ID is the
// provider's order ID, which later webhook and checkout callbacks refer to.
type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (string, error)
}

// Pricing configures the credit purchase economics.
type Pricing struct {
	LeadUnlockPrice  int64 // rupees per credit
	MinLeadsPurchase int64 // minimum credits per order
	GSTRatePercent   int64
}

// Service creates purchase orders and settles them against the ledger.
type Service struct {
	store   Store
	gateway Gateway
	engine  *ledger.Engine
	pricing Pricing
	keyID   string
	notify  func(dealerID string, credits, balance int64)
}

// SetTopupNotifier installs a callback fired after a first-time credit
// settlement (replays excluded). The callback must not block.
func (s *Service) SetTopupNotifier(fn func(dealerID string, credits, balance int64)) {
	s.notify = fn
}

// NewService creates a payment service.
func NewService(store Store, gateway Gateway, engine *ledger.Engine, pricing Pricing, keyID string) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		engine:  engine,
		pricing: pricing,
		keyID:   keyID,
	}
}

// KeyID returns the public gateway key for checkout initialization.
func (s *Service) KeyID() string {
	return s.keyID
}

// CreateOrder prices a credit purchase and registers it with the gateway.
// Quantity below the configured minimum fails with ErrBelowMinimum.
func (s *Service) CreateOrder(ctx context.Context, dealerID string, quantity int64) (*Order, error) {
	if quantity < s.pricing.MinLeadsPurchase {
		return nil, fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, s.pricing.MinLeadsPurchase)
	}

	baseAmount := quantity * s.pricing.LeadUnlockPrice
	gstAmount := baseAmount * s.pricing.GSTRatePercent / 100
	totalAmount := baseAmount + gstAmount

	receipt := fmt.Sprintf("receipt_%s_%d", dealerID, time.Now().UnixMilli())
	orderID, err := s.gateway.CreateOrder(ctx, totalAmount*100, "INR", receipt, map[string]string{
		"dealer_id": dealerID,
		"credits":   strconv.FormatInt(quantity, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("gateway order creation failed: %w", err)
	}

	order := &Order{
		ID:          orderID,
		DealerID:    dealerID,
		Credits:     quantity,
		BaseAmount:  baseAmount,
		GSTAmount:   gstAmount,
		TotalAmount: totalAmount,
		Currency:    "INR",
		Status:      OrderStatusCreated,
		Receipt:     receipt,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	OrdersCreatedTotal.Inc()
	return order, nil
}

// SettleCheckout verifies a checkout callback signature and credits the
// order's dealer. The ledger key is the order ID, shared with the webhook
// path, so double confirmation cannot double-credit.
func (s *Service) SettleCheckout(ctx context.Context, dealerID, orderID, paymentID, signature, keySecret string) (int64, error) {
	ctx, span := traces.StartSpan(ctx, "payments.SettleCheckout",
		traces.DealerID(dealerID), traces.OrderID(orderID))
	defer span.End()

	if !VerifyCheckout(orderID, paymentID, signature, keySecret) {
		SignatureFailuresTotal.Inc()
		return 0, ErrInvalidSignature
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if order.DealerID != dealerID {
		return 0, ErrWrongDealer
	}

	res, err := s.engine.CreditWithReason(ctx, order.DealerID, order.Credits, ledger.ReasonCheckoutTopup, order.ID)
	if err != nil {
		return 0, err
	}
	if err := s.store.MarkPaid(ctx, order.ID, paymentID); err != nil {
		return 0, err
	}
	if res.Applied && s.notify != nil {
		s.notify(order.DealerID, order.Credits, res.Balance)
	}
	return res.Balance, nil
}

// SettleWebhook credits a dealer from a verified webhook payment entity.
// Returns false when the event carried no usable metadata.
func (s *Service) SettleWebhook(ctx context.Context, payment *PaymentEntity) (bool, error) {
	dealerID, credits := payment.ParsedNotes()
	if dealerID == "" || credits <= 0 || payment.OrderID == "" {
		return false, nil
	}

	ctx, span := traces.StartSpan(ctx, "payments.SettleWebhook",
		traces.DealerID(dealerID), traces.OrderID(payment.OrderID), traces.Credits(credits))
	defer span.End()

	res, err := s.engine.Credit(ctx, dealerID, credits, payment.OrderID)
	if err != nil {
		return false, err
	}

	// Order rows exist only for orders created through this API; webhook
	// top-ups for externally created orders have nothing to mark.
	if err := s.store.MarkPaid(ctx, payment.OrderID, payment.ID); err != nil && !errors.Is(err, ErrOrderNotFound) {
		return false, err
	}
	if res.Applied && s.notify != nil {
		s.notify(dealerID, credits, res.Balance)
	}
	return true, nil
}

// Orders returns a dealer's purchase history, newest first.
func (s *Service) Orders(ctx context.Context, dealerID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListByDealer(ctx, dealerID, limit)
}

// RazorpayGateway creates orders via the Razorpay Orders API using basic
// auth with the key ID and secret.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpayGateway creates a gateway client against the live API.
func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   "https://api.razorpay.com/v1",
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"amount":   amountPaise,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.ID == "" {
		return "", fmt.Errorf("gateway response missing order id")
	}
	return body.ID, nil
}

// LocalGateway mints order IDs without an external call. Used in
// development when gateway keys are not configured.
type LocalGateway struct{}

// NewLocalGateway creates the no-op development gateway.
func NewLocalGateway() LocalGateway {
	return LocalGateway{}
}

func (LocalGateway) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "order_" + hex.EncodeToString(b), nil
}
