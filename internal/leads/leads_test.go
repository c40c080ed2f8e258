package leads

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dealerdesk/marketplace/internal/ledger"
)

func newTestService(unlockCost int64) (*Service, *ledger.Engine) {
	engine := ledger.NewEngine(ledger.NewMemoryStore())
	return NewService(NewMemoryStore(), engine, unlockCost), engine
}

func seedLead(t *testing.T, s *Service) *Lead {
	t.Helper()
	lead, err := s.CreateInquiry(context.Background(), &Lead{
		ListingID:  "lst_abc123def",
		BuyerName:  "Asha Patel",
		BuyerPhone: "9876543210",
		BuyerEmail: "asha@example.com",
		Message:    "Is this still available?",
		City:       "Pune",
	})
	if err != nil {
		t.Fatalf("CreateInquiry failed: %v", err)
	}
	return lead
}

func TestService_CreateInquiry(t *testing.T) {
	s, _ := newTestService(5)
	lead := seedLead(t, s)

	if lead.ID == "" {
		t.Error("Expected lead ID to be assigned")
	}
	if lead.Status != StatusNew {
		t.Errorf("Expected status %q, got %q", StatusNew, lead.Status)
	}
}

func TestService_DuplicateInquiry(t *testing.T) {
	s, _ := newTestService(5)
	seedLead(t, s)

	_, err := s.CreateInquiry(context.Background(), &Lead{
		ListingID:  "lst_abc123def",
		BuyerName:  "Asha Patel",
		BuyerPhone: "9876543210",
	})
	if err != ErrDuplicateInquiry {
		t.Errorf("Expected ErrDuplicateInquiry, got %v", err)
	}
}

func TestService_GetMasksContact(t *testing.T) {
	s, _ := newTestService(5)
	lead := seedLead(t, s)
	ctx := context.Background()

	got, err := s.Get(ctx, "dlr_1", lead.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BuyerPhone == "9876543210" {
		t.Error("Expected phone to be masked before unlock")
	}
	if got.BuyerPhone != "98XXXXXX10" {
		t.Errorf("Expected masked phone 98XXXXXX10, got %q", got.BuyerPhone)
	}
	if got.BuyerEmail != "a***@example.com" {
		t.Errorf("Expected masked email, got %q", got.BuyerEmail)
	}
}

func TestService_Unlock(t *testing.T) {
	s, engine := newTestService(5)
	lead := seedLead(t, s)
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 20, "order_1")

	result, err := s.Unlock(ctx, "dlr_1", lead.ID)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if result.AlreadyUnlocked {
		t.Error("Expected first unlock to not be a replay")
	}
	if result.CostCredits != 5 {
		t.Errorf("Expected cost 5, got %d", result.CostCredits)
	}
	if result.CreditsRemaining != 15 {
		t.Errorf("Expected 15 credits remaining, got %d", result.CreditsRemaining)
	}
	if result.Lead.BuyerPhone != "9876543210" {
		t.Errorf("Expected full phone after unlock, got %q", result.Lead.BuyerPhone)
	}

	// Get now returns full contact for this dealer.
	got, _ := s.Get(ctx, "dlr_1", lead.ID)
	if got.BuyerPhone != "9876543210" {
		t.Errorf("Expected full phone on Get after unlock, got %q", got.BuyerPhone)
	}

	// Other dealers still see the masked view.
	other, _ := s.Get(ctx, "dlr_2", lead.ID)
	if other.BuyerPhone == "9876543210" {
		t.Error("Expected other dealers to still see a masked phone")
	}
}

func TestService_UnlockPerLeadCost(t *testing.T) {
	s, engine := newTestService(5)
	ctx := context.Background()

	lead, err := s.CreateInquiry(ctx, &Lead{
		ListingID:  "lst_premium01",
		BuyerName:  "Ravi Kumar",
		BuyerPhone: "9812345678",
		UnlockCost: 12,
	})
	if err != nil {
		t.Fatalf("CreateInquiry failed: %v", err)
	}

	engine.Credit(ctx, "dlr_1", 20, "order_1")

	result, err := s.Unlock(ctx, "dlr_1", lead.ID)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if result.CostCredits != 12 {
		t.Errorf("Expected per-lead cost 12, got %d", result.CostCredits)
	}
	if result.CreditsRemaining != 8 {
		t.Errorf("Expected 8 credits remaining, got %d", result.CreditsRemaining)
	}
}

func TestService_UnlockInsufficientCredits(t *testing.T) {
	s, engine := newTestService(5)
	lead := seedLead(t, s)
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 3, "order_1")

	_, err := s.Unlock(ctx, "dlr_1", lead.ID)
	if err != ledger.ErrInsufficientCredits {
		t.Fatalf("Expected ErrInsufficientCredits, got %v", err)
	}

	// Nothing recorded, balance untouched.
	unlocked, _ := s.IsUnlocked(ctx, "dlr_1", lead.ID)
	if unlocked {
		t.Error("Expected lead to remain locked after failed unlock")
	}
	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 3 {
		t.Errorf("Expected balance 3, got %d", bal)
	}
}

func TestService_UnlockNotFound(t *testing.T) {
	s, _ := newTestService(5)

	_, err := s.Unlock(context.Background(), "dlr_1", "lead_missing01")
	if err != ErrLeadNotFound {
		t.Errorf("Expected ErrLeadNotFound, got %v", err)
	}
}

func TestService_UnlockReplay(t *testing.T) {
	s, engine := newTestService(5)
	lead := seedLead(t, s)
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 20, "order_1")

	if _, err := s.Unlock(ctx, "dlr_1", lead.ID); err != nil {
		t.Fatalf("First unlock failed: %v", err)
	}

	replay, err := s.Unlock(ctx, "dlr_1", lead.ID)
	if err != nil {
		t.Fatalf("Replayed unlock failed: %v", err)
	}
	if !replay.AlreadyUnlocked {
		t.Error("Expected replay to report already unlocked")
	}
	if replay.CostCredits != 0 {
		t.Errorf("Expected replay cost 0, got %d", replay.CostCredits)
	}

	// Charged exactly once.
	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 15 {
		t.Errorf("Expected balance 15 after replay, got %d", bal)
	}
}

func TestService_ConcurrentUnlocks(t *testing.T) {
	s, engine := newTestService(5)
	lead := seedLead(t, s)
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 100, "order_1")

	// Concurrent unlocks of the same lead by the same dealer charge once:
	// the debit idempotency key is the (dealer, lead) pair.
	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Unlock(ctx, "dlr_1", lead.ID); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("Expected no unlock failures, got %d", failures.Load())
	}
	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 95 {
		t.Errorf("Expected balance 95 after concurrent unlocks, got %d", bal)
	}
}

func TestService_ListMasksContact(t *testing.T) {
	s, _ := newTestService(5)
	seedLead(t, s)

	leads, total, err := s.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || len(leads) != 1 {
		t.Fatalf("Expected 1 lead, got total=%d len=%d", total, len(leads))
	}
	if leads[0].BuyerPhone == "9876543210" {
		t.Error("Expected listed leads to be masked")
	}
}

func TestService_Unlocks(t *testing.T) {
	s, engine := newTestService(5)
	lead := seedLead(t, s)
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 20, "order_1")
	s.Unlock(ctx, "dlr_1", lead.ID)

	unlocks, err := s.Unlocks(ctx, "dlr_1", 10)
	if err != nil {
		t.Fatalf("Unlocks failed: %v", err)
	}
	if len(unlocks) != 1 {
		t.Fatalf("Expected 1 unlock, got %d", len(unlocks))
	}
	if unlocks[0].LeadID != lead.ID || unlocks[0].CostCredits != 5 {
		t.Errorf("Unexpected unlock record: %+v", unlocks[0])
	}
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"9876543210", "98XXXXXX10"},
		{"+919876543210", "+9XXXXXXXXX10"},
		{"123", "XXXX"},
		{"", "XXXX"},
	}

	for _, tc := range tests {
		if got := maskPhone(tc.input); got != tc.expected {
			t.Errorf("maskPhone(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"asha@example.com", "a***@example.com"},
		{"a@b.com", "***"},
		{"", ""},
		{"no-at-sign", "***"},
	}

	for _, tc := range tests {
		if got := maskEmail(tc.input); got != tc.expected {
			t.Errorf("maskEmail(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
