package ledger

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
)

func TestEngine_Credit(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	res, err := engine.Credit(ctx, "dlr_1", 100, "order_abc")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if !res.Applied {
		t.Error("Expected first credit to be applied")
	}
	if res.Balance != 100 {
		t.Errorf("Expected balance 100, got %d", res.Balance)
	}

	bal, err := engine.Balance(ctx, "dlr_1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal != 100 {
		t.Errorf("Expected balance 100, got %d", bal)
	}
}

func TestEngine_CreditReplay(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	first, err := engine.Credit(ctx, "dlr_1", 100, "order_abc")
	if err != nil {
		t.Fatalf("First credit failed: %v", err)
	}

	// Same key again must be a no-op returning the first result.
	replay, err := engine.Credit(ctx, "dlr_1", 100, "order_abc")
	if err != nil {
		t.Fatalf("Replayed credit failed: %v", err)
	}
	if replay.Applied {
		t.Error("Expected replay to not be applied")
	}
	if replay.Balance != first.Balance {
		t.Errorf("Expected replay balance %d, got %d", first.Balance, replay.Balance)
	}

	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 100 {
		t.Errorf("Expected balance 100 after replay, got %d", bal)
	}
}

func TestEngine_ReplayReturnsBalanceAtFirstApplication(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 100, "order_1")
	engine.Credit(ctx, "dlr_1", 50, "order_2")

	// Replay of order_1 reports the balance as of its first application,
	// not the current balance.
	replay, err := engine.Credit(ctx, "dlr_1", 100, "order_1")
	if err != nil {
		t.Fatalf("Replayed credit failed: %v", err)
	}
	if replay.Balance != 100 {
		t.Errorf("Expected replay balance 100, got %d", replay.Balance)
	}

	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 150 {
		t.Errorf("Expected current balance 150, got %d", bal)
	}
}

func TestEngine_Debit(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 100, "order_abc")

	res, err := engine.Debit(ctx, "dlr_1", 30, ReasonLeadUnlock, "dlr_1:lead_1")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if !res.Applied {
		t.Error("Expected debit to be applied")
	}
	if res.Balance != 70 {
		t.Errorf("Expected balance 70, got %d", res.Balance)
	}
}

func TestEngine_DebitInsufficientCredits(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 10, "order_abc")

	_, err := engine.Debit(ctx, "dlr_1", 20, ReasonLeadUnlock, "dlr_1:lead_1")
	if err != ErrInsufficientCredits {
		t.Errorf("Expected ErrInsufficientCredits, got %v", err)
	}

	// A failed debit must not mutate anything.
	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 10 {
		t.Errorf("Expected balance 10 after failed debit, got %d", bal)
	}
	entries, _ := engine.History(ctx, "dlr_1", 50)
	if len(entries) != 1 {
		t.Errorf("Expected 1 ledger entry after failed debit, got %d", len(entries))
	}
}

func TestEngine_DebitUnknownDealer(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	// Unknown dealers have balance 0, so any debit is insufficient.
	_, err := engine.Debit(ctx, "dlr_unknown", 1, ReasonLeadUnlock, "dlr_unknown:lead_1")
	if err != ErrInsufficientCredits {
		t.Errorf("Expected ErrInsufficientCredits, got %v", err)
	}
}

func TestEngine_DebitReplay(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 100, "order_abc")

	first, err := engine.Debit(ctx, "dlr_1", 30, ReasonLeadUnlock, "dlr_1:lead_1")
	if err != nil {
		t.Fatalf("First debit failed: %v", err)
	}

	replay, err := engine.Debit(ctx, "dlr_1", 30, ReasonLeadUnlock, "dlr_1:lead_1")
	if err != nil {
		t.Fatalf("Replayed debit failed: %v", err)
	}
	if replay.Applied {
		t.Error("Expected replayed debit to not be applied")
	}
	if replay.Balance != first.Balance {
		t.Errorf("Expected replay balance %d, got %d", first.Balance, replay.Balance)
	}

	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 70 {
		t.Errorf("Expected balance 70 after replay, got %d", bal)
	}
}

func TestEngine_InvalidAmounts(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	if _, err := engine.Credit(ctx, "dlr_1", 0, "k1"); err != ErrInvalidAmount {
		t.Errorf("Credit(0): expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Credit(ctx, "dlr_1", -5, "k2"); err != ErrInvalidAmount {
		t.Errorf("Credit(-5): expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Debit(ctx, "dlr_1", 0, ReasonLeadUnlock, "k3"); err != ErrInvalidAmount {
		t.Errorf("Debit(0): expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Debit(ctx, "dlr_1", math.MaxInt64, ReasonLeadUnlock, "k4"); err != ErrInvalidAmount {
		t.Errorf("Debit(MaxInt64): expected ErrInvalidAmount, got %v", err)
	}
}

func TestEngine_BalanceOverflow(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	if _, err := engine.Credit(ctx, "dlr_1", math.MaxInt64, "k1"); err != nil {
		t.Fatalf("First credit failed: %v", err)
	}
	if _, err := engine.Credit(ctx, "dlr_1", 1, "k2"); err != ErrBalanceOverflow {
		t.Errorf("Expected ErrBalanceOverflow, got %v", err)
	}
}

func TestEngine_ConcurrentDebits(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	// Balance 100, 40 goroutines each debiting 30 with distinct keys:
	// exactly 3 may succeed.
	engine.Credit(ctx, "dlr_1", 100, "order_abc")

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "dlr_1:lead_" + string(rune('a'+n%26)) + string(rune('a'+n/26))
			if _, err := engine.Debit(ctx, "dlr_1", 30, ReasonLeadUnlock, key); err == nil {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != 3 {
		t.Errorf("Expected exactly 3 debits to succeed, got %d", succeeded.Load())
	}
	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 10 {
		t.Errorf("Expected balance 10, got %d", bal)
	}
}

func TestEngine_ConcurrentSameKeyCredits(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	// Many concurrent deliveries of the same payment event credit once.
	var wg sync.WaitGroup
	var applied atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Credit(ctx, "dlr_1", 100, "order_abc")
			if err == nil && res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Errorf("Expected exactly 1 application, got %d", applied.Load())
	}
	bal, _ := engine.Balance(ctx, "dlr_1")
	if bal != 100 {
		t.Errorf("Expected balance 100, got %d", bal)
	}
}

func TestEngine_History(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	engine.Credit(ctx, "dlr_1", 100, "order_1")
	engine.Debit(ctx, "dlr_1", 30, ReasonLeadUnlock, "dlr_1:lead_1")
	engine.Credit(ctx, "dlr_2", 500, "order_2")

	entries, err := engine.History(ctx, "dlr_1", 50)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	// Newest first
	if entries[0].Delta != -30 || entries[0].Reason != ReasonLeadUnlock {
		t.Errorf("Expected newest entry to be the debit, got delta %d reason %s", entries[0].Delta, entries[0].Reason)
	}
	if entries[1].Delta != 100 {
		t.Errorf("Expected oldest entry to be the credit, got delta %d", entries[1].Delta)
	}
	if entries[0].Balance != 70 || entries[1].Balance != 100 {
		t.Errorf("Expected resulting balances 70 and 100, got %d and %d", entries[0].Balance, entries[1].Balance)
	}
}

func TestEngine_HistoryLimit(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		engine.Credit(ctx, "dlr_1", 10, "order_"+string(rune('a'+i)))
	}

	entries, err := engine.History(ctx, "dlr_1", 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
}
