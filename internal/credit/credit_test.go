package credit

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestInMemoryLedger_DebitAndCredit(t *testing.T) {
	l := NewInMemoryLedger()
	l.SetBalance("p1", 10)

	entry, err := l.Debit(context.Background(), "p1", 3, ReasonSearch, "search-1")
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if entry.Amount != -3 || entry.BalanceAfter != 7 {
		t.Errorf("entry = %+v, want amount -3 balance 7", entry)
	}

	entry, err = l.Credit(context.Background(), "p1", 5, ReasonTopUp, "evt-1")
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if entry.Amount != 5 || entry.BalanceAfter != 12 {
		t.Errorf("entry = %+v, want amount 5 balance 12", entry)
	}
}

func TestInMemoryLedger_InsufficientCredits(t *testing.T) {
	l := NewInMemoryLedger()
	l.SetBalance("p1", 3)

	_, err := l.Debit(context.Background(), "p1", 5, ReasonSearch, "search-1")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("Debit() error = %v, want ErrInsufficientCredits", err)
	}

	balance, _ := l.Balance(context.Background(), "p1")
	if balance != 3 {
		t.Errorf("balance after failed debit = %d, want unchanged 3", balance)
	}
}

func TestInMemoryLedger_ConservationInvariant(t *testing.T) {
	l := NewInMemoryLedger()
	l.SetBalance("p1", 100)

	ops := []struct {
		debit  bool
		amount int64
	}{
		{true, 10}, {false, 5}, {true, 30}, {true, 200}, {false, 1},
	}
	for _, op := range ops {
		if op.debit {
			_, _ = l.Debit(context.Background(), "p1", op.amount, ReasonSearch, "")
		} else {
			_, _ = l.Credit(context.Background(), "p1", op.amount, ReasonTopUp, "")
		}
	}

	entries, err := l.Entries(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}

	balance, _ := l.Balance(context.Background(), "p1")
	if balance != 100+sum {
		t.Errorf("balance = %d, want seed plus entry sum %d", balance, 100+sum)
	}
}

func TestInMemoryLedger_ConcurrentDebits(t *testing.T) {
	l := NewInMemoryLedger()
	l.SetBalance("p1", 50)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Debit(context.Background(), "p1", 1, ReasonSearch, "")
		}()
	}
	wg.Wait()

	balance, _ := l.Balance(context.Background(), "p1")
	if balance != 0 {
		t.Errorf("balance = %d, want exactly 0 (50 of 100 debits succeed)", balance)
	}
	entries, _ := l.Entries(context.Background(), "p1", 0)
	if len(entries) != 50 {
		t.Errorf("entries = %d, want 50 successful debits", len(entries))
	}
}

func TestInMemoryLedger_EntriesNewestFirst(t *testing.T) {
	l := NewInMemoryLedger()
	l.SetBalance("p1", 10)

	_, _ = l.Debit(context.Background(), "p1", 1, ReasonSearch, "first")
	_, _ = l.Debit(context.Background(), "p1", 1, ReasonSearch, "second")

	entries, _ := l.Entries(context.Background(), "p1", 0)
	if len(entries) != 2 || entries[0].Reference != "second" {
		t.Errorf("Entries() = %+v, want newest first", entries)
	}
}

func TestInMemoryWebhookRepository_Idempotent(t *testing.T) {
	r := NewInMemoryWebhookRepository()

	if err := r.RecordEvent("evt_1", "checkout.session.completed"); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if err := r.RecordEvent("evt_1", "checkout.session.completed"); !errors.Is(err, ErrEventAlreadyProcessed) {
		t.Errorf("duplicate RecordEvent() error = %v, want ErrEventAlreadyProcessed", err)
	}

	processed, err := r.HasProcessed("evt_1")
	if err != nil || !processed {
		t.Errorf("HasProcessed() = %v, %v, want true, nil", processed, err)
	}
}
