package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/playerdb/playerdb/internal/docstore"
	"github.com/playerdb/playerdb/internal/records"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := docstore.New(t.TempDir(), docstore.Options{})
	if err != nil {
		t.Fatalf("docstore.New failed: %v", err)
	}
	return New(s)
}

func mustBalances(t *testing.T, e *Engine, id string) Summary {
	t.Helper()
	sum, err := e.Balances(context.Background(), id)
	if err != nil {
		t.Fatalf("Balances(%s) failed: %v", id, err)
	}
	return sum
}

func TestCreditDebitTransferScenario(t *testing.T) {
	// A starts with on-hand=100, reserve=0, capacity=1000. After a 50 coin
	// credit: on-hand=150, lifetime-earned=150 (the starting grant counts),
	// one new log entry. A full transfer empties A; a follow-up transfer is
	// rejected without touching either side.
	ctx := context.Background()
	e := newTestEngine(t)

	if err := e.Credit(ctx, "A", 50, PoolOnHand, records.TxEarn, "daily"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	a := mustBalances(t, e, "A")
	if a.OnHand != 150 {
		t.Errorf("A.OnHand = %d, want 150", a.OnHand)
	}
	if a.LifetimeEarned != 150 {
		t.Errorf("A.LifetimeEarned = %d, want 150", a.LifetimeEarned)
	}
	hist, err := e.History(ctx, "A", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 1 || hist[0].Category != records.TxEarn || hist[0].Amount != 50 {
		t.Errorf("history = %+v, want one earn entry of +50", hist)
	}

	if err := e.Transfer(ctx, "A", "B", 150); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	a = mustBalances(t, e, "A")
	b := mustBalances(t, e, "B")
	if a.OnHand != 0 {
		t.Errorf("A.OnHand = %d, want 0", a.OnHand)
	}
	if b.OnHand != 250 { // starting 100 + 150 transferred
		t.Errorf("B.OnHand = %d, want 250", b.OnHand)
	}

	err = e.Transfer(ctx, "A", "B", 1)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := mustBalances(t, e, "A").OnHand; got != 0 {
		t.Errorf("A.OnHand changed by failed transfer: %d", got)
	}
	if got := mustBalances(t, e, "B").OnHand; got != 250 {
		t.Errorf("B.OnHand changed by failed transfer: %d", got)
	}
}

func TestCreditValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	for _, amount := range []int64{0, -1} {
		if err := e.Credit(ctx, "A", amount, PoolOnHand, records.TxEarn, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Credit(%d) err = %v, want ErrInvalidAmount", amount, err)
		}
	}

	t.Run("reserve capacity is not clamped", func(t *testing.T) {
		err := e.Credit(ctx, "A", 1001, PoolReserve, records.TxEarn, "")
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("err = %v, want ErrCapacityExceeded", err)
		}
		sum := mustBalances(t, e, "A")
		if sum.Reserve != 0 || sum.LifetimeEarned != 100 {
			t.Errorf("failed credit mutated balances: %+v", sum)
		}
		if err := e.Credit(ctx, "A", 1000, PoolReserve, records.TxEarn, ""); err != nil {
			t.Fatalf("credit to exactly capacity failed: %v", err)
		}
	})
}

func TestDebitNonNegative(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	for _, amount := range []int64{0, -5} {
		if err := e.Debit(ctx, "A", amount, PoolOnHand, records.TxSpend, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Debit(%d) err = %v, want ErrInvalidAmount", amount, err)
		}
	}

	if err := e.Debit(ctx, "A", 101, PoolOnHand, records.TxSpend, ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	sum := mustBalances(t, e, "A")
	if sum.OnHand != 100 || sum.LifetimeSpent != 0 {
		t.Errorf("failed debit mutated balances: %+v", sum)
	}

	if err := e.Debit(ctx, "A", 100, PoolOnHand, records.TxSpend, "all in"); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	sum = mustBalances(t, e, "A")
	if sum.OnHand != 0 || sum.LifetimeSpent != 100 {
		t.Errorf("after full debit: %+v", sum)
	}

	if err := e.Debit(ctx, "A", 1, PoolReserve, records.TxSpend, ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("reserve debit err = %v, want ErrInsufficientFunds", err)
	}
}

func TestConcurrentDebits(t *testing.T) {
	// Starting with 100 on-hand, ten concurrent debits of 30 must yield
	// exactly three successes: the check-then-act runs under one lock.
	ctx := context.Background()
	e := newTestEngine(t)
	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.Debit(ctx, "A", 30, PoolOnHand, records.TxSpend, "race")
		}()
	}
	wg.Wait()
	close(results)
	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 3 {
		t.Errorf("%d debits succeeded, want 3", succeeded)
	}
	if got := mustBalances(t, e, "A").OnHand; got != 10 {
		t.Errorf("OnHand = %d, want 10", got)
	}
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	if err := e.Transfer(ctx, "A", "B", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
	if err := e.Transfer(ctx, "A", "A", 10); !errors.Is(err, ErrSameEntity) {
		t.Errorf("err = %v, want ErrSameEntity", err)
	}
}

func TestTransferCompensation(t *testing.T) {
	// When the credit leg fails after the debit committed, the source is
	// re-credited: balances end where they started and the log shows the
	// out and refund entries.
	ctx := context.Background()
	e := newTestEngine(t)

	err := e.Transfer(ctx, "A", "bad/id", 40)
	if err == nil {
		t.Fatal("transfer to invalid destination succeeded")
	}
	sum := mustBalances(t, e, "A")
	if sum.OnHand != 100 {
		t.Errorf("A.OnHand = %d, want 100 (restored)", sum.OnHand)
	}
	// Lifetime totals are monotonic: the interrupted round trip still
	// counts as 40 spent and 40 re-earned.
	if sum.LifetimeSpent != 40 || sum.LifetimeEarned != 140 {
		t.Errorf("lifetime totals = earned %d spent %d, want 140/40", sum.LifetimeEarned, sum.LifetimeSpent)
	}
	hist, err := e.History(ctx, "A", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 2 || hist[0].Category != records.TxRefund || hist[1].Category != records.TxTransferOut {
		t.Errorf("history = %+v, want refund then transfer-out (newest first)", hist)
	}
}

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if err := e.Deposit(ctx, "A", 60); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	sum := mustBalances(t, e, "A")
	if sum.OnHand != 40 || sum.Reserve != 60 {
		t.Errorf("after deposit: %+v", sum)
	}
	if sum.LifetimeEarned != 100 || sum.LifetimeSpent != 0 {
		t.Errorf("deposit changed lifetime totals: %+v", sum)
	}

	if err := e.Deposit(ctx, "A", 41); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}

	if err := e.Withdraw(ctx, "A", 61); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
	if err := e.Withdraw(ctx, "A", 60); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	sum = mustBalances(t, e, "A")
	if sum.OnHand != 100 || sum.Reserve != 0 {
		t.Errorf("after withdraw: %+v", sum)
	}

	t.Run("deposit respects capacity", func(t *testing.T) {
		if err := e.Credit(ctx, "B", 2000, PoolOnHand, records.TxEarn, ""); err != nil {
			t.Fatalf("Credit failed: %v", err)
		}
		if err := e.Deposit(ctx, "B", 1001); !errors.Is(err, ErrCapacityExceeded) {
			t.Errorf("err = %v, want ErrCapacityExceeded", err)
		}
		if err := e.Deposit(ctx, "B", 1000); err != nil {
			t.Fatalf("deposit to exactly capacity failed: %v", err)
		}
	})
}

func TestUpgradeReserve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, _, err := e.UpgradeReserve(ctx, "A"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// Fund A with 2000 on-hand plus 1000 banked: the 2500 upgrade spends
	// all of on-hand and 400 of the reserve.
	if err := e.Credit(ctx, "A", 2000, PoolOnHand, records.TxEarn, ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := e.Credit(ctx, "A", 1000, PoolReserve, records.TxEarn, ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	tier, capacity, err := e.UpgradeReserve(ctx, "A")
	if err != nil {
		t.Fatalf("UpgradeReserve failed: %v", err)
	}
	if tier != 1 || capacity != 5000 {
		t.Errorf("tier = %d capacity = %d, want 1/5000", tier, capacity)
	}
	sum := mustBalances(t, e, "A")
	if sum.OnHand != 0 || sum.Reserve != 600 {
		t.Errorf("after upgrade: %+v", sum)
	}
	if sum.LifetimeSpent != 2500 {
		t.Errorf("LifetimeSpent = %d, want 2500", sum.LifetimeSpent)
	}

	t.Run("max tier", func(t *testing.T) {
		err := docstore.Update(context.Background(), e.store, "C", func(b *records.Balances) error {
			b.ReserveTier = len(reserveTiers) - 1
			b.OnHand = 1 << 40
			return nil
		})
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, _, err := e.UpgradeReserve(ctx, "C"); !errors.Is(err, ErrMaxTier) {
			t.Errorf("err = %v, want ErrMaxTier", err)
		}
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	t.Run("unknown player reports defaults", func(t *testing.T) {
		st, err := e.Stats(ctx, "nobody")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if st.Total != 100 || st.NetWorth != 100 || st.TransactionCount != 0 {
			t.Errorf("stats = %+v, want total 100, net worth 100, no transactions", st)
		}
	})

	t.Run("aggregates the log", func(t *testing.T) {
		// 100 starting + 200 earned - 30 spent, 120 of it parked in the
		// reserve. Largest single credit 200, largest single debit 30.
		if err := e.Credit(ctx, "A", 200, PoolOnHand, records.TxEarn, "work"); err != nil {
			t.Fatalf("Credit failed: %v", err)
		}
		if err := e.Debit(ctx, "A", 30, PoolOnHand, records.TxSpend, "shop"); err != nil {
			t.Fatalf("Debit failed: %v", err)
		}
		if err := e.Deposit(ctx, "A", 120); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		st, err := e.Stats(ctx, "A")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if st.Total != 270 {
			t.Errorf("Total = %d, want 270", st.Total)
		}
		if st.OnHand != 150 || st.Reserve != 120 {
			t.Errorf("pools = %d/%d, want 150/120", st.OnHand, st.Reserve)
		}
		if st.NetWorth != 270 { // earned 300, spent 30
			t.Errorf("NetWorth = %d, want 270", st.NetWorth)
		}
		if st.TransactionCount != 3 {
			t.Errorf("TransactionCount = %d, want 3", st.TransactionCount)
		}
		if st.LargestCredit != 200 || st.LargestDebit != 30 {
			t.Errorf("largest = +%d/-%d, want +200/-30", st.LargestCredit, st.LargestDebit)
		}
		if st.ByCategory[records.TxEarn] != 200 || st.ByCategory[records.TxSpend] != -30 || st.ByCategory[records.TxDeposit] != 120 {
			t.Errorf("ByCategory = %v", st.ByCategory)
		}
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if hist, err := e.History(ctx, "nobody", 5); err != nil || hist != nil {
		t.Errorf("History of unknown player = %v, %v; want nil, nil", hist, err)
	}

	for i := range 5 {
		if err := e.Credit(ctx, "A", int64(i+1), PoolOnHand, records.TxEarn, ""); err != nil {
			t.Fatalf("Credit failed: %v", err)
		}
	}
	hist, err := e.History(ctx, "A", 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("len = %d, want 3", len(hist))
	}
	// Newest first.
	if hist[0].Amount != 5 || hist[2].Amount != 3 {
		t.Errorf("history order = %+v", hist)
	}
}
