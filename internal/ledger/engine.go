// Package ledger implements the balance engine on top of the document
// store: two pools per player (on-hand and capacity-limited reserve),
// lifetime totals, a bounded transaction log and earnings multipliers.
//
// Every mutation runs as one read-modify-write on the player's balances
// record, so validation and the write it guards cannot be interleaved by
// concurrent operations on the same player.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maruel/ksid"
	"github.com/playerdb/playerdb/internal/docstore"
	"github.com/playerdb/playerdb/internal/records"
)

// Pool selects which of the two balances an operation targets.
type Pool string

const (
	PoolOnHand  Pool = "on-hand"
	PoolReserve Pool = "reserve"
)

// Engine is the ledger over a document store. Construct one and share it;
// it holds no state of its own.
type Engine struct {
	store *docstore.Store
}

func New(store *docstore.Store) *Engine {
	return &Engine{store: store}
}

// Summary is a point-in-time view of one player's balances.
type Summary struct {
	OnHand          int64
	Reserve         int64
	ReserveCapacity int64
	ReserveTier     int
	LifetimeEarned  int64
	LifetimeSpent   int64
}

func summarize(b *records.Balances) Summary {
	return Summary{
		OnHand:          b.OnHand,
		Reserve:         b.Reserve,
		ReserveCapacity: b.ReserveCapacity,
		ReserveTier:     b.ReserveTier,
		LifetimeEarned:  b.LifetimeEarned,
		LifetimeSpent:   b.LifetimeSpent,
	}
}

// Balances returns the player's current balances. A player that has never
// been written reports the starting defaults without creating a record.
func (e *Engine) Balances(ctx context.Context, entityID string) (Summary, error) {
	b, err := docstore.Get[*records.Balances](ctx, e.store, entityID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return summarize(records.NewBalances()), nil
		}
		return Summary{}, err
	}
	return summarize(b), nil
}

func newTransaction(cat records.TxCategory, amount int64, reason string) records.Transaction {
	return records.Transaction{
		ID:       ksid.NewID(),
		Time:     time.Now().UTC(),
		Category: cat,
		Amount:   amount,
		Reason:   reason,
	}
}

// Credit adds amount to the chosen pool and to lifetime earnings. Crediting
// the reserve past its capacity is rejected with ErrCapacityExceeded rather
// than clamped.
func (e *Engine) Credit(ctx context.Context, entityID string, amount int64, pool Pool, cat records.TxCategory, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit %d: %w", amount, ErrInvalidAmount)
	}
	return docstore.Update(ctx, e.store, entityID, func(b *records.Balances) error {
		switch pool {
		case PoolOnHand:
			b.OnHand += amount
		case PoolReserve:
			if b.Reserve+amount > b.ReserveCapacity {
				return fmt.Errorf("credit %d to reserve %d/%d: %w", amount, b.Reserve, b.ReserveCapacity, ErrCapacityExceeded)
			}
			b.Reserve += amount
		default:
			return fmt.Errorf("%q: %w", pool, errUnknownPool)
		}
		b.LifetimeEarned += amount
		b.Append(newTransaction(cat, amount, reason))
		return nil
	})
}

// Debit removes amount from the chosen pool and adds it to lifetime
// spending. A pool never goes negative: a debit that would is rejected with
// ErrInsufficientFunds and the balances are unchanged.
func (e *Engine) Debit(ctx context.Context, entityID string, amount int64, pool Pool, cat records.TxCategory, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("debit %d: %w", amount, ErrInvalidAmount)
	}
	return docstore.Update(ctx, e.store, entityID, func(b *records.Balances) error {
		switch pool {
		case PoolOnHand:
			if b.OnHand < amount {
				return fmt.Errorf("debit %d from on-hand %d: %w", amount, b.OnHand, ErrInsufficientFunds)
			}
			b.OnHand -= amount
		case PoolReserve:
			if b.Reserve < amount {
				return fmt.Errorf("debit %d from reserve %d: %w", amount, b.Reserve, ErrInsufficientFunds)
			}
			b.Reserve -= amount
		default:
			return fmt.Errorf("%q: %w", pool, errUnknownPool)
		}
		b.LifetimeSpent += amount
		b.Append(newTransaction(cat, -amount, reason))
		return nil
	})
}

// Transfer moves amount from one player's on-hand pool to another's. The
// debit commits fully before the credit begins, so the two locks are never
// held at once; if the credit then fails, the source is re-credited
// (compensating entry) and the original error surfaced. A transfer is never
// observably half-applied across the two records.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer %d: %w", amount, ErrInvalidAmount)
	}
	if fromID == toID {
		return fmt.Errorf("%s: %w", fromID, ErrSameEntity)
	}
	if err := e.Debit(ctx, fromID, amount, PoolOnHand, records.TxTransferOut, "transfer to "+toID); err != nil {
		return err
	}
	if err := e.Credit(ctx, toID, amount, PoolOnHand, records.TxTransferIn, "transfer from "+fromID); err != nil {
		// Compensate: restore the source. Balances return to their
		// pre-transfer values; the lifetime totals keep both entries, as
		// they are monotonic by contract.
		rerr := e.Credit(ctx, fromID, amount, PoolOnHand, records.TxRefund, "refund of failed transfer to "+toID)
		if rerr != nil {
			slog.ErrorContext(ctx, "Failed to compensate interrupted transfer", "from", fromID, "to", toID, "amount", amount, "err", rerr)
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

// Deposit moves amount from on-hand to the reserve, subject to its
// capacity. Lifetime totals are unchanged: a deposit is a move, not a spend.
func (e *Engine) Deposit(ctx context.Context, entityID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, ErrInvalidAmount)
	}
	return docstore.Update(ctx, e.store, entityID, func(b *records.Balances) error {
		if b.OnHand < amount {
			return fmt.Errorf("deposit %d from on-hand %d: %w", amount, b.OnHand, ErrInsufficientFunds)
		}
		if b.Reserve+amount > b.ReserveCapacity {
			return fmt.Errorf("deposit %d to reserve %d/%d: %w", amount, b.Reserve, b.ReserveCapacity, ErrCapacityExceeded)
		}
		b.OnHand -= amount
		b.Reserve += amount
		b.Append(newTransaction(records.TxDeposit, amount, ""))
		return nil
	})
}

// Withdraw moves amount from the reserve back to on-hand.
func (e *Engine) Withdraw(ctx context.Context, entityID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", amount, ErrInvalidAmount)
	}
	return docstore.Update(ctx, e.store, entityID, func(b *records.Balances) error {
		if b.Reserve < amount {
			return fmt.Errorf("withdraw %d from reserve %d: %w", amount, b.Reserve, ErrInsufficientFunds)
		}
		b.Reserve -= amount
		b.OnHand += amount
		b.Append(newTransaction(records.TxWithdraw, amount, ""))
		return nil
	})
}

// Stats is the aggregate view of one player's economy: the balances summary
// plus totals derived from the retained transaction log.
type Stats struct {
	Summary
	// Total is on-hand plus reserve.
	Total int64
	// NetWorth is lifetime earned minus lifetime spent.
	NetWorth int64
	// TransactionCount counts the retained log entries.
	TransactionCount int
	// LargestCredit and LargestDebit are the biggest single movements in the
	// retained log, both as positive magnitudes.
	LargestCredit int64
	LargestDebit  int64
	// ByCategory sums the signed amounts of the retained log per category.
	ByCategory map[records.TxCategory]int64
}

// Stats returns aggregate economy statistics for one player. Log-derived
// figures cover only the retained entries, so long-lived players report
// recent activity there while the lifetime totals stay complete.
func (e *Engine) Stats(ctx context.Context, entityID string) (Stats, error) {
	b, err := docstore.Get[*records.Balances](ctx, e.store, entityID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			b = records.NewBalances()
		} else {
			return Stats{}, err
		}
	}
	st := Stats{
		Summary:          summarize(b),
		Total:            b.OnHand + b.Reserve,
		NetWorth:         b.LifetimeEarned - b.LifetimeSpent,
		TransactionCount: len(b.Transactions),
		ByCategory:       map[records.TxCategory]int64{},
	}
	for _, tx := range b.Transactions {
		st.ByCategory[tx.Category] += tx.Amount
		if tx.Amount > st.LargestCredit {
			st.LargestCredit = tx.Amount
		}
		if -tx.Amount > st.LargestDebit {
			st.LargestDebit = -tx.Amount
		}
	}
	return st, nil
}

// History returns the player's most recent transactions, newest first, up to
// limit (0 means all retained entries).
func (e *Engine) History(ctx context.Context, entityID string, limit int) ([]records.Transaction, error) {
	b, err := docstore.Get[*records.Balances](ctx, e.store, entityID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	txs := b.Transactions
	if limit > 0 && limit < len(txs) {
		txs = txs[len(txs)-limit:]
	}
	out := make([]records.Transaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	return out, nil
}
