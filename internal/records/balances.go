package records

import (
	"slices"
	"time"

	"github.com/maruel/ksid"
)

// TxCategory classifies a transaction log entry.
type TxCategory string

const (
	TxEarn        TxCategory = "earn"
	TxSpend       TxCategory = "spend"
	TxTransferIn  TxCategory = "transfer-in"
	TxTransferOut TxCategory = "transfer-out"
	TxDeposit     TxCategory = "deposit"
	TxWithdraw    TxCategory = "withdraw"
	TxRefund      TxCategory = "refund"
	TxUpgrade     TxCategory = "upgrade"
)

// TransactionLogCap bounds the per-player transaction log; appending beyond
// it evicts the oldest entry.
const TransactionLogCap = 100

// Transaction is one immutable entry in a player's transaction log.
type Transaction struct {
	ID       ksid.ID    `yaml:"id"`
	Time     time.Time  `yaml:"time"`
	Category TxCategory `yaml:"category"`
	Amount   int64      `yaml:"amount"`
	Reason   string     `yaml:"reason,omitempty"`
}

// Balances is the ledger record: the two balance pools, lifetime totals and
// the bounded transaction log.
//
// Invariants maintained by the ledger engine: OnHand >= 0,
// 0 <= Reserve <= ReserveCapacity, lifetime totals never decrease.
type Balances struct {
	OnHand          int64         `yaml:"on_hand"`
	Reserve         int64         `yaml:"reserve"`
	ReserveCapacity int64         `yaml:"reserve_capacity"`
	ReserveTier     int           `yaml:"reserve_tier"`
	LifetimeEarned  int64         `yaml:"lifetime_earned"`
	LifetimeSpent   int64         `yaml:"lifetime_spent"`
	Transactions    []Transaction `yaml:"transactions,omitempty"`
}

// NewBalances returns the starting balances for a new player. The starting
// grant counts toward lifetime earnings.
func NewBalances() *Balances {
	return &Balances{
		OnHand:          100,
		ReserveCapacity: 1000,
		LifetimeEarned:  100,
	}
}

func (*Balances) Kind() Kind { return KindBalances }

func (b *Balances) Clone() Doc {
	c := *b
	c.Transactions = slices.Clone(b.Transactions)
	return &c
}

// Append adds a transaction log entry, evicting from the oldest end when the
// log exceeds its cap.
func (b *Balances) Append(t Transaction) {
	b.Transactions = append(b.Transactions, t)
	if n := len(b.Transactions) - TransactionLogCap; n > 0 {
		b.Transactions = slices.Clone(b.Transactions[n:])
	}
}
