package ledger

import (
	"context"
	"fmt"

	"github.com/playerdb/playerdb/internal/docstore"
	"github.com/playerdb/playerdb/internal/records"
)

type reserveTier struct {
	Cost     int64
	Capacity int64
}

// reserveTiers is the upgrade ladder for reserve capacity. Tier 0 is the
// starting capacity; each entry's cost buys its capacity.
var reserveTiers = []reserveTier{
	{Cost: 0, Capacity: 1000},
	{Cost: 2500, Capacity: 5000},
	{Cost: 10000, Capacity: 25000},
	{Cost: 50000, Capacity: 100000},
	{Cost: 250000, Capacity: 500000},
}

// UpgradeReserve buys the next reserve tier, spending from on-hand first and
// the reserve for the remainder. Returns the new tier and capacity.
func (e *Engine) UpgradeReserve(ctx context.Context, entityID string) (int, int64, error) {
	tier := 0
	capacity := int64(0)
	err := docstore.Update(ctx, e.store, entityID, func(b *records.Balances) error {
		next := b.ReserveTier + 1
		if next >= len(reserveTiers) {
			return fmt.Errorf("tier %d: %w", b.ReserveTier, ErrMaxTier)
		}
		cost := reserveTiers[next].Cost
		if b.OnHand+b.Reserve < cost {
			return fmt.Errorf("upgrade costs %d, have %d: %w", cost, b.OnHand+b.Reserve, ErrInsufficientFunds)
		}
		fromHand := min(cost, b.OnHand)
		b.OnHand -= fromHand
		b.Reserve -= cost - fromHand
		b.ReserveTier = next
		b.ReserveCapacity = reserveTiers[next].Capacity
		b.LifetimeSpent += cost
		b.Append(newTransaction(records.TxUpgrade, -cost, fmt.Sprintf("reserve tier %d", next)))
		tier = next
		capacity = b.ReserveCapacity
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return tier, capacity, nil
}
