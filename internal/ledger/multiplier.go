package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/playerdb/playerdb/internal/docstore"
	"github.com/playerdb/playerdb/internal/records"
)

// Each prestige level grants a permanent +10% earnings multiplier.
const prestigePctPerLevel = 10

// Multipliers is the set of earnings modifiers applied to a base amount.
// Percentages compose multiplicatively in the order prestige, permanent
// effects, temporary effects; flat bonuses are summed and added after.
type Multipliers struct {
	PrestigePct  int
	PermanentPct []int
	TemporaryPct []int
	FlatBonus    int64
}

// ApplyMultiplier computes the final amount for a base earning. Pure: no
// I/O, no clock.
func ApplyMultiplier(base int64, m Multipliers) int64 {
	f := float64(base)
	f *= 1 + float64(m.PrestigePct)/100
	for _, pct := range m.PermanentPct {
		f *= 1 + float64(pct)/100
	}
	for _, pct := range m.TemporaryPct {
		f *= 1 + float64(pct)/100
	}
	return int64(math.Floor(f)) + m.FlatBonus
}

// Multipliers assembles a player's active modifiers from the prestige and
// effects records. Temporary effects that expired before now are pruned from
// the stored record as a side effect.
func (e *Engine) Multipliers(ctx context.Context, entityID string, now time.Time) (Multipliers, error) {
	var m Multipliers
	p, err := docstore.Get[*records.Prestige](ctx, e.store, entityID)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return Multipliers{}, err
	}
	if p != nil {
		m.PrestigePct = p.Level * prestigePctPerLevel
	}

	eff, err := docstore.Get[*records.Effects](ctx, e.store, entityID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return m, nil
		}
		return Multipliers{}, err
	}
	if eff.Prune(now) > 0 {
		err := docstore.Update(ctx, e.store, entityID, func(stored *records.Effects) error {
			stored.Prune(now)
			return nil
		})
		if err != nil {
			return Multipliers{}, err
		}
	}
	for _, a := range eff.Active {
		if a.MultiplierPct != 0 {
			if a.Permanent {
				m.PermanentPct = append(m.PermanentPct, a.MultiplierPct)
			} else {
				m.TemporaryPct = append(m.TemporaryPct, a.MultiplierPct)
			}
		}
		m.FlatBonus += a.FlatBonus
	}
	return m, nil
}
