// Package cooldown rate-limits named player actions through the cooldowns
// record: checking reads the record, arming is a read-modify-write.
package cooldown

import (
	"context"
	"errors"
	"time"

	"github.com/playerdb/playerdb/internal/docstore"
	"github.com/playerdb/playerdb/internal/records"
)

// Service tracks per-player, per-action cooldowns.
type Service struct {
	store *docstore.Store
}

func New(store *docstore.Store) *Service {
	return &Service{store: store}
}

// Check reports whether the action is available and, if not, how long until
// it is. A player with no cooldowns record is always ready.
func (s *Service) Check(ctx context.Context, entityID, action string) (bool, time.Duration, error) {
	c, err := docstore.Get[*records.Cooldowns](ctx, s.store, entityID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return true, 0, nil
		}
		return false, 0, err
	}
	remaining := c.Remaining(action, time.Now().UTC())
	return remaining == 0, remaining, nil
}

// Arm starts the action's cooldown: it becomes ready again after d.
func (s *Service) Arm(ctx context.Context, entityID, action string, d time.Duration) error {
	return docstore.Update(ctx, s.store, entityID, func(c *records.Cooldowns) error {
		if c.ReadyAt == nil {
			c.ReadyAt = map[string]time.Time{}
		}
		c.ReadyAt[action] = time.Now().UTC().Add(d)
		return nil
	})
}

// Clear removes the action's cooldown, making it immediately available. A
// player with no cooldowns record is left without one: clearing is a no-op,
// not a lazy create.
func (s *Service) Clear(ctx context.Context, entityID, action string) error {
	if _, err := docstore.Get[*records.Cooldowns](ctx, s.store, entityID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		return err
	}
	return docstore.Update(ctx, s.store, entityID, func(c *records.Cooldowns) error {
		delete(c.ReadyAt, action)
		return nil
	})
}
