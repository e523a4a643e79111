package cooldown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playerdb/playerdb/internal/docstore"
	"github.com/playerdb/playerdb/internal/records"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := docstore.New(t.TempDir(), docstore.Options{})
	if err != nil {
		t.Fatalf("docstore.New failed: %v", err)
	}
	return New(s)
}

func TestCheckArm(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	ready, remaining, err := svc.Check(ctx, "alice", "work")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !ready || remaining != 0 {
		t.Errorf("fresh player: ready = %v remaining = %v, want true/0", ready, remaining)
	}

	if err := svc.Arm(ctx, "alice", "work", time.Hour); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	ready, remaining, err = svc.Check(ctx, "alice", "work")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if ready {
		t.Error("armed action reported ready")
	}
	if remaining <= 0 || remaining > time.Hour {
		t.Errorf("remaining = %v, want in (0, 1h]", remaining)
	}

	t.Run("other actions unaffected", func(t *testing.T) {
		ready, _, err := svc.Check(ctx, "alice", "fish")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !ready {
			t.Error("unrelated action not ready")
		}
	})

	t.Run("elapsed cooldown is ready", func(t *testing.T) {
		if err := svc.Arm(ctx, "bob", "work", -time.Second); err != nil {
			t.Fatalf("Arm failed: %v", err)
		}
		ready, _, err := svc.Check(ctx, "bob", "work")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !ready {
			t.Error("elapsed cooldown reported not ready")
		}
	})

	t.Run("clear without a record is a no-op", func(t *testing.T) {
		if err := svc.Clear(ctx, "ghost", "work"); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		_, err := docstore.Get[*records.Cooldowns](ctx, svc.store, "ghost")
		if !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound (no record materialized)", err)
		}
	})

	t.Run("clear", func(t *testing.T) {
		if err := svc.Clear(ctx, "alice", "work"); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		ready, _, err := svc.Check(ctx, "alice", "work")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !ready {
			t.Error("cleared action not ready")
		}
	})
}
