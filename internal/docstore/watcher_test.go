package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/playerdb/playerdb/internal/records"
)

func TestWatchInvalidatesOnExternalEdit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	// Long TTL so only the watcher can make the external edit visible.
	s, err := New(dir, Options{CacheTTL: time.Hour})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	setOnHand(t, s, "alice", 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx)
	}()
	// Give the watcher a moment to register the directories.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(dir, "players", "alice", "balances.yaml")
	if err := os.WriteFile(path, []byte("on_hand: 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := Get[*records.Balances](ctx, s, "alice")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.OnHand == 42 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("external edit never became visible, OnHand = %d", got.OnHand)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on context cancellation")
	}
}

func TestKeyFromPath(t *testing.T) {
	s, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tests := []struct {
		path string
		want lockKey
		ok   bool
	}{
		{filepath.Join(s.playersDir, "alice", "balances.yaml"), lockKey{owner: "alice", kind: records.KindBalances}, true},
		{filepath.Join(s.globalDir, "stats.yaml"), lockKey{owner: GlobalOwner, kind: records.KindStats}, true},
		{filepath.Join(s.playersDir, "alice", ".balances.yaml.tmp-1"), lockKey{}, false},
		{filepath.Join(s.playersDir, "alice", "notes.txt"), lockKey{}, false},
		{filepath.Join(s.playersDir, "balances.yaml"), lockKey{}, false},
	}
	for _, tt := range tests {
		key, ok := s.keyFromPath(tt.path)
		if ok != tt.ok || key != tt.want {
			t.Errorf("keyFromPath(%q) = %v, %v; want %v, %v", tt.path, key, ok, tt.want, tt.ok)
		}
	}
}
