package history

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeRecord(t *testing.T, dir, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCommitAndLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	writeRecord(t, dir, "players/alice/balances.yaml", []byte("on_hand: 100\n"))
	if err := r.CommitWrite(ctx, []string{"players/alice/balances.yaml"}, "save alice/balances"); err != nil {
		t.Fatalf("CommitWrite failed: %v", err)
	}
	writeRecord(t, dir, "players/bob/balances.yaml", []byte("on_hand: 100\n"))
	if err := r.CommitWrite(ctx, []string{"players/bob/balances.yaml"}, "save bob/balances"); err != nil {
		t.Fatalf("CommitWrite failed: %v", err)
	}
	writeRecord(t, dir, "players/alice/balances.yaml", []byte("on_hand: 150\n"))
	if err := r.CommitWrite(ctx, []string{"players/alice/balances.yaml"}, "save alice/balances"); err != nil {
		t.Fatalf("CommitWrite failed: %v", err)
	}

	t.Run("clean worktree commits nothing", func(t *testing.T) {
		if err := r.CommitWrite(ctx, []string{"players/alice/balances.yaml"}, "no-op"); err != nil {
			t.Fatalf("CommitWrite failed: %v", err)
		}
	})

	commits, err := r.Log(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("alice has %d commits, want 2", len(commits))
	}
	if commits[0].Message != "save alice/balances" {
		t.Errorf("message = %q", commits[0].Message)
	}

	t.Run("log filtered per entity", func(t *testing.T) {
		commits, err := r.Log(ctx, "bob", 10)
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if len(commits) != 1 {
			t.Errorf("bob has %d commits, want 1", len(commits))
		}
	})

	t.Run("file at commit", func(t *testing.T) {
		// The older of alice's two commits holds the original content.
		old := commits[1]
		data, err := r.FileAtCommit(ctx, old.Hash, "players/alice/balances.yaml")
		if err != nil {
			t.Fatalf("FileAtCommit failed: %v", err)
		}
		if !bytes.Equal(data, []byte("on_hand: 100\n")) {
			t.Errorf("content = %q", data)
		}
	})

	t.Run("reopen existing repo", func(t *testing.T) {
		r2, err := Open(dir)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		commits, err := r2.Log(ctx, "alice", 10)
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if len(commits) != 2 {
			t.Errorf("alice has %d commits after reopen, want 2", len(commits))
		}
	})
}
