// Package history keeps an audit trail of record writes in a git repository
// over the data directory, using go-git (pure Go, no git binary dependency).
// The store works identically with history disabled; nothing reads the
// repository on the hot path.
package history

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	commitName  = "playerdb"
	commitEmail = "playerdb@localhost"
)

// Repo is a git repository over the data directory. It implements the
// store's Versioner interface.
type Repo struct {
	dir  string
	repo *gogit.Repository
	mu   sync.Mutex
}

// Commit is one entry of a record's change history.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// Open opens the repository at dir, initializing it on first use.
func Open(dir string) (*Repo, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet, initialize.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize history repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = commitName
		cfg.User.Email = commitEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Repo{dir: dir, repo: repo}, nil
}

// CommitWrite stages the given paths (relative to the data directory) and
// commits them. A write that left the worktree clean, e.g. a save producing
// identical bytes, commits nothing. Serialized by an internal lock.
func (r *Repo) CommitWrite(ctx context.Context, paths []string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(paths) == 0 {
		return nil
	}

	// Detach from the caller's deadline but stay bounded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	_ = ctx // go-git operations don't take a context.

	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, p := range paths {
		if _, err := w.Add(p); err != nil {
			// Deleted directories can fail a targeted add; stage everything.
			if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
				return fmt.Errorf("failed to stage %s: %w", p, err)
			}
			break
		}
	}

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	now := time.Now()
	sig := &object.Signature{Name: commitName, Email: commitEmail, When: now}
	if _, err := w.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Log returns the change history of one entity's records, newest first,
// limited to n commits.
func (r *Repo) Log(_ context.Context, entityID string, n int) ([]Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	prefix := "players/" + entityID + "/"
	iter, err := r.repo.Log(&gogit.LogOptions{
		PathFilter: func(path string) bool {
			return strings.HasPrefix(path, prefix)
		},
	})
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()

	var commits []Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

// FileAtCommit retrieves a record file's content at a specific commit, for
// inspecting what a record looked like before a change.
func (r *Repo) FileAtCommit(_ context.Context, hash, filePath string) ([]byte, error) {
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	f, err := c.File(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}
