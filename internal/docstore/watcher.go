package docstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/playerdb/playerdb/internal/records"
	"golang.org/x/time/rate"
)

// watchFlushDelay paces cache invalidation when edit events arrive in
// bursts, e.g. an editor saving many files at once.
const watchFlushDelay = 200 * time.Millisecond

// Watch invalidates cache entries when record files change on disk outside
// the store, so manual edits of the human-readable files become visible
// without waiting for the TTL. The store's own writes also arrive here;
// dropping their fresh cache entries is harmless. Blocks until ctx is
// canceled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	for _, dir := range []string{s.playersDir, s.globalDir} {
		if err := w.Add(dir); err != nil {
			return err
		}
	}
	// fsnotify does not recurse: watch existing entity directories and pick
	// up new ones from create events.
	entries, err := os.ReadDir(s.playersDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(s.playersDir, e.Name())); err != nil {
				slog.WarnContext(ctx, "Failed to watch entity directory", "dir", e.Name(), "err", err)
			}
		}
	}

	lim := rate.NewLimiter(rate.Every(watchFlushDelay), 1)
	pending := map[lockKey]struct{}{}
	flush := func() {
		for key := range pending {
			s.cache.drop(key)
			delete(pending, key)
		}
	}
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						slog.WarnContext(ctx, "Failed to watch entity directory", "dir", ev.Name, "err", err)
					}
					continue
				}
			}
			key, ok := s.keyFromPath(ev.Name)
			if !ok {
				continue
			}
			pending[key] = struct{}{}
			if lim.Allow() {
				flush()
			} else if timerC == nil {
				timer = time.NewTimer(watchFlushDelay)
				timerC = timer.C
			}
		case <-timerC:
			timerC = nil
			flush()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "File watcher error", "err", err)
		}
	}
}

// keyFromPath maps an absolute record file path back to its cache key.
func (s *Store) keyFromPath(path string) (lockKey, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".yaml") || strings.HasPrefix(base, ".") {
		return lockKey{}, false
	}
	kind := records.Kind(strings.TrimSuffix(base, ".yaml"))
	dir := filepath.Dir(path)
	if dir == s.globalDir {
		return lockKey{owner: GlobalOwner, kind: kind}, true
	}
	if filepath.Dir(dir) == s.playersDir {
		return lockKey{owner: filepath.Base(dir), kind: kind}, true
	}
	return lockKey{}, false
}
