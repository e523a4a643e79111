package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/playerdb/playerdb/internal/records"
)

// snapshotTimeFormat is fixed-width UTC so snapshot filenames sort
// chronologically.
const snapshotTimeFormat = "20060102T150405.000000000"

// snapshotCurrent copies the current on-disk version of a record, if any, to
// the snapshot directory. Reports whether the record existed.
func (s *Store) snapshotCurrent(key lockKey, path string) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is derived from the data directory
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read prior version: %w", err)
	}
	dir := filepath.Join(s.snapshotsDir, key.owner)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return true, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	name := fmt.Sprintf("%s-%s.yaml", key.kind, time.Now().UTC().Format(snapshotTimeFormat))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil { //nolint:gosec // G306: records are world-readable by design
		return true, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return true, nil
}

// listSnapshots returns snapshot filenames for a key, newest first.
func (s *Store) listSnapshots(key lockKey) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.snapshotsDir, key.owner))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", key, err)
	}
	prefix := string(key.kind) + "-"
	var names []string
	for _, e := range entries {
		if n := e.Name(); strings.HasPrefix(n, prefix) && strings.HasSuffix(n, ".yaml") {
			names = append(names, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// recoverLocked walks the key's snapshots newest-first and restores the
// first one that decodes, rewriting it as the current version (self-heal).
// The key's lock must be held. If no snapshot decodes, the record is
// unrecoverable.
func (s *Store) recoverLocked(ctx context.Context, key lockKey) (records.Doc, error) {
	names, err := s.listSnapshots(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.snapshotsDir, key.owner)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // G304: path is derived from the data directory
		if err != nil {
			continue
		}
		doc, err := decodeDoc(key.kind, data)
		if err != nil {
			continue
		}
		if err := writeFileAtomic(s.recordPath(key), data); err != nil {
			// The snapshot content is still good; hand it to the caller and
			// leave the repair for the next write.
			slog.WarnContext(ctx, "Failed to rewrite record from snapshot", "key", key.String(), "snapshot", name, "err", err)
		} else {
			slog.WarnContext(ctx, "Restored corrupted record from snapshot", "key", key.String(), "snapshot", name)
		}
		s.cache.put(key, doc, time.Now())
		return doc, nil
	}
	return nil, fmt.Errorf("%s: %w", key, ErrCorrupted)
}
