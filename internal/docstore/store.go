// Package docstore implements the file-backed per-player document store:
// YAML records written atomically, snapshot-based corruption recovery, a
// short-TTL record cache and per-record locking with timeout.
//
// Records are plain files under the data directory so they stay
// human-inspectable and diffable:
//
//	<dataDir>/players/<entityID>/<kind>.yaml
//	<dataDir>/snapshots/<entityID>/<kind>-<timestamp>.yaml
//	<dataDir>/global/<kind>.yaml
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playerdb/playerdb/internal/records"
)

// GlobalOwner is the reserved directory name for process-wide documents. It
// is not a valid entity ID.
const GlobalOwner = "global"

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultLockTimeout = 10 * time.Second
)

// Versioner records committed writes in an external history, e.g. a git
// repository over the data directory. Paths are relative to the data
// directory. Implementations must be safe for concurrent use.
type Versioner interface {
	CommitWrite(ctx context.Context, paths []string, message string) error
}

// Options configures a Store. The zero value picks sensible defaults.
type Options struct {
	// CacheTTL bounds how long a decoded record is served from memory.
	CacheTTL time.Duration
	// LockTimeout bounds how long an operation waits for a record's lock.
	LockTimeout time.Duration
	// Versioner, when set, is notified of every committed write.
	Versioner Versioner
	// OnCreate, when set, is called after a record is persisted for an
	// entity that had no prior version of it. Called synchronously; it must
	// not touch the same record.
	OnCreate func(entityID string, kind records.Kind)
}

// Store is the per-player document store. One Store owns a data directory;
// construct it once at process start and pass it to all consumers.
type Store struct {
	dataDir      string
	playersDir   string
	globalDir    string
	snapshotsDir string
	cache        *recordCache
	locks        *lockManager
	versioner    Versioner
	onCreate     func(entityID string, kind records.Kind)
}

// New opens the store over dataDir, creating the directory layout if needed.
func New(dataDir string, opts Options) (*Store, error) {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	s := &Store{
		dataDir:      dataDir,
		playersDir:   filepath.Join(dataDir, "players"),
		globalDir:    filepath.Join(dataDir, GlobalOwner),
		snapshotsDir: filepath.Join(dataDir, "snapshots"),
		cache:        newRecordCache(opts.CacheTTL),
		locks:        newLockManager(opts.LockTimeout),
		versioner:    opts.Versioner,
		onCreate:     opts.OnCreate,
	}
	for _, dir := range []string{s.playersDir, s.globalDir, s.snapshotsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return s, nil
}

// DataDir returns the root of the store's directory layout.
func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) recordPath(key lockKey) string {
	if key.owner == GlobalOwner {
		return filepath.Join(s.globalDir, string(key.kind)+".yaml")
	}
	return filepath.Join(s.playersDir, key.owner, string(key.kind)+".yaml")
}

func validateEntityID(id string) error {
	if id == "" || id == GlobalOwner || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%q: %w", id, errEntityID)
	}
	return nil
}

// Get returns the record for (entityID, kind), from cache when fresh,
// otherwise from disk through corruption recovery. Returns ErrNotFound when
// the record does not exist; it never returns a partially-written value.
func (s *Store) Get(ctx context.Context, entityID string, kind records.Kind) (records.Doc, error) {
	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}
	return s.get(ctx, lockKey{owner: entityID, kind: kind})
}

func (s *Store) get(ctx context.Context, key lockKey) (records.Doc, error) {
	now := time.Now()
	if doc, ok := s.cache.get(key, now); ok {
		return doc, nil
	}
	data, err := os.ReadFile(s.recordPath(key)) //nolint:gosec // G304: path is derived from the data directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	doc, err := decodeDoc(key.kind, data)
	if err != nil {
		slog.WarnContext(ctx, "Record failed to decode, attempting recovery", "key", key.String(), "err", err)
		return s.repair(ctx, key)
	}
	s.cache.put(key, doc, now)
	return doc, nil
}

// repair retries a failed decode under the key's lock, falling back to the
// newest valid snapshot.
func (s *Store) repair(ctx context.Context, key lockKey) (records.Doc, error) {
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()
	// A concurrent operation may have rewritten the file while we waited.
	if data, err := os.ReadFile(s.recordPath(key)); err == nil { //nolint:gosec // G304: path is derived from the data directory
		if doc, derr := decodeDoc(key.kind, data); derr == nil {
			s.cache.put(key, doc, time.Now())
			return doc, nil
		}
	}
	return s.recoverLocked(ctx, key)
}

// Save writes the record under its lock: the prior on-disk version is
// snapshotted first, then replaced atomically and the cache refreshed. On
// failure the prior version is intact.
func (s *Store) Save(ctx context.Context, entityID string, kind records.Kind, doc records.Doc) error {
	if err := validateEntityID(entityID); err != nil {
		return err
	}
	key := lockKey{owner: entityID, kind: kind}
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return s.saveLocked(ctx, key, doc)
}

func (s *Store) saveLocked(ctx context.Context, key lockKey, doc records.Doc) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	path := s.recordPath(key)
	existed, err := s.snapshotCurrent(key, path)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	s.cache.put(key, doc, time.Now())
	if s.versioner != nil {
		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			rel = path
		}
		if err := s.versioner.CommitWrite(ctx, []string{rel}, "save "+key.String()); err != nil {
			slog.WarnContext(ctx, "Failed to record write in history", "key", key.String(), "err", err)
		}
	}
	if !existed && s.onCreate != nil && key.owner != GlobalOwner {
		s.onCreate(key.owner, key.kind)
	}
	return nil
}

// Update performs read-modify-write under one lock token: concurrent
// updaters of the same record cannot interleave their reads and writes. A
// missing record starts from the kind's defaults. An error from fn aborts
// the update without writing and is returned unwrapped.
func (s *Store) Update(ctx context.Context, entityID string, kind records.Kind, fn func(records.Doc) error) error {
	if err := validateEntityID(entityID); err != nil {
		return err
	}
	return s.update(ctx, lockKey{owner: entityID, kind: kind}, fn)
}

func (s *Store) update(ctx context.Context, key lockKey, fn func(records.Doc) error) error {
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	doc, err := s.readLocked(ctx, key)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.saveLocked(ctx, key, doc)
}

// readLocked reads the current version for a read-modify-write, creating the
// kind's defaults for a missing record and recovering from snapshots on a
// failed decode. The key's lock must be held.
func (s *Store) readLocked(ctx context.Context, key lockKey) (records.Doc, error) {
	now := time.Now()
	if doc, ok := s.cache.get(key, now); ok {
		return doc, nil
	}
	data, err := os.ReadFile(s.recordPath(key)) //nolint:gosec // G304: path is derived from the data directory
	if err != nil {
		if os.IsNotExist(err) {
			return records.New(key.kind)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	doc, err := decodeDoc(key.kind, data)
	if err != nil {
		slog.WarnContext(ctx, "Record failed to decode, attempting recovery", "key", key.String(), "err", err)
		return s.recoverLocked(ctx, key)
	}
	return doc, nil
}

// Global returns a process-wide document from the global directory. Same
// read path as Get, keyed by the reserved global namespace.
func (s *Store) Global(ctx context.Context, kind records.Kind) (records.Doc, error) {
	return s.get(ctx, lockKey{owner: GlobalOwner, kind: kind})
}

// SaveGlobal writes a process-wide document with the same locking and
// snapshot rules as Save.
func (s *Store) SaveGlobal(ctx context.Context, kind records.Kind, doc records.Doc) error {
	key := lockKey{owner: GlobalOwner, kind: kind}
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return s.saveLocked(ctx, key, doc)
}

// UpdateGlobal is Update for a process-wide document.
func (s *Store) UpdateGlobal(ctx context.Context, kind records.Kind, fn func(records.Doc) error) error {
	return s.update(ctx, lockKey{owner: GlobalOwner, kind: kind}, fn)
}

// EraseEntity snapshots every record of an entity, then deletes the entity's
// directory and drops its cache entries. Returns ErrNotFound when the entity
// has no records.
func (s *Store) EraseEntity(ctx context.Context, entityID string) error {
	if err := validateEntityID(entityID); err != nil {
		return err
	}
	// Take every record lock up front and hold them through the final
	// removal: an update serialized behind the erase would otherwise lazily
	// recreate a record between its snapshot pass and the directory removal,
	// losing it without a snapshot.
	releases := make([]func(), 0, len(records.PlayerKinds()))
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	for _, kind := range records.PlayerKinds() {
		release, err := s.locks.acquire(ctx, lockKey{owner: entityID, kind: kind})
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}
	dir := filepath.Join(s.playersDir, entityID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", entityID, ErrNotFound)
		}
		return fmt.Errorf("failed to list records for %s: %w", entityID, err)
	}
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		key := lockKey{owner: entityID, kind: records.Kind(strings.TrimSuffix(name, ".yaml"))}
		path := filepath.Join(dir, name)
		if _, err := s.snapshotCurrent(key, path); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.cache.drop(key)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", entityID, err)
	}
	s.cache.dropOwner(entityID)
	if s.versioner != nil {
		rel := filepath.Join("players", entityID)
		if err := s.versioner.CommitWrite(ctx, []string{rel}, "erase "+entityID); err != nil {
			slog.WarnContext(ctx, "Failed to record erasure in history", "entity", entityID, "err", err)
		}
	}
	slog.InfoContext(ctx, "Erased entity", "entity", entityID, "records", len(entries))
	return nil
}

// RunSweeper periodically evicts expired cache entries until ctx is
// canceled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.cache.sweep(time.Now()); n > 0 {
				slog.DebugContext(ctx, "Swept expired cache entries", "count", n)
			}
		}
	}
}

// Get is the typed wrapper over Store.Get.
func Get[T records.Doc](ctx context.Context, s *Store, entityID string) (T, error) {
	var zero T
	doc, err := s.Get(ctx, entityID, zero.Kind())
	if err != nil {
		return zero, err
	}
	rec, ok := doc.(T)
	if !ok {
		return zero, fmt.Errorf("%s/%s: unexpected record type %T", entityID, zero.Kind(), doc)
	}
	return rec, nil
}

// Update is the typed wrapper over Store.Update.
func Update[T records.Doc](ctx context.Context, s *Store, entityID string, fn func(T) error) error {
	var zero T
	return s.Update(ctx, entityID, zero.Kind(), func(doc records.Doc) error {
		rec, ok := doc.(T)
		if !ok {
			return fmt.Errorf("%s/%s: unexpected record type %T", entityID, zero.Kind(), doc)
		}
		return fn(rec)
	})
}
