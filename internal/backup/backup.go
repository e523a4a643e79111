// Package backup produces point-in-time archives of the store's data
// directory for disaster recovery.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// subdirs are the directory trees included in an archive. The git history,
// if any, is reproducible from the records and is skipped.
var subdirs = []string{"players", "global", "snapshots"}

// Create writes a tar.gz archive of all records, global documents and
// snapshots under dataDir into destDir and returns the archive path. The
// archive appears atomically: it is assembled in a temp file and renamed
// into place.
func Create(ctx context.Context, dataDir, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	files, err := collectFiles(ctx, dataDir)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(destDir, ".backup-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	tmp := f.Name()
	if err := writeArchive(ctx, f, dataDir, files); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err == nil {
		err = f.Close()
	} else {
		_ = f.Close()
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to flush archive: %w", err)
	}

	name := "playerdb-" + time.Now().UTC().Format("20060102T150405") + ".tar.gz"
	path := filepath.Join(destDir, name)
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	return path, nil
}

// collectFiles walks the archived subtrees concurrently and returns the
// files to include, as paths relative to dataDir, in stable order.
func collectFiles(ctx context.Context, dataDir string) ([]string, error) {
	var mu sync.Mutex
	var files []string
	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subdirs {
		g.Go(func() error {
			root := filepath.Join(dataDir, sub)
			return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					if os.IsNotExist(err) {
						return nil
					}
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if d.IsDir() || !d.Type().IsRegular() {
					return nil
				}
				rel, err := filepath.Rel(dataDir, path)
				if err != nil {
					return err
				}
				mu.Lock()
				files = append(files, rel)
				mu.Unlock()
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to enumerate data files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func writeArchive(ctx context.Context, w io.Writer, dataDir string, files []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(tw, dataDir, rel); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, dataDir, rel string) error {
	path := filepath.Join(dataDir, rel)
	f, err := os.Open(path) //nolint:gosec // G304: path is derived from the data directory
	if err != nil {
		// A record can be erased between the walk and the read; losing it
		// from the archive matches losing it from the store.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", rel, err)
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", rel, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}
