package docstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to path such that a crash at any point leaves
// either the old or the new content, never a mixture: write to a temp file in
// the same directory, flush it to stable storage, then rename over the
// target. Any failure surfaces as ErrWriteFailure with the target untouched.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	tmp := f.Name()
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return nil
}
