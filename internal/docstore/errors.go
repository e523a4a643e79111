package docstore

import "errors"

// Contract errors. Callers match with errors.Is; everything else the store
// returns wraps one of these or is an internal failure.
var (
	// ErrNotFound reports an absent record. Callers decide whether to lazily
	// create a default (Update does so automatically).
	ErrNotFound = errors.New("record not found")
	// ErrCorrupted reports a record that failed to decode and for which no
	// snapshot could be restored.
	ErrCorrupted = errors.New("record corrupted beyond recovery")
	// ErrWriteFailure reports a medium-level I/O failure. The prior on-disk
	// version is left intact.
	ErrWriteFailure = errors.New("write failure")
	// ErrLockTimeout reports that the per-key lock could not be acquired
	// within the configured timeout.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

var errEntityID = errors.New("invalid entity ID")
