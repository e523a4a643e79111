package ledger

import "errors"

// Validation errors. They represent a rejected operation, not a failed one:
// never retried, always propagated to the caller.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCapacityExceeded  = errors.New("reserve capacity exceeded")
	ErrSameEntity        = errors.New("cannot transfer to self")
	ErrMaxTier           = errors.New("reserve already at maximum tier")
)

var errUnknownPool = errors.New("unknown balance pool")
