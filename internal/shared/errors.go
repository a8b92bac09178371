package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockHeld indicates a single-writer lock is already taken.
	ErrLockHeld = errors.New("lock already held")
)
