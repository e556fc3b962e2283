package memory

import "errors"

// Common errors for engine operations.
var (
	// ErrStoreUnavailable means the store file is missing, locked, or the lock
	// budget was exhausted. Read paths degrade to empty results on this error.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCorrupt means the store could not be decoded. Callers should
	// reinitialize the store or restore it from a backup.
	ErrCorrupt = errors.New("store corrupt")

	// ErrInvalidKey is returned for empty or whitespace-only pattern keys.
	ErrInvalidKey = errors.New("pattern key cannot be empty")

	ErrInvalidOutcome    = errors.New("outcome must be 'success' or 'failure'")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")

	// ErrSessionActive is returned when starting a session that is already active.
	ErrSessionActive = errors.New("session already active")

	// ErrSessionClosed is returned when ending a session that was already closed.
	ErrSessionClosed = errors.New("session already closed")
)
