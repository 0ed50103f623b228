package domain

import "errors"

// Error classes. Adapters wrap their failures with one of these so callers can
// classify with errors.Is without knowing the transport.
var (
	// ErrInvalidInput marks a malformed record; skipped per item, never fatal.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable marks a store or archive that could not be reached.
	// It is fatal to the current stage and must never be read as "absent".
	ErrUnavailable = errors.New("unavailable")

	// ErrNotFound marks a resource that was reachable but does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity marks a staged file that failed checksum or structural checks.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrConfig marks invalid configuration, detected before any I/O.
	ErrConfig = errors.New("invalid configuration")
)
