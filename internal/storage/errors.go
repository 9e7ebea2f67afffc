package storage

import "errors"

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrNotFound is returned when a setting does not exist.
	ErrNotFound = errors.New("storage: not found")
)
