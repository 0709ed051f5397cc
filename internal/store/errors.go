package store

import "errors"

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested key does not exist in the store.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned when a key is empty.
	ErrInvalidKey = errors.New("invalid key")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)
