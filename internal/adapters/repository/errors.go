package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrInvalidID      = errors.New("invalid id")
	ErrClosed         = errors.New("store closed")
)
