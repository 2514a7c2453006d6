package session

import "errors"

// Sentinel errors returned by Session operations.
var (
	ErrNotStarted     = errors.New("session queue not built")
	ErrAlreadyStarted = errors.New("session already started")
	ErrExhausted      = errors.New("session exhausted")
	ErrWrongItem      = errors.New("submission does not target the current item")
	ErrAlreadyRated   = errors.New("item already rated by this user")
	ErrWriteFailed    = errors.New("rating record write failed")
)
