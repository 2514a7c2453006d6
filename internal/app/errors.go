package service

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidUser          = errors.New("invalid user id")
)
