package model

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrValidationFailed = errors.New("validation failed")
	ErrIllegalValue     = errors.New("illegal scale value")
	ErrUnknownScaleKind = errors.New("unknown scale kind")
	ErrDuplicateScale   = errors.New("duplicate scale title")
	ErrInvalidRecord    = errors.New("invalid rating record")
	ErrRecordExists     = errors.New("rating record already exists")
)
