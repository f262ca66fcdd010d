package apperr

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrOutOfRange = errors.New("tag index out of range")
	ErrDisabled   = errors.New("tag detail is disabled")
	ErrInvalid    = errors.New("invalid request")
	ErrConflict   = errors.New("tag layout is ambiguous")
)
