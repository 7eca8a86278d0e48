package lease

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("auth code not found")
	ErrDuplicate    = errors.New("auth code already exists")
	ErrNotAvailable = errors.New("auth code not available")
)
