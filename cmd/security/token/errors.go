package token

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("api key missing")
	ErrKeyTooShort = errors.New("api key too short")
)
