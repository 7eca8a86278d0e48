package credential

import "errors"

var (
	ErrInvalidEndpoint = errors.New("invalid credential endpoint")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token expired")
)
