package services

import "errors"

// Error taxonomy shared by the HTTP handlers and the bot processor.
// Handlers map these to status codes: ErrValidation -> 400,
// ErrNotFound -> 404, ErrConflict -> 409, ErrRateLimited -> 429.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrRateLimited = errors.New("rate limited")
)
