package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound  = errors.New("dataset not found")
	ErrInvalidID = errors.New("invalid dataset id")
	ErrClosed    = errors.New("store closed")
)
