package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrFull   = errors.New("compute queue full")
	ErrClosed = errors.New("compute queue closed")
)
