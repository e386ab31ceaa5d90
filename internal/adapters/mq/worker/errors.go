package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrStopTimeout = errors.New("worker pool stop timed out")
)
