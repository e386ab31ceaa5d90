package aggregate

import (
	"errors"
	"fmt"
)

// Sentinel kinds for aggregation errors. These allow errors.Is/As from callers.
var (
	ErrMalformedDate = errors.New("malformed date")
	ErrEmptyDataset  = errors.New("empty dataset")
	ErrUnknownPolicy = errors.New("unknown duplicate policy")
)

// MalformedDateError reports the first row whose date could not be parsed.
type MalformedDateError struct {
	Row  int
	Text string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("row %d: %s: %q", e.Row, ErrMalformedDate, e.Text)
}

// Unwrap lets errors.Is match ErrMalformedDate.
func (e *MalformedDateError) Unwrap() error { return ErrMalformedDate }
