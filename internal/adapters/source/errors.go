package source

import (
	"errors"
	"fmt"
)

// Sentinel kinds for source errors.
var (
	ErrMissingColumn = errors.New("missing column")
	ErrBadValue      = errors.New("bad value")
	ErrNoRows        = errors.New("no data rows")
)

// RowError reports the data row (1-based, header excluded) a parse failed on.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
