package service

import (
	"errors"

	"github.com/okian/barrace/internal/adapters/mq/queue"
	"github.com/okian/barrace/internal/adapters/repository"
	"github.com/okian/barrace/internal/domain/aggregate"
	"github.com/okian/barrace/internal/domain/keyframe"
	"github.com/okian/barrace/internal/domain/playback"
)

// Sentinel kinds for service errors.
var (
	ErrNotStarted  = errors.New("service not started")
	ErrNotFound    = repository.ErrNotFound
	ErrPending     = errors.New("race still computing")
	ErrRaceFailed  = errors.New("race computation failed")
	ErrTooManyRows = errors.New("too many rows")
	ErrQueueFull   = queue.ErrFull
)

// Failure reasons reported in metrics and API error codes.
const (
	ReasonMalformedDate  = "malformed_date"
	ReasonEmptyDataset   = "empty_dataset"
	ReasonInvalidOptions = "invalid_options"
	ReasonTooManyRows    = "too_many_rows"
	ReasonNotFound       = "not_found"
	ReasonPending        = "pending"
	ReasonOutOfRange     = "out_of_range"
	ReasonQueueFull      = "queue_full"
	ReasonInternal       = "internal"
)

// Reason classifies err into one of the Reason constants.
func Reason(err error) string {
	var mde *aggregate.MalformedDateError
	switch {
	case errors.As(err, &mde), errors.Is(err, aggregate.ErrMalformedDate):
		return ReasonMalformedDate
	case errors.Is(err, aggregate.ErrEmptyDataset):
		return ReasonEmptyDataset
	case errors.Is(err, keyframe.ErrInvalidOptions), errors.Is(err, aggregate.ErrUnknownPolicy):
		return ReasonInvalidOptions
	case errors.Is(err, ErrTooManyRows):
		return ReasonTooManyRows
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrPending):
		return ReasonPending
	case errors.Is(err, playback.ErrOutOfRange):
		return ReasonOutOfRange
	case errors.Is(err, ErrQueueFull):
		return ReasonQueueFull
	default:
		return ReasonInternal
	}
}
