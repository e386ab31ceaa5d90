// Package race runs the frame pipeline: aggregate, interpolate (ranking every
// keyframe) and index adjacency. The pipeline is pure and synchronous.
package race

import (
	"fmt"
	"time"

	"github.com/okian/barrace/internal/domain/adjacency"
	"github.com/okian/barrace/internal/domain/aggregate"
	"github.com/okian/barrace/internal/domain/keyframe"
	"github.com/okian/barrace/internal/domain/model"
)

// Default race parameters.
const (
	DefaultVisibleBarCount     = 12
	DefaultSubStepsPerInterval = 10
	DefaultTransitionDuration  = 250 * time.Millisecond
	DefaultTickerLayout        = "2006"

	// MaxSubStepsPerInterval bounds sub_steps; frames × names is also
	// capped at keyframe.MaxEntries.
	MaxSubStepsPerInterval = 1_000
)

// Options tunes one race computation.
type Options struct {
	VisibleBarCount     int              `json:"visible_bar_count"`
	SubStepsPerInterval int              `json:"sub_steps"`
	TransitionDuration  time.Duration    `json:"-"`
	DateLayouts         []string         `json:"date_layouts,omitempty"`
	DuplicatePolicy     aggregate.Policy `json:"duplicate_policy,omitempty"`
	TickerLayout        string           `json:"ticker_layout,omitempty"`
}

// DefaultOptions returns the stock race parameters.
func DefaultOptions() Options {
	return Options{
		VisibleBarCount:     DefaultVisibleBarCount,
		SubStepsPerInterval: DefaultSubStepsPerInterval,
		TransitionDuration:  DefaultTransitionDuration,
		DuplicatePolicy:     aggregate.PolicyLast,
		TickerLayout:        DefaultTickerLayout,
	}
}

// Validate reports option values the pipeline cannot honour.
func (o Options) Validate() error {
	switch {
	case o.VisibleBarCount < 1:
		return fmt.Errorf("%w: visible_bar_count must be >= 1", keyframe.ErrInvalidOptions)
	case o.SubStepsPerInterval < 1:
		return fmt.Errorf("%w: sub_steps must be >= 1", keyframe.ErrInvalidOptions)
	case o.SubStepsPerInterval > MaxSubStepsPerInterval:
		return fmt.Errorf("%w: sub_steps must be <= %d", keyframe.ErrInvalidOptions, MaxSubStepsPerInterval)
	case o.TransitionDuration < 0:
		return fmt.Errorf("%w: transition duration must not be negative", keyframe.ErrInvalidOptions)
	}
	if _, err := aggregate.ParsePolicy(string(o.DuplicatePolicy)); err != nil {
		return fmt.Errorf("%w: %w", keyframe.ErrInvalidOptions, err)
	}
	return nil
}

// Race is the complete output handed to a renderer.
type Race struct {
	Names   []string
	Dates   int
	Frames  []model.Frame
	Index   *adjacency.Index
	Options Options
}

// Compute runs the full pipeline over rows. It returns either a complete race
// or an error, never a partial frame sequence.
func Compute(rows []model.Row, opts Options) (*Race, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	agg, err := aggregate.Aggregate(rows,
		aggregate.WithLayouts(opts.DateLayouts...),
		aggregate.WithPolicy(opts.DuplicatePolicy),
	)
	if err != nil {
		return nil, err
	}

	frames, err := keyframe.Interpolate(agg.Dates, agg.Names, opts.SubStepsPerInterval, opts.VisibleBarCount)
	if err != nil {
		return nil, err
	}

	return &Race{
		Names:   agg.Names,
		Dates:   len(agg.Dates),
		Frames:  frames,
		Index:   adjacency.Build(frames),
		Options: opts,
	}, nil
}

