// Package keyframe expands per-date data into the dense frame sequence of a race.
package keyframe

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/ranking"
)

// Sentinel kinds for keyframe errors.
var (
	ErrInvalidOptions = errors.New("invalid keyframe options")
	ErrNoDates        = errors.New("no dates to interpolate")
)

// MaxEntries caps frames x names for one race.
const MaxEntries = 5_000_000

const nanosPerSecond = 1e9

// Interpolate emits subSteps frames for every consecutive pair of dates, at
// t = i/subSteps, then one exact frame at the last date. A single date yields
// a single exact frame.
func Interpolate(dates []model.DateValues, names []string, subSteps, visible int) ([]model.Frame, error) {
	if subSteps < 1 || visible < 1 {
		return nil, ErrInvalidOptions
	}
	if len(dates) == 0 {
		return nil, ErrNoDates
	}
	count, err := frameCount(len(dates), len(names), subSteps)
	if err != nil {
		return nil, err
	}

	frames := make([]model.Frame, 0, count)
	for p := 0; p+1 < len(dates); p++ {
		a, b := dates[p], dates[p+1]
		for i := 0; i < subSteps; i++ {
			t := float64(i) / float64(subSteps)
			frames = append(frames, model.Frame{
				Timestamp: lerpTime(a.Date, b.Date, t),
				Entries:   ranking.Rank(names, ranking.Blend{From: a.Values, To: b.Values, T: t}, visible),
			})
		}
	}

	last := dates[len(dates)-1]
	frames = append(frames, model.Frame{
		Timestamp: last.Date,
		Entries:   ranking.Rank(names, ranking.Snapshot{Values: last.Values}, visible),
	})
	return frames, nil
}

// frameCount returns (dates-1)*subSteps+1, rejecting sequences whose
// frames x names exceed MaxEntries.
func frameCount(dates, names, subSteps int) (int, error) {
	intervals := dates - 1
	if subSteps > MaxEntries || (intervals > 0 && intervals > MaxEntries/subSteps) {
		return 0, fmt.Errorf("%w: %d dates x %d sub-steps exceeds %d frames", ErrInvalidOptions, dates, subSteps, MaxEntries)
	}
	n := intervals*subSteps + 1
	if names > 0 && n > MaxEntries/names {
		return 0, fmt.Errorf("%w: %d frames x %d names exceeds %d entries", ErrInvalidOptions, n, names, MaxEntries)
	}
	return n, nil
}

// lerpTime places t of the way from a to b. It works in seconds so spans
// beyond time.Duration's ~292 years stay linear.
func lerpTime(a, b time.Time, t float64) time.Time {
	span := float64(b.Unix()-a.Unix()) + float64(b.Nanosecond()-a.Nanosecond())/nanosPerSecond
	off := span * t
	whole := math.Floor(off)
	nanos := math.Round((off - whole) * nanosPerSecond)
	return time.Unix(a.Unix()+int64(whole), int64(a.Nanosecond())+int64(nanos)).UTC()
}
