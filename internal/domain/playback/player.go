package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/barrace/internal/domain/race"
)

// Emitter receives steps in order. Returning an error stops playback.
type Emitter func(ctx context.Context, s Step) error

// Option applies a configuration option to the Player.
type Option func(*Player)

// WithStepDuration overrides the race's transition duration. Zero plays
// every step back to back.
func WithStepDuration(d time.Duration) Option {
	return func(p *Player) {
		if d >= 0 {
			p.stepDuration = &d
		}
	}
}

// WithStartAt starts playback at frame i instead of the first frame.
func WithStartAt(i int) Option {
	return func(p *Player) {
		if i > 0 {
			p.startAt = i
		}
	}
}

// Player paces a fresh Run so one step is emitted per transition duration.
type Player struct {
	stepDuration *time.Duration
	startAt      int
}

// NewPlayer creates a player with configuration options.
func NewPlayer(opts ...Option) *Player {
	p := &Player{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play emits every step of r, waiting one transition between steps. It
// returns the number of steps emitted and ctx.Err() when cancelled.
func (p *Player) Play(ctx context.Context, r *race.Race, emit Emitter) (int, error) {
	run, err := NewRun(r)
	if err != nil {
		return 0, err
	}
	if p.startAt > 0 {
		if err := run.Seek(p.startAt); err != nil {
			return 0, err
		}
	}

	wait := r.Options.TransitionDuration
	if p.stepDuration != nil {
		wait = *p.stepDuration
	}

	var tick <-chan time.Time
	if wait > 0 {
		ticker := time.NewTicker(wait)
		defer ticker.Stop()
		tick = ticker.C
	}

	emitted := 0
	for {
		step, ok := run.Next()
		if !ok {
			return emitted, nil
		}
		if err := ctx.Err(); err != nil {
			return emitted, fmt.Errorf("playback cancelled: %w", err)
		}
		if err := emit(ctx, step); err != nil {
			return emitted, fmt.Errorf("emit step %d: %w", step.Index, err)
		}
		emitted++
		if run.Done() || tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return emitted, fmt.Errorf("playback cancelled: %w", ctx.Err())
		case <-tick:
		}
	}
}
