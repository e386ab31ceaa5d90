// Package playback turns a computed race into renderer-ready steps.
//
// A Run carries the state of one animation run explicitly: which entries are
// currently bound to the visible window and where the cursor is. A restart is
// a new Run; nothing leaks from one run into the next.
package playback

import (
	"errors"
	"time"

	"github.com/okian/barrace/internal/domain/adjacency"
	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/race"
)

// Sentinel kinds for playback errors.
var (
	ErrOutOfRange = errors.New("frame index out of range")
	ErrNoRace     = errors.New("no race to play")
)

// Kind classifies a bar's transition within a step.
type Kind string

// Transition kinds, named after the renderer's join phases.
const (
	KindEnter  Kind = "enter"
	KindUpdate Kind = "update"
	KindExit   Kind = "exit"
)

// Position is where a bar sits: its rank slot and its value.
type Position struct {
	Rank  int     `json:"rank"`
	Value float64 `json:"value"`
}

// Transition moves one bar from From to To during a step.
type Transition struct {
	Name string   `json:"name"`
	Kind Kind     `json:"kind"`
	From Position `json:"from"`
	To   Position `json:"to"`
}

// Step is everything a renderer needs for one frame.
type Step struct {
	Index      int           `json:"index"`
	Timestamp  time.Time     `json:"timestamp"`
	Ticker     string        `json:"ticker"`
	AxisMax    float64       `json:"axis_max"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Bars       []Transition  `json:"bars"`
}

// Run is the explicit state of one animation run.
type Run struct {
	race   *race.Race
	bound  map[string]int // name -> frame index of the datum currently drawn
	order  []string       // bound names in the order they were drawn
	cursor int
}

// NewRun starts a run at the first frame with nothing drawn.
func NewRun(r *race.Race) (*Run, error) {
	if r == nil || len(r.Frames) == 0 {
		return nil, ErrNoRace
	}
	return &Run{race: r, bound: make(map[string]int)}, nil
}

// Len returns the number of frames in the run.
func (r *Run) Len() int { return len(r.race.Frames) }

// Cursor returns the index of the next frame Next will produce.
func (r *Run) Cursor() int { return r.cursor }

// Done reports whether every frame has been produced.
func (r *Run) Done() bool { return r.cursor >= len(r.race.Frames) }

// Reset rewinds the run to its first frame and clears the drawn state.
func (r *Run) Reset() {
	r.bound = make(map[string]int)
	r.order = nil
	r.cursor = 0
}

// Seek positions the run so that Next produces frame i, with the state a
// sequential run would have after frame i-1.
func (r *Run) Seek(i int) error {
	if i < 0 || i >= len(r.race.Frames) {
		return ErrOutOfRange
	}
	r.Reset()
	if i > 0 {
		r.bind(i - 1)
	}
	r.cursor = i
	return nil
}

// Step seeks to frame i and produces it.
func (r *Run) Step(i int) (Step, error) {
	if err := r.Seek(i); err != nil {
		return Step{}, err
	}
	s, _ := r.Next()
	return s, nil
}

// Next produces the step for the cursor frame and advances. False when done.
func (r *Run) Next() (Step, bool) {
	if r.Done() {
		return Step{}, false
	}
	i := r.cursor
	frame := r.race.Frames[i]
	visible := frame.Visible(r.race.Options.VisibleBarCount)
	idx := r.race.Index

	step := Step{
		Index:      i,
		Timestamp:  frame.Timestamp,
		Ticker:     frame.Timestamp.Format(tickerLayout(r.race.Options)),
		Duration:   r.race.Options.TransitionDuration,
		DurationMS: r.race.Options.TransitionDuration.Milliseconds(),
		Bars:       make([]Transition, 0, len(visible)+len(r.order)),
	}
	if len(frame.Entries) > 0 {
		step.AxisMax = frame.Entries[0].Value
	}

	shown := make(map[string]struct{}, len(visible))
	for _, e := range visible {
		shown[e.Name] = struct{}{}
		kind := KindEnter
		if _, ok := r.bound[e.Name]; ok {
			kind = KindUpdate
		}
		from := e
		if p, ok := idx.PrevEntry(adjacency.Ref{Name: e.Name, Frame: i}); ok {
			from = p
		}
		step.Bars = append(step.Bars, Transition{Name: e.Name, Kind: kind, From: pos(from), To: pos(e)})
	}

	for _, name := range r.order {
		if _, ok := shown[name]; ok {
			continue
		}
		ref := adjacency.Ref{Name: name, Frame: r.bound[name]}
		old, _ := idx.Entry(ref)
		to := old
		if n, ok := idx.NextEntry(ref); ok {
			to = n
		}
		step.Bars = append(step.Bars, Transition{Name: name, Kind: KindExit, From: pos(old), To: pos(to)})
	}

	r.bind(i)
	r.cursor++
	return step, true
}

// bind records frame i's visible entries as the drawn state.
func (r *Run) bind(i int) {
	visible := r.race.Frames[i].Visible(r.race.Options.VisibleBarCount)
	r.bound = make(map[string]int, len(visible))
	r.order = r.order[:0]
	for _, e := range visible {
		r.bound[e.Name] = i
		r.order = append(r.order, e.Name)
	}
}

func pos(e model.RankedEntry) Position {
	return Position{Rank: e.Rank, Value: e.Value}
}

func tickerLayout(o race.Options) string {
	if o.TickerLayout == "" {
		return race.DefaultTickerLayout
	}
	return o.TickerLayout
}
