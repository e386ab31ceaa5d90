// Package ranking orders every known name by value at one moment of the race.
package ranking

import (
	"math"
	"sort"

	"github.com/okian/barrace/internal/domain/model"
)

// ValueSource exposes a name's value at one moment.
type ValueSource interface {
	ValueOf(name string) float64
}

// Snapshot reads values straight from one date's data.
type Snapshot struct {
	Values map[string]float64
}

// ValueOf returns the recorded value, or 0 when the name is absent.
func (s Snapshot) ValueOf(name string) float64 {
	return orZero(s.Values[name])
}

// Blend interpolates linearly between two dates' data at fraction T.
type Blend struct {
	From map[string]float64
	To   map[string]float64
	T    float64
}

// ValueOf returns (1-T)*from + T*to with absent values read as 0.
func (b Blend) ValueOf(name string) float64 {
	a := orZero(b.From[name])
	z := orZero(b.To[name])
	return a*(1-b.T) + z*b.T
}

func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// Rank values every name through src and sorts them descending. Ties keep the
// order of names. Positions at or beyond visible share the rank visible.
func Rank(names []string, src ValueSource, visible int) []model.RankedEntry {
	out := make([]model.RankedEntry, len(names))
	for i, name := range names {
		out[i] = model.RankedEntry{Name: name, Value: src.ValueOf(name)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	for i := range out {
		out[i].Rank = min(visible, i)
	}
	return out
}
