// Package adjacency links each name's appearance in a frame to its previous
// and next appearance, so a renderer can animate entries and exits.
package adjacency

import "github.com/okian/barrace/internal/domain/model"

// Ref addresses one appearance: a name inside the frame at position Frame.
type Ref struct {
	Name  string
	Frame int
}

// Index is built once per frame sequence and never mutated afterwards.
// It only looks entries up; the frames own them.
type Index struct {
	frames      []model.Frame
	names       []string
	appearances map[string][]int
	slot        map[Ref]int // position of a name inside its frame
	prev        map[Ref]Ref
	next        map[Ref]Ref
}

// Build groups appearances by name in frame order and links neighbours.
func Build(frames []model.Frame) *Index {
	x := &Index{
		frames:      frames,
		appearances: make(map[string][]int),
		slot:        make(map[Ref]int),
		prev:        make(map[Ref]Ref),
		next:        make(map[Ref]Ref),
	}
	for fi, f := range frames {
		for pos, e := range f.Entries {
			if _, ok := x.appearances[e.Name]; !ok {
				x.names = append(x.names, e.Name)
			}
			x.appearances[e.Name] = append(x.appearances[e.Name], fi)
			x.slot[Ref{Name: e.Name, Frame: fi}] = pos
		}
	}
	for name, seq := range x.appearances {
		for i := 1; i < len(seq); i++ {
			a := Ref{Name: name, Frame: seq[i-1]}
			b := Ref{Name: name, Frame: seq[i]}
			x.next[a] = b
			x.prev[b] = a
		}
	}
	return x
}

// Names lists every indexed name in order of first appearance.
func (x *Index) Names() []string { return x.names }

// Appearances returns the frame positions where name appears, ascending.
func (x *Index) Appearances(name string) []int { return x.appearances[name] }

// Prev returns the appearance before ref. False means ref is the first one.
func (x *Index) Prev(ref Ref) (Ref, bool) {
	r, ok := x.prev[ref]
	return r, ok
}

// Next returns the appearance after ref. False means ref is the last one.
func (x *Index) Next(ref Ref) (Ref, bool) {
	r, ok := x.next[ref]
	return r, ok
}

// Entry resolves ref to its entry.
func (x *Index) Entry(ref Ref) (model.RankedEntry, bool) {
	pos, ok := x.slot[ref]
	if !ok {
		return model.RankedEntry{}, false
	}
	return x.frames[ref.Frame].Entries[pos], true
}

// PrevEntry resolves the entry linked before ref.
func (x *Index) PrevEntry(ref Ref) (model.RankedEntry, bool) {
	p, ok := x.prev[ref]
	if !ok {
		return model.RankedEntry{}, false
	}
	return x.Entry(p)
}

// NextEntry resolves the entry linked after ref.
func (x *Index) NextEntry(ref Ref) (model.RankedEntry, bool) {
	n, ok := x.next[ref]
	if !ok {
		return model.RankedEntry{}, false
	}
	return x.Entry(n)
}
