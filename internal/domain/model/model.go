// Package model contains domain models passed between layers.
package model

import "time"

// Row is one raw host row: a date-formatted text cell, a name and a value.
// Fields mirror the OpenAPI schema for /datasets.
type Row struct {
	Date  string  `json:"date"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Record is a Row whose date has been parsed.
type Record struct {
	Date  time.Time
	Name  string
	Value float64
}

// DateValues holds every name's value for one date.
type DateValues struct {
	Date   time.Time
	Values map[string]float64
}

// RankedEntry is a name's value and rank inside one frame.
// Entries at or past the visible window share the sentinel rank.
type RankedEntry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Rank  int     `json:"rank"`
}

// Frame is one keyframe of the race. Entries are in sort order.
type Frame struct {
	Timestamp time.Time     `json:"timestamp"`
	Entries   []RankedEntry `json:"entries"`
}

// Entry returns the entry for name and its position in the frame.
func (f Frame) Entry(name string) (RankedEntry, int, bool) {
	for i, e := range f.Entries {
		if e.Name == name {
			return e, i, true
		}
	}
	return RankedEntry{}, -1, false
}

// Visible returns the entries drawn inside a window of n bars.
func (f Frame) Visible(n int) []RankedEntry {
	if n > len(f.Entries) {
		n = len(f.Entries)
	}
	if n < 0 {
		n = 0
	}
	return f.Entries[:n]
}
