// Package aggregate groups raw rows into a chronological sequence of
// per-date name/value maps.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/okian/barrace/internal/domain/model"
)

// DefaultLayouts are the date layouts tried, in order, when none are configured.
var DefaultLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"2006",
}

// Policy decides which value survives when a (date, name) pair repeats.
type Policy string

// Duplicate policies.
const (
	PolicyLast  Policy = "last"
	PolicyFirst Policy = "first"
	PolicySum   Policy = "sum"
)

// ParsePolicy validates a policy name. An empty name selects PolicyLast.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLast, nil
	case PolicyLast, PolicyFirst, PolicySum:
		return p, nil
	default:
		return "", ErrUnknownPolicy
	}
}

// Result is the aggregated dataset.
type Result struct {
	// Names holds every known name in order of first appearance.
	Names []string
	// Dates is sorted ascending by date.
	Dates []model.DateValues
}

type options struct {
	layouts []string
	policy  Policy
}

// Option applies a configuration option to Aggregate.
type Option func(*options)

// WithLayouts sets the date layouts tried for each row.
func WithLayouts(layouts ...string) Option {
	return func(o *options) {
		if len(layouts) > 0 {
			o.layouts = layouts
		}
	}
}

// WithPolicy sets the duplicate policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		if p != "" {
			o.policy = p
		}
	}
}

// Aggregate parses rows and groups them by date, then by name.
// The first unparseable date aborts the whole computation.
func Aggregate(rows []model.Row, opts ...Option) (*Result, error) {
	o := options{layouts: DefaultLayouts, policy: PolicyLast}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := ParsePolicy(string(o.policy)); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	records, err := Parse(rows, o.layouts...)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	seenName := make(map[string]struct{})
	byDate := make(map[time.Time]*model.DateValues)
	for _, rec := range records {
		if _, ok := seenName[rec.Name]; !ok {
			seenName[rec.Name] = struct{}{}
			res.Names = append(res.Names, rec.Name)
		}

		// Parsed dates are UTC, so equal instants are equal keys.
		key := rec.Date
		dv, ok := byDate[key]
		if !ok {
			dv = &model.DateValues{Date: rec.Date, Values: make(map[string]float64)}
			byDate[key] = dv
		}

		prev, exists := dv.Values[rec.Name]
		switch {
		case !exists:
			dv.Values[rec.Name] = rec.Value
		case o.policy == PolicySum:
			dv.Values[rec.Name] = prev + rec.Value
		case o.policy == PolicyLast:
			dv.Values[rec.Name] = rec.Value
		}
	}

	res.Dates = make([]model.DateValues, 0, len(byDate))
	for _, dv := range byDate {
		res.Dates = append(res.Dates, *dv)
	}
	sort.Slice(res.Dates, func(i, j int) bool {
		return res.Dates[i].Date.Before(res.Dates[j].Date)
	})
	return res, nil
}

// Parse converts rows to records. Dates are normalised to UTC.
func Parse(rows []model.Row, layouts ...string) ([]model.Record, error) {
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	out := make([]model.Record, len(rows))
	for i, r := range rows {
		d, ok := parseDate(r.Date, layouts)
		if !ok {
			return nil, &MalformedDateError{Row: i, Text: r.Date}
		}
		out[i] = model.Record{Date: d, Name: r.Name, Value: r.Value}
	}
	return out, nil
}

func parseDate(text string, layouts []string) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
