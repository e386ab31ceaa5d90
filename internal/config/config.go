// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Loading layers defaults, an optional YAML file and BARRACE_ env vars.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/okian/barrace/internal/domain/aggregate"
	"github.com/okian/barrace/internal/domain/race"
	"github.com/okian/barrace/pkg/metrics"
)

// metricName matches the characters Prometheus allows in name parts and
// label names without quoting.
var metricName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory compute job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of compute workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the dataset content index.
	DedupeSize int `koanf:"dedupe_size"`

	// VisibleBarCount is the default number of bars shown per frame.
	VisibleBarCount int `koanf:"visible_bar_count"`

	// SubSteps is the default number of frames per pair of dates.
	SubSteps int `koanf:"sub_steps"`

	// TransitionDurationMS paces playback, one step per interval.
	TransitionDurationMS int `koanf:"transition_duration_ms"`

	// DateLayouts are tried in order when parsing row dates.
	DateLayouts []string `koanf:"date_layouts"`

	// DuplicatePolicy resolves repeated (date, name) rows: last, first or sum.
	DuplicatePolicy string `koanf:"duplicate_policy"`

	// TickerLayout formats the date label of each playback step.
	TickerLayout string `koanf:"ticker_layout"`

	// MaxRows caps the rows accepted per dataset.
	MaxRows int `koanf:"max_rows"`

	// StorePath selects persistence: empty keeps datasets in memory,
	// otherwise they are stored in a SQLite database at this path.
	StorePath string `koanf:"store_path"`

	// WatchFile, when set, is a CSV file loaded at startup and reloaded
	// whenever it changes on disk.
	WatchFile string `koanf:"watch_file"`

	// WatchDebounceMS coalesces bursts of file events.
	WatchDebounceMS int `koanf:"watch_debounce_ms"`

	// MetricsEnabled exports series on /metrics; disabled, /metrics is empty.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNamespace and MetricsSubsystem prefix every series name.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`

	// MetricsLabels are constant labels added to every series, written as
	// "key=value,key=value".
	MetricsLabels string `koanf:"metrics_labels"`

	// MetricsBucketsMS overrides the latency histogram buckets.
	MetricsBucketsMS []float64 `koanf:"metrics_buckets_ms"`

	// MetricsRefreshMS is how often process gauges are sampled.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		QueueSize:            1_024,
		WorkerCount:          runtime.NumCPU(),
		DedupeSize:           10_000,
		VisibleBarCount:      race.DefaultVisibleBarCount,
		SubSteps:             race.DefaultSubStepsPerInterval,
		TransitionDurationMS: int(race.DefaultTransitionDuration / time.Millisecond),
		DateLayouts:          append([]string(nil), aggregate.DefaultLayouts...),
		DuplicatePolicy:      string(aggregate.PolicyLast),
		TickerLayout:         race.DefaultTickerLayout,
		MaxRows:              1_000_000,
		StorePath:            "",
		WatchFile:            "",
		WatchDebounceMS:      200,
		MetricsEnabled:       true,
		MetricsNamespace:     "barrace",
		MetricsSubsystem:     "engine",
		MetricsRefreshMS:     10_000,
	}
}

// RaceOptions converts the race defaults of c into race.Options.
func (c *Config) RaceOptions() race.Options {
	o := race.DefaultOptions()
	o.VisibleBarCount = c.VisibleBarCount
	o.SubStepsPerInterval = c.SubSteps
	o.TransitionDuration = time.Duration(c.TransitionDurationMS) * time.Millisecond
	if len(c.DateLayouts) > 0 {
		o.DateLayouts = append([]string(nil), c.DateLayouts...)
	}
	o.DuplicatePolicy = aggregate.Policy(c.DuplicatePolicy)
	if c.TickerLayout != "" {
		o.TickerLayout = c.TickerLayout
	}
	return o
}

// WatchDebounce returns the watcher debounce interval.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMS) * time.Millisecond
}

// ConstLabels parses MetricsLabels.
func (c *Config) ConstLabels() (map[string]string, error) {
	labels := make(map[string]string)
	for _, pair := range strings.Split(c.MetricsLabels, ",") {
		if pair = strings.TrimSpace(pair); pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || !metricName.MatchString(k) {
			return nil, fmt.Errorf("metrics_labels: bad pair %q", pair)
		}
		labels[k] = strings.TrimSpace(v)
	}
	return labels, nil
}

// MetricsOptions converts the metrics settings of c into metrics options.
func (c *Config) MetricsOptions() []metrics.Option {
	labels, _ := c.ConstLabels()
	return []metrics.Option{
		metrics.WithMetricsEnabled(c.MetricsEnabled),
		metrics.WithNamespace(c.MetricsNamespace),
		metrics.WithSubsystem(c.MetricsSubsystem),
		metrics.WithConstLabels(labels),
		metrics.WithHistogramBuckets(c.MetricsBucketsMS),
		metrics.WithRefreshInterval(time.Duration(c.MetricsRefreshMS) * time.Millisecond),
	}
}

// Validate checks the values Load cannot express through types.
func (c *Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr must not be empty")
	}
	if c.QueueSize < 1 {
		problems = append(problems, "queue_size must be positive")
	}
	if c.WorkerCount < 1 {
		problems = append(problems, "worker_count must be positive")
	}
	if c.TransitionDurationMS < 0 {
		problems = append(problems, "transition_duration_ms must not be negative")
	}
	if c.MaxRows < 1 {
		problems = append(problems, "max_rows must be positive")
	}
	if c.WatchDebounceMS < 0 {
		problems = append(problems, "watch_debounce_ms must not be negative")
	}
	if c.MetricsRefreshMS < 1 {
		problems = append(problems, "metrics_refresh_ms must be positive")
	}
	for _, part := range [][2]string{{"metrics_namespace", c.MetricsNamespace}, {"metrics_subsystem", c.MetricsSubsystem}} {
		if part[1] != "" && !metricName.MatchString(part[1]) {
			problems = append(problems, fmt.Sprintf("%s %q is not a valid metric name part", part[0], part[1]))
		}
	}
	if _, err := c.ConstLabels(); err != nil {
		problems = append(problems, err.Error())
	}
	for i := 1; i < len(c.MetricsBucketsMS); i++ {
		if c.MetricsBucketsMS[i] <= c.MetricsBucketsMS[i-1] {
			problems = append(problems, "metrics_buckets_ms must be strictly increasing")
			break
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q is not text or json", c.LogFormat))
	}
	if err := c.RaceOptions().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
