package repository

import "time"

const defaultMetricsUpdateInterval = 10 * time.Second

type options struct {
	metricsUpdateInterval time.Duration
	busyTimeout           time.Duration
}

func defaultOptions() options {
	return options{
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		busyTimeout:           5 * time.Second,
	}
}

// Option applies a configuration option to a Store.
type Option func(*options)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}
