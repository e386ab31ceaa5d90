package source

import (
	"time"

	"github.com/okian/barrace/pkg/logger"
)

// DefaultDebounce is how long a file must stay quiet before it is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Option applies a configuration option to the Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last write event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets a custom logger for the watcher.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithoutInitialLoad skips the load Run performs before watching.
func WithoutInitialLoad() Option {
	return func(w *Watcher) {
		w.initialLoad = false
	}
}
