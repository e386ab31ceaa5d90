package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/pkg/metrics"
)

// MemoryStore keeps datasets in a map. Rows are copied on the way in and
// out so callers never share backing arrays with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]Dataset
	closed   bool

	opts   options
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore creates an empty in-memory store. Its background metrics
// updater runs until ctx is cancelled or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &MemoryStore{
		datasets: make(map[string]Dataset),
		opts:     o,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go runMetricsUpdater(ctx, o.metricsUpdateInterval, s.Count, s.done)
	return s
}

func (s *MemoryStore) Save(_ context.Context, d Dataset) error {
	if d.ID == "" {
		return ErrInvalidID
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	d.Rows = cloneRows(d.Rows)
	d.Options.DateLayouts = append([]string(nil), d.Options.DateLayouts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.datasets[d.ID]; ok && d.CreatedAt.IsZero() {
		d.CreatedAt = prev.CreatedAt
	}
	s.datasets[d.ID] = d
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (Dataset, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Dataset{}, ErrClosed
	}
	d, ok := s.datasets[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Dataset{}, ErrNotFound
	}
	d.Rows = cloneRows(d.Rows)
	d.Options.DateLayouts = append([]string(nil), d.Options.DateLayouts...)
	return d, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.datasets[id]; !ok {
		return ErrNotFound
	}
	delete(s.datasets, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Summary, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d.Summarize())
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

// Close stops the metrics updater. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

func cloneRows(rows []model.Row) []model.Row {
	if rows == nil {
		return nil
	}
	return append(make([]model.Row, 0, len(rows)), rows...)
}

// sortSummaries orders by creation time, then id for equal timestamps.
func sortSummaries(out []Summary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// runMetricsUpdater publishes the record count every interval until ctx is
// done, then closes done.
func runMetricsUpdater(ctx context.Context, interval time.Duration, count func(context.Context) int, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	metrics.UpdateRepositoryRecordsTotal(count(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateRepositoryRecordsTotal(count(ctx))
		}
	}
}
