// Package service provides the race service: it stores datasets, computes
// their races on a worker pool and serves frames and playback to the API.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	jobqueue "github.com/okian/barrace/internal/adapters/mq/queue"
	workerpool "github.com/okian/barrace/internal/adapters/mq/worker"
	"github.com/okian/barrace/internal/adapters/repository"
	"github.com/okian/barrace/internal/domain/aggregate"
	"github.com/okian/barrace/internal/domain/dedupe"
	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/playback"
	"github.com/okian/barrace/internal/domain/race"
	"github.com/okian/barrace/pkg/logger"
	"github.com/okian/barrace/pkg/metrics"
)

// Status of a dataset's race.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Input is a dataset as submitted by a client or a watched file.
type Input struct {
	Rows    []model.Row
	Options race.Options
	Source  string
}

// Submission reports where an accepted dataset ended up.
type Submission struct {
	ID         string
	Generation uint64
	Status     Status
	Duplicate  bool
}

// RaceView is a snapshot of one dataset's race state.
type RaceView struct {
	DatasetID  string
	Generation uint64
	Status     Status
	Race       *race.Race
	Err        error
}

// entry tracks the current generation of one dataset's race. done is closed
// once that generation leaves pending.
type entry struct {
	generation uint64
	digest     string
	status     Status
	race       *race.Race
	err        error
	done       chan struct{}
}

func (e *entry) view(id string) RaceView {
	return RaceView{DatasetID: id, Generation: e.generation, Status: e.status, Race: e.race, Err: e.err}
}

// Service implements the API dependencies for the race engine.
type Service struct {
	mu sync.RWMutex

	store      repository.Store
	index      dedupe.Index
	jobs       jobqueue.Queue
	workerPool *workerpool.Pool

	entries map[string]*entry

	workerCount  int
	queueSize    int
	dedupeSize   int
	maxRows      int
	raceDefaults race.Options
	ownStore     bool

	started   bool
	startedAt time.Time
	cancel    context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of compute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending compute jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize bounds the dataset content index.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxRows caps the rows accepted per dataset.
func WithMaxRows(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

// WithRaceDefaults sets the options used when a client sends none.
func WithRaceDefaults(o race.Options) Option {
	return func(s *Service) {
		s.raceDefaults = o
	}
}

// WithStore sets the dataset store. The caller closes it after Stop.
// Without one an in-memory store is created at Start and closed on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU(),
		queueSize:    1_024,
		dedupeSize:   10_000,
		maxRows:      1_000_000,
		raceDefaults: race.DefaultOptions(),
		entries:      make(map[string]*entry),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start creates the queue and worker pool and schedules a computation for
// every dataset already in the store.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting race service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.store == nil {
		s.store = repository.NewMemoryStore(runCtx)
		s.ownStore = true
		s.logger.Info(ctx, "using in-memory dataset store")
	}
	s.index = dedupe.NewInMemoryIndex(dedupe.WithMaxSize(s.dedupeSize))
	s.jobs = jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
		jobqueue.WithBufferSize(s.queueSize),
	)
	s.workerPool = workerpool.NewPool(s.workerCount, s.jobs, s)
	s.workerPool.Start(runCtx)

	s.entries = make(map[string]*entry)
	s.started = true
	s.startedAt = time.Now()

	restored, err := s.restoreLocked(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not restore stored datasets", logger.Error(err))
	}

	s.logger.Info(ctx, "race service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Int("restored", restored),
	)
	return nil
}

// restoreLocked re-registers stored datasets. Must be called with s.mu held.
func (s *Service) restoreLocked(ctx context.Context) (int, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, sum := range list {
		s.index.Claim(ctx, sum.Digest, sum.ID)
		if _, err := s.scheduleLocked(ctx, sum.ID, sum.Digest); err != nil {
			s.logger.Warn(ctx, "restored dataset not scheduled",
				logger.String("dataset_id", sum.ID), logger.Error(err))
		}
	}
	metrics.UpdateDatasetsTotal(len(list))
	return len(list), nil
}

// Stop drains the worker pool. A store passed with WithStore stays open
// and belongs to the caller; Start may be called again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	pool, store, own := s.workerPool, s.store, s.ownStore
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping race service...")

	var errs []error
	if err := pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	if own {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	if own {
		s.store = nil
		s.ownStore = false
	}
	for _, e := range s.entries {
		if e.status == StatusPending {
			close(e.done)
		}
	}
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	s.logger.Info(ctx, "race service stopped")
	return errors.Join(errs...)
}

// DefaultRaceOptions returns the options applied when a client sends none.
func (s *Service) DefaultRaceOptions() race.Options {
	o := s.raceDefaults
	o.DateLayouts = append([]string(nil), o.DateLayouts...)
	return o
}

// validate rejects inputs that can never produce a race, before anything is
// stored.
func (s *Service) validate(in Input) error {
	if len(in.Rows) > s.maxRows {
		return fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(in.Rows), s.maxRows)
	}
	if err := in.Options.Validate(); err != nil {
		return err
	}
	if len(in.Rows) == 0 {
		return aggregate.ErrEmptyDataset
	}
	if _, err := aggregate.Parse(in.Rows, in.Options.DateLayouts...); err != nil {
		return err
	}
	return nil
}

// digestOf fingerprints rows under the options that change the frames.
func digestOf(in Input) string {
	o := in.Options
	key := fmt.Sprintf("v=%d|s=%d|p=%s|t=%s|l=%q",
		o.VisibleBarCount, o.SubStepsPerInterval, o.DuplicatePolicy, o.TickerLayout, o.DateLayouts)
	return dedupe.Digest(in.Rows, key)
}

// Submit stores a new dataset and schedules its race. An identical dataset
// submitted earlier is returned instead, marked Duplicate.
func (s *Service) Submit(ctx context.Context, in Input) (Submission, error) {
	if err := s.validate(in); err != nil {
		return Submission{}, err
	}
	digest := digestOf(in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return Submission{}, ErrNotStarted
	}

	id := uuid.NewString()
	if existing, seen := s.index.Claim(ctx, digest, id); seen {
		if e, ok := s.entries[existing]; ok {
			metrics.RecordDatasetDuplicate()
			s.logger.Debug(ctx, "duplicate dataset", logger.String("dataset_id", existing))
			return Submission{ID: existing, Generation: e.generation, Status: e.status, Duplicate: true}, nil
		}
		// Stale index entry: the dataset is gone.
		s.index.Release(ctx, digest)
		s.index.Claim(ctx, digest, id)
	}

	sub, err := s.putLocked(ctx, id, digest, in, nil)
	if err != nil {
		s.index.Release(ctx, digest)
		return Submission{}, err
	}
	metrics.RecordDatasetSubmitted()
	return sub, nil
}

// Replace swaps the rows and options of an existing dataset and restarts
// its race. Results of computations for the old version are discarded.
func (s *Service) Replace(ctx context.Context, id string, in Input) (Submission, error) {
	if err := s.validate(in); err != nil {
		return Submission{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return Submission{}, ErrNotStarted
	}

	prev, err := s.store.Load(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	sub, err := s.replaceLocked(ctx, prev, in)
	if err != nil {
		return Submission{}, err
	}
	metrics.RecordDatasetReplaced()
	return sub, nil
}

// Upsert replaces the dataset with id, creating it when absent. Watched
// files use it with an id derived from their path.
func (s *Service) Upsert(ctx context.Context, id string, in Input) (Submission, error) {
	if err := s.validate(in); err != nil {
		return Submission{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return Submission{}, ErrNotStarted
	}

	prev, err := s.store.Load(ctx, id)
	switch {
	case err == nil:
		return s.replaceLocked(ctx, prev, in)
	case errors.Is(err, repository.ErrNotFound):
		digest := digestOf(in)
		_, seen := s.index.Claim(ctx, digest, id)
		sub, err := s.putLocked(ctx, id, digest, in, nil)
		if err != nil {
			if !seen {
				s.index.Release(ctx, digest)
			}
			return Submission{}, err
		}
		metrics.RecordDatasetSubmitted()
		return sub, nil
	default:
		return Submission{}, err
	}
}

func (s *Service) replaceLocked(ctx context.Context, prev repository.Dataset, in Input) (Submission, error) {
	digest := digestOf(in)
	if digest == prev.Digest {
		if e, ok := s.entries[prev.ID]; ok {
			return Submission{ID: prev.ID, Generation: e.generation, Status: e.status, Duplicate: true}, nil
		}
	}
	prevOwned := s.releaseIfOwned(ctx, prev.Digest, prev.ID)
	_, seen := s.index.Claim(ctx, digest, prev.ID)
	sub, err := s.putLocked(ctx, prev.ID, digest, in, &prev)
	if err != nil {
		// The store was rolled back to prev; the index follows it.
		if !seen {
			s.index.Release(ctx, digest)
		}
		if prevOwned {
			s.index.Claim(ctx, prev.Digest, prev.ID)
		}
		return Submission{}, err
	}
	return sub, nil
}

// releaseIfOwned forgets digest when it is registered to id and reports
// whether it was.
func (s *Service) releaseIfOwned(ctx context.Context, digest, id string) bool {
	owner, seen := s.index.Claim(ctx, digest, id)
	if seen && owner != id {
		return false
	}
	s.index.Release(ctx, digest)
	return seen
}

// putLocked saves the dataset and schedules a new generation. Must be called
// with s.mu held.
func (s *Service) putLocked(ctx context.Context, id, digest string, in Input, prev *repository.Dataset) (Submission, error) {
	now := time.Now()
	d := repository.Dataset{
		ID:        id,
		Digest:    digest,
		Source:    in.Source,
		Version:   1,
		Rows:      in.Rows,
		Options:   in.Options,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev != nil {
		d.Version = prev.Version + 1
		d.CreatedAt = prev.CreatedAt
	}
	if err := s.store.Save(ctx, d); err != nil {
		return Submission{}, fmt.Errorf("save dataset: %w", err)
	}

	e, err := s.scheduleLocked(ctx, id, digest)
	if err != nil {
		if prev != nil {
			_ = s.store.Save(ctx, *prev)
		} else {
			_ = s.store.Delete(ctx, id)
		}
		return Submission{}, err
	}

	metrics.UpdateDatasetsTotal(s.store.Count(ctx))
	s.logger.Info(ctx, "dataset accepted",
		logger.String("dataset_id", id),
		logger.Int("rows", len(in.Rows)),
		logger.Int("version", d.Version),
		logger.Any("generation", e.generation),
	)
	return Submission{ID: id, Generation: e.generation, Status: e.status}, nil
}

// scheduleLocked starts a new pending generation for id and enqueues its
// computation. Must be called with s.mu held.
func (s *Service) scheduleLocked(ctx context.Context, id, digest string) (*entry, error) {
	var gen uint64 = 1
	old, hadOld := s.entries[id]
	if hadOld {
		gen = old.generation + 1
	}
	if !s.jobs.Enqueue(ctx, jobqueue.Job{DatasetID: id, Generation: gen}) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrQueueFull)
	}

	if hadOld && old.status == StatusPending {
		close(old.done)
	}
	e := &entry{generation: gen, digest: digest, status: StatusPending, done: make(chan struct{})}
	s.entries[id] = e
	s.publishCacheLocked()
	return e, nil
}

func (s *Service) publishCacheLocked() {
	ready := 0
	for _, e := range s.entries {
		if e.status == StatusReady {
			ready++
		}
	}
	metrics.UpdateRacesCached(ready)
}

// Compute implements the worker Computer: it runs the pipeline for one job
// and publishes the result unless a newer generation superseded it.
func (s *Service) Compute(ctx context.Context, job jobqueue.Job) error {
	if !s.current(job) {
		return nil
	}

	d, err := s.loadStore(ctx, job.DatasetID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	start := time.Now()
	r, err := race.Compute(d.Rows, d.Options)
	took := time.Since(start)
	metrics.RecordComputeLatency(float64(took.Microseconds()) / 1000)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[job.DatasetID]
	if !ok || e.generation != job.Generation {
		s.logger.Debug(ctx, "dropping stale race",
			logger.String("dataset_id", job.DatasetID), logger.Any("generation", job.Generation))
		return nil
	}

	if err != nil {
		e.status, e.err = StatusFailed, err
		metrics.RecordRaceFailure(Reason(err))
	} else {
		e.status, e.race = StatusReady, r
		metrics.RecordRaceComputed(len(r.Frames))
	}
	close(e.done)
	s.publishCacheLocked()

	if err != nil {
		return err
	}
	s.logger.Info(ctx, "race computed",
		logger.String("dataset_id", job.DatasetID),
		logger.Int("frames", len(r.Frames)),
		logger.Int("dates", r.Dates),
		logger.Duration("took_ms", took),
	)
	return nil
}

func (s *Service) current(job jobqueue.Job) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[job.DatasetID]
	return ok && e.generation == job.Generation
}

func (s *Service) loadStore(ctx context.Context, id string) (repository.Dataset, error) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return repository.Dataset{}, ErrNotStarted
	}
	return store.Load(ctx, id)
}

// Dataset returns the stored dataset with id.
func (s *Service) Dataset(ctx context.Context, id string) (repository.Dataset, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return repository.Dataset{}, ErrNotStarted
	}
	return s.loadStore(ctx, id)
}

// Datasets lists stored datasets, oldest first.
func (s *Service) Datasets(ctx context.Context) ([]repository.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store.List(ctx)
}

// Race returns the current state of id's race. A stored dataset without a
// cache entry is scheduled and reported pending.
func (s *Service) Race(ctx context.Context, id string) (RaceView, error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return RaceView{}, ErrNotStarted
	}
	if e, ok := s.entries[id]; ok {
		v := e.view(id)
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return RaceView{}, ErrNotStarted
	}
	if e, ok := s.entries[id]; ok {
		return e.view(id), nil
	}
	d, err := s.store.Load(ctx, id)
	if err != nil {
		return RaceView{}, err
	}
	e, err := s.scheduleLocked(ctx, id, d.Digest)
	if err != nil {
		return RaceView{}, err
	}
	return e.view(id), nil
}

// WaitRace blocks until id's race leaves pending or ctx is done.
func (s *Service) WaitRace(ctx context.Context, id string) (RaceView, error) {
	for {
		v, err := s.Race(ctx, id)
		if err != nil || v.Status != StatusPending {
			return v, err
		}

		s.mu.RLock()
		e, ok := s.entries[id]
		var done chan struct{}
		if ok {
			done = e.done
		}
		s.mu.RUnlock()
		if !ok {
			return RaceView{}, ErrNotFound
		}

		select {
		case <-done:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// ready returns id's computed race or the error explaining why there is none.
func (s *Service) ready(ctx context.Context, id string) (*race.Race, error) {
	v, err := s.Race(ctx, id)
	if err != nil {
		return nil, err
	}
	switch v.Status {
	case StatusReady:
		return v.Race, nil
	case StatusFailed:
		return nil, fmt.Errorf("%w: %w", ErrRaceFailed, v.Err)
	default:
		return nil, ErrPending
	}
}

// Step returns the transition plan of frame n of id's race.
func (s *Service) Step(ctx context.Context, id string, n int) (playback.Step, error) {
	r, err := s.ready(ctx, id)
	if err != nil {
		return playback.Step{}, err
	}
	run, err := playback.NewRun(r)
	if err != nil {
		return playback.Step{}, err
	}
	return run.Step(n)
}

// Restart discards id's computed race and computes it again from the
// stored dataset under a new generation.
func (s *Service) Restart(ctx context.Context, id string) (RaceView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return RaceView{}, ErrNotStarted
	}
	d, err := s.store.Load(ctx, id)
	if err != nil {
		return RaceView{}, err
	}
	e, err := s.scheduleLocked(ctx, id, d.Digest)
	if err != nil {
		return RaceView{}, err
	}
	metrics.RecordRaceRestart()
	s.logger.Info(ctx, "race restarted", logger.String("dataset_id", id), logger.Any("generation", e.generation))
	return e.view(id), nil
}

// Play streams id's race through emit, one step per transition duration
// unless opts override the pacing. It returns the number of steps emitted.
func (s *Service) Play(ctx context.Context, id string, emit playback.Emitter, opts ...playback.Option) (int, error) {
	r, err := s.ready(ctx, id)
	if err != nil {
		return 0, err
	}

	metrics.IncrementStreamsActive()
	defer metrics.DecrementStreamsActive()

	counted := func(ctx context.Context, st playback.Step) error {
		if err := emit(ctx, st); err != nil {
			return err
		}
		metrics.RecordStepStreamed()
		return nil
	}

	return playback.NewPlayer(opts...).Play(ctx, r, counted)
}

// Delete removes id's dataset and race.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}

	d, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.releaseIfOwned(ctx, d.Digest, id)
	if e, ok := s.entries[id]; ok {
		if e.status == StatusPending {
			close(e.done)
		}
		delete(s.entries, id)
	}
	s.publishCacheLocked()
	metrics.UpdateDatasetsTotal(s.store.Count(ctx))
	s.logger.Info(ctx, "dataset deleted", logger.String("dataset_id", id))
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	byStatus := map[Status]int{}
	for _, e := range s.entries {
		byStatus[e.status]++
	}
	queueLen := s.jobs.Len(ctx)
	datasets := s.store.Count(ctx)

	stats["queueLength"] = queueLen
	stats["datasets"] = datasets
	stats["racesPending"] = byStatus[StatusPending]
	stats["racesReady"] = byStatus[StatusReady]
	stats["racesFailed"] = byStatus[StatusFailed]
	stats["digests"] = s.index.Size()
	stats["workersActive"] = s.workerPool.Active()
	stats["jobsProcessed"] = s.workerPool.Processed()
	stats["jobsFailed"] = s.workerPool.Failed()
	stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateDatasetsTotal(datasets)
	return stats
}

// FileDatasetID derives a stable dataset id from a file path, so a watched
// file keeps its id across restarts.
func FileDatasetID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}
