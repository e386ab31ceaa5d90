// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/barrace/internal/adapters/repository"
	"github.com/okian/barrace/internal/adapters/source"
	service "github.com/okian/barrace/internal/app"
	"github.com/okian/barrace/internal/domain/playback"
	"github.com/okian/barrace/internal/domain/race"
	"github.com/okian/barrace/pkg/logger"
)

// DatasetDependencies covers dataset submission and storage.
type DatasetDependencies interface {
	DefaultRaceOptions() race.Options
	Submit(ctx context.Context, in service.Input) (service.Submission, error)
	Replace(ctx context.Context, id string, in service.Input) (service.Submission, error)
	Dataset(ctx context.Context, id string) (repository.Dataset, error)
	Datasets(ctx context.Context) ([]repository.Summary, error)
	Delete(ctx context.Context, id string) error
}

// RaceDependencies covers computed races and their playback.
type RaceDependencies interface {
	Race(ctx context.Context, id string) (service.RaceView, error)
	WaitRace(ctx context.Context, id string) (service.RaceView, error)
	Step(ctx context.Context, id string, n int) (playback.Step, error)
	Restart(ctx context.Context, id string) (service.RaceView, error)
	Play(ctx context.Context, id string, emit playback.Emitter, opts ...playback.Option) (int, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	DatasetDependencies
	RaceDependencies
}

// Default request limits.
const (
	defaultMaxBodyBytes = 64 << 20
	defaultMaxWait      = 30 * time.Second
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxBodyBytes caps the size of dataset uploads.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithMaxWait caps the wait query parameter.
func WithMaxWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.maxWait = d
		}
	}
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	datasetsHandler *DatasetsHandler
	racesHandler    *RacesHandler

	maxBodyBytes int64
	maxWait      time.Duration
	logger       logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		maxBodyBytes: defaultMaxBodyBytes,
		maxWait:      defaultMaxWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}

	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.datasetsHandler = NewDatasetsHandler(deps, s.maxBodyBytes)
	s.racesHandler = NewRacesHandler(deps, s.maxWait, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /datasets", MetricsMiddleware(s.datasetsHandler.HandleSubmit, "datasets"))
	mux.HandleFunc("GET /datasets", MetricsMiddleware(s.datasetsHandler.HandleList, "datasets"))
	mux.HandleFunc("GET /datasets/{id}", MetricsMiddleware(s.datasetsHandler.HandleGet, "dataset"))
	mux.HandleFunc("PUT /datasets/{id}", MetricsMiddleware(s.datasetsHandler.HandleReplace, "dataset"))
	mux.HandleFunc("DELETE /datasets/{id}", MetricsMiddleware(s.datasetsHandler.HandleDelete, "dataset"))

	mux.HandleFunc("GET /races/{id}", MetricsMiddleware(s.racesHandler.HandleGet, "race"))
	mux.HandleFunc("GET /races/{id}/frames/{n}", MetricsMiddleware(s.racesHandler.HandleFrame, "race_frame"))
	mux.HandleFunc("GET /races/{id}/play", MetricsMiddleware(s.racesHandler.HandlePlay, "race_play"))
	mux.HandleFunc("POST /races/{id}/restart", MetricsMiddleware(s.racesHandler.HandleRestart, "race_restart"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// Error codes that do not come from the service.
const (
	codeBadRequest = "bad_request"
	codeFailed     = "race_failed"
	codeTimeout    = "timeout"
)

// statusFor maps a service or source error to an HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, source.ErrNoRows):
		return http.StatusUnprocessableEntity, service.ReasonEmptyDataset
	case errors.Is(err, source.ErrMissingColumn), errors.Is(err, source.ErrBadValue), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	}

	reason := service.Reason(err)
	switch reason {
	case service.ReasonMalformedDate, service.ReasonInvalidOptions:
		if errors.Is(err, service.ErrRaceFailed) {
			return http.StatusUnprocessableEntity, codeFailed
		}
		return http.StatusBadRequest, reason
	case service.ReasonEmptyDataset:
		return http.StatusUnprocessableEntity, reason
	case service.ReasonTooManyRows:
		return http.StatusRequestEntityTooLarge, reason
	case service.ReasonNotFound, service.ReasonOutOfRange:
		return http.StatusNotFound, reason
	case service.ReasonPending:
		return http.StatusConflict, reason
	case service.ReasonQueueFull:
		return http.StatusTooManyRequests, reason
	default:
		if errors.Is(err, service.ErrRaceFailed) {
			return http.StatusUnprocessableEntity, codeFailed
		}
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}
