package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/barrace/internal/adapters/repository"
	"github.com/okian/barrace/internal/adapters/source"
	service "github.com/okian/barrace/internal/app"
	"github.com/okian/barrace/internal/domain/aggregate"
	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/race"
)

// optionsRequest carries per-dataset overrides; absent fields keep the
// server defaults.
type optionsRequest struct {
	VisibleBarCount *int     `json:"visible_bar_count,omitempty"`
	SubSteps        *int     `json:"sub_steps,omitempty"`
	TransitionMS    *int64   `json:"transition_duration_ms,omitempty"`
	DateLayouts     []string `json:"date_layouts,omitempty"`
	DuplicatePolicy *string  `json:"duplicate_policy,omitempty"`
	TickerLayout    *string  `json:"ticker_layout,omitempty"`
}

func (o *optionsRequest) apply(base race.Options) race.Options {
	if o == nil {
		return base
	}
	if o.VisibleBarCount != nil {
		base.VisibleBarCount = *o.VisibleBarCount
	}
	if o.SubSteps != nil {
		base.SubStepsPerInterval = *o.SubSteps
	}
	if o.TransitionMS != nil {
		base.TransitionDuration = time.Duration(*o.TransitionMS) * time.Millisecond
	}
	if len(o.DateLayouts) > 0 {
		base.DateLayouts = o.DateLayouts
	}
	if o.DuplicatePolicy != nil {
		base.DuplicatePolicy = aggregate.Policy(*o.DuplicatePolicy)
	}
	if o.TickerLayout != nil {
		base.TickerLayout = *o.TickerLayout
	}
	return base
}

// optionsFromQuery reads the same overrides from URL parameters, used with
// CSV uploads.
func optionsFromQuery(r *http.Request) (*optionsRequest, error) {
	q := r.URL.Query()
	o := &optionsRequest{DateLayouts: q["date_layout"]}
	for key, dst := range map[string]**int{"visible_bar_count": &o.VisibleBarCount, "sub_steps": &o.SubSteps} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			*dst = &n
		}
	}
	if v := q.Get("transition_duration_ms"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("transition_duration_ms: %w", err)
		}
		o.TransitionMS = &n
	}
	if q.Has("duplicate_policy") {
		v := q.Get("duplicate_policy")
		o.DuplicatePolicy = &v
	}
	if q.Has("ticker_layout") {
		v := q.Get("ticker_layout")
		o.TickerLayout = &v
	}
	return o, nil
}

// datasetRequest mirrors the OpenAPI schema for POST /datasets.
type datasetRequest struct {
	Rows    []model.Row     `json:"rows"`
	Options *optionsRequest `json:"options,omitempty"`
	Source  string          `json:"source,omitempty"`
}

type optionsResponse struct {
	VisibleBarCount int      `json:"visible_bar_count"`
	SubSteps        int      `json:"sub_steps"`
	TransitionMS    int64    `json:"transition_duration_ms"`
	DateLayouts     []string `json:"date_layouts,omitempty"`
	DuplicatePolicy string   `json:"duplicate_policy"`
	TickerLayout    string   `json:"ticker_layout"`
}

func newOptionsResponse(o race.Options) optionsResponse {
	policy := o.DuplicatePolicy
	if policy == "" {
		policy = aggregate.PolicyLast
	}
	ticker := o.TickerLayout
	if ticker == "" {
		ticker = race.DefaultTickerLayout
	}
	return optionsResponse{
		VisibleBarCount: o.VisibleBarCount,
		SubSteps:        o.SubStepsPerInterval,
		TransitionMS:    o.TransitionDuration.Milliseconds(),
		DateLayouts:     o.DateLayouts,
		DuplicatePolicy: string(policy),
		TickerLayout:    ticker,
	}
}

type submitResponse struct {
	ID         string `json:"id"`
	Generation uint64 `json:"generation"`
	Status     string `json:"status"`
	Duplicate  bool   `json:"duplicate"`
}

type summaryResponse struct {
	ID        string    `json:"id"`
	Source    string    `json:"source,omitempty"`
	Version   int       `json:"version"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSummaryResponse(s repository.Summary) summaryResponse {
	return summaryResponse{
		ID:        s.ID,
		Source:    s.Source,
		Version:   s.Version,
		RowCount:  s.RowCount,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type datasetResponse struct {
	summaryResponse
	Options optionsResponse `json:"options"`
	Rows    []model.Row     `json:"rows"`
}

// DatasetsHandler handles dataset requests.
type DatasetsHandler struct {
	deps         DatasetDependencies
	maxBodyBytes int64
}

// NewDatasetsHandler creates a new datasets handler.
func NewDatasetsHandler(deps DatasetDependencies, maxBodyBytes int64) *DatasetsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &DatasetsHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// decode reads a JSON or CSV dataset body into a service input.
func (h *DatasetsHandler) decode(w http.ResponseWriter, r *http.Request, op string) (service.Input, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		overrides, err := optionsFromQuery(r)
		if err != nil {
			return service.Input{}, WrapKind(op, ErrBadRequest, err)
		}
		rows, err := source.ParseCSV(body)
		if err != nil {
			return service.Input{}, bodyError(op, err)
		}
		return service.Input{
			Rows:    rows,
			Options: overrides.apply(h.deps.DefaultRaceOptions()),
			Source:  r.URL.Query().Get("source"),
		}, nil
	}

	var req datasetRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return service.Input{}, bodyError(op, WrapKind(op, ErrBadRequest, err))
	}
	return service.Input{
		Rows:    req.Rows,
		Options: req.Options.apply(h.deps.DefaultRaceOptions()),
		Source:  req.Source,
	}, nil
}

// bodyError reports an oversized body as too many rows.
func bodyError(op string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return WrapKind(op, service.ErrTooManyRows, tooLarge)
	}
	return Wrap(op, err)
}

// HandleSubmit handles POST /datasets requests.
func (h *DatasetsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_dataset"
	in, err := h.decode(w, r, op)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	sub, err := h.deps.Submit(r.Context(), in)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}

	status := http.StatusAccepted
	if sub.Duplicate {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/races/"+sub.ID)
	writeJSON(w, status, newSubmitResponse(sub))
}

// HandleReplace handles PUT /datasets/{id} requests.
func (h *DatasetsHandler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	const op = "api.replace_dataset"
	in, err := h.decode(w, r, op)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	sub, err := h.deps.Replace(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}

	status := http.StatusAccepted
	if sub.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, newSubmitResponse(sub))
}

// HandleList handles GET /datasets requests.
func (h *DatasetsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_datasets"
	list, err := h.deps.Datasets(r.Context())
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	out := make([]summaryResponse, 0, len(list))
	for _, s := range list {
		out = append(out, newSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /datasets/{id} requests.
func (h *DatasetsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_dataset"
	d, err := h.deps.Dataset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, datasetResponse{
		summaryResponse: newSummaryResponse(d.Summarize()),
		Options:         newOptionsResponse(d.Options),
		Rows:            d.Rows,
	})
}

// HandleDelete handles DELETE /datasets/{id} requests.
func (h *DatasetsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_dataset"
	if err := h.deps.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newSubmitResponse(s service.Submission) submitResponse {
	return submitResponse{ID: s.ID, Generation: s.Generation, Status: string(s.Status), Duplicate: s.Duplicate}
}
