package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	service "github.com/okian/barrace/internal/app"
	"github.com/okian/barrace/internal/domain/adjacency"
	"github.com/okian/barrace/internal/domain/playback"
	"github.com/okian/barrace/internal/domain/race"
	"github.com/okian/barrace/pkg/logger"
)

// entryResponse is a ranked entry with the frames of its neighbouring
// appearances; -1 marks no neighbour.
type entryResponse struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Rank  int     `json:"rank"`
	Prev  int     `json:"prev"`
	Next  int     `json:"next"`
}

type frameResponse struct {
	Index     int             `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	Entries   []entryResponse `json:"entries"`
}

type raceResponse struct {
	DatasetID  string           `json:"dataset_id"`
	Generation uint64           `json:"generation"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Names      []string         `json:"names,omitempty"`
	Dates      int              `json:"dates,omitempty"`
	FrameCount int              `json:"frame_count,omitempty"`
	Options    *optionsResponse `json:"options,omitempty"`
	Offset     int              `json:"offset,omitempty"`
	Frames     []frameResponse  `json:"frames,omitempty"`
}

func newRaceResponse(v service.RaceView, offset, limit int) raceResponse {
	out := raceResponse{
		DatasetID:  v.DatasetID,
		Generation: v.Generation,
		Status:     string(v.Status),
	}
	if v.Err != nil {
		out.Error = v.Err.Error()
	}
	r := v.Race
	if r == nil {
		return out
	}

	opts := newOptionsResponse(r.Options)
	out.Names = r.Names
	out.Dates = r.Dates
	out.FrameCount = len(r.Frames)
	out.Options = &opts
	out.Offset = offset
	out.Frames = frames(r, offset, limit)
	return out
}

// frames renders frames [offset, offset+limit) with their adjacency links.
// A negative limit means all remaining frames.
func frames(r *race.Race, offset, limit int) []frameResponse {
	if offset >= len(r.Frames) || limit == 0 {
		return nil
	}
	end := len(r.Frames)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]frameResponse, 0, end-offset)
	for i := offset; i < end; i++ {
		f := r.Frames[i]
		entries := make([]entryResponse, len(f.Entries))
		for j, e := range f.Entries {
			ref := adjacency.Ref{Name: e.Name, Frame: i}
			er := entryResponse{Name: e.Name, Value: e.Value, Rank: e.Rank, Prev: -1, Next: -1}
			if p, ok := r.Index.Prev(ref); ok {
				er.Prev = p.Frame
			}
			if n, ok := r.Index.Next(ref); ok {
				er.Next = n.Frame
			}
			entries[j] = er
		}
		out = append(out, frameResponse{Index: i, Timestamp: f.Timestamp, Entries: entries})
	}
	return out
}

// RacesHandler handles race read, step and playback requests.
type RacesHandler struct {
	deps    RaceDependencies
	maxWait time.Duration
	logger  logger.Logger
}

// NewRacesHandler creates a new races handler.
func NewRacesHandler(deps RaceDependencies, maxWait time.Duration, l logger.Logger) *RacesHandler {
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &RacesHandler{deps: deps, maxWait: maxWait, logger: l}
}

// await honours the wait query parameter: when set, it blocks until the race
// leaves pending or the wait elapses.
func (h *RacesHandler) await(r *http.Request, id string) error {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fmt.Errorf("%w: wait must be a duration", ErrBadRequest)
	}
	if d > h.maxWait {
		d = h.maxWait
	}

	ctx, cancel := context.WithTimeout(r.Context(), d)
	defer cancel()
	_, err = h.deps.WaitRace(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		// still pending: the handler reports it
		return nil
	}
	return err
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, name)
	}
	return n, nil
}

// HandleGet handles GET /races/{id} requests. Frames can be paged with
// offset and limit; limit=0 returns only the header.
func (h *RacesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_race"
	id := r.PathValue("id")

	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	limit, err := intParam(r, "limit", -1)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	if err := h.await(r, id); err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}

	v, err := h.deps.Race(r.Context(), id)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}

	status := http.StatusOK
	if v.Status == service.StatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, newRaceResponse(v, offset, limit))
}

// HandleFrame handles GET /races/{id}/frames/{n} requests.
func (h *RacesHandler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_frame"
	id := r.PathValue("id")
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.await(r, id); err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}

	step, err := h.deps.Step(r.Context(), id, n)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, step)
}

// HandleRestart handles POST /races/{id}/restart requests.
func (h *RacesHandler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	const op = "api.restart_race"
	v, err := h.deps.Restart(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, newRaceResponse(v, 0, 0))
}

// HandlePlay handles GET /races/{id}/play requests: the race's steps as
// NDJSON, one line per transition duration. start skips ahead and step_ms
// overrides the pacing.
func (h *RacesHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	const op = "api.play_race"
	id := r.PathValue("id")

	start, err := intParam(r, "start", 0)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	opts := []playback.Option{playback.WithStartAt(start)}
	if r.URL.Query().Has("step_ms") {
		ms, err := intParam(r, "step_ms", 0)
		if err != nil {
			writeServiceError(w, Wrap(op, err))
			return
		}
		opts = append(opts, playback.WithStepDuration(time.Duration(ms)*time.Millisecond))
	}
	if err := h.await(r, id); err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	emit := func(_ context.Context, s playback.Step) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(s); err != nil {
			return WrapKind(op, ErrStreaming, err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	n, err := h.deps.Play(r.Context(), id, emit, opts...)
	switch {
	case err == nil:
	case !started:
		writeServiceError(w, Wrap(op, err))
	default:
		h.logger.Debug(r.Context(), "playback ended early",
			logger.String("dataset_id", id), logger.Int("steps", n), logger.Error(err))
	}
}
