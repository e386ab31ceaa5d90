package api_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/barrace/internal/adapters/http/api"
	service "github.com/okian/barrace/internal/app"
	"github.com/okian/barrace/internal/domain/playback"
	"github.com/okian/barrace/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const threeYears = `{"rows":[
	{"date":"2019","name":"A","value":10},
	{"date":"2019","name":"B","value":5},
	{"date":"2020","name":"A","value":12},
	{"date":"2020","name":"B","value":20},
	{"date":"2021","name":"A","value":30},
	{"date":"2021","name":"B","value":25}
],"options":{"sub_steps":2,"transition_duration_ms":0}}`

type submitted struct {
	ID         string `json:"id"`
	Generation uint64 `json:"generation"`
	Status     string `json:"status"`
	Duplicate  bool   `json:"duplicate"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type raceBody struct {
	DatasetID  string   `json:"dataset_id"`
	Status     string   `json:"status"`
	Names      []string `json:"names"`
	FrameCount int      `json:"frame_count"`
	Frames     []struct {
		Index   int `json:"index"`
		Entries []struct {
			Name string `json:"name"`
			Rank int    `json:"rank"`
			Prev int    `json:"prev"`
			Next int    `json:"next"`
		} `json:"entries"`
	} `json:"frames"`
}

func newMux(svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(svc, svc, api.WithMaxWait(5*time.Second)).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func TestServer(t *testing.T) {
	Convey("Given an API server over a started service", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithQueueSize(16), service.WithMaxRows(100))
		So(svc.Start(context.Background()), ShouldBeNil)
		Reset(func() { _ = svc.Stop(context.Background()) })
		mux := newMux(svc)

		Convey("When checking health", func() {
			w := do(mux, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"ok"`)
		})

		Convey("When scraping metrics", func() {
			w := do(mux, http.MethodGet, "/metrics", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "barrace_")
		})

		Convey("When reading stats", func() {
			w := do(mux, http.MethodGet, "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var stats map[string]any
			decode(w, &stats)
			So(stats["started"], ShouldEqual, true)
		})

		Convey("When a JSON dataset is submitted", func() {
			w := do(mux, http.MethodPost, "/datasets", "application/json", threeYears)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			var sub submitted
			decode(w, &sub)
			So(sub.ID, ShouldNotBeEmpty)
			So(w.Header().Get("Location"), ShouldEqual, "/races/"+sub.ID)

			Convey("Then the race can be read with adjacency", func() {
				w := do(mux, http.MethodGet, "/races/"+sub.ID+"?wait=5s", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var rb raceBody
				decode(w, &rb)
				So(rb.Status, ShouldEqual, "ready")
				So(rb.Names, ShouldResemble, []string{"A", "B"})
				So(rb.FrameCount, ShouldEqual, 5)
				So(rb.Frames, ShouldHaveLength, 5)
				So(rb.Frames[0].Entries[0].Prev, ShouldEqual, -1)
				So(rb.Frames[0].Entries[0].Next, ShouldEqual, 1)
				last := rb.Frames[4].Entries[0]
				So(last.Name, ShouldEqual, "A")
				So(last.Next, ShouldEqual, -1)
			})

			Convey("And frames can be paged", func() {
				w := do(mux, http.MethodGet, "/races/"+sub.ID+"?wait=5s&offset=3&limit=1", "", "")
				var rb raceBody
				decode(w, &rb)
				So(rb.Frames, ShouldHaveLength, 1)
				So(rb.Frames[0].Index, ShouldEqual, 3)
			})

			Convey("And a single step can be fetched", func() {
				w := do(mux, http.MethodGet, "/races/"+sub.ID+"/frames/4?wait=5s", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var step struct {
					Index  int    `json:"index"`
					Ticker string `json:"ticker"`
					Bars   []struct {
						Name string `json:"name"`
						Kind string `json:"kind"`
					} `json:"bars"`
				}
				decode(w, &step)
				So(step.Index, ShouldEqual, 4)
				So(step.Ticker, ShouldEqual, "2021")
				So(step.Bars, ShouldHaveLength, 2)
			})

			Convey("And a step past the end is not found", func() {
				w := do(mux, http.MethodGet, "/races/"+sub.ID+"/frames/99?wait=5s", "", "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
				var e apiError
				decode(w, &e)
				So(e.Code, ShouldEqual, service.ReasonOutOfRange)
			})

			Convey("And playback streams every step as NDJSON", func() {
				w := do(mux, http.MethodGet, "/races/"+sub.ID+"/play?wait=5s&step_ms=0", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "application/x-ndjson")

				var idx []int
				sc := bufio.NewScanner(bytes.NewReader(w.Body.Bytes()))
				for sc.Scan() {
					var s struct {
						Index int `json:"index"`
					}
					So(json.Unmarshal(sc.Bytes(), &s), ShouldBeNil)
					idx = append(idx, s.Index)
				}
				So(idx, ShouldResemble, []int{0, 1, 2, 3, 4})
			})

			Convey("And resubmitting it reports a duplicate", func() {
				w := do(mux, http.MethodPost, "/datasets", "application/json", threeYears)
				So(w.Code, ShouldEqual, http.StatusOK)
				var again submitted
				decode(w, &again)
				So(again.Duplicate, ShouldBeTrue)
				So(again.ID, ShouldEqual, sub.ID)
			})

			Convey("And it is listed and readable", func() {
				w := do(mux, http.MethodGet, "/datasets", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var list []struct {
					ID       string `json:"id"`
					RowCount int    `json:"row_count"`
				}
				decode(w, &list)
				So(list, ShouldHaveLength, 1)
				So(list[0].RowCount, ShouldEqual, 6)

				w = do(mux, http.MethodGet, "/datasets/"+sub.ID, "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var d struct {
					Options struct {
						SubSteps     int   `json:"sub_steps"`
						TransitionMS int64 `json:"transition_duration_ms"`
					} `json:"options"`
				}
				decode(w, &d)
				So(d.Options.SubSteps, ShouldEqual, 2)
				So(d.Options.TransitionMS, ShouldEqual, 0)
			})

			Convey("And it can be replaced with CSV", func() {
				csv := "date,name,value\n2019,A,1\n2020,A,2\n"
				w := do(mux, http.MethodPut, "/datasets/"+sub.ID+"?sub_steps=3", "text/csv", csv)
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var next submitted
				decode(w, &next)
				So(next.Generation, ShouldEqual, 2)

				w = do(mux, http.MethodGet, "/races/"+sub.ID+"?wait=5s&limit=0", "", "")
				var rb raceBody
				decode(w, &rb)
				So(rb.FrameCount, ShouldEqual, 4)
				So(rb.Frames, ShouldBeEmpty)
			})

			Convey("And it can be restarted", func() {
				w := do(mux, http.MethodPost, "/races/"+sub.ID+"/restart", "", "")
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var rb raceBody
				decode(w, &rb)
				So(rb.Status, ShouldEqual, "pending")
			})

			Convey("And it can be deleted", func() {
				So(do(mux, http.MethodDelete, "/datasets/"+sub.ID, "", "").Code, ShouldEqual, http.StatusNoContent)
				So(do(mux, http.MethodGet, "/races/"+sub.ID, "", "").Code, ShouldEqual, http.StatusNotFound)
				So(do(mux, http.MethodDelete, "/datasets/"+sub.ID, "", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When submissions are invalid", func() {
			cases := []struct {
				body, contentType string
				status            int
				code              string
			}{
				{`{"rows":[{"date":"someday","name":"A","value":1}]}`, "application/json", http.StatusBadRequest, service.ReasonMalformedDate},
				{`{"rows":[]}`, "application/json", http.StatusUnprocessableEntity, service.ReasonEmptyDataset},
				{`{"rows":[{"date":"2019","name":"A","value":1}],"options":{"visible_bar_count":0}}`, "application/json", http.StatusBadRequest, service.ReasonInvalidOptions},
				{`{"rows":[{"date":"2019","name":"A","value":1}],"options":{"duplicate_policy":"avg"}}`, "application/json", http.StatusBadRequest, service.ReasonInvalidOptions},
				{`{"rows":`, "application/json", http.StatusBadRequest, "bad_request"},
				{"date,name\n2019,A\n", "text/csv", http.StatusBadRequest, "bad_request"},
				{"date,name,value\n", "text/csv", http.StatusUnprocessableEntity, service.ReasonEmptyDataset},
				{"date,name,value\n" + strings.Repeat("2019,A,1\n", 101), "text/csv", http.StatusRequestEntityTooLarge, service.ReasonTooManyRows},
			}
			for _, c := range cases {
				w := do(mux, http.MethodPost, "/datasets", c.contentType, c.body)
				So(w.Code, ShouldEqual, c.status)
				var e apiError
				decode(w, &e)
				So(e.Code, ShouldEqual, c.code)
			}
		})

		Convey("When an unknown race is requested", func() {
			for _, target := range []string{"/races/nope", "/races/nope/frames/0", "/races/nope/play", "/datasets/nope"} {
				So(do(mux, http.MethodGet, target, "", "").Code, ShouldEqual, http.StatusNotFound)
			}
			So(do(mux, http.MethodPost, "/races/nope/restart", "", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When query parameters are malformed", func() {
			So(do(mux, http.MethodGet, "/races/x?wait=soon", "", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/races/x?offset=-1", "", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/races/x/frames/first", "", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

// slowRaces reports every race as pending so the 409 path can be exercised
// without timing.
type slowRaces struct {
	*service.Service
}

func (slowRaces) Step(context.Context, string, int) (playback.Step, error) {
	return playback.Step{}, service.ErrPending
}

func TestStatusMapping(t *testing.T) {
	Convey("Given a race that is still computing", t, func() {
		svc := service.New()
		So(svc.Start(context.Background()), ShouldBeNil)
		Reset(func() { _ = svc.Stop(context.Background()) })

		mux := http.NewServeMux()
		api.NewServer(slowRaces{svc}, svc).Register(context.Background(), mux)

		Convey("Then a frame request is a conflict", func() {
			w := do(mux, http.MethodGet, "/races/x/frames/0", "", "")
			So(w.Code, ShouldEqual, http.StatusConflict)
			var e apiError
			decode(w, &e)
			So(e.Code, ShouldEqual, service.ReasonPending)
		})
	})

	Convey("Given the API error type", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		So(api.Wrap("api.op", nil), ShouldBeNil)
		So(api.NewKind("api.op", api.ErrBackpressure).Error(), ShouldEqual, "api.op: backpressure")
	})
}
