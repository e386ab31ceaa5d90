package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/playback"
	"github.com/okian/barrace/internal/domain/race"
	. "github.com/smartystreets/goconvey/convey"
)

// threeWay builds a race where C climbs into a one-bar window and A drops out.
func threeWay() *race.Race {
	rows := []model.Row{
		{Date: "2019-01-01", Name: "A", Value: 10},
		{Date: "2019-01-01", Name: "B", Value: 1},
		{Date: "2020-01-01", Name: "A", Value: 10},
		{Date: "2020-01-01", Name: "C", Value: 30},
	}
	o := race.DefaultOptions()
	o.VisibleBarCount = 1
	o.SubStepsPerInterval = 2
	o.TransitionDuration = 0
	r, err := race.Compute(rows, o)
	if err != nil {
		panic(err)
	}
	return r
}

func byName(s playback.Step) map[string]playback.Transition {
	m := make(map[string]playback.Transition, len(s.Bars))
	for _, b := range s.Bars {
		m[b.Name] = b
	}
	return m
}

func TestRun(t *testing.T) {
	Convey("Given a run over a race where the leader changes", t, func() {
		r := threeWay()
		run, err := playback.NewRun(r)
		So(err, ShouldBeNil)
		So(run.Len(), ShouldEqual, 3)

		Convey("When producing the first step", func() {
			s, ok := run.Next()

			Convey("Then the visible bar enters from its own position", func() {
				So(ok, ShouldBeTrue)
				So(s.Index, ShouldEqual, 0)
				So(s.Ticker, ShouldEqual, "2019")
				So(s.AxisMax, ShouldEqual, 10)
				So(s.Bars, ShouldHaveLength, 1)
				So(s.Bars[0], ShouldResemble, playback.Transition{
					Name: "A", Kind: playback.KindEnter,
					From: playback.Position{Rank: 0, Value: 10},
					To:   playback.Position{Rank: 0, Value: 10},
				})
			})

			Convey("And the next step enters C and exits A towards the sentinel rank", func() {
				s, ok := run.Next()
				So(ok, ShouldBeTrue)
				bars := byName(s)
				So(bars["C"].Kind, ShouldEqual, playback.KindEnter)
				So(bars["C"].From, ShouldResemble, playback.Position{Rank: 1, Value: 0})
				So(bars["C"].To, ShouldResemble, playback.Position{Rank: 0, Value: 15})

				So(bars["A"].Kind, ShouldEqual, playback.KindExit)
				So(bars["A"].From, ShouldResemble, playback.Position{Rank: 0, Value: 10})
				So(bars["A"].To, ShouldResemble, playback.Position{Rank: 1, Value: 10})
			})

			Convey("And the last step updates C and then the run is done", func() {
				run.Next()
				s, ok := run.Next()
				So(ok, ShouldBeTrue)
				So(s.Bars, ShouldHaveLength, 1)
				So(s.Bars[0].Kind, ShouldEqual, playback.KindUpdate)
				So(s.Bars[0].To.Value, ShouldEqual, 30)
				So(s.Ticker, ShouldEqual, "2020")

				_, ok = run.Next()
				So(ok, ShouldBeFalse)
				So(run.Done(), ShouldBeTrue)
			})
		})

		Convey("When stepping straight to a frame", func() {
			direct, err := run.Step(1)
			So(err, ShouldBeNil)

			Convey("Then it matches a sequential run", func() {
				seq, _ := playback.NewRun(r)
				seq.Next()
				s, _ := seq.Next()
				So(direct, ShouldResemble, s)
			})
		})

		Convey("When stepping out of range", func() {
			_, err := run.Step(3)
			So(errors.Is(err, playback.ErrOutOfRange), ShouldBeTrue)
			_, err = run.Step(-1)
			So(errors.Is(err, playback.ErrOutOfRange), ShouldBeTrue)
		})

		Convey("When resetting after a full pass", func() {
			for !run.Done() {
				run.Next()
			}
			run.Reset()

			Convey("Then the run replays from a clean state", func() {
				s, ok := run.Next()
				So(ok, ShouldBeTrue)
				So(s.Index, ShouldEqual, 0)
				So(s.Bars[0].Kind, ShouldEqual, playback.KindEnter)
			})
		})
	})

	Convey("Given no race", t, func() {
		_, err := playback.NewRun(nil)
		So(errors.Is(err, playback.ErrNoRace), ShouldBeTrue)
	})
}

func TestPlayer(t *testing.T) {
	Convey("Given a player without pacing", t, func() {
		r := threeWay()
		p := playback.NewPlayer(playback.WithStepDuration(0))

		Convey("Then every step is emitted in order", func() {
			var got []int
			n, err := p.Play(context.Background(), r, func(_ context.Context, s playback.Step) error {
				got = append(got, s.Index)
				return nil
			})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)
			So(got, ShouldResemble, []int{0, 1, 2})
		})

		Convey("Then an emitter error stops playback", func() {
			boom := errors.New("client gone")
			n, err := p.Play(context.Background(), r, func(_ context.Context, s playback.Step) error {
				if s.Index == 1 {
					return boom
				}
				return nil
			})
			So(errors.Is(err, boom), ShouldBeTrue)
			So(n, ShouldEqual, 1)
		})

		Convey("Then playback can start mid-race", func() {
			var got []int
			_, err := playback.NewPlayer(playback.WithStepDuration(0), playback.WithStartAt(2)).
				Play(context.Background(), r, func(_ context.Context, s playback.Step) error {
					got = append(got, s.Index)
					return nil
				})
			So(err, ShouldBeNil)
			So(got, ShouldResemble, []int{2})
		})
	})

	Convey("Given a paced player and a cancelled context", t, func() {
		r := threeWay()
		p := playback.NewPlayer(playback.WithStepDuration(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())

		Convey("Then playback stops after the current step", func() {
			n, err := p.Play(ctx, r, func(_ context.Context, _ playback.Step) error {
				cancel()
				return nil
			})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(n, ShouldEqual, 1)
		})
	})
}
