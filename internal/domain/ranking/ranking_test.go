package ranking

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRank(t *testing.T) {
	Convey("Given names with distinct values", t, func() {
		names := []string{"A", "B", "C"}
		src := Snapshot{Values: map[string]float64{"A": 1, "B": 3, "C": 2}}

		Convey("When ranking with a wide window", func() {
			out := Rank(names, src, 12)

			Convey("Then entries are sorted by value descending", func() {
				So(out, ShouldHaveLength, 3)
				So(out[0].Name, ShouldEqual, "B")
				So(out[1].Name, ShouldEqual, "C")
				So(out[2].Name, ShouldEqual, "A")
			})

			Convey("And ranks are their positions", func() {
				for i, e := range out {
					So(e.Rank, ShouldEqual, i)
				}
			})
		})

		Convey("When the window is narrower than the name set", func() {
			out := Rank(names, src, 1)

			Convey("Then everything past the window shares the sentinel rank", func() {
				So(out[0].Rank, ShouldEqual, 0)
				So(out[1].Rank, ShouldEqual, 1)
				So(out[2].Rank, ShouldEqual, 1)
			})
		})
	})

	Convey("Given tied values", t, func() {
		names := []string{"X", "Y", "Z"}
		src := Snapshot{Values: map[string]float64{"X": 5, "Y": 5, "Z": 5}}

		Convey("Then input order breaks the tie", func() {
			out := Rank(names, src, 12)
			So(out[0].Name, ShouldEqual, "X")
			So(out[1].Name, ShouldEqual, "Y")
			So(out[2].Name, ShouldEqual, "Z")
		})
	})

	Convey("Given names missing from the source", t, func() {
		names := []string{"A", "Ghost"}
		src := Snapshot{Values: map[string]float64{"A": -1}}

		Convey("Then they are ranked with value 0", func() {
			out := Rank(names, src, 12)
			So(out[0].Name, ShouldEqual, "Ghost")
			So(out[0].Value, ShouldEqual, 0)
			So(out[1].Value, ShouldEqual, -1)
		})
	})

	Convey("Given no names", t, func() {
		Convey("Then the ranking is empty", func() {
			So(Rank(nil, Snapshot{}, 12), ShouldBeEmpty)
		})
	})
}

func TestValueSources(t *testing.T) {
	Convey("Given a snapshot with a NaN value", t, func() {
		src := Snapshot{Values: map[string]float64{"A": math.NaN()}}

		Convey("Then NaN reads as 0", func() {
			So(src.ValueOf("A"), ShouldEqual, 0)
		})
	})

	Convey("Given a blend between two dates", t, func() {
		b := Blend{
			From: map[string]float64{"A": 10, "B": 4},
			To:   map[string]float64{"A": 20, "C": 8},
		}

		Convey("Then t=0 reads the first date", func() {
			b.T = 0
			So(b.ValueOf("A"), ShouldEqual, 10)
			So(b.ValueOf("C"), ShouldEqual, 0)
		})

		Convey("Then t=0.5 reads the midpoint, absent sides as 0", func() {
			b.T = 0.5
			So(b.ValueOf("A"), ShouldEqual, 15)
			So(b.ValueOf("B"), ShouldEqual, 2)
			So(b.ValueOf("C"), ShouldEqual, 4)
		})

		Convey("Then unknown names read as 0", func() {
			b.T = 0.25
			So(b.ValueOf("nobody"), ShouldEqual, 0)
		})
	})
}
