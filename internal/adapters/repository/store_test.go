package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/barrace/internal/adapters/repository"
	"github.com/okian/barrace/internal/domain/aggregate"
	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/race"
	. "github.com/smartystreets/goconvey/convey"
)

func sample(id string, created time.Time) repository.Dataset {
	o := race.DefaultOptions()
	o.VisibleBarCount = 5
	o.TransitionDuration = 120 * time.Millisecond
	o.DuplicatePolicy = aggregate.PolicySum
	o.DateLayouts = []string{"2006-01-02"}
	return repository.Dataset{
		ID:      id,
		Digest:  "digest-" + id,
		Source:  "upload",
		Version: 1,
		Rows: []model.Row{
			{Date: "2020-01-01", Name: "A", Value: 1.5},
			{Date: "2020-01-02", Name: "B", Value: -3},
		},
		Options:   o,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// storeContract runs the behaviour every Store must share.
func storeContract(newStore func() repository.Store) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	store := newStore()
	Reset(func() { _ = store.Close() })

	Convey("Then it starts empty", func() {
		So(store.Count(ctx), ShouldEqual, 0)
		list, err := store.List(ctx)
		So(err, ShouldBeNil)
		So(list, ShouldBeEmpty)
	})

	Convey("When a dataset is saved", func() {
		in := sample("d1", t0)
		So(store.Save(ctx, in), ShouldBeNil)

		Convey("Then it loads back unchanged", func() {
			out, err := store.Load(ctx, "d1")
			So(err, ShouldBeNil)
			So(out.ID, ShouldEqual, "d1")
			So(out.Digest, ShouldEqual, "digest-d1")
			So(out.Rows, ShouldResemble, in.Rows)
			So(out.Options, ShouldResemble, in.Options)
			So(out.CreatedAt.Equal(t0), ShouldBeTrue)
			So(store.Count(ctx), ShouldEqual, 1)
		})

		Convey("And mutating the caller's rows does not affect the store", func() {
			in.Rows[0].Value = 99
			out, _ := store.Load(ctx, "d1")
			So(out.Rows[0].Value, ShouldEqual, 1.5)
		})

		Convey("And saving the same id replaces it", func() {
			next := sample("d1", time.Time{})
			next.Version = 2
			next.Rows = next.Rows[:1]
			next.UpdatedAt = t0.Add(time.Hour)
			So(store.Save(ctx, next), ShouldBeNil)

			out, err := store.Load(ctx, "d1")
			So(err, ShouldBeNil)
			So(out.Version, ShouldEqual, 2)
			So(out.Rows, ShouldHaveLength, 1)
			So(out.CreatedAt.Equal(t0), ShouldBeTrue)
			So(store.Count(ctx), ShouldEqual, 1)
		})

		Convey("And it can be deleted once", func() {
			So(store.Delete(ctx, "d1"), ShouldBeNil)
			So(errors.Is(store.Delete(ctx, "d1"), repository.ErrNotFound), ShouldBeTrue)
			_, err := store.Load(ctx, "d1")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("When several datasets are saved", func() {
		So(store.Save(ctx, sample("b", t0.Add(time.Second))), ShouldBeNil)
		So(store.Save(ctx, sample("a", t0.Add(time.Second))), ShouldBeNil)
		So(store.Save(ctx, sample("c", t0)), ShouldBeNil)

		Convey("Then List orders them by creation then id", func() {
			list, err := store.List(ctx)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 3)
			So([]string{list[0].ID, list[1].ID, list[2].ID}, ShouldResemble, []string{"c", "a", "b"})
			So(list[0].RowCount, ShouldEqual, 2)
		})
	})

	Convey("When loading an unknown id", func() {
		_, err := store.Load(ctx, "missing")
		So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
	})

	Convey("When saving without an id", func() {
		So(errors.Is(store.Save(ctx, repository.Dataset{}), repository.ErrInvalidID), ShouldBeTrue)
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		storeContract(func() repository.Store {
			return repository.NewMemoryStore(context.Background(), repository.WithMetricsUpdateInterval(time.Hour))
		})
	})

	Convey("Given a closed memory store", t, func() {
		s := repository.NewMemoryStore(context.Background())
		So(s.Close(), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("Then operations fail with ErrClosed", func() {
			So(errors.Is(s.Save(context.Background(), sample("x", time.Now())), repository.ErrClosed), ShouldBeTrue)
			_, err := s.Load(context.Background(), "x")
			So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestSQLiteStore(t *testing.T) {
	Convey("Given a SQLite store", t, func() {
		dir := t.TempDir()
		storeContract(func() repository.Store {
			s, err := repository.NewSQLiteStore(context.Background(),
				filepath.Join(dir, "races.db"),
				repository.WithMetricsUpdateInterval(time.Hour),
				repository.WithBusyTimeout(time.Second),
			)
			So(err, ShouldBeNil)
			return s
		})
	})

	Convey("Given a SQLite file reopened", t, func() {
		path := filepath.Join(t.TempDir(), "persist.db")
		ctx := context.Background()

		s, err := repository.NewSQLiteStore(ctx, path)
		So(err, ShouldBeNil)
		So(s.Save(ctx, sample("kept", time.Unix(10, 0))), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		again, err := repository.NewSQLiteStore(ctx, path)
		So(err, ShouldBeNil)
		defer func() { _ = again.Close() }()

		Convey("Then saved datasets survive", func() {
			d, err := again.Load(ctx, "kept")
			So(err, ShouldBeNil)
			So(d.Options.TransitionDuration, ShouldEqual, 120*time.Millisecond)
			So(again.Count(ctx), ShouldEqual, 1)
		})
	})
}
