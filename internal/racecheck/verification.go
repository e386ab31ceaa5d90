package racecheck

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/okian/barrace/pkg/logger"
)

const valueTolerance = 1e-9

// verifyRaces fetches and checks every submitted dataset's race.
func verifyRaces(ctx context.Context, cfg *Config, datasets []Dataset, stats *Stats) error {
	logger.Get().Info(ctx, "verifying races", logger.Int("datasets", len(datasets)))

	client := newHTTPClient(cfg.Timeout + cfg.Wait)
	var verified, invalid, frames atomic.Int64
	errs := make([]error, len(datasets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i, d := range datasets {
		if d.ID == "" {
			continue
		}
		g.Go(func() error {
			r, err := fetchRace(gctx, client, cfg, d.ID)
			if err == nil {
				err = verifyRace(r, d)
			}
			if err != nil {
				invalid.Add(1)
				errs[i] = fmt.Errorf("dataset %s: %w", d.ID, err)
				return nil
			}
			verified.Add(1)
			frames.Add(int64(len(r.Frames)))
			if cfg.Verbose {
				logger.Get().Info(gctx, "race verified", logger.String("dataset_id", d.ID), logger.Int("frames", len(r.Frames)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	stats.RacesVerified = int(verified.Load())
	stats.RacesInvalid = int(invalid.Load())
	stats.FramesChecked = int(frames.Load())
	return errors.Join(errs...)
}

// verifyRace checks the frame sequence of r against its input d:
//   - (dates-1)*sub_steps+1 frames, or one frame for a single date
//   - every name in every frame, sorted by value, ranks clamped at the
//     visible bar count
//   - timestamps never decrease
//   - prev/next links point at the neighbouring frames and agree both ways
//   - the last frame carries the last date's input values
func verifyRace(r Race, d Dataset) error {
	want := 1
	if r.Dates > 1 {
		want = (r.Dates-1)*r.Options.SubSteps + 1
	}
	if r.FrameCount != want || len(r.Frames) != want {
		return fmt.Errorf("frame count %d (served %d), want %d", r.FrameCount, len(r.Frames), want)
	}

	for i, f := range r.Frames {
		if f.Index != i {
			return fmt.Errorf("frame %d reports index %d", i, f.Index)
		}
		if i > 0 && f.Timestamp.Before(r.Frames[i-1].Timestamp) {
			return fmt.Errorf("frame %d goes back in time", i)
		}
		if len(f.Entries) != len(r.Names) {
			return fmt.Errorf("frame %d has %d entries, want %d", i, len(f.Entries), len(r.Names))
		}
		for j, e := range f.Entries {
			if j > 0 && e.Value > f.Entries[j-1].Value {
				return fmt.Errorf("frame %d not sorted at %d", i, j)
			}
			if e.Rank != min(j, r.Options.VisibleBarCount) {
				return fmt.Errorf("frame %d entry %s has rank %d", i, e.Name, e.Rank)
			}
			if err := verifyLinks(r, i, e); err != nil {
				return err
			}
		}
	}

	if expected := lastDateValues(d.Rows); expected != nil {
		last := r.Frames[len(r.Frames)-1]
		for _, e := range last.Entries {
			v, ok := expected[e.Name]
			if !ok {
				continue
			}
			if math.Abs(v-e.Value) > valueTolerance*math.Max(1, math.Abs(v)) {
				return fmt.Errorf("last frame %s = %v, input says %v", e.Name, e.Value, v)
			}
		}
	}
	return nil
}

// verifyLinks checks that e's neighbours exist and link back to frame i.
func verifyLinks(r Race, i int, e Entry) error {
	find := func(frame int) (Entry, bool) {
		for _, x := range r.Frames[frame].Entries {
			if x.Name == e.Name {
				return x, true
			}
		}
		return Entry{}, false
	}

	if e.Prev >= 0 {
		if e.Prev >= i {
			return fmt.Errorf("frame %d entry %s prev %d is not earlier", i, e.Name, e.Prev)
		}
		p, ok := find(e.Prev)
		if !ok || p.Next != i {
			return fmt.Errorf("frame %d entry %s prev link is one-way", i, e.Name)
		}
	} else if i > 0 {
		if _, ok := find(i - 1); ok {
			return fmt.Errorf("frame %d entry %s has no prev but appears in frame %d", i, e.Name, i-1)
		}
	}

	if e.Next >= 0 {
		if e.Next <= i || e.Next >= len(r.Frames) {
			return fmt.Errorf("frame %d entry %s next %d out of order", i, e.Name, e.Next)
		}
		n, ok := find(e.Next)
		if !ok || n.Prev != i {
			return fmt.Errorf("frame %d entry %s next link is one-way", i, e.Name)
		}
	}
	return nil
}
