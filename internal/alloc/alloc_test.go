package alloc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"dotmap/internal/census"
	"dotmap/internal/sampler"
	"dotmap/internal/tiles"
)

func squareShape(t *testing.T, x0, y0, x1, y1 float64) *sampler.Shape {
	t.Helper()
	s, err := sampler.NewShape(sampler.Polygon{Rings: [][]sampler.Point{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}})
	if err != nil {
		t.Fatalf("NewShape: %v", err)
	}
	return s
}

func projector(t *testing.T, clamp bool) *tiles.Projector {
	t.Helper()
	cfg := tiles.DefaultConfig()
	cfg.ClampLatitude = clamp
	p, err := tiles.NewProjector(cfg)
	if err != nil {
		t.Fatalf("NewProjector: %v", err)
	}
	return p
}

type memSink struct {
	recs      []Record
	commits   int
	failAfter int
	closed    bool
}

func (m *memSink) Append(_ context.Context, recs []Record) error {
	if m.failAfter > 0 && len(m.recs)+len(recs) > m.failAfter {
		return errors.New("disk full")
	}
	m.recs = append(m.recs, recs...)
	return nil
}

func (m *memSink) Commit(context.Context) error { m.commits++; return nil }
func (m *memSink) Close() error                 { m.closed = true; return nil }

func collect(t *testing.T, d *Driver, f census.Feature, s *sampler.Sampler) ([]Record, FeatureStats) {
	t.Helper()
	var out []Record
	st, err := d.Allocate(context.Background(), f, s, func(r Record) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return out, st
}

func TestAllocateSquareFeature(t *testing.T) {
	p := projector(t, true)
	d := NewDriver(p, nil, 0)
	f := census.Feature{
		RegionID: "06",
		Total:    4,
		Counts:   [census.NumCategories]int{census.White: 3, census.Asian: 1},
		Shape:    squareShape(t, 0, 0, 1, 1),
	}
	recs, st := collect(t, d, f, sampler.NewSeeded(7, 0))
	if len(recs) != 4 || st.Records != 4 {
		t.Fatalf("records = %d (stats %d), want 4", len(recs), st.Records)
	}
	codes := ""
	for _, r := range recs {
		codes += string(r.Code)
		if r.RegionID != "06" {
			t.Errorf("region = %q", r.RegionID)
		}
		if len(r.QuadKey) != tiles.DefaultZoom || strings.Trim(r.QuadKey, "0123") != "" {
			t.Errorf("quadkey %q: want %d digits in 0-3", r.QuadKey, tiles.DefaultZoom)
		}
		lat, lon := p.MetersToLatLon(r.X, r.Y)
		if lat < -1e-9 || lat > 1+1e-9 || lon < -1e-9 || lon > 1+1e-9 {
			t.Errorf("record (%v, %v) outside square", lat, lon)
		}
	}
	if codes != "wwwa" {
		t.Errorf("codes = %q, want wwwa", codes)
	}
	if st.PerCategory[census.White] != 3 || st.PerCategory[census.Asian] != 1 {
		t.Errorf("per category = %v", st.PerCategory)
	}
	if st.Attempts < 4 {
		t.Errorf("attempts = %d, want >= 4", st.Attempts)
	}
}

func TestAllocateCategoryOrder(t *testing.T) {
	d := NewDriver(projector(t, true), census.CategorySet{census.Asian, census.White}, 0)
	f := census.Feature{
		Counts: [census.NumCategories]int{census.White: 2, census.Asian: 1, census.Black: 5},
		Shape:  squareShape(t, 0, 0, 1, 1),
	}
	recs, _ := collect(t, d, f, sampler.NewSeeded(1, 0))
	var codes []byte
	for _, r := range recs {
		codes = append(codes, r.Code)
	}
	if string(codes) != "aww" {
		t.Errorf("codes = %q, want aww (black not in set)", codes)
	}
}

func TestAllocateNullGeometry(t *testing.T) {
	d := NewDriver(projector(t, true), nil, 0)
	f := census.Feature{Counts: [census.NumCategories]int{5, 5, 5, 5, 5}, GeometryErr: sampler.ErrDegenerateGeometry}
	recs, st := collect(t, d, f, sampler.NewSeeded(1, 0))
	if len(recs) != 0 || !st.Skipped {
		t.Errorf("records = %d skipped = %v, want 0 and true", len(recs), st.Skipped)
	}
}

func TestAllocateZeroCounts(t *testing.T) {
	d := NewDriver(projector(t, true), nil, 0)
	recs, st := collect(t, d, census.Feature{Shape: squareShape(t, 0, 0, 1, 1)}, sampler.NewSeeded(1, 0))
	if len(recs) != 0 || st.Skipped {
		t.Errorf("records = %d skipped = %v", len(recs), st.Skipped)
	}
}

func TestAllocateEmitError(t *testing.T) {
	d := NewDriver(projector(t, true), nil, 0)
	f := census.Feature{Counts: [census.NumCategories]int{census.White: 3}, Shape: squareShape(t, 0, 0, 1, 1)}
	boom := errors.New("boom")
	_, err := d.Allocate(context.Background(), f, sampler.NewSeeded(1, 0), func(Record) error { return boom })
	if !errors.Is(err, ErrSinkWrite) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrSinkWrite wrapping boom", err)
	}
}

func TestAllocateSamplingTimeout(t *testing.T) {
	shape, err := sampler.NewShape(
		sampler.Polygon{Rings: [][]sampler.Point{{{0, 0}, {1e-7, 0}, {1e-7, 1e-7}, {0, 1e-7}}}},
		sampler.Polygon{Rings: [][]sampler.Point{{{10, 10}, {10 + 1e-7, 10}, {10 + 1e-7, 10 + 1e-7}, {10, 10 + 1e-7}}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDriver(projector(t, true), nil, 10)
	f := census.Feature{Counts: [census.NumCategories]int{census.Other: 6}, Shape: shape}
	recs, st := collect(t, d, f, d.NewSampler(3))
	if len(recs) != 0 || st.Timeouts != 6 {
		t.Errorf("records = %d timeouts = %d, want 0 and 6", len(recs), st.Timeouts)
	}
	if st.Attempts != 60 {
		t.Errorf("attempts = %d, want 60", st.Attempts)
	}
}

func TestAllocateProjectionErrors(t *testing.T) {
	d := NewDriver(projector(t, false), nil, 0).WithEscalateAfter(10)
	f := census.Feature{Counts: [census.NumCategories]int{census.White: 5}, Shape: squareShape(t, 0, 86, 1, 87)}
	recs, st := collect(t, d, f, sampler.NewSeeded(1, 0))
	if len(recs) != 0 || st.ProjectionErrors != 5 || st.ProjectionStreak != 5 {
		t.Errorf("records=%d projErr=%d streak=%d", len(recs), st.ProjectionErrors, st.ProjectionStreak)
	}

	f.Counts[census.White] = 20
	_, err := d.Allocate(context.Background(), f, sampler.NewSeeded(1, 0), func(Record) error { return nil })
	if !errors.Is(err, ErrSystemicProjection) || !errors.Is(err, tiles.ErrProjectionRange) {
		t.Fatalf("err = %v, want ErrSystemicProjection", err)
	}
}

func TestAllocateCanceled(t *testing.T) {
	d := NewDriver(projector(t, true), nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := census.Feature{Counts: [census.NumCategories]int{census.White: 1}, Shape: squareShape(t, 0, 0, 1, 1)}
	if _, err := d.Allocate(ctx, f, sampler.NewSeeded(1, 0), func(Record) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func blocks(t *testing.T, n int) []census.Feature {
	t.Helper()
	out := make([]census.Feature, n)
	for i := range out {
		x := float64(i)
		out[i] = census.Feature{
			Index:    i,
			RegionID: fmt.Sprintf("r%02d", i),
			Counts:   [census.NumCategories]int{census.White: 2, census.Hispanic: 1},
			Shape:    squareShape(t, x, 0, x+0.5, 0.5),
		}
	}
	return out
}

func TestRunSingleWorkerOrderAndCommits(t *testing.T) {
	sink := &memSink{}
	d := NewDriver(projector(t, true), nil, 0)
	feats := blocks(t, 5)
	feats = append(feats, census.Feature{Index: 5, RegionID: "null", Counts: [census.NumCategories]int{census.White: 9}})
	st, err := Run(context.Background(), census.NewSliceSource(feats), sink, RunOptions{Driver: d, Workers: 1, Seed: 42, CommitEvery: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Features != 6 || st.Skipped != 1 || st.Records != 15 || len(sink.recs) != 15 {
		t.Fatalf("stats = %+v, sink records = %d", st, len(sink.recs))
	}
	if st.Commits != 4 || sink.commits != 4 {
		t.Errorf("commits = %d/%d, want 4 (three periodic and one final)", st.Commits, sink.commits)
	}
	for i, r := range sink.recs {
		if want := fmt.Sprintf("r%02d", i/3); r.RegionID != want {
			t.Fatalf("record %d region = %q, want %q", i, r.RegionID, want)
		}
	}
	if sink.closed {
		t.Error("Run closed the sink")
	}
}

func TestRunSeedReproducible(t *testing.T) {
	d := NewDriver(projector(t, true), nil, 0)
	run := func() []Record {
		sink := &memSink{}
		if _, err := Run(context.Background(), census.NewSliceSource(blocks(t, 4)), sink, RunOptions{Driver: d, Workers: 1, Seed: 99}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return sink.recs
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("record %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRunParallelWorkers(t *testing.T) {
	sink := &memSink{}
	d := NewDriver(projector(t, true), nil, 0)
	st, err := Run(context.Background(), census.NewSliceSource(blocks(t, 40)), sink, RunOptions{Driver: d, Workers: 4, CommitEvery: 7})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Records != 120 || len(sink.recs) != 120 {
		t.Errorf("records = %d/%d, want 120", st.Records, len(sink.recs))
	}
	if st.PerCategory[census.White] != 80 || st.PerCategory[census.Hispanic] != 40 {
		t.Errorf("per category = %v", st.PerCategory)
	}
}

func TestRunSinkFailure(t *testing.T) {
	sink := &memSink{failAfter: 5}
	d := NewDriver(projector(t, true), nil, 0)
	_, err := Run(context.Background(), census.NewSliceSource(blocks(t, 10)), sink, RunOptions{Driver: d, Workers: 2})
	if !errors.Is(err, ErrSinkWrite) {
		t.Fatalf("err = %v, want ErrSinkWrite", err)
	}
}

func TestRunSystemicProjection(t *testing.T) {
	var feats []census.Feature
	for i := 0; i < 10; i++ {
		feats = append(feats, census.Feature{Index: i, Counts: [census.NumCategories]int{census.Black: 1}, Shape: squareShape(t, 0, 86, 1, 87)})
	}
	d := NewDriver(projector(t, false), nil, 0)
	_, err := Run(context.Background(), census.NewSliceSource(feats), &memSink{}, RunOptions{Driver: d, Workers: 1, ProjectionEscalateAfter: 5})
	if !errors.Is(err, ErrSystemicProjection) {
		t.Fatalf("err = %v, want ErrSystemicProjection", err)
	}
}

type flakySource struct {
	census.Source
	bad map[int]bool
	i   int
}

func (s *flakySource) Next() (census.Feature, error) {
	f, err := s.Source.Next()
	s.i++
	if err == nil && s.bad[s.i-1] {
		return census.Feature{Index: s.i - 1}, fmt.Errorf("row %d: %w", s.i-1, census.ErrBadRecord)
	}
	return f, err
}

func TestRunSkipsBadRecords(t *testing.T) {
	src := &flakySource{Source: census.NewSliceSource(blocks(t, 4)), bad: map[int]bool{1: true}}
	sink := &memSink{}
	st, err := Run(context.Background(), src, sink, RunOptions{Driver: NewDriver(projector(t, true), nil, 0), Workers: 1, RegionID: "06"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.BadRecords != 1 || st.Features != 3 || len(sink.recs) != 9 {
		t.Errorf("stats = %+v, records = %d", st, len(sink.recs))
	}
}

type brokenSource struct{ census.Source }

func (brokenSource) Next() (census.Feature, error) { return census.Feature{}, io.ErrUnexpectedEOF }

func TestRunSourceError(t *testing.T) {
	_, err := Run(context.Background(), brokenSource{census.NewSliceSource(nil)}, &memSink{}, RunOptions{Driver: NewDriver(projector(t, true), nil, 0)})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		done, total int
		want        string
	}{
		{500, 1000, "500/1000 (50.0%)"},
		{1000, 1000, "1000/1000 (100.0%)"},
		{7, -1, "7"},
	}
	for _, tt := range tests {
		if got := progress(tt.done, tt.total); got != tt.want {
			t.Errorf("progress(%d,%d) = %q, want %q", tt.done, tt.total, got, tt.want)
		}
	}
}
