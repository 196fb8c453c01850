// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/body"
	"github.com/AleutianAI/worms/services/worms/criteria"
	"github.com/AleutianAI/worms/services/worms/executor"
	"github.com/AleutianAI/worms/services/worms/segment"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// originCriteria scores the distance of the last segment's origin from a
// target point.
type originCriteria struct {
	target   r3.Vec
	matching int
}

func (c originCriteria) Name() string { return "origin" }

func (c originCriteria) Score(positions []xform.Xform) float64 {
	return r3.Norm(r3.Sub(positions[len(positions)-1].Origin(), c.target))
}

func (c originCriteria) Alignment([]xform.Xform) xform.Xform { return xform.Identity() }
func (c originCriteria) FromSeg() int                        { return 0 }
func (c originCriteria) ToSeg() int                          { return -1 }
func (c originCriteria) IsCyclic() bool                      { return false }

func (c originCriteria) MatchingBody() (int, bool) {
	return c.matching, c.matching >= 0
}

var _ criteria.Criteria = originCriteria{}

// line builds a single-chain body whose residue r sits at x = xs[r-1],
// rotated about X by a residue-specific angle.
func line(t *testing.T, name string, xs ...float64) body.Body {
	t.Helper()
	frames := make([]xform.Xform, len(xs))
	for i, x := range xs {
		rot := xform.Rotation(r3.Vec{X: 1}, float64(i+1)*0.7)
		frames[i] = xform.Translation(r3.Vec{X: x}).Mul(rot)
	}
	b, err := body.NewFrames(name, frames)
	require.NoError(t, err)
	return b
}

// shifts builds a body of pure translations along X.
func shifts(t *testing.T, name string, xs ...float64) body.Body {
	t.Helper()
	frames := make([]xform.Xform, len(xs))
	for i, x := range xs {
		frames[i] = xform.Translation(r3.Vec{X: x})
	}
	b, err := body.NewFrames(name, frames)
	require.NoError(t, err)
	return b
}

// helix builds a body with both rotation and translation between residues.
func helix(t *testing.T, name string, n int, phase float64) body.Body {
	t.Helper()
	frames := make([]xform.Xform, n)
	for i := range frames {
		k := float64(i) + phase
		rot := xform.Rotation(r3.Vec{X: 0.3, Y: 0.1, Z: 1}, k*100*math.Pi/180)
		frames[i] = xform.Translation(r3.Vec{X: 2.3 * math.Cos(k), Y: 2.3 * math.Sin(k), Z: 1.5 * k}).Mul(rot)
	}
	b, err := body.NewFrames(name, frames)
	require.NoError(t, err)
	return b
}

func spliceable(t *testing.T, b body.Body, sites ...segment.SpliceSite) *segment.Spliceable {
	t.Helper()
	s, err := segment.NewSpliceable(b, sites)
	require.NoError(t, err)
	return s
}

func site(t *testing.T, p segment.Polarity, sel string) segment.SpliceSite {
	t.Helper()
	s, err := segment.NewSpliceSite(p, 0, sel)
	require.NoError(t, err)
	return s
}

func seg(t *testing.T, entry, exit segment.Polarity, sp ...*segment.Spliceable) *segment.Segment {
	t.Helper()
	s, err := segment.NewSegment(sp, entry, exit)
	require.NoError(t, err)
	return s
}

func chainOf(t *testing.T, s ...*segment.Segment) segment.Segments {
	t.Helper()
	segs, err := segment.NewSegments(s...)
	require.NoError(t, err)
	return segs
}

// lineChain builds a (4, 5, 3) chain where the last origin lands at
// x = 100a + 10(c-1) + 3e for residues a, c, e of the three bodies. Every
// combination lands at a distinct x at least 3 apart.
func lineChain(t *testing.T) segment.Segments {
	t.Helper()
	a := spliceable(t, line(t, "A", 100, 200, 300, 400), site(t, segment.C, "1:-1"))
	b := spliceable(t, line(t, "B", 10, 20, 30, 40, 50),
		site(t, segment.N, "1"), site(t, segment.C, "1:-1"))
	c := spliceable(t, line(t, "C", -3, -6, -9), site(t, segment.N, "1:-1"))
	return chainOf(t,
		seg(t, segment.None, segment.C, a),
		seg(t, segment.N, segment.C, b),
		seg(t, segment.N, segment.None, c),
	)
}

type hitView struct {
	Indices   []int
	Score     float64
	Positions []xform.Xform
}

func hitsOf(w *Worms) []hitView {
	out := make([]hitView, w.Len())
	for i := range out {
		idx, score, pos := w.At(i)
		out[i] = hitView{idx, score, pos}
	}
	return out
}

// TestGrow_EndToEnd finds the single chain reaching the target.
func TestGrow_EndToEnd(t *testing.T) {
	segs := lineChain(t)
	assert.Equal(t, []int{4, 5, 3}, segs.Sizes())

	var detail Detail
	w, err := Grow(context.Background(), segs, originCriteria{target: r3.Vec{X: 226}, matching: -1},
		WithMaxWorkers(1),
		WithPlanHook(func(d Detail) { detail = d }))
	require.NoError(t, err)
	require.Equal(t, 1, w.Len())

	idx, score, pos := w.At(0)
	assert.InDelta(t, 0, score, 1e-9)
	assert.Len(t, pos, 3)
	assert.InDelta(t, 226, pos[2].Origin().X, 1e-9)

	splices, err := w.Splices(0)
	require.NoError(t, err)
	require.Len(t, splices, 2)
	assert.Equal(t, 2, splices[0].FromResidue)
	assert.Equal(t, 1, splices[0].ToResidue)
	assert.Equal(t, [2]segment.Polarity{segment.C, segment.N}, splices[0].Polarity)
	assert.Equal(t, 3, splices[1].FromResidue)
	assert.Equal(t, 2, splices[1].ToResidue)
	assert.Equal(t, "seg 0: frag 0 A2 C -> frag 0 A1 N", splices[0].String())

	// the tuple indexes the choice tables, which follow site order
	assert.Equal(t, []int{1, 2, 1}, idx)

	assert.Equal(t, 60, detail.Total)
	assert.Equal(t, 2, detail.PrefixLen)
	assert.Equal(t, 3, detail.ChunkCount)
	assert.Equal(t, 20, detail.ChunkSize)
	assert.Equal(t, 3, detail.Jobs)
	assert.NotEmpty(t, detail.RunID)
	assert.Equal(t, detail, w.Detail())
}

// TestGrow_WorkerCountInvariant compares results across worker counts,
// job multipliers and prefix splits.
func TestGrow_WorkerCountInvariant(t *testing.T) {
	h1 := spliceable(t, helix(t, "h1", 9, 0), site(t, segment.C, "-4:"))
	h2 := spliceable(t, helix(t, "h2", 10, 0.5), site(t, segment.N, ":3"), site(t, segment.C, "-4:"))
	h3 := spliceable(t, helix(t, "h3", 8, 0.25), site(t, segment.N, ":3"), site(t, segment.C, "-3:"))
	h4 := spliceable(t, helix(t, "h4", 7, 0.75), site(t, segment.N, ":4"))
	segs := chainOf(t,
		seg(t, segment.None, segment.C, h1),
		seg(t, segment.N, segment.C, h2, h3),
		seg(t, segment.N, segment.C, h3),
		seg(t, segment.N, segment.None, h4, h2),
	)
	crit := originCriteria{target: r3.Vec{X: 1, Y: 2, Z: 30}, matching: -1}

	all := WithThreshold(math.Inf(1))
	base, err := Grow(context.Background(), segs, crit, WithMaxWorkers(1), all)
	require.NoError(t, err)
	total, err := segs.CombinationCount()
	require.NoError(t, err)
	require.Equal(t, total, base.Len())
	want := hitsOf(base)
	for i := 1; i < len(want); i++ {
		assert.LessOrEqual(t, want[i-1].Score, want[i].Score)
	}

	cases := []struct {
		name string
		opts []Option
	}{
		{"four workers", []Option{WithMaxWorkers(4)}},
		{"eight workers", []Option{WithMaxWorkers(8)}},
		{"four workers one job each", []Option{WithMaxWorkers(4), WithJobMultiplier(1)}},
		{"three workers short prefix", []Option{WithMaxWorkers(3), WithMemoryBudget(1)}},
		{"in process short prefix", []Option{WithMaxWorkers(1), WithMemoryBudget(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := Grow(context.Background(), segs, crit, append(tc.opts, all)...)
			require.NoError(t, err)
			if diff := cmp.Diff(want, hitsOf(w)); diff != "" {
				t.Errorf("hits differ (-want +got):\n%s", diff)
			}
		})
	}
}

// TestGrow_InnerParallelScan splits a job's scan across goroutines.
func TestGrow_InnerParallelScan(t *testing.T) {
	old := scanChunk
	scanChunk = 2
	defer func() { scanChunk = old }()

	segs := lineChain(t)
	crit := originCriteria{target: r3.Vec{X: 250}, matching: -1}
	serial, err := Grow(context.Background(), segs, crit, WithMaxWorkers(4), WithThreshold(60))
	require.NoError(t, err)

	inner := func(int, *slog.Logger) (executor.Executor, error) {
		return executor.NewInProcess(executor.WithInnerParallelism(4)), nil
	}
	parallel, err := Grow(context.Background(), segs, crit,
		WithMaxWorkers(1), WithThreshold(60), WithExecutorFactory(inner))
	require.NoError(t, err)
	assert.Positive(t, serial.Len())
	if diff := cmp.Diff(hitsOf(serial), hitsOf(parallel)); diff != "" {
		t.Errorf("hits differ (-serial +parallel):\n%s", diff)
	}
}

// TestGrow_ClosureFilter checks both closure paths keep exactly the
// chains whose matching segment shares the closing body and touches
// neither end of it on the closing entry site. The last segment lists the
// sites of P in another order, so its entry site can coincide with the
// matching segment's exit site as well as its entry site.
func TestGrow_ClosureFilter(t *testing.T) {
	a := spliceable(t, line(t, "A", 1, 2, 3), site(t, segment.C, "1:-1"))
	pb := line(t, "P", 10, 20, 30, 40)
	p := spliceable(t, pb,
		site(t, segment.C, "3:-1"), site(t, segment.N, "1"), site(t, segment.N, "2"))
	pLast := spliceable(t, pb,
		site(t, segment.N, "1"), site(t, segment.N, "2"), site(t, segment.C, "3:-1"))
	q := spliceable(t, line(t, "Q", 50, 60, 70, 80),
		site(t, segment.N, "1:2"), site(t, segment.C, "-1"))
	segs := chainOf(t,
		seg(t, segment.None, segment.C, a),
		seg(t, segment.N, segment.C, p, q),
		seg(t, segment.N, segment.None, pLast, q),
	)
	crit := originCriteria{matching: 1}

	var want [][]int
	exitOnly := 0
	for i0 := range segs[0].Len() {
		for i1 := range segs[1].Len() {
			for i2 := range segs[2].Len() {
				m, last := segs[1].Choice(i1), segs[2].Choice(i2)
				if m.Body != last.Body || m.Entry.Site == last.Entry.Site {
					continue
				}
				if m.Exit.Site == last.Entry.Site {
					exitOnly++
					continue
				}
				want = append(want, []int{i0, i1, i2})
			}
		}
	}
	require.Positive(t, exitOnly, "fixture must reject chains by the exit site alone")
	require.NotEmpty(t, want)

	restricted, err := Grow(context.Background(), segs, crit, WithMaxWorkers(1), WithThreshold(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, 2, restricted.Detail().PrefixLen)

	skipped, err := Grow(context.Background(), segs, crit,
		WithMaxWorkers(1), WithThreshold(math.Inf(1)), WithMemoryBudget(1))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped.Detail().PrefixLen)

	if diff := cmp.Diff(hitsOf(restricted), hitsOf(skipped)); diff != "" {
		t.Errorf("closure paths differ (-restricted +skipped):\n%s", diff)
	}

	var got [][]int
	for i := range restricted.Len() {
		idx, _, _ := restricted.At(i)
		got = append(got, idx)
	}
	assert.ElementsMatch(t, want, got)
}

// TestGrow_Cyclic closes a C1 ring and orders tied scores by index tuple.
func TestGrow_Cyclic(t *testing.T) {
	a := spliceable(t, shifts(t, "A", 0, 7, 19, 37),
		site(t, segment.N, "1:-1"), site(t, segment.C, "1:-1"))
	b := spliceable(t, shifts(t, "B", 0, 5, 11),
		site(t, segment.N, "1"), site(t, segment.C, "1:-1"))
	segs := chainOf(t,
		seg(t, segment.None, segment.C, a),
		seg(t, segment.N, segment.C, b),
		seg(t, segment.N, segment.None, a),
	)
	crit, err := criteria.NewCyclic(1, 0)
	require.NoError(t, err)

	w, err := Grow(context.Background(), segs, crit, WithMaxWorkers(2))
	require.NoError(t, err)
	require.Equal(t, 5, w.Len())

	// four rings with no shift, one with residual 1 after the 11 shift
	for i := range 4 {
		assert.InDelta(t, 0, w.Score(i), 1e-6)
	}
	assert.InDelta(t, 1, w.Score(4), 1e-6)
	assert.IsIncreasing(t, w.Scores()[3:])

	for i := 1; i < 4; i++ {
		prev, _, _ := w.At(i - 1)
		cur, _, _ := w.At(i)
		if w.Score(i-1) == w.Score(i) {
			assert.Negative(t, compareInts(prev, cur))
		}
	}
	assert.True(t, w.Alignment(0).IsRigid(1e-6))
}

func compareInts(a, b []int) int {
	for i := range a {
		if a[i] != b[i] {
			return a[i] - b[i]
		}
	}
	return 0
}

// TestGrow_EmptyResult is not an error.
func TestGrow_EmptyResult(t *testing.T) {
	var calls, total int
	w, err := Grow(context.Background(), lineChain(t), originCriteria{target: r3.Vec{X: 226}, matching: -1},
		WithMaxWorkers(2), WithThreshold(0),
		WithProgress(func(done, n int) { calls, total = done, n }))
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Zero(t, w.Len())
	assert.Empty(t, w.Scores())
	assert.Equal(t, total, calls)
	assert.Positive(t, total)
}

// TestGrow_Errors covers input validation.
func TestGrow_Errors(t *testing.T) {
	segs := lineChain(t)
	crit := originCriteria{matching: -1}

	//nolint:staticcheck // nil context is the case under test
	_, err := Grow(nil, segs, crit)
	assert.ErrorIs(t, err, wormerr.ErrNilContext)

	_, err = Grow(context.Background(), segs, crit, WithMaxWorkers(0))
	assert.ErrorIs(t, err, wormerr.ErrConstruction)

	_, err = Grow(context.Background(), segs, crit, WithThreshold(math.NaN()))
	assert.ErrorIs(t, err, wormerr.ErrConstruction)

	reversed := segment.Segments{segs[2], segs[1], segs[0]}
	_, err = Grow(context.Background(), reversed, crit)
	assert.ErrorIs(t, err, wormerr.ErrTopology)

	_, err = Grow(context.Background(), segment.Segments{segs[0], nil}, crit)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Grow(ctx, segs, crit, WithMaxWorkers(2))
	assert.ErrorIs(t, err, context.Canceled)

	failing := func(int, *slog.Logger) (executor.Executor, error) { return nil, errors.New("boom") }
	_, err = Grow(context.Background(), segs, crit, WithExecutorFactory(failing))
	assert.ErrorContains(t, err, "boom")
}

// driftingCriteria scores every chain 0.1 for its first calls and 0.5
// afterwards.
type driftingCriteria struct {
	originCriteria
	stable int64
	calls  atomic.Int64
}

func (d *driftingCriteria) Score([]xform.Xform) float64 {
	if d.calls.Add(1) > d.stable {
		return 0.5
	}
	return 0.1
}

// TestGrow_ScoreDriftFails aborts when a hit re-scores differently.
func TestGrow_ScoreDriftFails(t *testing.T) {
	segs := lineChain(t)
	total, err := segs.CombinationCount()
	require.NoError(t, err)
	crit := &driftingCriteria{originCriteria: originCriteria{matching: -1}, stable: int64(total)}

	w, err := Grow(context.Background(), segs, crit, WithMaxWorkers(2), WithThreshold(1))
	require.Error(t, err)
	assert.Nil(t, w)
	assert.ErrorIs(t, err, wormerr.ErrSearchConsistency)

	var sce *wormerr.SearchConsistencyError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, []int{0, 0, 0}, sce.Indices)
	assert.Equal(t, 0.1, sce.Score)
	assert.Equal(t, 0.5, sce.Recomputed)
}

// panickyCriteria panics on every Score call and counts them.
type panickyCriteria struct {
	originCriteria
	calls atomic.Int64
}

func (c *panickyCriteria) Score([]xform.Xform) float64 {
	c.calls.Add(1)
	panic("score failed")
}

// TestGrow_FailedJobStopsSubmission runs no job after the first failure
// on a synchronous executor.
func TestGrow_FailedJobStopsSubmission(t *testing.T) {
	segs := lineChain(t)
	crit := &panickyCriteria{originCriteria: originCriteria{matching: -1}}

	var plan Detail
	inProcess := func(int, *slog.Logger) (executor.Executor, error) { return executor.NewInProcess(), nil }
	w, err := Grow(context.Background(), segs, crit,
		WithMaxWorkers(1), WithExecutorFactory(inProcess),
		WithPlanHook(func(d Detail) { plan = d }))
	require.Error(t, err)
	assert.Nil(t, w)
	assert.ErrorIs(t, err, executor.ErrTaskPanic)
	require.Greater(t, plan.Jobs, 1)
	assert.Equal(t, int64(1), crit.calls.Load(), "jobs after the failing one must not run")
}

// TestSplitPoint covers the prefix/suffix split.
func TestSplitPoint(t *testing.T) {
	end, err := splitPoint([]int{4, 5, 3}, 1, DefaultMemoryBudget)
	require.NoError(t, err)
	assert.Equal(t, 2, end)

	end, err = splitPoint([]int{4, 5, 3}, 4, DefaultMemoryBudget)
	require.NoError(t, err)
	assert.Equal(t, 1, end, "suffix of 3 cannot feed 4 workers")

	end, err = splitPoint([]int{4, 5, 3, 2}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, end)

	end, err = splitPoint([]int{7, 2}, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, end)

	// The count fits an int but the three-segment prefix's bytes do not.
	big := 1 << 20
	sizes := []int{big, big, big, 2}
	_, err = segment.Product(sizes)
	require.NoError(t, err)
	end, err = splitPoint(sizes, 1, DefaultMemoryBudget)
	require.NoError(t, err)
	assert.Equal(t, 1, end)
}

// recordingAssembler keeps the pieces it receives.
type recordingAssembler struct {
	pieces    []Piece
	alignment xform.Xform
}

func (r *recordingAssembler) Assemble(_ context.Context, pieces []Piece, alignment xform.Xform) (body.Body, error) {
	r.pieces, r.alignment = pieces, alignment
	return pieces[0].Body, nil
}

// TestWorms_Materialize trims each fragment at its splice points.
func TestWorms_Materialize(t *testing.T) {
	w, err := Grow(context.Background(), lineChain(t), originCriteria{target: r3.Vec{X: 226}, matching: -1},
		WithMaxWorkers(1))
	require.NoError(t, err)
	require.Equal(t, 1, w.Len())

	var asm recordingAssembler
	_, err = w.Materialize(context.Background(), 0, &asm)
	require.NoError(t, err)
	require.Len(t, asm.pieces, 3)
	assert.Equal(t, body.Bounds{Lower: 1, Upper: 2}, asm.pieces[0].Bounds)
	assert.Equal(t, body.Bounds{Lower: 1, Upper: 3}, asm.pieces[1].Bounds)
	assert.Equal(t, body.Bounds{Lower: 2, Upper: 3}, asm.pieces[2].Bounds)
	for k, p := range asm.pieces {
		assert.Equal(t, k, p.Segment)
		assert.Equal(t, p.Bounds.Len(), body.Len(p.Body))
	}
	assert.True(t, asm.alignment.Equal(xform.Identity(), 0))

	_, err = w.Materialize(context.Background(), 0, &asm, WithPad(1))
	require.NoError(t, err)
	assert.Equal(t, body.Bounds{Lower: 1, Upper: 3}, asm.pieces[0].Bounds)
	assert.Equal(t, body.Bounds{Lower: 1, Upper: 4}, asm.pieces[1].Bounds)
	assert.Equal(t, body.Bounds{Lower: 1, Upper: 3}, asm.pieces[2].Bounds)

	_, err = w.Materialize(context.Background(), 1, &asm)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = w.Splices(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}
