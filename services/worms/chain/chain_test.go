// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/body"
	"github.com/AleutianAI/worms/services/worms/segment"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// buildChain returns a "_C", "NC"..., "N_" chain over one helical body
// whose N and C sites hold the given numbers of positions.
func buildChain(t *testing.T, nseg, nN, nC int) segment.Segments {
	t.Helper()
	var frames []xform.Xform
	for i := 0; i < 20; i++ {
		rot := xform.Rotation(r3.Vec{X: 0.3, Y: 0.1, Z: 1}, float64(i)*1.7)
		frames = append(frames, xform.Translation(r3.Vec{X: math.Cos(float64(i)), Y: float64(i) * 0.4, Z: 1.5 * float64(i)}).Mul(rot))
	}
	b, err := body.NewFrames("h20", frames)
	require.NoError(t, err)
	nSite := segment.SpliceSite{Polarity: segment.N, Selectors: []body.Selector{body.Span(1, nN, 1)}}
	cSite := segment.SpliceSite{Polarity: segment.C, Selectors: []body.Selector{body.Span(-nC, -1, 1)}}
	sp, err := segment.NewSpliceable(b, []segment.SpliceSite{nSite, cSite})
	require.NoError(t, err)

	var segs segment.Segments
	for i := 0; i < nseg; i++ {
		en, ex := segment.N, segment.C
		if i == 0 {
			en = segment.None
		}
		if i == nseg-1 {
			ex = segment.None
		}
		s, err := segment.NewSegment([]*segment.Spliceable{sp}, en, ex)
		require.NoError(t, err)
		segs = append(segs, s)
	}
	return segs
}

// naive composes one chain directly from its choices.
func naive(segs segment.Segments, tuple []int) []xform.Xform {
	out := make([]xform.Xform, len(tuple))
	conn := xform.Identity()
	for k, i := range tuple {
		out[k] = conn.Mul(segs[k].Choice(i).ToOrigin)
		conn = conn.Mul(segs[k].Choice(i).ToExit)
	}
	return out
}

// TestCompose_MatchesNaive verifies every prefix entry against direct
// composition, serially and in parallel.
func TestCompose_MatchesNaive(t *testing.T) {
	segs := buildChain(t, 4, 2, 3)
	ctx := context.Background()

	saved := minChunk
	minChunk = 8
	t.Cleanup(func() { minChunk = saved })

	for _, par := range []int{1, 4} {
		p, err := Compose(ctx, segs, 3, WithParallelism(par))
		require.NoError(t, err)
		assert.Equal(t, segs[:3].Sizes(), p.Sizes())
		assert.Equal(t, 3*6*6, p.Count())

		dst := make([]xform.Xform, 3)
		for f := 0; f < p.Count(); f++ {
			tuple := p.Tuple(f)
			back, err := p.Index(tuple)
			require.NoError(t, err)
			require.Equal(t, f, back, "index round trip")

			want := naive(segs, tuple)
			p.Positions(f, dst)
			for k := range want {
				require.True(t, want[k].Equal(dst[k], 1e-12), "flat %d level %d", f, k)
				require.True(t, want[k].Equal(p.Position(k, f), 1e-12))
			}
		}
	}
}

// TestExtend_ContinuesRecurrence verifies prefix plus Extend equals the
// direct composition of the whole chain.
func TestExtend_ContinuesRecurrence(t *testing.T) {
	segs := buildChain(t, 4, 2, 2)
	p, err := Compose(context.Background(), segs, 2)
	require.NoError(t, err)

	tuple := []int{1, 3, 2, 0}
	flat, err := p.Index(tuple[:2])
	require.NoError(t, err)

	dst := make([]xform.Xform, 4)
	p.Positions(flat, dst)
	Extend(p.Connection(flat), segs, 2, tuple[2:], dst)

	want := naive(segs, tuple)
	for k := range want {
		assert.True(t, want[k].Equal(dst[k], 1e-12), "level %d", k)
		assert.True(t, dst[k].IsRigid(1e-9))
	}
}

// TestView_Restrict verifies restricted views enumerate exactly the
// allowed combinations in order.
func TestView_Restrict(t *testing.T) {
	segs := buildChain(t, 3, 2, 2)
	p, err := Compose(context.Background(), segs, 2)
	require.NoError(t, err)
	sizes := p.Sizes()

	all := p.All()
	assert.Equal(t, p.Count(), all.Count())
	assert.Equal(t, 5, all.Flat(5))

	allowed := []int{0, 3}
	v := p.Restrict(1, allowed)
	require.Equal(t, sizes[0]*2, v.Count())
	var got [][]int
	for i := 0; i < v.Count(); i++ {
		got = append(got, p.Tuple(v.Flat(i)))
	}
	var want [][]int
	for a := 0; a < sizes[0]; a++ {
		for _, b := range allowed {
			want = append(want, []int{a, b})
		}
	}
	assert.Equal(t, want, got)

	assert.Zero(t, p.Restrict(0, nil).Count())
}

// TestCompose_Errors covers bounds and cancellation.
func TestCompose_Errors(t *testing.T) {
	segs := buildChain(t, 3, 1, 1)
	_, err := Compose(context.Background(), segs, 0)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
	_, err = Compose(context.Background(), segs, 4)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
	//nolint:staticcheck // nil context is the case under test
	_, err = Compose(nil, segs, 1)
	assert.ErrorIs(t, err, wormerr.ErrNilContext)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Compose(ctx, segs, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestEncode_Rejects verifies malformed tuples are rejected.
func TestEncode_Rejects(t *testing.T) {
	_, err := Encode([]int{1}, []int{2, 2})
	assert.Error(t, err)
	_, err = Encode([]int{0, 2}, []int{2, 2})
	assert.Error(t, err)

	n, err := EstimateBytes([]int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, (2+6+6)*XformBytes, n)
}

// TestEstimateBytes_TooLarge reports prefixes whose bytes do not fit.
func TestEstimateBytes_TooLarge(t *testing.T) {
	big := 1 << 20
	_, err := EstimateBytes([]int{big, big, big})
	assert.ErrorIs(t, err, ErrPrefixTooLarge)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)

	_, err = EstimateBytes([]int{math.MaxInt / 2, 4})
	assert.ErrorIs(t, err, ErrPrefixTooLarge)

	n, err := EstimateBytes([]int{big, big})
	require.NoError(t, err)
	assert.Equal(t, (big+2*big*big)*XformBytes, n)
}
