// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package criteria

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// frameAlong returns a frame whose axis (column 2) points along dir and
// whose origin is at origin.
func frameAlong(dir, origin r3.Vec) xform.Xform {
	return xform.RotateOnto(r3.Vec{Z: 1}, dir).SetOrigin(origin)
}

// someMotion is an arbitrary rigid transform applied to whole chains to
// check invariance.
var someMotion = xform.Translation(r3.Vec{X: 3, Y: -7, Z: 11}).Mul(xform.Rotation(r3.Vec{X: 0.2, Y: -1, Z: 0.4}, 1.3))

func vecNear(t *testing.T, want, got r3.Vec, tol float64, msg string) {
	t.Helper()
	assert.InDelta(t, 0, r3.Norm(r3.Sub(want, got)), tol, "%s: want %v got %v", msg, want, got)
}

// TestNewAxesIntersect_SameSegmentFails verifies from == to is rejected.
func TestNewAxesIntersect_SameSegmentFails(t *testing.T) {
	_, err := NewAxesIntersect("X", Axis{Order: 2, Direction: ux}, Axis{Order: 2, Direction: uz}, 1, WithTo(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
	assert.ErrorIs(t, err, ErrSameSegment)

	_, err = D2(-1, -1)
	assert.ErrorIs(t, err, ErrSameSegment)

	_, err = NewCyclic(3, -1)
	assert.ErrorIs(t, err, ErrSameSegment)

	_, err = NewAxesIntersect("X", Axis{Direction: ux}, Axis{Direction: uz}, 0, WithTolerance(0))
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
	_, err = NewAxesIntersect("X", Axis{}, Axis{Direction: uz}, 0)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
}

// TestAxesIntersect_ScoreZeroAndSeparation verifies exact geometry scores
// zero and a separation d scores d/tolerance.
func TestAxesIntersect_ScoreZeroAndSeparation(t *testing.T) {
	const tol = 2.0
	c, err := D2(0, 1, WithTolerance(tol))
	require.NoError(t, err)
	assert.Equal(t, 0, c.FromSeg())
	assert.Equal(t, 1, c.ToSeg())

	exact := []xform.Xform{frameAlong(uz, r3.Vec{}), frameAlong(ux, r3.Vec{X: 4})}
	assert.InDelta(t, 0, c.Score(exact), 1e-6)

	moved := []xform.Xform{someMotion.Mul(exact[0]), someMotion.Mul(exact[1])}
	assert.InDelta(t, 0, c.Score(moved), 1e-6, "score is invariant under rigid motion")

	for _, d := range []float64{0.1, 0.5, 3} {
		sep := []xform.Xform{exact[0], frameAlong(ux, r3.Vec{X: 4, Y: d})}
		assert.InDelta(t, d/tol, c.Score(sep), 1e-6, "separation %g", d)
	}

	flipped := []xform.Xform{exact[0], frameAlong(r3.Scale(-1, ux), r3.Vec{})}
	assert.InDelta(t, 0, c.Score(flipped), 1e-6, "shared axes are undirected")
}

// TestAxesIntersect_AngularError verifies the angle term uses tol/lever.
func TestAxesIntersect_AngularError(t *testing.T) {
	c, err := D2(0, -1, WithTolerance(1), WithLever(10))
	require.NoError(t, err)
	const delta = 0.01
	tilted := xform.Rotation(r3.Vec{Y: 1}, math.Pi/2-delta).ApplyDir(uz)
	pos := []xform.Xform{frameAlong(uz, r3.Vec{}), xform.Identity(), frameAlong(tilted, r3.Vec{})}
	assert.InDelta(t, delta*10, c.Score(pos), 1e-6)
}

// TestGroups_ScoreZeroAndAlign places the from and to frames on the
// target axes of each group and checks score and alignment.
func TestGroups_ScoreZeroAndAlign(t *testing.T) {
	build := map[string]func() (*AxesIntersect, error){
		"D3": func() (*AxesIntersect, error) { return D3(0, 1) },
		"D6": func() (*AxesIntersect, error) { return D6(0, 1) },
		"T":  func() (*AxesIntersect, error) { return Tetrahedral(At(0), At(1), Unset) },
		"Tb": func() (*AxesIntersect, error) { return Tetrahedral(Unset, At(1), At(0)) },
		"O":  func() (*AxesIntersect, error) { return Octahedral(At(0), Unset, At(1)) },
		"I":  func() (*AxesIntersect, error) { return Icosahedral(Unset, At(0), At(1)) },
	}
	for name, fn := range build {
		t.Run(name, func(t *testing.T) {
			c, err := fn()
			require.NoError(t, err)
			a1, a2 := c.Axes()

			pos := []xform.Xform{
				someMotion.Mul(frameAlong(a1.Direction, r3.Scale(5, a1.Direction))),
				someMotion.Mul(frameAlong(a2.Direction, r3.Scale(7, a2.Direction))),
			}
			assert.InDelta(t, 0, c.Score(pos), 1e-6)

			x := c.Alignment(pos)
			require.True(t, x.IsRigid(1e-6))
			vecNear(t, a1.Direction, x.ApplyDir(pos[0].Axis()), 1e-6, "axis 1")
			vecNear(t, a2.Direction, x.ApplyDir(pos[1].Axis()), 1e-6, "axis 2")
			vecNear(t, r3.Vec{}, x.Apply(someMotion.Origin()), 1e-6, "intersection moves to origin")
		})
	}
}

// TestTetrahedral_DistinctAxes verifies the second C3 makes axis sense
// matter: an axis pointing back through the intersection is penalized.
func TestTetrahedral_DistinctAxes(t *testing.T) {
	c, err := Tetrahedral(At(1), Unset, At(0))
	require.NoError(t, err)
	require.True(t, c.DistinctAxes())
	a1, a2 := c.Axes()
	assert.Equal(t, 3, a1.Order)
	assert.Equal(t, 3, a2.Order)

	away := []xform.Xform{frameAlong(a1.Direction, r3.Scale(4, a1.Direction)), frameAlong(a2.Direction, r3.Scale(4, a2.Direction))}
	assert.InDelta(t, 0, c.Score(away), 1e-6)

	back := []xform.Xform{away[0], frameAlong(a2.Direction, r3.Scale(-4, a2.Direction))}
	assert.Greater(t, c.Score(back), 1.0)

	shared, err := NewAxesIntersect("T", a1, a2, 0, WithTo(1))
	require.NoError(t, err)
	assert.InDelta(t, 0, shared.Score(back), 1e-6)
}

// TestGroups_RequireExactlyTwoRoles verifies the role count check.
func TestGroups_RequireExactlyTwoRoles(t *testing.T) {
	_, err := Tetrahedral(At(0), Unset, Unset)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
	_, err = Octahedral(At(0), At(1), At(2))
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
	_, err = Icosahedral(Unset, Unset, Unset)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
	_, err = Dihedral(1, 0, -1)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
}

// TestCyclic_ScoreAndAlignment checks a C3 ring closes exactly, that
// translation along the axis is penalized linearly and that alignment
// puts the axis on Z through the origin.
func TestCyclic_ScoreAndAlignment(t *testing.T) {
	const tol = 0.5
	c, err := NewCyclic(3, 0, WithTolerance(tol))
	require.NoError(t, err)
	assert.True(t, c.IsCyclic())
	mb, ok := c.MatchingBody()
	assert.True(t, ok)
	assert.Equal(t, 0, mb)

	axis := r3.Unit(r3.Vec{X: 1, Y: 2, Z: -0.5})
	center := r3.Vec{X: 3, Y: -1, Z: 2}
	gen := xform.Translation(center).Mul(xform.Rotation(axis, 2*math.Pi/3)).Mul(xform.Translation(r3.Scale(-1, center)))

	from := someMotion
	pos := []xform.Xform{from, xform.Identity(), gen.Mul(from)}
	assert.InDelta(t, 0, c.Score(pos), 1e-6)

	const d = 0.2
	shifted := []xform.Xform{from, xform.Identity(), xform.Translation(r3.Scale(d, axis)).Mul(gen).Mul(from)}
	assert.InDelta(t, d/tol, c.Score(shifted), 1e-6)

	x := c.Alignment(pos)
	require.True(t, x.IsRigid(1e-6))
	assert.InDelta(t, 1, math.Abs(x.ApplyDir(axis).Z), 1e-6)
	onAxis := x.Apply(r3.Add(center, r3.Scale(2, axis)))
	assert.InDelta(t, 0, onAxis.X, 1e-6)
	assert.InDelta(t, 0, onAxis.Y, 1e-6)
}

// TestCyclic_C1 verifies n == 1 requires coincident frames.
func TestCyclic_C1(t *testing.T) {
	c, err := NewCyclic(1, 0, WithTo(1))
	require.NoError(t, err)
	assert.InDelta(t, 0, c.Score([]xform.Xform{someMotion, someMotion}), 1e-5)
	moved := xform.Translation(r3.Vec{Y: 0.5}).Mul(someMotion)
	assert.InDelta(t, 0.5, c.Score([]xform.Xform{someMotion, moved}), 1e-6)
	assert.True(t, c.Alignment([]xform.Xform{someMotion, moved}).Equal(xform.Identity(), 0))
}

// TestList_SumsMembers verifies the composite delegates to its members.
func TestList_SumsMembers(t *testing.T) {
	d2, err := D2(0, 1)
	require.NoError(t, err)
	c1, err := NewCyclic(1, 0, WithTo(1))
	require.NoError(t, err)
	l, err := NewList([]Criteria{d2, c1})
	require.NoError(t, err)

	pos := []xform.Xform{frameAlong(uz, r3.Vec{}), frameAlong(ux, r3.Vec{Y: 0.3})}
	assert.InDelta(t, d2.Score(pos)+c1.Score(pos), l.Score(pos), 1e-12)
	assert.Equal(t, d2.Alignment(pos), l.Alignment(pos))
	assert.False(t, l.IsCyclic())
	assert.Equal(t, "List(D2,C1)", l.Name())

	maxed, err := NewList([]Criteria{d2, c1}, WithCombiner(func(s []float64) float64 { return math.Max(s[0], s[1]) }))
	require.NoError(t, err)
	assert.InDelta(t, math.Max(d2.Score(pos), c1.Score(pos)), maxed.Score(pos), 1e-12)

	_, err = NewList(nil)
	assert.ErrorIs(t, err, wormerr.ErrConstruction)
}

// TestIndex resolves negative indices.
func TestIndex(t *testing.T) {
	assert.Equal(t, 4, Index(-1, 5))
	assert.Equal(t, 2, Index(2, 5))
}
