// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func sample() Xform {
	return Translation(r3.Vec{X: 1, Y: -2, Z: 3}).Mul(Rotation(r3.Vec{X: 1, Y: 2, Z: 3}, 0.7))
}

// TestInverse_RoundTrip verifies x·inv(x) is the identity.
func TestInverse_RoundTrip(t *testing.T) {
	x := sample()
	assert.True(t, x.IsRigid(RigidTolerance))
	assert.True(t, x.Mul(x.Inverse()).Equal(Identity(), 1e-12))
	assert.True(t, x.Inverse().Mul(x).Equal(Identity(), 1e-12))
}

// TestMul_ComposesRightToLeft verifies (x·y)·p == x·(y·p).
func TestMul_ComposesRightToLeft(t *testing.T) {
	x := sample()
	y := Rotation(r3.Vec{Z: 1}, math.Pi/2)
	p := r3.Vec{X: 1}

	got := x.Mul(y).Apply(p)
	want := x.Apply(y.Apply(p))
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

// TestIsRigid_RejectsScaling verifies a scaled block is not rigid.
func TestIsRigid_RejectsScaling(t *testing.T) {
	x := Identity()
	x[0][0] = 2
	assert.False(t, x.IsRigid(RigidTolerance))

	y := Identity()
	y[3][3] = -1
	assert.False(t, y.IsRigid(RigidTolerance), "bottom row must be [0 0 0 1]")
}

// TestAxisAngle covers generic, identity and half-turn rotations.
func TestAxisAngle(t *testing.T) {
	for _, tc := range []struct {
		name  string
		axis  r3.Vec
		angle float64
	}{
		{"generic", r3.Unit(r3.Vec{X: 1, Y: 1, Z: 0}), 1.1},
		{"half turn", r3.Unit(r3.Vec{X: 1, Y: -2, Z: 0.5}), math.Pi},
		{"near half turn", r3.Unit(r3.Vec{X: 0.3, Y: 0.1, Z: -1}), math.Pi - 1e-6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			axis, angle := Rotation(tc.axis, tc.angle).AxisAngle()
			assert.InDelta(t, tc.angle, angle, 1e-6)
			assert.InDelta(t, 1, math.Abs(r3.Dot(axis, tc.axis)), 1e-6)
		})
	}

	_, angle := Identity().AxisAngle()
	assert.Zero(t, angle)
}

// TestFrameFromNCAC verifies the backbone frame is rigid and anchored at CA.
func TestFrameFromNCAC(t *testing.T) {
	ca := r3.Vec{X: 1, Y: 1, Z: 1}
	f, err := FrameFromNCAC(r3.Vec{X: 2, Y: 1, Z: 1}, ca, r3.Vec{X: 1, Y: 2, Z: 1})
	require.NoError(t, err)
	assert.True(t, f.IsRigid(RigidTolerance))
	assert.Equal(t, ca, f.Origin())
	assert.InDelta(t, 1, f.Axis().Z, 1e-12)

	_, err = FrameFromNCAC(ca, ca, r3.Vec{})
	assert.ErrorIs(t, err, ErrDegenerateFrame)
	_, err = FrameFromNCAC(r3.Vec{X: 2}, r3.Vec{}, r3.Vec{X: -1})
	assert.ErrorIs(t, err, ErrDegenerateFrame)
}

// TestLineLineClosestPoints covers skew and parallel lines.
func TestLineLineClosestPoints(t *testing.T) {
	p, q := LineLineClosestPoints(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1, Z: 3}, r3.Vec{Y: 1})
	assert.InDelta(t, 0, r3.Norm(r3.Sub(p, r3.Vec{})), 1e-12)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(q, r3.Vec{Z: 3})), 1e-12)
	assert.InDelta(t, 3, LineLineDistance(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1, Z: 3}, r3.Vec{Y: 1}), 1e-12)

	assert.InDelta(t, 2, LineLineDistance(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{X: 5, Y: 2}, r3.Vec{X: -2}), 1e-12)
}

// TestAlignVectors verifies both vectors of a congruent pair land on target.
func TestAlignVectors(t *testing.T) {
	a1 := r3.Unit(r3.Vec{X: 1, Y: 2, Z: 3})
	rot := Rotation(r3.Vec{X: -1, Y: 0.5, Z: 2}, 0.9)
	a2 := rot.ApplyDir(Rotation(Perpendicular(a1), 0.6).ApplyDir(a1))
	a1 = rot.ApplyDir(a1)
	b1 := r3.Vec{Z: 1}
	b2 := Rotation(r3.Vec{Y: 1}, 0.6).ApplyDir(b1)

	x := AlignVectors(a1, a2, b1, b2)
	require.True(t, x.IsRigid(RigidTolerance))
	assert.InDelta(t, 0, r3.Norm(r3.Sub(x.ApplyDir(a1), b1)), 1e-9)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(x.ApplyDir(a2), b2)), 1e-9)
}

// TestRotateOnto_Antiparallel verifies the half-turn fallback.
func TestRotateOnto_Antiparallel(t *testing.T) {
	x := RotateOnto(r3.Vec{X: 1}, r3.Vec{X: -1})
	assert.True(t, x.IsRigid(RigidTolerance))
	assert.InDelta(t, -1, x.ApplyDir(r3.Vec{X: 1}).X, 1e-12)
}
