// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package xform provides 4x4 homogeneous rigid-body transforms.
//
// Transforms use the column-vector convention: a point p is mapped to
// X·p, and X·Y applies Y first. The upper-left 3x3 block is a rotation,
// column 3 holds the translation and the bottom row is always [0 0 0 1].
//
// When a transform describes a coordinate frame attached to a residue,
// column 2 is treated as the frame's principal axis and column 3 as the
// frame origin. The criteria package relies on that convention.
//
// # Thread Safety
//
// Xform is a value type. All functions are pure and safe for concurrent use.
package xform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

// RigidTolerance is the default tolerance used by IsRigid.
const RigidTolerance = 1e-6

// ErrDegenerateFrame is returned when three points cannot define a frame.
var ErrDegenerateFrame = errors.New("degenerate frame")

// Xform is a 4x4 homogeneous transform stored row-major as X[row][col].
type Xform [4][4]float64

// Identity returns the identity transform.
func Identity() Xform {
	return Xform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// FromColumns builds a transform whose rotation columns are x, y, z and
// whose translation is t. The caller is responsible for orthonormality.
func FromColumns(x, y, z, t r3.Vec) Xform {
	return Xform{
		{x.X, y.X, z.X, t.X},
		{x.Y, y.Y, z.Y, t.Y},
		{x.Z, y.Z, z.Z, t.Z},
		{0, 0, 0, 1},
	}
}

// Translation returns a pure translation by t.
func Translation(t r3.Vec) Xform {
	x := Identity()
	x[0][3], x[1][3], x[2][3] = t.X, t.Y, t.Z
	return x
}

// Rotation returns a rotation of angle radians about the unit vector
// axis through the origin (Rodrigues' formula).
func Rotation(axis r3.Vec, angle float64) Xform {
	u := r3.Unit(axis)
	s, c := math.Sincos(angle)
	t := 1 - c
	return Xform{
		{t*u.X*u.X + c, t*u.X*u.Y - s*u.Z, t*u.X*u.Z + s*u.Y, 0},
		{t*u.X*u.Y + s*u.Z, t*u.Y*u.Y + c, t*u.Y*u.Z - s*u.X, 0},
		{t*u.X*u.Z - s*u.Y, t*u.Y*u.Z + s*u.X, t*u.Z*u.Z + c, 0},
		{0, 0, 0, 1},
	}
}

// Mul returns x·y.
func (x Xform) Mul(y Xform) Xform {
	var out Xform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = x[i][0]*y[0][j] + x[i][1]*y[1][j] + x[i][2]*y[2][j] + x[i][3]*y[3][j]
		}
	}
	return out
}

// Inverse returns the inverse of a rigid transform, (Rᵀ, -Rᵀt).
//
// The result is only meaningful when x is rigid; use IsRigid to check.
func (x Xform) Inverse() Xform {
	var out Xform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = x[j][i]
		}
	}
	for i := 0; i < 3; i++ {
		out[i][3] = -(out[i][0]*x[0][3] + out[i][1]*x[1][3] + out[i][2]*x[2][3])
	}
	out[3] = [4]float64{0, 0, 0, 1}
	return out
}

// Column returns the first three components of column j.
func (x Xform) Column(j int) r3.Vec {
	return r3.Vec{X: x[0][j], Y: x[1][j], Z: x[2][j]}
}

// Axis returns the frame axis (column 2).
func (x Xform) Axis() r3.Vec { return x.Column(2) }

// Origin returns the frame origin (column 3).
func (x Xform) Origin() r3.Vec { return x.Column(3) }

// SetOrigin returns a copy of x with its translation replaced by t.
func (x Xform) SetOrigin(t r3.Vec) Xform {
	x[0][3], x[1][3], x[2][3] = t.X, t.Y, t.Z
	return x
}

// Apply maps the point p through x.
func (x Xform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(x.ApplyDir(p), x.Origin())
}

// ApplyDir maps the direction v through the rotation part of x.
func (x Xform) ApplyDir(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: x[0][0]*v.X + x[0][1]*v.Y + x[0][2]*v.Z,
		Y: x[1][0]*v.X + x[1][1]*v.Y + x[1][2]*v.Z,
		Z: x[2][0]*v.X + x[2][1]*v.Y + x[2][2]*v.Z,
	}
}

// IsRigid reports whether the bottom row is [0 0 0 1] and the rotation
// block has unit, mutually orthogonal columns, all within tol.
func (x Xform) IsRigid(tol float64) bool {
	bottom := [4]float64{0, 0, 0, 1}
	for j, want := range bottom {
		if !scalar.EqualWithinAbs(x[3][j], want, tol) {
			return false
		}
	}
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			want := 0.0
			if a == b {
				want = 1
			}
			if !scalar.EqualWithinAbs(r3.Dot(x.Column(a), x.Column(b)), want, tol) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether every element of x and y agrees within tol.
func (x Xform) Equal(y Xform, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if !scalar.EqualWithinAbs(x[i][j], y[i][j], tol) {
				return false
			}
		}
	}
	return true
}

// AxisAngle returns the rotation axis (unit) and angle in [0, π] of the
// rotation block of x. For a near-identity rotation the axis is +Z.
func (x Xform) AxisAngle() (r3.Vec, float64) {
	tr := x[0][0] + x[1][1] + x[2][2]
	cos := math.Max(-1, math.Min(1, (tr-1)/2))
	angle := math.Acos(cos)
	skew := r3.Vec{X: x[2][1] - x[1][2], Y: x[0][2] - x[2][0], Z: x[1][0] - x[0][1]}

	switch {
	case angle < 1e-9:
		return r3.Vec{Z: 1}, 0
	case math.Pi-angle > 1e-4:
		return r3.Scale(1/(2*math.Sin(angle)), skew), angle
	}

	// Near π the skew part vanishes; recover the axis from the symmetric part.
	diag := [3]float64{x[0][0], x[1][1], x[2][2]}
	k := 0
	for i := 1; i < 3; i++ {
		if diag[i] > diag[k] {
			k = i
		}
	}
	var v [3]float64
	v[k] = math.Sqrt(math.Max(0, (diag[k]-cos)/(1-cos)))
	for i := 0; i < 3; i++ {
		if i != k {
			v[i] = (x[i][k] + x[k][i]) / (2 * (1 - cos) * v[k])
		}
	}
	axis := r3.Unit(r3.Vec{X: v[0], Y: v[1], Z: v[2]})
	if r3.Dot(axis, skew) < 0 {
		axis = r3.Scale(-1, axis)
	}
	return axis, angle
}

// String formats x as four bracketed rows.
func (x Xform) String() string {
	return fmt.Sprintf("[%v %v %v %v]", x[0], x[1], x[2], x[3])
}

// FrameFromNCAC builds the residue frame defined by backbone atoms N, CA
// and C: origin at CA, x toward N, z normal to the N-CA-C plane.
func FrameFromNCAC(n, ca, c r3.Vec) (Xform, error) {
	a := r3.Sub(n, ca)
	if r3.Norm(a) < 1e-9 {
		return Xform{}, fmt.Errorf("%w: N coincides with CA", ErrDegenerateFrame)
	}
	a = r3.Unit(a)
	z := r3.Cross(a, r3.Sub(c, ca))
	if r3.Norm(z) < 1e-9 {
		return Xform{}, fmt.Errorf("%w: N, CA and C are collinear", ErrDegenerateFrame)
	}
	z = r3.Unit(z)
	y := r3.Cross(z, a)
	return FromColumns(a, y, z, ca), nil
}
