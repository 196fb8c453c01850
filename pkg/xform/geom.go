// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package xform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// parallelEps is the squared-sine threshold below which two directions
// are treated as parallel.
const parallelEps = 1e-12

// Angle returns the unsigned angle between u and v in [0, π].
func Angle(u, v r3.Vec) float64 {
	nu, nv := r3.Norm(u), r3.Norm(v)
	if nu == 0 || nv == 0 {
		return 0
	}
	return math.Acos(clamp(r3.Dot(u, v) / (nu * nv)))
}

// LineLineClosestPoints returns the closest points p on the line
// (p1, d1) and q on the line (p2, d2). For parallel lines p is p1 and q is
// its projection onto the second line.
func LineLineClosestPoints(p1, d1, p2, d2 r3.Vec) (p, q r3.Vec) {
	w := r3.Sub(p1, p2)
	a := r3.Dot(d1, d1)
	b := r3.Dot(d1, d2)
	c := r3.Dot(d2, d2)
	d := r3.Dot(d1, w)
	e := r3.Dot(d2, w)
	denom := a*c - b*b

	var s, t float64
	if denom <= parallelEps*a*c {
		s = 0
		if c > 0 {
			t = e / c
		}
	} else {
		s = (b*e - c*d) / denom
		t = (a*e - b*d) / denom
	}
	return r3.Add(p1, r3.Scale(s, d1)), r3.Add(p2, r3.Scale(t, d2))
}

// LineLineDistance returns the minimum distance between two lines.
func LineLineDistance(p1, d1, p2, d2 r3.Vec) float64 {
	p, q := LineLineClosestPoints(p1, d1, p2, d2)
	return r3.Norm(r3.Sub(p, q))
}

// AlignVectors returns the rotation that maps the pair (a1, a2) onto the
// pair (b1, b2). When the two pairs subtend the same angle the mapping is
// exact; otherwise the bisectors are matched and the error is split evenly
// between the two vectors.
func AlignVectors(a1, a2, b1, b2 r3.Vec) Xform {
	fa, okA := pairFrame(a1, a2)
	fb, okB := pairFrame(b1, b2)
	if !okA || !okB {
		return RotateOnto(a1, b1)
	}
	return fb.Mul(fa.Inverse())
}

// RotateOnto returns the minimal rotation taking direction u onto v.
func RotateOnto(u, v r3.Vec) Xform {
	u, v = r3.Unit(u), r3.Unit(v)
	axis := r3.Cross(u, v)
	sin := r3.Norm(axis)
	cos := r3.Dot(u, v)
	if sin < 1e-12 {
		if cos > 0 {
			return Identity()
		}
		return Rotation(Perpendicular(u), math.Pi)
	}
	return Rotation(axis, math.Atan2(sin, cos))
}

// Perpendicular returns a unit vector orthogonal to v.
func Perpendicular(v r3.Vec) r3.Vec {
	ref := r3.Vec{X: 1}
	if math.Abs(v.X) > 0.9*r3.Norm(v) {
		ref = r3.Vec{Y: 1}
	}
	return r3.Unit(r3.Cross(v, ref))
}

// pairFrame builds an orthonormal frame from the bisector and the
// difference of two unit directions.
func pairFrame(v1, v2 r3.Vec) (Xform, bool) {
	u1, u2 := r3.Unit(v1), r3.Unit(v2)
	sum := r3.Add(u1, u2)
	diff := r3.Sub(u1, u2)
	if r3.Norm(sum) < 1e-9 || r3.Norm(diff) < 1e-9 {
		return Xform{}, false
	}
	e1 := r3.Unit(sum)
	e2 := r3.Unit(diff)
	e3 := r3.Cross(e1, e2)
	return FromColumns(e1, e2, e3, r3.Vec{}), true
}

func clamp(c float64) float64 {
	return math.Max(-1, math.Min(1, c))
}
