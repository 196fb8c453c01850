// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package criteria

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Axis is a target symmetry axis.
type Axis struct {
	// Order is the symmetry order, e.g. 2 for a two-fold axis.
	Order int

	Direction r3.Vec
	Point     r3.Vec
}

// AxesIntersect requires the frame axes of two segments to intersect at
// the angle between two target symmetry axes.
type AxesIntersect struct {
	name     string
	axis1    Axis
	axis2    Axis
	angle    float64
	tol      float64
	rotTol   float64
	lever    float64
	from     int
	to       int
	distinct bool
}

// NewAxesIntersect builds an axis-intersection criteria comparing the
// frame of segment from (against axis1) with segment to (against axis2,
// default the last segment).
func NewAxesIntersect(name string, axis1, axis2 Axis, from int, opts ...Option) (*AxesIntersect, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	to := o.toSeg()
	if err := checkSegments(name, from, to); err != nil {
		return nil, err
	}
	for _, a := range []Axis{axis1, axis2} {
		if r3.Norm(a.Direction) == 0 {
			return nil, wormerr.Constructionf("criteria", wormerr.NoIndex, "%s: zero-length axis", name)
		}
	}
	axis1.Direction = r3.Unit(axis1.Direction)
	axis2.Direction = r3.Unit(axis2.Direction)

	c := &AxesIntersect{
		name:   name,
		axis1:  axis1,
		axis2:  axis2,
		angle:  xform.Angle(axis1.Direction, axis2.Direction),
		tol:    o.tol,
		lever:  o.lever,
		rotTol: o.tol / o.lever,
		from:   from,
		to:     to,
	}
	if o.distinct != nil {
		c.distinct = *o.distinct
	}
	return c, nil
}

// Name implements Criteria.
func (c *AxesIntersect) Name() string { return c.name }

// FromSeg implements Criteria.
func (c *AxesIntersect) FromSeg() int { return c.from }

// ToSeg implements Criteria.
func (c *AxesIntersect) ToSeg() int { return c.to }

// IsCyclic implements Criteria.
func (c *AxesIntersect) IsCyclic() bool { return false }

// MatchingBody implements Criteria.
func (c *AxesIntersect) MatchingBody() (int, bool) { return 0, false }

// Axes returns the two target axes.
func (c *AxesIntersect) Axes() (Axis, Axis) { return c.axis1, c.axis2 }

// TargetAngle returns the angle between the target axes.
func (c *AxesIntersect) TargetAngle() float64 { return c.angle }

// DistinctAxes reports whether the axes are treated as directed.
func (c *AxesIntersect) DistinctAxes() bool { return c.distinct }

func (c *AxesIntersect) frames(positions []xform.Xform) (cen1, ax1, cen2, ax2 r3.Vec) {
	n := len(positions)
	f, t := positions[Index(c.from, n)], positions[Index(c.to, n)]
	return f.Origin(), f.Axis(), t.Origin(), t.Axis()
}

// Score implements Criteria.
//
// In shared-axis mode the axes are undirected: the angle uses |cos| and
// the distance is the line-line distance. In distinct-axis mode each axis
// is first pointed away from the midpoint of closest approach.
func (c *AxesIntersect) Score(positions []xform.Xform) float64 {
	cen1, ax1, cen2, ax2 := c.frames(positions)

	var dist, ang float64
	if c.distinct {
		p, q := xform.LineLineClosestPoints(cen1, ax1, cen2, ax2)
		dist = r3.Norm(r3.Sub(p, q))
		mid := r3.Scale(0.5, r3.Add(p, q))
		ax1 = awayFrom(ax1, cen1, mid)
		ax2 = awayFrom(ax2, cen2, mid)
		ang = math.Acos(clamp(r3.Dot(ax1, ax2)))
	} else {
		dist = xform.LineLineDistance(cen1, ax1, cen2, ax2)
		ang = math.Acos(clamp(math.Abs(r3.Dot(ax1, ax2))))
	}
	rot := (ang - c.angle) / c.rotTol
	lin := dist / c.tol
	return math.Sqrt(rot*rot + lin*lin)
}

// Alignment implements Criteria. The result maps the from axis onto the
// first target axis, the to axis onto the second, and the midpoint of
// closest approach onto the origin.
func (c *AxesIntersect) Alignment(positions []xform.Xform) xform.Xform {
	cen1, ax1, cen2, ax2 := c.frames(positions)
	if !c.distinct && xform.Angle(ax1, ax2) > math.Pi/2 {
		ax2 = r3.Scale(-1, ax2)
	}
	p, q := xform.LineLineClosestPoints(cen1, ax1, cen2, ax2)
	mid := r3.Scale(0.5, r3.Add(p, q))

	x := xform.AlignVectors(ax1, ax2, c.axis1.Direction, c.axis2.Direction)
	return x.SetOrigin(r3.Scale(-1, x.ApplyDir(mid)))
}

// awayFrom flips axis unless it points from mid toward cen. An axis whose
// frame origin sits exactly on mid is flipped.
func awayFrom(axis, cen, mid r3.Vec) r3.Vec {
	if r3.Dot(axis, r3.Sub(cen, mid)) > 0 {
		return axis
	}
	return r3.Scale(-1, axis)
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
