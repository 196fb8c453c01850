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
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Cyclic requires the transform from segment from to segment to to be an
// n-fold rotation, so that n copies of the chain close into a ring. With
// n == 1 the two frames must coincide.
//
// The chain must end on a copy of the from fragment, so MatchingBody
// reports from and the search restricts the last segment accordingly.
type Cyclic struct {
	nfold  int
	from   int
	to     int
	tol    float64
	rotTol float64
}

// NewCyclic builds a Cn closure criteria.
func NewCyclic(nfold, from int, opts ...Option) (*Cyclic, error) {
	if nfold < 1 {
		return nil, wormerr.Constructionf("criteria", wormerr.NoIndex, "cyclic order must be positive, got %d", nfold)
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	to := o.toSeg()
	name := fmt.Sprintf("C%d", nfold)
	if err := checkSegments(name, from, to); err != nil {
		return nil, err
	}
	return &Cyclic{nfold: nfold, from: from, to: to, tol: o.tol, rotTol: o.tol / o.lever}, nil
}

// Name implements Criteria.
func (c *Cyclic) Name() string { return fmt.Sprintf("C%d", c.nfold) }

// FromSeg implements Criteria.
func (c *Cyclic) FromSeg() int { return c.from }

// ToSeg implements Criteria.
func (c *Cyclic) ToSeg() int { return c.to }

// IsCyclic implements Criteria.
func (c *Cyclic) IsCyclic() bool { return true }

// MatchingBody implements Criteria.
func (c *Cyclic) MatchingBody() (int, bool) { return c.from, true }

// NFold returns the symmetry order.
func (c *Cyclic) NFold() int { return c.nfold }

// relative returns to·inv(from).
func (c *Cyclic) relative(positions []xform.Xform) xform.Xform {
	n := len(positions)
	return positions[Index(c.to, n)].Mul(positions[Index(c.from, n)].Inverse())
}

// Score implements Criteria.
func (c *Cyclic) Score(positions []xform.Xform) float64 {
	x := c.relative(positions)
	axis, angle := x.AxisAngle()
	t := x.Origin()

	var rot, lin float64
	if c.nfold == 1 {
		rot = angle / c.rotTol
		lin = r3.Norm(t) / c.tol
	} else {
		rot = (angle - 2*math.Pi/float64(c.nfold)) / c.rotTol
		lin = r3.Dot(t, axis) / c.tol
	}
	return math.Sqrt(rot*rot + lin*lin)
}

// Alignment implements Criteria. The symmetry axis is rotated onto ±Z
// (whichever is closer) and moved to pass through the origin.
func (c *Cyclic) Alignment(positions []xform.Xform) xform.Xform {
	x := c.relative(positions)
	axis, angle := x.AxisAngle()
	if c.nfold == 1 || angle < 1e-9 {
		return xform.Identity()
	}

	t := x.Origin()
	perp := r3.Sub(t, r3.Scale(r3.Dot(t, axis), axis))
	half := angle / 2
	cen := r3.Add(r3.Scale(0.5, perp), r3.Scale(0.5*math.Cos(half)/math.Sin(half), r3.Cross(axis, perp)))

	tgt := r3.Vec{Z: 1}
	if r3.Dot(axis, tgt) < 0 {
		tgt = r3.Vec{Z: -1}
	}
	r := xform.Rotation(r3.Add(axis, tgt), math.Pi)
	return r.SetOrigin(r3.Scale(-1, r.ApplyDir(cen)))
}
