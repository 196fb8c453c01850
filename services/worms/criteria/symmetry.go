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

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/services/worms/wormerr"
)

var (
	ux = r3.Vec{X: 1}
	uz = r3.Vec{Z: 1}
)

// secondC3 keys the tetrahedral C3 axis that is not related to the first
// by the two-fold.
const secondC3 = 7

// Generator axes of the point groups, keyed by symmetry order.
var (
	tetrahedralAxes = map[int]r3.Vec{
		2:        {X: 1},
		3:        {X: 1, Y: 1, Z: 1},
		secondC3: {X: 1, Y: 1, Z: -1},
	}
	octahedralAxes = map[int]r3.Vec{
		2: {X: 1, Y: 1},
		3: {X: 1, Y: 1, Z: 1},
		4: {X: 1},
	}
	icosahedralAxes = map[int]r3.Vec{
		2: {X: 1},
		3: {X: 0.934172, Z: 0.356822},
		5: {X: 0.850651, Y: 0.525731},
	}
)

// Slot optionally names the segment playing one symmetry role.
type Slot struct {
	seg int
	set bool
}

// At assigns a role to segment seg.
func At(seg int) Slot { return Slot{seg: seg, set: true} }

// Unset leaves a role unassigned.
var Unset Slot

// Dihedral builds a Dn criteria: segment cn carries the n-fold axis (Z)
// and segment c2 a perpendicular two-fold (X).
func Dihedral(n, cn, c2 int, opts ...Option) (*AxesIntersect, error) {
	if n < 2 {
		return nil, wormerr.Constructionf("criteria", wormerr.NoIndex, "dihedral order must be at least 2, got %d", n)
	}
	return NewAxesIntersect(fmt.Sprintf("D%d", n),
		Axis{Order: n, Direction: uz}, Axis{Order: 2, Direction: ux},
		cn, append(opts, WithTo(c2))...)
}

// D2 builds a D2 criteria.
func D2(c2, c2b int, opts ...Option) (*AxesIntersect, error) { return Dihedral(2, c2, c2b, opts...) }

// D3 builds a D3 criteria.
func D3(c3, c2 int, opts ...Option) (*AxesIntersect, error) { return Dihedral(3, c3, c2, opts...) }

// D4 builds a D4 criteria.
func D4(c4, c2 int, opts ...Option) (*AxesIntersect, error) { return Dihedral(4, c4, c2, opts...) }

// D5 builds a D5 criteria.
func D5(c5, c2 int, opts ...Option) (*AxesIntersect, error) { return Dihedral(5, c5, c2, opts...) }

// D6 builds a D6 criteria.
func D6(c6, c2 int, opts ...Option) (*AxesIntersect, error) { return Dihedral(6, c6, c2, opts...) }

// roles picks the two assigned slots. names and folds are parallel to
// slots; exactly one slot must be Unset.
func roles(group string, slots [3]Slot, folds [3]int, names [3]string) (from, to, nf1, nf2 int, err error) {
	var picked []int
	for i, s := range slots {
		if s.set {
			picked = append(picked, i)
		}
	}
	if len(picked) != 2 {
		return 0, 0, 0, 0, wormerr.Constructionf("criteria", wormerr.NoIndex,
			"%s: must specify exactly two of %s, %s, %s", group, names[0], names[1], names[2])
	}
	a, b := picked[0], picked[1]
	return slots[a].seg, slots[b].seg, folds[a], folds[b], nil
}

// Tetrahedral builds a T criteria from two of: a C3, a C2 and a second
// C3. When the second C3 is used it is the from segment and the axes are
// directed.
func Tetrahedral(c3, c2, c3b Slot, opts ...Option) (*AxesIntersect, error) {
	// The second C3 takes precedence as the from role.
	from, to, nf1, nf2, err := roles("T", [3]Slot{c3b, c3, c2}, [3]int{secondC3, 3, 2}, [3]string{"c3b", "c3", "c2"})
	if err != nil {
		return nil, err
	}
	order := func(nf int) int {
		if nf == secondC3 {
			return 3
		}
		return nf
	}
	opts = append(opts, WithTo(to), WithDistinctAxes(nf1 == secondC3))
	return NewAxesIntersect("T",
		Axis{Order: order(nf1), Direction: tetrahedralAxes[nf1]},
		Axis{Order: order(nf2), Direction: tetrahedralAxes[nf2]},
		from, opts...)
}

// Octahedral builds an O criteria from two of: a C4, a C3 and a C2.
func Octahedral(c4, c3, c2 Slot, opts ...Option) (*AxesIntersect, error) {
	from, to, nf1, nf2, err := roles("O", [3]Slot{c4, c3, c2}, [3]int{4, 3, 2}, [3]string{"c4", "c3", "c2"})
	if err != nil {
		return nil, err
	}
	return NewAxesIntersect("O",
		Axis{Order: nf1, Direction: octahedralAxes[nf1]},
		Axis{Order: nf2, Direction: octahedralAxes[nf2]},
		from, append(opts, WithTo(to))...)
}

// Icosahedral builds an I criteria from two of: a C5, a C3 and a C2.
func Icosahedral(c5, c3, c2 Slot, opts ...Option) (*AxesIntersect, error) {
	from, to, nf1, nf2, err := roles("I", [3]Slot{c5, c3, c2}, [3]int{5, 3, 2}, [3]string{"c5", "c3", "c2"})
	if err != nil {
		return nil, err
	}
	return NewAxesIntersect("I",
		Axis{Order: nf1, Direction: icosahedralAxes[nf1]},
		Axis{Order: nf2, Direction: icosahedralAxes[nf2]},
		from, append(opts, WithTo(to))...)
}
