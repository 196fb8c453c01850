// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

// View enumerates prefix combinations, optionally with one segment
// restricted to a subset of its choices.
type View struct {
	prefix  *Prefix
	dim     int
	allowed []int
	radix   []int
	count   int
	scratch []int
}

// All returns a view over every prefix combination.
func (p *Prefix) All() *View {
	return &View{prefix: p, dim: -1, count: p.Count()}
}

// Restrict returns a view where segment dim only takes the choices in
// allowed, which must be sorted ascending. The view is empty when allowed
// is empty.
func (p *Prefix) Restrict(dim int, allowed []int) *View {
	v := &View{
		prefix:  p,
		dim:     dim,
		allowed: allowed,
		radix:   p.Sizes(),
		scratch: make([]int, p.Len()),
	}
	v.radix[dim] = len(allowed)
	v.count = 1
	for _, r := range v.radix {
		v.count *= r
	}
	return v
}

// Count returns the number of combinations in the view.
func (v *View) Count() int { return v.count }

// Flat maps the i-th combination of the view to its full prefix index.
// Not safe for concurrent use on a restricted view.
func (v *View) Flat(i int) int {
	if v.dim < 0 {
		return i
	}
	Decode(i, v.radix, v.scratch)
	v.scratch[v.dim] = v.allowed[v.scratch[v.dim]]
	flat := 0
	for k, d := range v.scratch {
		flat = flat*v.prefix.sizes[k] + d
	}
	return flat
}
