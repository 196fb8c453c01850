// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/services/worms/body"
	"github.com/AleutianAI/worms/services/worms/criteria"
	"github.com/AleutianAI/worms/services/worms/segment"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// =============================================================================
// Problem Definition
// =============================================================================

// Problem is a serialized search: the bodies, the chain of segments that
// draws on them, and the criteria scoring each chain.
//
// Example (YAML):
//
//	bodies:
//	  - name: helix
//	    chains:
//	      - - {n: [0, 1, 0], ca: [0, 0, 0], c: [1, 0, 0]}
//	segments:
//	  - entry_exit: _C
//	    fragments:
//	      - body: helix
//	        sites: [{polarity: C, selectors: ["-3:"]}]
//	  - entry_exit: N_
//	    fragments:
//	      - body: helix
//	        sites: [{polarity: N, selectors: [":3"]}]
//	criteria:
//	  symmetry: C3
//	  segments: {from: 0}
type Problem struct {
	Bodies   []BodySpec    `json:"bodies" yaml:"bodies" validate:"min=1,unique=Name,dive"`
	Segments []SegmentSpec `json:"segments" yaml:"segments" validate:"min=2,dive"`
	Criteria CriteriaSpec  `json:"criteria" yaml:"criteria"`
}

// BodySpec is a named body given by backbone atoms, one list per chain.
type BodySpec struct {
	Name   string          `json:"name" yaml:"name" validate:"required"`
	Chains [][]ResidueSpec `json:"chains" yaml:"chains" validate:"min=1,dive,min=1"`
}

// ResidueSpec holds the N, CA and C coordinates of one residue.
type ResidueSpec struct {
	N  [3]float64 `json:"n" yaml:"n"`
	CA [3]float64 `json:"ca" yaml:"ca"`
	C  [3]float64 `json:"c" yaml:"c"`
}

// SegmentSpec is one segment of the chain.
type SegmentSpec struct {
	// EntryExit is a two-letter code such as "NC", "_C" or "N_".
	EntryExit string         `json:"entry_exit" yaml:"entry_exit" validate:"len=2"`
	Fragments []FragmentSpec `json:"fragments" yaml:"fragments" validate:"min=1,dive"`
}

// FragmentSpec places a named body in a segment.
type FragmentSpec struct {
	Body      string     `json:"body" yaml:"body" validate:"required"`
	Sites     []SiteSpec `json:"sites" yaml:"sites" validate:"min=1,dive"`
	MinSegLen int        `json:"min_seg_len" yaml:"min_seg_len" validate:"gte=0"`

	// BodyID overrides the fragment index used for closure comparisons.
	BodyID *int `json:"body_id,omitempty" yaml:"body_id,omitempty"`
}

// SiteSpec is a splice site: a polarity and residue selectors such as
// "1:7", "-3:" or "2,4".
type SiteSpec struct {
	Polarity  segment.Polarity `json:"polarity" yaml:"polarity" validate:"required"`
	Chain     int              `json:"chain" yaml:"chain" validate:"gte=0"`
	Selectors []string         `json:"selectors" yaml:"selectors" validate:"min=1"`
}

// CriteriaSpec names a symmetry and the segments carrying its axes.
//
// Segment roles per symmetry:
//
//	C<n>      from (default 0), to (default -1)
//	D2        c2, c2b
//	D<n>      c<n>, c2
//	T         two of c3, c2, c3b
//	O         two of c4, c3, c2
//	I         two of c5, c3, c2
//
// A spec with Members and no Symmetry combines its members by summing
// their scores.
type CriteriaSpec struct {
	Symmetry     string         `json:"symmetry" yaml:"symmetry"`
	Segments     map[string]int `json:"segments" yaml:"segments"`
	Tolerance    *float64       `json:"tolerance,omitempty" yaml:"tolerance,omitempty" validate:"omitnil,gt=0"`
	Lever        *float64       `json:"lever,omitempty" yaml:"lever,omitempty" validate:"omitnil,gt=0"`
	DistinctAxes *bool          `json:"distinct_axes,omitempty" yaml:"distinct_axes,omitempty"`
	Members      []CriteriaSpec `json:"members,omitempty" yaml:"members,omitempty" validate:"dive"`
}

// LoadProblem reads a YAML or JSON problem file.
func LoadProblem(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read problem: %w", err)
	}
	return ParseProblem(data)
}

// ParseProblem decodes and validates a YAML or JSON problem.
func ParseProblem(data []byte) (*Problem, error) {
	var p Problem
	if err := decode(data, &p); err != nil {
		return nil, fmt.Errorf("parse problem: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks field constraints. Cross references are checked by
// Build.
func (p *Problem) Validate() error {
	return validateStruct(p)
}

// Build turns the problem into engine values. Fragments naming the same
// body share one body instance.
//
// Inputs:
//   - expert: relaxes construction checks that expert mode overrides.
//
// Outputs:
//   - segment.Segments: the chain, in file order.
//   - criteria.Criteria: the scoring criteria.
//   - error: a *wormerr.ConstructionError, or a plain error for unknown
//     body names.
func (p *Problem) Build(expert bool) (segment.Segments, criteria.Criteria, error) {
	bodies := make(map[string]body.Body, len(p.Bodies))
	for _, bs := range p.Bodies {
		b, err := bs.build()
		if err != nil {
			return nil, nil, wormerr.NewConstructionError("body", wormerr.NoIndex, err)
		}
		bodies[bs.Name] = b
	}

	segs := make([]*segment.Segment, 0, len(p.Segments))
	for i, ss := range p.Segments {
		seg, err := ss.build(i, bodies, expert)
		if err != nil {
			return nil, nil, err
		}
		segs = append(segs, seg)
	}
	chain, err := segment.NewSegments(segs...)
	if err != nil {
		return nil, nil, err
	}

	crit, err := p.Criteria.Build()
	if err != nil {
		return nil, nil, err
	}
	return chain, crit, nil
}

func (bs BodySpec) build() (body.Body, error) {
	chains := make([][]body.Residue, len(bs.Chains))
	for i, chain := range bs.Chains {
		chains[i] = make([]body.Residue, len(chain))
		for j, r := range chain {
			chains[i][j] = body.Residue{N: vec(r.N), CA: vec(r.CA), C: vec(r.C)}
		}
	}
	return body.NewBackbone(bs.Name, chains...)
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

func (ss SegmentSpec) build(index int, bodies map[string]body.Body, expert bool) (*segment.Segment, error) {
	entry, exit, err := segment.ParseEntryExit(ss.EntryExit)
	if err != nil {
		return nil, wormerr.NewConstructionError("segment", index, err)
	}
	spliceables := make([]*segment.Spliceable, 0, len(ss.Fragments))
	for j, fs := range ss.Fragments {
		b, ok := bodies[fs.Body]
		if !ok {
			return nil, wormerr.Constructionf("segment", index, "fragment %d: unknown body %q", j, fs.Body)
		}
		sites := make([]segment.SpliceSite, 0, len(fs.Sites))
		for _, site := range fs.Sites {
			s, err := segment.NewSpliceSite(site.Polarity, site.Chain, site.Selectors...)
			if err != nil {
				return nil, wormerr.NewConstructionError("segment", index, fmt.Errorf("fragment %d: %w", j, err))
			}
			sites = append(sites, s)
		}
		var opts []segment.SpliceableOption
		if fs.MinSegLen > 0 {
			opts = append(opts, segment.WithMinSegLen(fs.MinSegLen))
		}
		if fs.BodyID != nil {
			opts = append(opts, segment.WithBodyID(*fs.BodyID))
		}
		sp, err := segment.NewSpliceable(b, sites, opts...)
		if err != nil {
			return nil, err
		}
		spliceables = append(spliceables, sp)
	}
	return segment.NewSegment(spliceables, entry, exit, segment.WithExpert(expert), segment.WithPosition(index))
}

// Build constructs the criteria described by cs.
func (cs CriteriaSpec) Build() (criteria.Criteria, error) {
	if cs.Symmetry == "" {
		if len(cs.Members) == 0 {
			return nil, wormerr.Constructionf("criteria", wormerr.NoIndex, "no symmetry and no members")
		}
		members := make([]criteria.Criteria, 0, len(cs.Members))
		for _, m := range cs.Members {
			c, err := m.Build()
			if err != nil {
				return nil, err
			}
			members = append(members, c)
		}
		return criteria.NewList(members)
	}

	opts := cs.options()
	sym := strings.ToUpper(cs.Symmetry)
	switch sym {
	case "T":
		c3, c2, c3b, err := cs.slots("c3", "c2", "c3b")
		if err != nil {
			return nil, err
		}
		return criteria.Tetrahedral(c3, c2, c3b, opts...)
	case "O":
		c4, c3, c2, err := cs.slots("c4", "c3", "c2")
		if err != nil {
			return nil, err
		}
		return criteria.Octahedral(c4, c3, c2, opts...)
	case "I":
		c5, c3, c2, err := cs.slots("c5", "c3", "c2")
		if err != nil {
			return nil, err
		}
		return criteria.Icosahedral(c5, c3, c2, opts...)
	}

	n, err := strconv.Atoi(sym[1:])
	if err != nil || n < 1 {
		return nil, wormerr.Constructionf("criteria", wormerr.NoIndex, "unknown symmetry %q", cs.Symmetry)
	}
	switch sym[0] {
	case 'C':
		from := cs.Segments["from"]
		if to, ok := cs.Segments["to"]; ok {
			opts = append(opts, criteria.WithTo(to))
		}
		return criteria.NewCyclic(n, from, opts...)
	case 'D':
		first, second := fmt.Sprintf("c%d", n), "c2"
		if n == 2 {
			first, second = "c2", "c2b"
		}
		a, err := cs.required(first)
		if err != nil {
			return nil, err
		}
		b, err := cs.required(second)
		if err != nil {
			return nil, err
		}
		return criteria.Dihedral(n, a, b, opts...)
	default:
		return nil, wormerr.Constructionf("criteria", wormerr.NoIndex, "unknown symmetry %q", cs.Symmetry)
	}
}

func (cs CriteriaSpec) options() []criteria.Option {
	var opts []criteria.Option
	if cs.Tolerance != nil {
		opts = append(opts, criteria.WithTolerance(*cs.Tolerance))
	}
	if cs.Lever != nil {
		opts = append(opts, criteria.WithLever(*cs.Lever))
	}
	if cs.DistinctAxes != nil {
		opts = append(opts, criteria.WithDistinctAxes(*cs.DistinctAxes))
	}
	return opts
}

func (cs CriteriaSpec) required(role string) (int, error) {
	seg, ok := cs.Segments[role]
	if !ok {
		return 0, wormerr.Constructionf("criteria", wormerr.NoIndex,
			"%s: missing segment for %s (have %s)", cs.Symmetry, role, cs.roleList())
	}
	return seg, nil
}

// slots maps roles onto criteria slots, rejecting roles the symmetry does
// not define.
func (cs CriteriaSpec) slots(a, b, c string) (criteria.Slot, criteria.Slot, criteria.Slot, error) {
	known := map[string]bool{a: true, b: true, c: true}
	for role := range cs.Segments {
		if !known[role] {
			return criteria.Unset, criteria.Unset, criteria.Unset, wormerr.Constructionf("criteria", wormerr.NoIndex,
				"%s: unknown role %q", cs.Symmetry, role)
		}
	}
	slot := func(role string) criteria.Slot {
		if seg, ok := cs.Segments[role]; ok {
			return criteria.At(seg)
		}
		return criteria.Unset
	}
	return slot(a), slot(b), slot(c), nil
}

func (cs CriteriaSpec) roleList() string {
	roles := make([]string, 0, len(cs.Segments))
	for r := range cs.Segments {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return "[" + strings.Join(roles, " ") + "]"
}
