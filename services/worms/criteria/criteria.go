// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package criteria scores composed segment chains against symmetry targets.
//
// A Criteria receives one position transform per segment (the frame each
// chosen fragment is placed in) and returns a non-negative score, zero
// when the chain satisfies the target exactly. Alignment returns the
// rigid transform that moves a satisfying chain into the canonical frame
// of its symmetry.
//
// Segment indices may be negative and count from the end of the chain,
// so -1 is the last segment. Use Index to resolve them.
//
// # Variants
//
//   - AxesIntersect: two symmetry axes that must intersect at a fixed angle
//     (dihedral, tetrahedral, octahedral and icosahedral constructors).
//   - Cyclic: closure of a chain into a cyclic oligomer.
//   - List: several criteria combined into one score.
//
// # Thread Safety
//
// All criteria are immutable after construction and safe for concurrent use.
package criteria

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Default tuning values.
const (
	// DefaultTolerance is the linear tolerance in Ångström.
	DefaultTolerance = 1.0

	// DefaultLever converts angular error to linear error; an angular
	// tolerance is Tolerance/Lever radians.
	DefaultLever = 50.0
)

// ErrSameSegment is the cause when from and to name the same segment.
var ErrSameSegment = errors.New("from and to segments must differ")

// Criteria is the scoring and alignment contract used by the search.
type Criteria interface {
	// Name identifies the criteria in logs and reports.
	Name() string

	// Score returns a non-negative error for one chain of positions.
	Score(positions []xform.Xform) float64

	// Alignment returns the transform into the symmetry frame.
	Alignment(positions []xform.Xform) xform.Xform

	// FromSeg and ToSeg are the segment indices the criteria compares.
	FromSeg() int
	ToSeg() int

	// IsCyclic reports whether the chain must close onto itself.
	IsCyclic() bool

	// MatchingBody returns the segment whose fragment must equal the last
	// segment's fragment, if any.
	MatchingBody() (int, bool)
}

// Index resolves a possibly negative segment index for a chain of n.
func Index(i, n int) int {
	if i < 0 {
		return n + i
	}
	return i
}

// options holds tuning shared by the criteria constructors.
type options struct {
	tol      float64
	lever    float64
	to       *int
	distinct *bool
}

// Option tunes a criteria constructor.
type Option func(*options)

// WithTolerance sets the linear tolerance.
func WithTolerance(tol float64) Option {
	return func(o *options) { o.tol = tol }
}

// WithLever sets the angular-to-linear lever.
func WithLever(lever float64) Option {
	return func(o *options) { o.lever = lever }
}

// WithTo sets the second segment index. Defaults to -1.
func WithTo(to int) Option {
	return func(o *options) { o.to = &to }
}

// WithDistinctAxes treats the two axes as directed, so that +z and -z
// differ. The tetrahedral constructor sets this for its second C3.
func WithDistinctAxes(distinct bool) Option {
	return func(o *options) { o.distinct = &distinct }
}

func buildOptions(opts []Option) (options, error) {
	o := options{tol: DefaultTolerance, lever: DefaultLever}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tol <= 0 {
		return o, wormerr.Constructionf("criteria", wormerr.NoIndex, "tolerance must be positive, got %g", o.tol)
	}
	if o.lever <= 0 {
		return o, wormerr.Constructionf("criteria", wormerr.NoIndex, "lever must be positive, got %g", o.lever)
	}
	return o, nil
}

func (o options) toSeg() int {
	if o.to == nil {
		return -1
	}
	return *o.to
}

func checkSegments(name string, from, to int) error {
	if from == to {
		return wormerr.NewConstructionError("criteria", wormerr.NoIndex, fmt.Errorf("%s: %w (%d)", name, ErrSameSegment, from))
	}
	return nil
}
