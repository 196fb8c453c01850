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
	"slices"
	"strings"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Combiner folds member scores into one score.
type Combiner func(scores []float64) float64

// Sum adds member scores. It is the default Combiner.
func Sum(scores []float64) float64 {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return total
}

// List combines several criteria. The first member is primary: it
// provides the alignment, segment indices, cyclic flag and matching body.
type List struct {
	members []Criteria
	combine Combiner
}

// ListOption configures a List.
type ListOption func(*List)

// WithCombiner replaces the default Sum combiner.
func WithCombiner(fn Combiner) ListOption {
	return func(l *List) { l.combine = fn }
}

// NewList builds a composite criteria.
func NewList(members []Criteria, opts ...ListOption) (*List, error) {
	if len(members) == 0 {
		return nil, wormerr.Constructionf("criteria", wormerr.NoIndex, "empty criteria list")
	}
	for i, m := range members {
		if m == nil {
			return nil, wormerr.Constructionf("criteria", i, "nil member")
		}
	}
	l := &List{members: slices.Clone(members), combine: Sum}
	for _, opt := range opts {
		opt(l)
	}
	if l.combine == nil {
		l.combine = Sum
	}
	return l, nil
}

// Members returns the member criteria.
func (l *List) Members() []Criteria { return slices.Clone(l.members) }

// Name implements Criteria.
func (l *List) Name() string {
	names := make([]string, len(l.members))
	for i, m := range l.members {
		names[i] = m.Name()
	}
	return "List(" + strings.Join(names, ",") + ")"
}

// Score implements Criteria.
func (l *List) Score(positions []xform.Xform) float64 {
	scores := make([]float64, len(l.members))
	for i, m := range l.members {
		scores[i] = m.Score(positions)
	}
	return l.combine(scores)
}

// Alignment implements Criteria.
func (l *List) Alignment(positions []xform.Xform) xform.Xform {
	return l.members[0].Alignment(positions)
}

// FromSeg implements Criteria.
func (l *List) FromSeg() int { return l.members[0].FromSeg() }

// ToSeg implements Criteria.
func (l *List) ToSeg() int { return l.members[0].ToSeg() }

// IsCyclic implements Criteria.
func (l *List) IsCyclic() bool { return l.members[0].IsCyclic() }

// MatchingBody implements Criteria.
func (l *List) MatchingBody() (int, bool) { return l.members[0].MatchingBody() }
